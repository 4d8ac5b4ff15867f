// Package tenant resolves tenant display names to their stable ids.
package tenant

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"sentra/internal/storage"
)

// NotFoundError carries the display name that could not be resolved.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tenant %q not found", e.Name)
}

type Lookup interface {
	TenantIDByName(ctx context.Context, name string) (int64, error)
}

// Directory caches successful name-to-id resolutions in front of the
// store. Misses are not cached so a tenant registered later resolves
// immediately.
type Directory struct {
	lookup Lookup
	cache  *lru.Cache[string, int64]
}

func NewDirectory(lookup Lookup, cacheSize int) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, int64](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Directory{lookup: lookup, cache: cache}, nil
}

func (d *Directory) ResolveID(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, &NotFoundError{Name: name}
	}
	if id, ok := d.cache.Get(name); ok {
		return id, nil
	}
	id, err := d.lookup.TenantIDByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, &NotFoundError{Name: name}
	}
	if err != nil {
		return 0, err
	}
	d.cache.Add(name, id)
	return id, nil
}

// Forget drops a cached resolution, for callers that delete tenants.
func (d *Directory) Forget(name string) {
	d.cache.Remove(name)
}
