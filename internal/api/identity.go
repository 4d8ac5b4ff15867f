package api

import (
	"errors"
	"net/http"
	"strconv"

	"sentra/internal/model"
)

// HeaderIdentity trusts identity headers stamped by the upstream auth
// gateway after token verification. It is the default resolver; anything
// token-aware replaces it via the IdentityResolver seam.
type HeaderIdentity struct{}

func (HeaderIdentity) Resolve(r *http.Request) (model.Identity, error) {
	idValue := r.Header.Get("X-User-Id")
	if idValue == "" {
		return model.Identity{}, errors.New("missing identity headers")
	}
	userID, err := strconv.ParseInt(idValue, 10, 64)
	if err != nil {
		return model.Identity{}, errors.New("malformed X-User-Id header")
	}
	role := model.Role(r.Header.Get("X-User-Role"))
	switch role {
	case model.RoleAdmin, model.RoleTenant:
	default:
		return model.Identity{}, errors.New("unknown role in X-User-Role header")
	}
	return model.Identity{
		UserID:   userID,
		Username: r.Header.Get("X-User-Name"),
		Role:     role,
	}, nil
}
