// Package metrics keeps in-memory ingest counters per source for the
// status endpoint.
package metrics

import (
	"sync"
	"time"
)

type SourceStats struct {
	Processed int       `json:"processed"`
	Saved     int       `json:"saved"`
	Failed    int       `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	mu       sync.RWMutex
	bySource map[string]SourceStats
}

func NewStore() *Store {
	return &Store{bySource: make(map[string]SourceStats)}
}

func (s *Store) Record(source string, saved bool) {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.bySource[source]
	stats.Processed++
	if saved {
		stats.Saved++
	} else {
		stats.Failed++
	}
	stats.UpdatedAt = time.Now().UTC()
	s.bySource[source] = stats
}

func (s *Store) Get(source string) (SourceStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.bySource[source]
	return stats, ok
}

func (s *Store) Snapshot() map[string]SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SourceStats, len(s.bySource))
	for source, stats := range s.bySource {
		out[source] = stats
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySource = make(map[string]SourceStats)
}
