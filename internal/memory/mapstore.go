package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// MapStore is a process-local domain.ThreadKV. Entries are lost on restart.
type MapStore struct {
	mu      sync.RWMutex
	entries map[string]domain.ThreadEntry
}

var _ domain.ThreadKV = (*MapStore)(nil)

func NewMapStore() *MapStore {
	return &MapStore{entries: make(map[string]domain.ThreadEntry)}
}

func (s *MapStore) Get(_ context.Context, key string) (*domain.ThreadEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MapStore) Put(_ context.Context, e domain.ThreadEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = e.CreatedAt
	}
	s.mu.Lock()
	if old, ok := s.entries[e.Key]; ok {
		e.CreatedAt = old.CreatedAt
	}
	s.entries[e.Key] = e
	s.mu.Unlock()
	return nil
}

func (s *MapStore) Touch(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.LastSeen = at
		s.entries[key] = e
	}
	return nil
}

func (s *MapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MapStore) List(_ context.Context, limit int) ([]domain.ThreadEntry, error) {
	s.mu.RLock()
	out := make([]domain.ThreadEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MapStore) DeleteIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if e.LastSeen.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MapStore) Close() error { return nil }
