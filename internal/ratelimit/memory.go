package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps per-key timestamp logs behind one mutex. Suitable for a
// single instance; replicas each enforce their own window.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := prune(s.entries[key], now.Add(-window))
	if len(log) >= limit {
		s.entries[key] = log
		return StoreResult{Allowed: false, Count: len(log), OldestAt: log[0]}, nil
	}

	log = append(log, now)
	s.entries[key] = log
	return StoreResult{Allowed: true, Count: len(log), OldestAt: log[0]}, nil
}

func (s *MemoryStore) Inspect(_ context.Context, key string, _ int, window time.Duration, now time.Time) (StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := prune(s.entries[key], now.Add(-window))
	s.entries[key] = log

	res := StoreResult{Allowed: true, Count: len(log)}
	if len(log) > 0 {
		res.OldestAt = log[0]
	}
	return res, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops keys whose windows have fully drained, bounding memory for
// one-off clients.
func (s *MemoryStore) Sweep(window time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	for key, log := range s.entries {
		log = prune(log, cutoff)
		if len(log) == 0 {
			delete(s.entries, key)
			continue
		}
		s.entries[key] = log
	}
}

func prune(log []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(log) && !log[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return log
	}
	return append(log[:0:0], log[idx:]...)
}
