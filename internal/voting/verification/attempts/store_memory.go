// Package attempts stores consecutive verification failures per member.
// Stores are pure I/O; the limiter decides thresholds.
package attempts

import (
	"context"
	"sync"
	"time"
)

// Record is a member's failure state. A zero Record means no failures.
type Record struct {
	Failures    int
	LockedUntil *time.Time
}

type entry struct {
	failures    int
	windowEnds  time.Time
	lockedUntil time.Time
}

type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*entry)}
}

func (s *InMemoryStore) Get(_ context.Context, key string, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(key, now), nil
}

// Increment adds one failure. The window opens at the first failure and
// is not extended by later ones.
func (s *InMemoryStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	if !now.Before(e.windowEnds) {
		e.failures = 0
		e.windowEnds = now.Add(window)
	}
	e.failures++
	return e.failures, nil
}

func (s *InMemoryStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.lockedUntil = until
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) recordLocked(key string, now time.Time) Record {
	e, ok := s.entries[key]
	if !ok {
		return Record{}
	}
	var r Record
	if now.Before(e.windowEnds) {
		r.Failures = e.failures
	}
	if now.Before(e.lockedUntil) {
		until := e.lockedUntil
		r.LockedUntil = &until
	}
	return r
}
