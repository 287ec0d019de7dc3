// Package result stores tabulations. A tabulation is replaced as a whole,
// guarded by an expected version, so readers see either the previous set or
// the new one.
package result

import (
	"context"
	"sync"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	sets map[id.VotingID]*models.Tabulation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sets: make(map[id.VotingID]*models.Tabulation)}
}

// Current returns the latest tabulation or sentinel.ErrNotFound.
func (s *InMemoryStore) Current(_ context.Context, votingID id.VotingID) (*models.Tabulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tab, ok := s.sets[votingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneTabulation(tab), nil
}

// Replace installs tab as version expectedVersion+1. It fails with
// sentinel.ErrConflict when the stored version is not expectedVersion; an
// absent tabulation has version 0.
func (s *InMemoryStore) Replace(_ context.Context, tab *models.Tabulation, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if existing, ok := s.sets[tab.VotingID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return sentinel.ErrConflict
	}
	tab.Version = expectedVersion + 1
	s.sets[tab.VotingID] = cloneTabulation(tab)
	return nil
}

func cloneTabulation(t *models.Tabulation) *models.Tabulation {
	c := *t
	c.Results = append([]models.ResultSnapshot(nil), t.Results...)
	c.Summary.Winners = append(c.Summary.Winners[:0:0], t.Summary.Winners...)
	c.Summary.Rounds = append([]models.RunoffRound(nil), t.Summary.Rounds...)
	return &c
}
