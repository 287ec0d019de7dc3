// Package instance persists voting instances and their options.
package instance

import (
	"context"
	"slices"
	"sync"
	"time"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

// ListFilter narrows List. An empty status set matches every instance.
type ListFilter struct {
	Statuses []models.Status
}

func (f ListFilter) matches(inst *models.Instance) bool {
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, inst.Status)
}

// InMemoryStore keeps instances in a map. Reads and writes copy so callers
// never share mutable state with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[id.VotingID]*models.Instance
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{instances: make(map[id.VotingID]*models.Instance)}
}

func (s *InMemoryStore) Create(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[inst.ID]; exists {
		return sentinel.ErrConflict
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, votingID id.VotingID) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[votingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return inst.Clone(), nil
}

// Update replaces the stored instance, options included.
func (s *InMemoryStore) Update(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) UpdateCounters(_ context.Context, votingID id.VotingID, counters models.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[votingID]
	if !ok {
		return sentinel.ErrNotFound
	}
	inst.Counters = counters
	return nil
}

// List returns matching instances, newest first.
func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if filter.matches(inst) {
			out = append(out, inst.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListDue returns instances a sweep at now should activate or close.
func (s *InMemoryStore) ListDue(_ context.Context, now time.Time) ([]id.VotingID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.VotingID
	for _, inst := range s.instances {
		if inst.DueToStart(now) || inst.DueToEnd(now) {
			out = append(out, inst.ID)
		}
	}
	slices.SortFunc(out, func(a, b id.VotingID) int {
		return compareStrings(a.String(), b.String())
	})
	return out, nil
}

func sortNewestFirst(list []*models.Instance) {
	slices.SortFunc(list, func(a, b *models.Instance) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.ID.String(), b.ID.String())
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
