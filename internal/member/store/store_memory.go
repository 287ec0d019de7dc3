package store

import (
	"context"
	"sort"
	"sync"

	"unionvote/internal/member/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

// InMemoryDirectory serves members from a map. Used in development and tests.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	members map[id.MemberID]models.Member
}

func NewInMemoryDirectory(members ...models.Member) *InMemoryDirectory {
	d := &InMemoryDirectory{members: make(map[id.MemberID]models.Member, len(members))}
	for _, m := range members {
		d.members[m.ID] = m
	}
	return d
}

// Put inserts or replaces a member.
func (d *InMemoryDirectory) Put(m models.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

func (d *InMemoryDirectory) GetMember(_ context.Context, memberID id.MemberID) (*models.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	m.Roles = append([]string(nil), m.Roles...)
	return &m, nil
}

// ListActive returns active members ordered by ID.
func (d *InMemoryDirectory) ListActive(_ context.Context) ([]models.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Member, 0, len(d.members))
	for _, m := range d.members {
		if m.IsActive() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
