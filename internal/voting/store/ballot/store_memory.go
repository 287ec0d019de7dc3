// Package ballot is the durable ballot ledger. Both implementations enforce
// at most one current ballot per (voting, voter key) themselves; callers do
// not need to check first.
package ballot

import (
	"context"
	"sync"
	"time"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	ballots map[id.VotingID][]*models.Ballot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ballots: make(map[id.VotingID][]*models.Ballot)}
}

// Append records b. When a current ballot exists for the same voter key it
// is superseded if replace is set, otherwise Append fails with
// sentinel.ErrAlreadyUsed and nothing changes.
func (s *InMemoryStore) Append(_ context.Context, b *models.Ballot, replace bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prior *models.Ballot
	for _, existing := range s.ballots[b.VotingID] {
		if existing.VoterKey == b.VoterKey && existing.IsCurrent() {
			prior = existing
			break
		}
	}
	if prior != nil {
		if !replace {
			return false, sentinel.ErrAlreadyUsed
		}
		at := b.CastAt
		prior.SupersededAt = &at
	}
	s.ballots[b.VotingID] = append(s.ballots[b.VotingID], cloneBallot(b))
	return prior != nil, nil
}

func (s *InMemoryStore) HasCurrent(_ context.Context, votingID id.VotingID, voterKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.ballots[votingID] {
		if b.VoterKey == voterKey && b.IsCurrent() {
			return true, nil
		}
	}
	return false, nil
}

// ListCurrent returns current ballots in cast order.
func (s *InMemoryStore) ListCurrent(_ context.Context, votingID id.VotingID) ([]*models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Ballot
	for _, b := range s.ballots[votingID] {
		if b.IsCurrent() {
			out = append(out, cloneBallot(b))
		}
	}
	return out, nil
}

// ListAll includes superseded ballots; it backs audit exports.
func (s *InMemoryStore) ListAll(_ context.Context, votingID id.VotingID) ([]*models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Ballot, 0, len(s.ballots[votingID]))
	for _, b := range s.ballots[votingID] {
		out = append(out, cloneBallot(b))
	}
	return out, nil
}

func (s *InMemoryStore) Counts(_ context.Context, votingID id.VotingID) (models.BallotCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c models.BallotCounts
	for _, b := range s.ballots[votingID] {
		if !b.IsCurrent() {
			continue
		}
		c.Total++
		if b.IsAbstention {
			c.Abstentions++
		}
	}
	return c, nil
}

// AnonymizeAll strips metadata from every ballot of the voting, current or
// superseded, and returns how many rows changed.
func (s *InMemoryStore) AnonymizeAll(_ context.Context, votingID id.VotingID, dropMember bool, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.ballots[votingID] {
		if b.IsAnonymized() && (!dropMember || b.MemberID == nil) {
			continue
		}
		b.Anonymize(dropMember, now)
		n++
	}
	return n, nil
}

func cloneBallot(b *models.Ballot) *models.Ballot {
	c := *b
	if b.MemberID != nil {
		m := *b.MemberID
		c.MemberID = &m
	}
	if b.VerificationConfidence != nil {
		v := *b.VerificationConfidence
		c.VerificationConfidence = &v
	}
	if b.SupersededAt != nil {
		t := *b.SupersededAt
		c.SupersededAt = &t
	}
	if b.AnonymizedAt != nil {
		t := *b.AnonymizedAt
		c.AnonymizedAt = &t
	}
	return &c
}
