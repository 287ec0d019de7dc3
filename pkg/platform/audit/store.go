package audit

import (
	"context"

	id "unionvote/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByVoting(ctx context.Context, votingID id.VotingID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
