// Package txrunner scopes work on one voting instance to a transaction that
// holds a per-instance lock.
//
// Ballot casts take the shared lock so they run in parallel with each other.
// Lifecycle transitions and tabulation take the exclusive lock, which waits
// for in-flight casts and keeps new ones out until the transition commits.
package txrunner

import (
	"context"
	"time"

	dErrors "unionvote/pkg/domain-errors"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// DefaultTimeout bounds a transaction when the caller set no deadline.
const DefaultTimeout = 5 * time.Second

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func cancelled(err error) error {
	return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
}
