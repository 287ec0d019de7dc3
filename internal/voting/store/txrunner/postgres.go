package txrunner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	id "unionvote/pkg/domain"
	txcontext "unionvote/pkg/platform/tx"
)

// Postgres runs fn in a database transaction holding a transaction-scoped
// advisory lock keyed by the voting ID. Stores join the transaction through
// ctx. A call made while ctx already carries a transaction joins it and
// takes the lock in that transaction.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

type PostgresOption func(*Postgres)

func WithPostgresTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		p.timeout = d
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) RunInTx(ctx context.Context, votingID id.VotingID, mode Mode, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	if tx, ok := txcontext.From(ctx); ok {
		if err := advisoryLock(ctx, tx, votingID, mode); err != nil {
			return err
		}
		return fn(ctx)
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("begin voting tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := advisoryLock(ctx, tx, votingID, mode); err != nil {
		return err
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit voting tx: %w", err)
	}
	return nil
}

func advisoryLock(ctx context.Context, tx *sql.Tx, votingID id.VotingID, mode Mode) error {
	query := `SELECT pg_advisory_xact_lock_shared(hashtext($1))`
	if mode == Exclusive {
		query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	}
	if _, err := tx.ExecContext(ctx, query, votingID.String()); err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("acquire %s voting lock: %w", mode, err)
	}
	return nil
}
