// Package postgres opens the database handle and applies the schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Registers the "pgx" driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"unionvote/internal/platform/config"
)

// Open connects and pings. The caller owns the returned handle.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates every table the service uses. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UniqueViolation reports whether err is a unique_violation (SQLSTATE 23505)
// raised by either driver, and on which constraint.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// Tables lists the tables Migrate owns, children before parents.
var Tables = []string{
	"voting_results",
	"voting_result_sets",
	"ballot_selections",
	"ballots",
	"voting_options",
	"voting_instances",
	"passkey_credentials",
	"audit_events",
	"members",
}

const schema = `
-- Member directory. Owned by the membership system; created here so a
-- standalone deployment and the tests have somewhere to read from.
CREATE TABLE IF NOT EXISTS members (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    roles TEXT[] NOT NULL DEFAULT '{}',
    department TEXT,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
    password_hash TEXT
);

CREATE TABLE IF NOT EXISTS voting_instances (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL CHECK (type IN ('simple', 'multiple', 'ranked', 'approval')),
    status TEXT NOT NULL CHECK (status IN ('draft', 'scheduled', 'active', 'paused', 'ended', 'cancelled')),
    visibility TEXT NOT NULL,
    criteria_roles TEXT[],
    criteria_departments TEXT[],
    allow_member_ids TEXT[],
    deny_member_ids TEXT[],
    requires_quorum BOOLEAN NOT NULL DEFAULT FALSE,
    quorum_percentage BIGINT NOT NULL DEFAULT 0 CHECK (quorum_percentage BETWEEN 0 AND 10000),
    allow_abstention BOOLEAN NOT NULL DEFAULT FALSE,
    allow_vote_change BOOLEAN NOT NULL DEFAULT FALSE,
    is_anonymous BOOLEAN NOT NULL DEFAULT FALSE,
    is_secret BOOLEAN NOT NULL DEFAULT FALSE,
    requires_biometric BOOLEAN NOT NULL DEFAULT FALSE,
    requires_reauth BOOLEAN NOT NULL DEFAULT FALSE,
    max_votes_per_user INTEGER NOT NULL DEFAULT 1,
    results_mode TEXT NOT NULL,
    ranked_method TEXT NOT NULL DEFAULT '',
    confidence_level INTEGER NOT NULL DEFAULT 95,
    total_votes BIGINT NOT NULL DEFAULT 0,
    total_participants BIGINT NOT NULL DEFAULT 0,
    participation_rate BIGINT NOT NULL DEFAULT 0,
    quorum_reached BOOLEAN NOT NULL DEFAULT FALSE,
    starts_at TIMESTAMPTZ,
    ends_at TIMESTAMPTZ,
    actual_start_at TIMESTAMPTZ,
    actual_end_at TIMESTAMPTZ,
    cancel_reason TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (ends_at IS NULL OR starts_at IS NULL OR ends_at > starts_at)
);

CREATE INDEX IF NOT EXISTS idx_voting_instances_status ON voting_instances(status);

CREATE TABLE IF NOT EXISTS voting_options (
    id UUID PRIMARY KEY,
    voting_id UUID NOT NULL REFERENCES voting_instances(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT,
    sort_order INTEGER NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (voting_id, sort_order)
);

CREATE TABLE IF NOT EXISTS ballots (
    id UUID PRIMARY KEY,
    voting_id UUID NOT NULL REFERENCES voting_instances(id) ON DELETE CASCADE,
    voter_key TEXT NOT NULL,
    member_id UUID,
    selection JSONB,
    is_abstention BOOLEAN NOT NULL DEFAULT FALSE,
    verification_method TEXT NOT NULL DEFAULT 'none',
    verification_digest TEXT NOT NULL DEFAULT '',
    verification_confidence DOUBLE PRECISION,
    ip_hash TEXT NOT NULL DEFAULT '',
    device TEXT NOT NULL DEFAULT '',
    cast_at TIMESTAMPTZ NOT NULL,
    superseded_at TIMESTAMPTZ,
    anonymized_at TIMESTAMPTZ,
    CHECK (is_abstention OR selection IS NOT NULL)
);

-- One current ballot per voter. Superseded rows stay for audit.
CREATE UNIQUE INDEX IF NOT EXISTS ballots_current_voter_idx
    ON ballots(voting_id, voter_key) WHERE superseded_at IS NULL;

CREATE TABLE IF NOT EXISTS ballot_selections (
    ballot_id UUID NOT NULL REFERENCES ballots(id) ON DELETE CASCADE,
    option_id UUID NOT NULL REFERENCES voting_options(id),
    rank INTEGER,
    PRIMARY KEY (ballot_id, option_id)
);

CREATE INDEX IF NOT EXISTS idx_ballot_selections_option ON ballot_selections(option_id);

CREATE TABLE IF NOT EXISTS voting_result_sets (
    voting_id UUID PRIMARY KEY REFERENCES voting_instances(id) ON DELETE CASCADE,
    version BIGINT NOT NULL,
    summary JSONB NOT NULL,
    calculated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS voting_results (
    voting_id UUID NOT NULL REFERENCES voting_result_sets(voting_id) ON DELETE CASCADE,
    option_id UUID NOT NULL REFERENCES voting_options(id),
    votes_count BIGINT NOT NULL,
    percentage BIGINT NOT NULL,
    ranking_position INTEGER NOT NULL,
    is_winner BOOLEAN NOT NULL,
    margin_of_victory BIGINT NOT NULL,
    statistical_data JSONB NOT NULL,
    calculated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (voting_id, option_id)
);

CREATE TABLE IF NOT EXISTS passkey_credentials (
    credential_id BYTEA PRIMARY KEY,
    member_id UUID NOT NULL,
    credential JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_passkey_credentials_member ON passkey_credentials(member_id);

-- Audit rows outlive votings, so voting_id carries no foreign key.
CREATE TABLE IF NOT EXISTS audit_events (
    id UUID PRIMARY KEY,
    category TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    voting_id UUID,
    subject TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    decision TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    request_id TEXT NOT NULL DEFAULT '',
    actor_id TEXT NOT NULL DEFAULT '',
    ip_hash TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_events_voting ON audit_events(voting_id, timestamp);
`
