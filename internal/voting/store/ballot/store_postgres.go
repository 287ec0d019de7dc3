package ballot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"unionvote/internal/platform/postgres"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	txcontext "unionvote/pkg/platform/tx"
)

// currentVoterIndex is the partial unique index that backs duplicate
// prevention: one row per (voting_id, voter_key) with superseded_at NULL.
const currentVoterIndex = "ballots_current_voter_idx"

// PostgresStore writes ballots and their option references. The selection is
// stored whole as JSON for tabulation and exploded into ballot_selections so
// the options foreign key protects referenced options.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, b *models.Ballot, replace bool) (bool, error) {
	selection, err := models.EncodeSelection(b.Selection)
	if err != nil {
		return false, err
	}

	superseded := false
	err = txcontext.Within(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		if replace {
			res, err := exec.ExecContext(ctx, `
				UPDATE ballots SET superseded_at = $3
				WHERE voting_id = $1 AND voter_key = $2 AND superseded_at IS NULL`,
				uuid.UUID(b.VotingID), b.VoterKey, b.CastAt)
			if err != nil {
				return fmt.Errorf("supersede ballot: %w", err)
			}
			n, _ := res.RowsAffected()
			superseded = n > 0
		}

		var memberID any
		if b.MemberID != nil {
			memberID = uuid.UUID(*b.MemberID)
		}
		var confidence sql.NullFloat64
		if b.VerificationConfidence != nil {
			confidence = sql.NullFloat64{Float64: *b.VerificationConfidence, Valid: true}
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO ballots (
				id, voting_id, voter_key, member_id, selection, is_abstention,
				verification_method, verification_digest, verification_confidence,
				ip_hash, device, cast_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			uuid.UUID(b.ID), uuid.UUID(b.VotingID), b.VoterKey, memberID, selection, b.IsAbstention,
			string(b.VerificationMethod), b.VerificationDigest, confidence,
			b.IPHash, b.Device, b.CastAt)
		if err != nil {
			if constraint, ok := postgres.UniqueViolation(err); ok && constraint == currentVoterIndex {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert ballot: %w", err)
		}
		return insertSelections(ctx, exec, b)
	})
	if err != nil {
		return false, err
	}
	return superseded, nil
}

func insertSelections(ctx context.Context, exec txcontext.Executor, b *models.Ballot) error {
	if b.Selection == nil {
		return nil
	}
	ranks := map[id.OptionID]int{}
	if r, ok := b.Selection.(models.Ranked); ok {
		for _, c := range r.Choices {
			ranks[c.Option] = c.Rank
		}
	}
	for _, optionID := range b.Selection.OptionIDs() {
		var rank sql.NullInt64
		if r, ok := ranks[optionID]; ok {
			rank = sql.NullInt64{Int64: int64(r), Valid: true}
		}
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO ballot_selections (ballot_id, option_id, rank) VALUES ($1, $2, $3)`,
			uuid.UUID(b.ID), uuid.UUID(optionID), rank); err != nil {
			return fmt.Errorf("insert ballot selection: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) HasCurrent(ctx context.Context, votingID id.VotingID, voterKey string) (bool, error) {
	var exists bool
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ballots
			WHERE voting_id = $1 AND voter_key = $2 AND superseded_at IS NULL
		)`, uuid.UUID(votingID), voterKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check current ballot: %w", err)
	}
	return exists, nil
}

const ballotColumns = `id, voting_id, voter_key, member_id, selection, is_abstention,
	verification_method, verification_digest, verification_confidence,
	ip_hash, device, cast_at, superseded_at, anonymized_at`

func (s *PostgresStore) ListCurrent(ctx context.Context, votingID id.VotingID) ([]*models.Ballot, error) {
	return s.list(ctx, `SELECT `+ballotColumns+` FROM ballots
		WHERE voting_id = $1 AND superseded_at IS NULL
		ORDER BY cast_at, id`, votingID)
}

func (s *PostgresStore) ListAll(ctx context.Context, votingID id.VotingID) ([]*models.Ballot, error) {
	return s.list(ctx, `SELECT `+ballotColumns+` FROM ballots
		WHERE voting_id = $1
		ORDER BY cast_at, id`, votingID)
}

func (s *PostgresStore) list(ctx context.Context, query string, votingID id.VotingID) ([]*models.Ballot, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(votingID))
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	defer rows.Close()

	var out []*models.Ballot
	for rows.Next() {
		b, err := scanBallot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Counts(ctx context.Context, votingID id.VotingID) (models.BallotCounts, error) {
	var c models.BallotCounts
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_abstention)
		FROM ballots
		WHERE voting_id = $1 AND superseded_at IS NULL`, uuid.UUID(votingID)).Scan(&c.Total, &c.Abstentions)
	if err != nil {
		return models.BallotCounts{}, fmt.Errorf("count ballots: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) AnonymizeAll(ctx context.Context, votingID id.VotingID, dropMember bool, now time.Time) (int64, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE ballots SET
			ip_hash = '',
			device = '',
			member_id = CASE WHEN $2 THEN NULL ELSE member_id END,
			anonymized_at = COALESCE(anonymized_at, $3)
		WHERE voting_id = $1
		  AND (anonymized_at IS NULL OR ($2 AND member_id IS NOT NULL))`,
		uuid.UUID(votingID), dropMember, now)
	if err != nil {
		return 0, fmt.Errorf("anonymize ballots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("anonymize ballots: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBallot(s scanner) (*models.Ballot, error) {
	var (
		b                      models.Ballot
		rawID, rawVoting       uuid.UUID
		memberID               uuid.NullUUID
		selection              []byte
		method                 string
		confidence             sql.NullFloat64
		superseded, anonymized sql.NullTime
	)
	err := s.Scan(&rawID, &rawVoting, &b.VoterKey, &memberID, &selection, &b.IsAbstention,
		&method, &b.VerificationDigest, &confidence,
		&b.IPHash, &b.Device, &b.CastAt, &superseded, &anonymized)
	if err != nil {
		return nil, fmt.Errorf("scan ballot: %w", err)
	}
	b.ID = id.BallotID(rawID)
	b.VotingID = id.VotingID(rawVoting)
	if memberID.Valid {
		m := id.MemberID(memberID.UUID)
		b.MemberID = &m
	}
	if b.Selection, err = models.DecodeSelection(selection); err != nil {
		return nil, err
	}
	b.VerificationMethod = models.VerificationMethod(method)
	if confidence.Valid {
		v := confidence.Float64
		b.VerificationConfidence = &v
	}
	if superseded.Valid {
		t := superseded.Time
		b.SupersededAt = &t
	}
	if anonymized.Valid {
		t := anonymized.Time
		b.AnonymizedAt = &t
	}
	return &b, nil
}
