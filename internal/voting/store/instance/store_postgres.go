package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"unionvote/internal/platform/postgres"
	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	txcontext "unionvote/pkg/platform/tx"
)

// PostgresStore persists instances in voting_instances and options in
// voting_options.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const instanceColumns = `
	id, title, description, type, status, visibility,
	criteria_roles, criteria_departments, allow_member_ids, deny_member_ids,
	requires_quorum, quorum_percentage,
	allow_abstention, allow_vote_change, is_anonymous, is_secret,
	requires_biometric, requires_reauth, max_votes_per_user,
	results_mode, ranked_method, confidence_level,
	total_votes, total_participants, participation_rate, quorum_reached,
	starts_at, ends_at, actual_start_at, actual_end_at,
	cancel_reason, created_by, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, inst *models.Instance) error {
	return txcontext.Within(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		query := `INSERT INTO voting_instances (` + instanceColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)`
		if _, err := exec.ExecContext(ctx, query, instanceArgs(inst)...); err != nil {
			if _, ok := postgres.UniqueViolation(err); ok {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert voting instance: %w", err)
		}
		return s.replaceOptions(ctx, inst)
	})
}

func (s *PostgresStore) Get(ctx context.Context, votingID id.VotingID) (*models.Instance, error) {
	exec := txcontext.Exec(ctx, s.db)
	row := exec.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM voting_instances WHERE id = $1`, uuid.UUID(votingID))
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voting instance: %w", err)
	}
	options, err := s.loadOptions(ctx, []id.VotingID{votingID})
	if err != nil {
		return nil, err
	}
	inst.Options = options[votingID]
	return inst, nil
}

func (s *PostgresStore) Update(ctx context.Context, inst *models.Instance) error {
	return txcontext.Within(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		query := `UPDATE voting_instances SET
			title = $2, description = $3, type = $4, status = $5, visibility = $6,
			criteria_roles = $7, criteria_departments = $8, allow_member_ids = $9, deny_member_ids = $10,
			requires_quorum = $11, quorum_percentage = $12,
			allow_abstention = $13, allow_vote_change = $14, is_anonymous = $15, is_secret = $16,
			requires_biometric = $17, requires_reauth = $18, max_votes_per_user = $19,
			results_mode = $20, ranked_method = $21, confidence_level = $22,
			total_votes = $23, total_participants = $24, participation_rate = $25, quorum_reached = $26,
			starts_at = $27, ends_at = $28, actual_start_at = $29, actual_end_at = $30,
			cancel_reason = $31, created_by = $32, created_at = $33, updated_at = $34
			WHERE id = $1`
		res, err := exec.ExecContext(ctx, query, instanceArgs(inst)...)
		if err != nil {
			return fmt.Errorf("update voting instance: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrNotFound
		}
		return s.replaceOptions(ctx, inst)
	})
}

func (s *PostgresStore) UpdateCounters(ctx context.Context, votingID id.VotingID, c models.Counters) error {
	query := `UPDATE voting_instances
		SET total_votes = $2, total_participants = $3, participation_rate = $4, quorum_reached = $5
		WHERE id = $1`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(votingID), c.TotalVotes, c.TotalParticipants, int64(c.ParticipationRate), c.QuorumReached)
	if err != nil {
		return fmt.Errorf("update voting counters: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Instance, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	query := `SELECT ` + instanceColumns + ` FROM voting_instances
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at DESC, id`
	return s.queryInstances(ctx, query, pq.Array(statuses))
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]id.VotingID, error) {
	query := `SELECT id FROM voting_instances
		WHERE (status = 'scheduled' AND starts_at <= $1)
		   OR (status IN ('active', 'paused') AND ends_at <= $1)
		ORDER BY id`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list due votings: %w", err)
	}
	defer rows.Close()
	var out []id.VotingID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan due voting: %w", err)
		}
		out = append(out, id.VotingID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryInstances(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list voting instances: %w", err)
	}
	defer rows.Close()

	var (
		out []*models.Instance
		ids []id.VotingID
	)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voting instance: %w", err)
		}
		out = append(out, inst)
		ids = append(ids, inst.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voting instances: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}
	options, err := s.loadOptions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, inst := range out {
		inst.Options = options[inst.ID]
	}
	return out, nil
}

// replaceOptions upserts the instance's options and removes dropped ones.
// Options referenced by ballots cannot be removed; the foreign key rejects it.
func (s *PostgresStore) replaceOptions(ctx context.Context, inst *models.Instance) error {
	exec := txcontext.Exec(ctx, s.db)
	keep := make([]string, 0, len(inst.Options))
	for _, opt := range inst.Options {
		keep = append(keep, opt.ID.String())
	}
	if _, err := exec.ExecContext(ctx,
		`DELETE FROM voting_options WHERE voting_id = $1 AND NOT (id::text = ANY($2))`,
		uuid.UUID(inst.ID), pq.Array(keep)); err != nil {
		return fmt.Errorf("delete dropped options: %w", err)
	}
	// Clear sort orders first so swapping two options does not trip the
	// (voting_id, sort_order) unique constraint mid-update.
	if _, err := exec.ExecContext(ctx,
		`UPDATE voting_options SET sort_order = -sort_order - 1 WHERE voting_id = $1`,
		uuid.UUID(inst.ID)); err != nil {
		return fmt.Errorf("reset option order: %w", err)
	}
	query := `INSERT INTO voting_options (id, voting_id, title, description, sort_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			sort_order = EXCLUDED.sort_order,
			is_active = EXCLUDED.is_active`
	for _, opt := range inst.Options {
		if _, err := exec.ExecContext(ctx, query,
			uuid.UUID(opt.ID), uuid.UUID(inst.ID), opt.Title, opt.Description, opt.SortOrder, opt.IsActive); err != nil {
			return fmt.Errorf("upsert option: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) loadOptions(ctx context.Context, votingIDs []id.VotingID) (map[id.VotingID][]models.Option, error) {
	raw := make([]string, len(votingIDs))
	for i, v := range votingIDs {
		raw[i] = v.String()
	}
	query := `SELECT id, voting_id, title, description, sort_order, is_active
		FROM voting_options
		WHERE voting_id::text = ANY($1)
		ORDER BY voting_id, sort_order`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	out := make(map[id.VotingID][]models.Option, len(votingIDs))
	for rows.Next() {
		var (
			opt         models.Option
			optID, vID  uuid.UUID
			description sql.NullString
		)
		if err := rows.Scan(&optID, &vID, &opt.Title, &description, &opt.SortOrder, &opt.IsActive); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		opt.ID = id.OptionID(optID)
		opt.VotingID = id.VotingID(vID)
		opt.Description = description.String
		out[opt.VotingID] = append(out[opt.VotingID], opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return out, nil
}

func instanceArgs(inst *models.Instance) []any {
	return []any{
		uuid.UUID(inst.ID), inst.Title, inst.Description, string(inst.Type), string(inst.Status), string(inst.Visibility),
		pq.Array(inst.Criteria.Roles), pq.Array(inst.Criteria.Departments),
		pq.Array(memberIDStrings(inst.Criteria.AllowMemberIDs)), pq.Array(memberIDStrings(inst.Criteria.DenyMemberIDs)),
		inst.Quorum.Required, int64(inst.Quorum.Percentage),
		inst.Policy.AllowAbstention, inst.Policy.AllowVoteChange, inst.Policy.IsAnonymous, inst.Policy.IsSecret,
		inst.Policy.RequiresBiometric, inst.Policy.RequiresReauth, inst.Policy.MaxVotesPerUser,
		string(inst.ResultsMode), string(inst.RankedMethod), inst.ConfidenceLevel,
		inst.Counters.TotalVotes, inst.Counters.TotalParticipants, int64(inst.Counters.ParticipationRate), inst.Counters.QuorumReached,
		toNullTime(inst.StartsAt), toNullTime(inst.EndsAt), toNullTime(inst.ActualStartAt), toNullTime(inst.ActualEndAt),
		inst.CancelReason, inst.CreatedBy, inst.CreatedAt, inst.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(s scanner) (*models.Instance, error) {
	var (
		inst                                     models.Instance
		rawID                                    uuid.UUID
		typ, status, visibility, mode, ranked    string
		roles, departments, allowIDs, denyIDs    pq.StringArray
		quorumPct, participation                 int64
		startsAt, endsAt, actualStart, actualEnd sql.NullTime
	)
	err := s.Scan(
		&rawID, &inst.Title, &inst.Description, &typ, &status, &visibility,
		&roles, &departments, &allowIDs, &denyIDs,
		&inst.Quorum.Required, &quorumPct,
		&inst.Policy.AllowAbstention, &inst.Policy.AllowVoteChange, &inst.Policy.IsAnonymous, &inst.Policy.IsSecret,
		&inst.Policy.RequiresBiometric, &inst.Policy.RequiresReauth, &inst.Policy.MaxVotesPerUser,
		&mode, &ranked, &inst.ConfidenceLevel,
		&inst.Counters.TotalVotes, &inst.Counters.TotalParticipants, &participation, &inst.Counters.QuorumReached,
		&startsAt, &endsAt, &actualStart, &actualEnd,
		&inst.CancelReason, &inst.CreatedBy, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.ID = id.VotingID(rawID)
	inst.Type = models.VotingType(typ)
	inst.Status = models.Status(status)
	inst.Visibility = models.Visibility(visibility)
	inst.ResultsMode = models.ResultsMode(mode)
	inst.RankedMethod = models.RankedMethod(ranked)
	inst.Quorum.Percentage = models.Percentage(quorumPct)
	inst.Counters.ParticipationRate = models.Percentage(participation)
	inst.Criteria.Roles = []string(roles)
	inst.Criteria.Departments = []string(departments)
	if inst.Criteria.AllowMemberIDs, err = parseMemberIDs(allowIDs); err != nil {
		return nil, err
	}
	if inst.Criteria.DenyMemberIDs, err = parseMemberIDs(denyIDs); err != nil {
		return nil, err
	}
	inst.StartsAt = nullTime(startsAt)
	inst.EndsAt = nullTime(endsAt)
	inst.ActualStartAt = nullTime(actualStart)
	inst.ActualEndAt = nullTime(actualEnd)
	return &inst, nil
}

func memberIDStrings(ids []id.MemberID) []string {
	out := make([]string, len(ids))
	for i, m := range ids {
		out[i] = m.String()
	}
	return out
}

func parseMemberIDs(raw []string) ([]id.MemberID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]id.MemberID, len(raw))
	for i, r := range raw {
		u, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("parse criteria member id: %w", err)
		}
		out[i] = id.MemberID(u)
	}
	return out, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
