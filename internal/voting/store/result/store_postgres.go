package result

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"unionvote/internal/voting/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	txcontext "unionvote/pkg/platform/tx"
)

// PostgresStore keeps one voting_result_sets row per voting carrying the
// version and summary, and one voting_results row per option. Replace
// rewrites both in a single transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Current reads the version, summary and option rows in one statement so a
// concurrent Replace is seen entirely or not at all.
func (s *PostgresStore) Current(ctx context.Context, votingID id.VotingID) (*models.Tabulation, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT s.version, s.summary,
		       r.option_id, o.title, o.sort_order, r.votes_count, r.percentage, r.ranking_position,
		       r.is_winner, r.margin_of_victory, r.statistical_data, r.calculated_at
		FROM voting_result_sets s
		LEFT JOIN voting_results r ON r.voting_id = s.voting_id
		LEFT JOIN voting_options o ON o.id = r.option_id
		WHERE s.voting_id = $1
		ORDER BY r.ranking_position, o.sort_order`, uuid.UUID(votingID))
	if err != nil {
		return nil, fmt.Errorf("get result set: %w", err)
	}
	defer rows.Close()

	var tab *models.Tabulation
	for rows.Next() {
		var (
			version    int64
			summary    []byte
			optionID   uuid.NullUUID
			title      sql.NullString
			sortOrder  sql.NullInt64
			votes      sql.NullInt64
			percentage sql.NullInt64
			position   sql.NullInt64
			isWinner   sql.NullBool
			margin     sql.NullInt64
			stats      []byte
			calculated sql.NullTime
		)
		if err := rows.Scan(&version, &summary, &optionID, &title, &sortOrder, &votes, &percentage,
			&position, &isWinner, &margin, &stats, &calculated); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if tab == nil {
			tab = &models.Tabulation{VotingID: votingID, Version: version}
			if err := json.Unmarshal(summary, &tab.Summary); err != nil {
				return nil, fmt.Errorf("decode result summary: %w", err)
			}
		}
		if !optionID.Valid {
			continue
		}
		snap := models.ResultSnapshot{
			VotingID:        votingID,
			OptionID:        id.OptionID(optionID.UUID),
			OptionTitle:     title.String,
			SortOrder:       int(sortOrder.Int64),
			VotesCount:      votes.Int64,
			Percentage:      models.Percentage(percentage.Int64),
			RankingPosition: int(position.Int64),
			IsWinner:        isWinner.Bool,
			MarginOfVictory: models.Percentage(margin.Int64),
			CalculatedAt:    calculated.Time,
		}
		if err := json.Unmarshal(stats, &snap.Statistics); err != nil {
			return nil, fmt.Errorf("decode statistical data: %w", err)
		}
		tab.Results = append(tab.Results, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	if tab == nil {
		return nil, sentinel.ErrNotFound
	}
	return tab, nil
}

func (s *PostgresStore) Replace(ctx context.Context, tab *models.Tabulation, expectedVersion int64) error {
	summary, err := json.Marshal(tab.Summary)
	if err != nil {
		return fmt.Errorf("encode result summary: %w", err)
	}
	next := expectedVersion + 1

	return txcontext.Within(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		var res sql.Result
		if expectedVersion == 0 {
			res, err = exec.ExecContext(ctx, `
				INSERT INTO voting_result_sets (voting_id, version, summary, calculated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (voting_id) DO NOTHING`,
				uuid.UUID(tab.VotingID), next, summary, tab.Summary.CalculatedAt)
		} else {
			res, err = exec.ExecContext(ctx, `
				UPDATE voting_result_sets
				SET version = $2, summary = $3, calculated_at = $4
				WHERE voting_id = $1 AND version = $5`,
				uuid.UUID(tab.VotingID), next, summary, tab.Summary.CalculatedAt, expectedVersion)
		}
		if err != nil {
			return fmt.Errorf("write result set: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return sentinel.ErrConflict
		}

		if _, err := exec.ExecContext(ctx,
			`DELETE FROM voting_results WHERE voting_id = $1`, uuid.UUID(tab.VotingID)); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
		for _, snap := range tab.Results {
			stats, err := json.Marshal(snap.Statistics)
			if err != nil {
				return fmt.Errorf("encode statistical data: %w", err)
			}
			if _, err := exec.ExecContext(ctx, `
				INSERT INTO voting_results (
					voting_id, option_id, votes_count, percentage, ranking_position,
					is_winner, margin_of_victory, statistical_data, calculated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				uuid.UUID(tab.VotingID), uuid.UUID(snap.OptionID), snap.VotesCount, int64(snap.Percentage),
				snap.RankingPosition, snap.IsWinner, int64(snap.MarginOfVictory), stats, snap.CalculatedAt); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
		}
		tab.Version = next
		return nil
	})
}
