package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"unionvote/internal/member/models"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	txcontext "unionvote/pkg/platform/tx"
)

// PostgresDirectory reads the platform's members table. The voting core never
// writes to it.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetMember(ctx context.Context, memberID id.MemberID) (*models.Member, error) {
	query := `
		SELECT id, name, roles, department, status, password_hash
		FROM members
		WHERE id = $1
	`
	row := txcontext.Exec(ctx, d.db).QueryRowContext(ctx, query, uuid.UUID(memberID))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (d *PostgresDirectory) ListActive(ctx context.Context) ([]models.Member, error) {
	query := `
		SELECT id, name, roles, department, status, password_hash
		FROM members
		WHERE status = 'active'
		ORDER BY id
	`
	rows, err := txcontext.Exec(ctx, d.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	var out []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*models.Member, error) {
	var (
		m          models.Member
		rawID      uuid.UUID
		roles      pq.StringArray
		department sql.NullString
		hash       sql.NullString
		status     string
	)
	if err := s.Scan(&rawID, &m.Name, &roles, &department, &status, &hash); err != nil {
		return nil, err
	}
	m.ID = id.MemberID(rawID)
	m.Roles = []string(roles)
	m.Department = department.String
	m.Status = models.Status(status)
	m.PasswordHash = hash.String
	return &m, nil
}
