package credentials

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/sentinel"
	txcontext "unionvote/pkg/platform/tx"
)

// PostgresStore keeps each credential as a JSON document keyed by its
// credential ID.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context, memberID id.MemberID) ([]webauthn.Credential, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT credential FROM passkey_credentials WHERE member_id = $1 ORDER BY created_at`,
		uuid.UUID(memberID))
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer rows.Close()

	var out []webauthn.Credential
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan passkey credential: %w", err)
		}
		var cred webauthn.Credential
		if err := json.Unmarshal(raw, &cred); err != nil {
			return nil, fmt.Errorf("decode passkey credential: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, memberID id.MemberID, cred webauthn.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode passkey credential: %w", err)
	}
	// The WHERE clause keeps another member's credential untouched; zero
	// affected rows then means the ID is taken.
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO passkey_credentials (credential_id, member_id, credential)
		VALUES ($1, $2, $3)
		ON CONFLICT (credential_id) DO UPDATE
		SET credential = EXCLUDED.credential, last_used_at = NOW()
		WHERE passkey_credentials.member_id = EXCLUDED.member_id`,
		cred.ID, uuid.UUID(memberID), raw)
	if err != nil {
		return fmt.Errorf("save passkey credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, memberID id.MemberID, credentialID []byte) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`DELETE FROM passkey_credentials WHERE member_id = $1 AND credential_id = $2`,
		uuid.UUID(memberID), credentialID)
	if err != nil {
		return fmt.Errorf("delete passkey credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
