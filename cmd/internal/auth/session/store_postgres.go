package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger implements Ledger using PostgreSQL (<schema>.refresh_tokens).
//
// The pgx pool is owned by the caller; the ledger must NOT close it.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresLedger creates a Postgres-backed ledger in schema
// (identity.DefaultSchema when empty).
func NewPostgresLedger(pool *pgxpool.Pool, schema string) (*PostgresLedger, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = identity.DefaultSchema
	}
	if !identity.ValidSchemaName(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresLedger{pool: pool, schema: schema}, nil
}

func (l *PostgresLedger) table() string {
	return pgx.Identifier{l.schema, "refresh_tokens"}.Sanitize()
}

// Create implements Ledger.
func (l *PostgresLedger) Create(ctx context.Context, in NewRecord) (Record, error) {
	rec, err := newRecordFromInput(in)
	if err != nil {
		return Record{}, err
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO `+l.table()+` (
			id, jti, token_hash, is_revoked, revoked_at, user_id, created_at, updated_at
		) VALUES ($1, $2, $3, false, NULL, $4, $5, $5)
	`, rec.ID, rec.JTI, rec.TokenHash, rec.UserID, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return Record{}, ErrDuplicateRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// FindByJTI implements Ledger.
func (l *PostgresLedger) FindByJTI(ctx context.Context, jti string) (Record, error) {
	var r Record
	err := l.pool.QueryRow(ctx, `
		SELECT id, jti, token_hash, is_revoked, revoked_at, user_id, created_at, updated_at
		FROM `+l.table()+`
		WHERE jti = $1
	`, strings.TrimSpace(jti)).Scan(
		&r.ID,
		&r.JTI,
		&r.TokenHash,
		&r.IsRevoked,
		&r.RevokedAt,
		&r.UserID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// Revoke implements Ledger. The WHERE NOT is_revoked guard makes the update a
// compare-and-swap; only the caller whose statement changed the row sees true.
func (l *PostgresLedger) Revoke(ctx context.Context, now time.Time, tokenHash string) (bool, error) {
	ct, err := l.pool.Exec(ctx, `
		UPDATE `+l.table()+`
		SET is_revoked = true, revoked_at = $1, updated_at = $1
		WHERE token_hash = $2 AND NOT is_revoked
	`, now, tokenHash)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// DeleteByID implements Ledger.
func (l *PostgresLedger) DeleteByID(ctx context.Context, id string) error {
	ct, err := l.pool.Exec(ctx, `DELETE FROM `+l.table()+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// RevokeAllForUser implements Ledger.
func (l *PostgresLedger) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	ct, err := l.pool.Exec(ctx, `
		UPDATE `+l.table()+`
		SET is_revoked = true, revoked_at = $1, updated_at = $1
		WHERE user_id = $2 AND NOT is_revoked
	`, now, userID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// LedgerSchemaSQL returns idempotent DDL for the refresh_tokens table.
// It expects identity.SchemaSQL(schema) to have been applied first.
func LedgerSchemaSQL(schema string) string {
	tokens := pgx.Identifier{schema, "refresh_tokens"}.Sanitize()
	users := pgx.Identifier{schema, "users"}.Sanitize()
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  jti VARCHAR(36) NOT NULL,
  token_hash VARCHAR(64) NOT NULL,
  is_revoked BOOLEAN NOT NULL DEFAULT false,
  revoked_at TIMESTAMPTZ NULL,
  user_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_refresh_tokens_jti UNIQUE (jti),
  CONSTRAINT uq_refresh_tokens_token_hash UNIQUE (token_hash),
  CONSTRAINT chk_refresh_tokens_revoked_at CHECK (is_revoked = (revoked_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON %s (user_id);
`, tokens, users, tokens)
}
