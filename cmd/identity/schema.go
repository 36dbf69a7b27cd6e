package identity

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaSQL returns idempotent DDL for the users table inside schema.
// Production schemas are managed out of band; dev setups and tests apply this directly.
func SchemaSQL(schema string) string {
	users := pgIdent(schema, "users")
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  username TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  source TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email UNIQUE (email),
  CONSTRAINT uq_users_username UNIQUE (username)
);

CREATE INDEX IF NOT EXISTS idx_users_source ON %s (source);
`, pgIdent1(schema), users, users)
}

func pgIdent1(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}
