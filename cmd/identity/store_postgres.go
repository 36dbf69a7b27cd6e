package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool      *pgxpool.Pool
	schema    string
	onDeleted UserDeletedHook
}

// UserDeletedHook runs after a user row is deleted. Stores use it to cascade
// into storage that the database foreign keys cannot reach.
type UserDeletedHook func(ctx context.Context, userID string) error

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "crud"

// WithSchema sets the Postgres schema used by the identity store (default "crud").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithPostgresUserDeletedHook registers a hook called after DeleteUserByID succeeds.
func WithPostgresUserDeletedHook(h UserDeletedHook) PostgresOption {
	return func(s *PostgresStore) error {
		s.onDeleted = h
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, email, username, source, created_at, updated_at`

// CreateUser inserts a user with normalized email and username.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, invalid(op, "nil store")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u, err := newUserFromInput(op, in)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, email, username, password_hash, source, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID,
		u.Email,
		u.Username,
		in.PasswordHash,
		u.Source,
		u.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return u, nil
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, invalid(op, "missing id")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+users+` WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserAuthByEmail loads a user and its password hash by email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return UserAuth{}, invalid(op, "missing email")
	}

	users := pgIdent(s.schema, "users")
	var (
		out  UserAuth
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+users+` WHERE email = $1`,
		norm,
	).Scan(
		&out.User.ID,
		&out.User.Email,
		&out.User.Username,
		&out.User.Source,
		&out.User.CreatedAt,
		&out.User.UpdatedAt,
		&hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	out.PasswordHash = hash
	return out, nil
}

// FindUserByEmailOrUsername returns a user matching either field.
// When two different users match, the email match wins.
func (s *PostgresStore) FindUserByEmailOrUsername(ctx context.Context, email, username string) (User, error) {
	const op = "identity.FindUserByEmailOrUsername"

	email = NormalizeEmail(email)
	username = NormalizeUsername(username)
	if email == "" && username == "" {
		return User{}, invalid(op, "email or username is required")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`
		   FROM `+users+`
		  WHERE email = $1 OR username = $2
		  ORDER BY (email = $1) DESC, created_at ASC
		  LIMIT 1`,
		email, username,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// ListUsersBySource returns users registered with the given provenance tag, oldest first.
func (s *PostgresStore) ListUsersBySource(ctx context.Context, source string) ([]User, error) {
	const op = "identity.ListUsersBySource"

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, invalid(op, "missing source")
	}

	users := pgIdent(s.schema, "users")
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE source = $1 ORDER BY created_at ASC, id ASC`,
		source,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0, 8)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUserByID deletes a user. Ledger rows cascade through the foreign key.
func (s *PostgresStore) DeleteUserByID(ctx context.Context, id string) error {
	const op = "identity.DeleteUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return invalid(op, "missing id")
	}

	users := pgIdent(s.schema, "users")
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if s.onDeleted != nil {
		if err := s.onDeleted(ctx, id); err != nil {
			return fmt.Errorf("%s: cascade: %w", op, err)
		}
	}
	return nil
}

func newUserFromInput(op string, in CreateUserInput) (User, error) {
	email := NormalizeEmail(in.Email)
	username := NormalizeUsername(in.Username)

	if email == "" {
		return User{}, invalid(op, "email is required")
	}
	if username == "" {
		return User{}, invalid(op, "username is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:        id,
		Email:     email,
		Username:  username,
		Source:    NormalizeSource(in.Source),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Source, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// ValidSchemaName checks if a string is a safe Postgres identifier.
func ValidSchemaName(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, then fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username":
		return "username", true
	case "uq_users_email":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
