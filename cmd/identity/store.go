package identity

import (
	"context"
	"time"
)

// User is the authenticated principal. It never carries the password hash.
type User struct {
	ID       string
	Email    string
	Username string
	Source   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth pairs a user with its stored password hash for credential checks.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration. PasswordHash is already hashed by the caller.
type CreateUserInput struct {
	Email        string
	Username     string
	PasswordHash string
	Source       *string
	Now          time.Time
}

// Store is the users persistence boundary.
type Store interface {
	// CreateUser inserts a user. Unique violations return ConflictError{Field: "email"|"username"}.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// FindUserByEmailOrUsername returns the first user whose email or username matches.
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (User, error)

	ListUsersBySource(ctx context.Context, source string) ([]User, error)

	// DeleteUserByID removes a user; its refresh token records cascade with it.
	DeleteUserByID(ctx context.Context, id string) error
}
