package session

import (
	"context"
	"time"
)

// Record is one issued refresh token in the ledger.
type Record struct {
	ID        string
	JTI       string
	TokenHash string
	UserID    string
	IsRevoked bool
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord describes a ledger record to create.
type NewRecord struct {
	JTI       string
	TokenHash string
	UserID    string
	// ExpiresAt bounds how long backends with native expiry keep the record.
	ExpiresAt time.Time
	Now       time.Time
}

// Ledger persists issued refresh tokens.
//
// Revoke must be a conditional atomic update: exactly one concurrent caller
// observes true for a given record.
type Ledger interface {
	// Create inserts a record. A duplicate jti or hash returns ErrDuplicateRecord.
	Create(ctx context.Context, in NewRecord) (Record, error)

	// FindByJTI returns the record for jti or ErrRecordNotFound.
	FindByJTI(ctx context.Context, jti string) (Record, error)

	// Revoke marks the record with tokenHash revoked if it is not already.
	// It reports whether this call flipped the flag.
	Revoke(ctx context.Context, now time.Time, tokenHash string) (bool, error)

	// DeleteByID removes a record or returns ErrRecordNotFound.
	DeleteByID(ctx context.Context, id string) error

	// RevokeAllForUser revokes every active record of userID and returns the count.
	RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error)
}
