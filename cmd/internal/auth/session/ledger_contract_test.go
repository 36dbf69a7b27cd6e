package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/security/token"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerContract exercises the Ledger contract against a backend.
// newUser must return the id of a user the backend accepts records for.
func runLedgerContract(t *testing.T, l Ledger, newUser func(t *testing.T) string) {
	t.Helper()

	newRec := func(userID string) NewRecord {
		jti := uuid.NewString()
		return NewRecord{
			JTI:       jti,
			TokenHash: token.HashSHA256Hex("raw-" + jti),
			UserID:    userID,
			ExpiresAt: time.Now().Add(time.Hour),
			Now:       time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	t.Run("create and find", func(t *testing.T) {
		ctx := context.Background()
		uid := newUser(t)
		in := newRec(uid)

		created, err := l.Create(ctx, in)
		require.NoError(t, err)
		assert.Len(t, created.ID, 26)
		assert.False(t, created.IsRevoked)

		got, err := l.FindByJTI(ctx, in.JTI)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, in.TokenHash, got.TokenHash)
		assert.Equal(t, uid, got.UserID)
		assert.False(t, got.IsRevoked)
		assert.Nil(t, got.RevokedAt)
		assert.True(t, got.CreatedAt.Equal(in.Now))
	})

	t.Run("missing", func(t *testing.T) {
		ctx := context.Background()
		_, err := l.FindByJTI(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrRecordNotFound))
		assert.True(t, errors.Is(l.DeleteByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ"), ErrRecordNotFound))

		won, err := l.Revoke(ctx, time.Now(), token.HashSHA256Hex("nothing"))
		require.NoError(t, err)
		assert.False(t, won)
	})

	t.Run("duplicates", func(t *testing.T) {
		ctx := context.Background()
		uid := newUser(t)
		in := newRec(uid)
		_, err := l.Create(ctx, in)
		require.NoError(t, err)

		sameJTI := newRec(uid)
		sameJTI.JTI = in.JTI
		_, err = l.Create(ctx, sameJTI)
		assert.True(t, errors.Is(err, ErrDuplicateRecord), "jti: %v", err)

		sameHash := newRec(uid)
		sameHash.TokenHash = in.TokenHash
		_, err = l.Create(ctx, sameHash)
		assert.True(t, errors.Is(err, ErrDuplicateRecord), "hash: %v", err)
	})

	t.Run("revoke is permanent and single winner", func(t *testing.T) {
		ctx := context.Background()
		uid := newUser(t)
		in := newRec(uid)
		_, err := l.Create(ctx, in)
		require.NoError(t, err)

		const n = 12
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := l.Revoke(ctx, time.Now().UTC(), in.TokenHash)
				if err == nil && won {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := l.FindByJTI(ctx, in.JTI)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)
		require.NotNil(t, got.RevokedAt)
		first := *got.RevokedAt

		won, err := l.Revoke(ctx, time.Now().Add(time.Hour), in.TokenHash)
		require.NoError(t, err)
		assert.False(t, won)

		got, err = l.FindByJTI(ctx, in.JTI)
		require.NoError(t, err)
		assert.True(t, got.RevokedAt.Equal(first), "revokedAt must be set once")
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		uid := newUser(t)
		in := newRec(uid)
		rec, err := l.Create(ctx, in)
		require.NoError(t, err)

		require.NoError(t, l.DeleteByID(ctx, rec.ID))
		_, err = l.FindByJTI(ctx, in.JTI)
		assert.True(t, errors.Is(err, ErrRecordNotFound))

		// The hash is free again.
		again := newRec(uid)
		again.TokenHash = in.TokenHash
		_, err = l.Create(ctx, again)
		require.NoError(t, err)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		ctx := context.Background()
		alice, bob := newUser(t), newUser(t)

		a1, a2, b1 := newRec(alice), newRec(alice), newRec(bob)
		for _, in := range []NewRecord{a1, a2, b1} {
			_, err := l.Create(ctx, in)
			require.NoError(t, err)
		}
		won, err := l.Revoke(ctx, time.Now(), a2.TokenHash)
		require.NoError(t, err)
		require.True(t, won)

		n, err := l.RevokeAllForUser(ctx, time.Now(), alice)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := l.FindByJTI(ctx, a1.JTI)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)

		got, err = l.FindByJTI(ctx, b1.JTI)
		require.NoError(t, err)
		assert.False(t, got.IsRevoked)
	})
}
