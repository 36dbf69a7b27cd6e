package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity/ids"
	"github.com/slava-viktorov/crud-example/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now().UTC())
	require.NoError(t, err)
	return id
}

func TestMemoryLedger_Contract(t *testing.T) {
	runLedgerContract(t, NewMemoryLedger(), newTestUserID)
}

func TestMemoryLedger_PurgeUser(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	uid := newTestUserID(t)

	in := NewRecord{JTI: "jti-1", TokenHash: token.HashSHA256Hex("raw-1"), UserID: uid}
	_, err := l.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, l.PurgeUser(ctx, uid))
	_, err = l.FindByJTI(ctx, "jti-1")
	assert.True(t, errors.Is(err, ErrRecordNotFound))
	assert.Empty(t, l.byHash)
	assert.Empty(t, l.byID)
}

func TestMemoryLedger_RejectsIncompleteRecords(t *testing.T) {
	l := NewMemoryLedger()
	for _, in := range []NewRecord{
		{TokenHash: token.HashSHA256Hex("x"), UserID: "u"},
		{JTI: "j", TokenHash: "short", UserID: "u"},
		{JTI: "j", TokenHash: token.HashSHA256Hex("x")},
	} {
		_, err := l.Create(context.Background(), in)
		assert.Error(t, err, "%+v", in)
	}
}

func TestMemoryLedger_FindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	in := NewRecord{JTI: "jti-1", TokenHash: token.HashSHA256Hex("raw-1"), UserID: "u1"}
	_, err := l.Create(ctx, in)
	require.NoError(t, err)
	_, err = l.Revoke(ctx, time.Now(), in.TokenHash)
	require.NoError(t, err)

	got, err := l.FindByJTI(ctx, "jti-1")
	require.NoError(t, err)
	*got.RevokedAt = time.Time{}

	again, err := l.FindByJTI(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, again.RevokedAt.IsZero())
}

func TestMemoryLedger_SweepsExpiredOnCreate(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := l.Create(ctx, NewRecord{
		JTI: "old", TokenHash: token.HashSHA256Hex("old"), UserID: "u1",
		ExpiresAt: t0.Add(time.Minute), Now: t0,
	})
	require.NoError(t, err)
	_, err = l.Create(ctx, NewRecord{
		JTI: "forever", TokenHash: token.HashSHA256Hex("forever"), UserID: "u1",
		Now: t0,
	})
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())

	// A second sweep waits for the interval to pass.
	_, err = l.Create(ctx, NewRecord{
		JTI: "mid", TokenHash: token.HashSHA256Hex("mid"), UserID: "u1",
		ExpiresAt: t0.Add(time.Hour), Now: t0.Add(30 * time.Second),
	})
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())

	_, err = l.Create(ctx, NewRecord{
		JTI: "new", TokenHash: token.HashSHA256Hex("new"), UserID: "u1",
		ExpiresAt: t0.Add(2 * time.Hour), Now: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, l.Len())
	_, err = l.FindByJTI(ctx, "old")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	for _, jti := range []string{"forever", "mid", "new"} {
		_, err := l.FindByJTI(ctx, jti)
		assert.NoError(t, err, jti)
	}
	assert.Len(t, l.expires, 2)
}
