package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity/ids"
)

// MemoryLedger is an in-process Ledger for dev mode and tests.
// It is safe for concurrent use.
//
// Records past their expiry are swept on Create, at most once per
// memorySweepInterval, so the ledger does not grow for the life of the process.
type MemoryLedger struct {
	mu        sync.Mutex
	byJTI     map[string]*Record
	byHash    map[string]string    // token hash -> jti
	byID      map[string]string    // id -> jti
	expires   map[string]time.Time // jti -> expiry
	nextSweep time.Time
}

const memorySweepInterval = time.Minute

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byJTI:   make(map[string]*Record),
		byHash:  make(map[string]string),
		byID:    make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

// Len reports the number of records currently held.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byJTI)
}

// Create implements Ledger.
func (m *MemoryLedger) Create(_ context.Context, in NewRecord) (Record, error) {
	rec, err := newRecordFromInput(in)
	if err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(rec.CreatedAt)

	if _, ok := m.byJTI[rec.JTI]; ok {
		return Record{}, ErrDuplicateRecord
	}
	if _, ok := m.byHash[rec.TokenHash]; ok {
		return Record{}, ErrDuplicateRecord
	}

	stored := rec
	m.byJTI[rec.JTI] = &stored
	m.byHash[rec.TokenHash] = rec.JTI
	m.byID[rec.ID] = rec.JTI
	if !in.ExpiresAt.IsZero() {
		m.expires[rec.JTI] = in.ExpiresAt
	}
	return rec, nil
}

func (m *MemoryLedger) sweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(memorySweepInterval)
	for jti, exp := range m.expires {
		if !now.Before(exp) {
			m.deleteLocked(jti)
		}
	}
}

// FindByJTI implements Ledger.
func (m *MemoryLedger) FindByJTI(_ context.Context, jti string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byJTI[strings.TrimSpace(jti)]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

// Revoke implements Ledger.
func (m *MemoryLedger) Revoke(_ context.Context, now time.Time, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jti, ok := m.byHash[tokenHash]
	if !ok {
		return false, nil
	}
	r := m.byJTI[jti]
	if r.IsRevoked {
		return false, nil
	}
	markRevoked(r, now)
	return true, nil
}

// DeleteByID implements Ledger.
func (m *MemoryLedger) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jti, ok := m.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	m.deleteLocked(jti)
	return nil
}

// RevokeAllForUser implements Ledger.
func (m *MemoryLedger) RevokeAllForUser(_ context.Context, now time.Time, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.byJTI {
		if r.UserID == userID && !r.IsRevoked {
			markRevoked(r, now)
			n++
		}
	}
	return n, nil
}

// PurgeUser drops every record of userID. It is the in-memory counterpart of
// the users foreign key cascade.
func (m *MemoryLedger) PurgeUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for jti, r := range m.byJTI {
		if r.UserID == userID {
			m.deleteLocked(jti)
		}
	}
	return nil
}

func (m *MemoryLedger) deleteLocked(jti string) {
	r, ok := m.byJTI[jti]
	if !ok {
		return
	}
	delete(m.byHash, r.TokenHash)
	delete(m.byID, r.ID)
	delete(m.byJTI, jti)
	delete(m.expires, jti)
}

func markRevoked(r *Record, now time.Time) {
	t := now
	r.IsRevoked = true
	r.RevokedAt = &t
	r.UpdatedAt = now
}

func copyRecord(r *Record) Record {
	out := *r
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		out.RevokedAt = &t
	}
	return out
}

func newRecordFromInput(in NewRecord) (Record, error) {
	jti := strings.TrimSpace(in.JTI)
	userID := strings.TrimSpace(in.UserID)
	hash := strings.TrimSpace(in.TokenHash)

	switch {
	case jti == "":
		return Record{}, fmt.Errorf("session: ledger: missing jti")
	case len(hash) != 64:
		return Record{}, fmt.Errorf("session: ledger: token hash must be 64 hex chars")
	case userID == "":
		return Record{}, fmt.Errorf("session: ledger: missing user id")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Record{}, err
	}

	return Record{
		ID:        id,
		JTI:       jti,
		TokenHash: hash,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
