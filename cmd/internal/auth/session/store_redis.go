package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLedger implements Ledger on Redis.
//
// Layout (prefix defaults to "refresh"):
//
//	<prefix>:jti:<jti>    hash with the record fields
//	<prefix>:hash:<hash>  jti
//	<prefix>:id:<id>      jti
//	<prefix>:user:<uid>   set of jtis
//
// Every key expires with the refresh token, so revoked records age out on their own.
// Create and revoke are Lua scripts and therefore atomic.
type RedisLedger struct {
	rdb        redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisLedger returns a ledger over rdb. defaultTTL applies to records
// created without an ExpiresAt.
func NewRedisLedger(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) (*RedisLedger, error) {
	if rdb == nil {
		return nil, fmt.Errorf("session: nil redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "refresh"
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("session: redis ledger ttl must be positive")
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, defaultTTL: defaultTTL}, nil
}

func (l *RedisLedger) jtiKey(jti string) string { return l.prefix + ":jti:" + jti }
func (l *RedisLedger) hashKey(h string) string { return l.prefix + ":hash:" + h }
func (l *RedisLedger) idKey(id string) string { return l.prefix + ":id:" + id }
func (l *RedisLedger) userKey(uid string) string { return l.prefix + ":user:" + uid }

// KEYS: jti, hash, id, user. ARGV: id, jti, hash, user_id, created_at, ttl_ms.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'jti', ARGV[2], 'token_hash', ARGV[3], 'user_id', ARGV[4],
  'is_revoked', '0', 'revoked_at', '', 'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[6])
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[6])
redis.call('SADD', KEYS[4], ARGV[2])
if redis.call('PTTL', KEYS[4]) < tonumber(ARGV[6]) then
  redis.call('PEXPIRE', KEYS[4], ARGV[6])
end
return 1
`)

// KEYS: jti. ARGV: now, expected token hash ('' matches any).
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if ARGV[2] ~= '' and redis.call('HGET', KEYS[1], 'token_hash') ~= ARGV[2] then
  return 0
end
if redis.call('HGET', KEYS[1], 'is_revoked') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'is_revoked', '1', 'revoked_at', ARGV[1], 'updated_at', ARGV[1])
return 1
`)

// Create implements Ledger.
func (l *RedisLedger) Create(ctx context.Context, in NewRecord) (Record, error) {
	rec, err := newRecordFromInput(in)
	if err != nil {
		return Record{}, err
	}

	ttl := l.defaultTTL
	if !in.ExpiresAt.IsZero() {
		if d := in.ExpiresAt.Sub(rec.CreatedAt); d > 0 {
			ttl = d
		}
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := createScript.Run(ctx, l.rdb,
		[]string{l.jtiKey(rec.JTI), l.hashKey(rec.TokenHash), l.idKey(rec.ID), l.userKey(rec.UserID)},
		rec.ID, rec.JTI, rec.TokenHash, rec.UserID, formatTime(rec.CreatedAt), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return Record{}, fmt.Errorf("session: redis create: %w", err)
	}
	if ok != 1 {
		return Record{}, ErrDuplicateRecord
	}
	return rec, nil
}

// FindByJTI implements Ledger.
func (l *RedisLedger) FindByJTI(ctx context.Context, jti string) (Record, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return Record{}, ErrRecordNotFound
	}
	fields, err := l.rdb.HGetAll(ctx, l.jtiKey(jti)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return recordFromHash(fields)
}

// Revoke implements Ledger.
func (l *RedisLedger) Revoke(ctx context.Context, now time.Time, tokenHash string) (bool, error) {
	jti, err := l.rdb.Get(ctx, l.hashKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return l.revokeJTI(ctx, now, jti, tokenHash)
}

func (l *RedisLedger) revokeJTI(ctx context.Context, now time.Time, jti, expectHash string) (bool, error) {
	n, err := revokeScript.Run(ctx, l.rdb, []string{l.jtiKey(jti)}, formatTime(now), expectHash).Int()
	if err != nil {
		return false, fmt.Errorf("session: redis revoke: %w", err)
	}
	return n == 1, nil
}

// DeleteByID implements Ledger.
func (l *RedisLedger) DeleteByID(ctx context.Context, id string) error {
	jti, err := l.rdb.Get(ctx, l.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	return l.deleteJTI(ctx, jti)
}

// RevokeAllForUser implements Ledger.
func (l *RedisLedger) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	jtis, err := l.rdb.SMembers(ctx, l.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, jti := range jtis {
		ok, err := l.revokeJTI(ctx, now, jti, "")
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// PurgeUser deletes every record of userID. Users live in Postgres, so the
// foreign key cascade cannot reach Redis; the users store calls this instead.
func (l *RedisLedger) PurgeUser(ctx context.Context, userID string) error {
	jtis, err := l.rdb.SMembers(ctx, l.userKey(userID)).Result()
	if err != nil {
		return err
	}
	for _, jti := range jtis {
		if err := l.deleteJTI(ctx, jti); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
	}
	return l.rdb.Del(ctx, l.userKey(userID)).Err()
}

func (l *RedisLedger) deleteJTI(ctx context.Context, jti string) error {
	vals, err := l.rdb.HMGet(ctx, l.jtiKey(jti), "id", "token_hash", "user_id").Result()
	if err != nil {
		return err
	}
	id, _ := vals[0].(string)
	hash, _ := vals[1].(string)
	userID, _ := vals[2].(string)
	if id == "" {
		return ErrRecordNotFound
	}

	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, l.jtiKey(jti), l.hashKey(hash), l.idKey(id))
		p.SRem(ctx, l.userKey(userID), jti)
		return nil
	})
	return err
}

func recordFromHash(f map[string]string) (Record, error) {
	created, err := parseTime(f["created_at"])
	if err != nil {
		return Record{}, fmt.Errorf("session: redis record created_at: %w", err)
	}
	updated, err := parseTime(f["updated_at"])
	if err != nil {
		return Record{}, fmt.Errorf("session: redis record updated_at: %w", err)
	}

	r := Record{
		ID:        f["id"],
		JTI:       f["jti"],
		TokenHash: f["token_hash"],
		UserID:    f["user_id"],
		IsRevoked: f["is_revoked"] == "1",
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if v := f["revoked_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return Record{}, fmt.Errorf("session: redis record revoked_at: %w", err)
		}
		r.RevokedAt = &t
	}
	return r, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
