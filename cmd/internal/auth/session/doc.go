// Package session implements the authentication and session lifecycle.
//
// Service drives register, login, logout and refresh. Each login or register
// issues an access/refresh JWT pair; the refresh token is tracked in a Ledger
// by jti and stored only as a hex fingerprint. Refresh rotates on every use:
// the presented record is revoked with a conditional update and a new record
// is created. Presenting a revoked token again is reuse and can revoke every
// session of the user.
//
// Access tokens are not tracked; they are valid purely by signature and expiry.
//
// Ledger backends: PostgresLedger (pgx), RedisLedger (go-redis) and
// MemoryLedger (dev mode and tests).
package session
