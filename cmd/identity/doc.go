// Package identity owns the user records the auth core authenticates against.
//
// Users carry a unique email, a unique username, a password hash and an
// optional provenance tag (source). Emails and usernames are stored in their
// normalized form, so uniqueness is case-insensitive.
//
// Two Store implementations exist: PostgresStore for production and
// MemoryStore for dev mode and tests.
package identity
