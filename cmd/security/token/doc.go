// Package token signs, parses and fingerprints the bearer tokens of a session.
//
// Codec issues HS256 JWT pairs: a short-lived access token and a long-lived
// refresh token, each signed with its own secret and carrying
// {sub, email, jti, iat, exp}.
//
// Refresh tokens are never stored raw. Hasher turns them into a stable 64-char
// hex digest: SHA-256 by default, HMAC-SHA256 when a server key is configured.
package token
