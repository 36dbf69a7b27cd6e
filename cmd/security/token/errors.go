package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// expiry, malformed input, wrong algorithm or missing claims.
	ErrInvalidToken = errors.New("invalid token")

	ErrInvalidConfig   = errors.New("invalid token config")
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)
