package token

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MinSecretBytes is the minimum size of each HS256 signing secret.
const MinSecretBytes = 32

// Claims is the identity envelope carried by both token kinds.
type Claims struct {
	UserID    string
	Email     string
	JTI       string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// CodecConfig holds signing material and lifetimes.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Issuer is set as "iss" and enforced on verify when non-empty.
	Issuer string
	// Leeway tolerates small clock differences on exp/iat checks.
	Leeway time.Duration

	// HMACKey keys refresh-token fingerprints; empty selects plain SHA-256.
	HMACKey []byte
}

// Validate checks the signing material and lifetimes.
func (c CodecConfig) Validate() error {
	switch {
	case len(c.AccessSecret) < MinSecretBytes:
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrInvalidConfig, MinSecretBytes)
	case len(c.RefreshSecret) < MinSecretBytes:
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrInvalidConfig, MinSecretBytes)
	case bytes.Equal(c.AccessSecret, c.RefreshSecret):
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return fmt.Errorf("%w: token ttls must be positive", ErrInvalidConfig)
	case c.AccessTTL >= c.RefreshTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrInvalidConfig)
	case c.Leeway < 0:
		return fmt.Errorf("%w: negative leeway", ErrInvalidConfig)
	}
	return nil
}

// Codec issues and verifies JWT pairs and fingerprints refresh tokens.
// It is safe for concurrent use.
type Codec struct {
	cfg    CodecConfig
	hasher Hasher
	now    func() time.Time
	newJTI func() string
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp and verification.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Codec{
		cfg:    cfg,
		hasher: NewHasher(cfg.HMACKey),
		now:    func() time.Time { return time.Now().UTC() },
		newJTI: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type jwtClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateTokens signs an access and a refresh token for the user in parallel.
// Each token gets its own random jti.
func (c *Codec) GenerateTokens(ctx context.Context, userID, email string) (Pair, error) {
	if strings.TrimSpace(userID) == "" {
		return Pair{}, fmt.Errorf("token: empty subject")
	}
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	now := c.now()
	var out Pair

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		tok, exp, err := c.sign(c.cfg.AccessSecret, c.cfg.AccessTTL, userID, email, now)
		out.AccessToken, out.AccessExpiresAt = tok, exp
		return err
	})
	g.Go(func() error {
		tok, exp, err := c.sign(c.cfg.RefreshSecret, c.cfg.RefreshTTL, userID, email, now)
		out.RefreshToken, out.RefreshExpiresAt = tok, exp
		return err
	})
	if err := g.Wait(); err != nil {
		return Pair{}, err
	}
	return out, nil
}

func (c *Codec) sign(secret []byte, ttl time.Duration, userID, email string, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := jwtClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        c.newJTI(),
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	// NumericDate has second precision; report what the token actually says.
	return signed, claims.ExpiresAt.Time, nil
}

// Decode parses raw without verifying signature or expiry.
// Only use it on tokens this codec just produced.
func (c *Codec) Decode(raw string) (Claims, error) {
	var jc jwtClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &jc); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return toClaims(jc), nil
}

// VerifyAccess verifies raw with the access secret.
func (c *Codec) VerifyAccess(raw string) (Claims, error) {
	return c.verify(raw, c.cfg.AccessSecret)
}

// VerifyRefresh verifies raw with the refresh secret.
func (c *Codec) VerifyRefresh(raw string) (Claims, error) {
	return c.verify(raw, c.cfg.RefreshSecret)
}

func (c *Codec) verify(raw string, secret []byte) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}

	var jc jwtClaims
	tok, err := jwt.ParseWithClaims(raw, &jc, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if jc.Subject == "" || jc.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return toClaims(jc), nil
}

// HashRefreshToken returns the stored fingerprint of a raw refresh token.
func (c *Codec) HashRefreshToken(raw string) string {
	return c.hasher.Hash(raw)
}

// TokensMatch reports whether raw fingerprints to storedHash.
func (c *Codec) TokensMatch(raw, storedHash string) bool {
	return c.hasher.Match(raw, storedHash)
}

func toClaims(jc jwtClaims) Claims {
	out := Claims{
		UserID: jc.Subject,
		Email:  jc.Email,
		JTI:    jc.ID,
		Issuer: jc.Issuer,
	}
	if jc.IssuedAt != nil {
		out.IssuedAt = jc.IssuedAt.Time
	}
	if jc.ExpiresAt != nil {
		out.ExpiresAt = jc.ExpiresAt.Time
	}
	return out
}
