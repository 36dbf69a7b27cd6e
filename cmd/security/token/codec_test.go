package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCodecConfig() CodecConfig {
	return CodecConfig{
		AccessSecret:  []byte("access-secret-access-secret-0001"),
		RefreshSecret: []byte("refresh-secret-refresh-secret-01"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "crud-example",
	}
}

func mustCodec(t *testing.T, cfg CodecConfig, clock *testClock) *Codec {
	t.Helper()
	c, err := NewCodec(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodec_GenerateAndVerify(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := mustCodec(t, testCodecConfig(), clock)

	pair, err := c.GenerateTokens(context.Background(), "user-1", "a@x.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !pair.AccessExpiresAt.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("access exp=%v", pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(clock.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("refresh exp=%v", pair.RefreshExpiresAt)
	}

	ac, err := c.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	rc, err := c.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if ac.UserID != "user-1" || ac.Email != "a@x.com" || rc.UserID != "user-1" || rc.Email != "a@x.com" {
		t.Fatalf("claims mismatch: access=%+v refresh=%+v", ac, rc)
	}
	if ac.JTI == "" || rc.JTI == "" || ac.JTI == rc.JTI {
		t.Fatalf("expected distinct non-empty jtis, got %q and %q", ac.JTI, rc.JTI)
	}
	if len(rc.JTI) != 36 {
		t.Fatalf("expected uuid jti, got %q", rc.JTI)
	}

	dc, err := c.Decode(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dc.JTI != rc.JTI {
		t.Fatalf("decoded jti %q != verified jti %q", dc.JTI, rc.JTI)
	}
}

func TestCodec_SecretsAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	c := mustCodec(t, testCodecConfig(), clock)

	pair, err := c.GenerateTokens(context.Background(), "user-1", "a@x.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := c.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not verify as access, got %v", err)
	}
	if _, err := c.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not verify as refresh, got %v", err)
	}
}

func TestCodec_Expired(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := mustCodec(t, testCodecConfig(), clock)

	pair, err := c.GenerateTokens(context.Background(), "user-1", "a@x.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	clock.Advance(16 * time.Minute)
	if _, err := c.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired access token to fail, got %v", err)
	}
	if _, err := c.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}

	clock.Advance(7 * 24 * time.Hour)
	if _, err := c.VerifyRefresh(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired refresh token to fail, got %v", err)
	}

	// Decode ignores expiry.
	if _, err := c.Decode(pair.RefreshToken); err != nil {
		t.Fatalf("Decode of expired token: %v", err)
	}
}

func TestCodec_RejectsTamperedAndMalformed(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	c := mustCodec(t, testCodecConfig(), clock)

	pair, err := c.GenerateTokens(context.Background(), "user-1", "a@x.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	parts := strings.Split(pair.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWS")
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	for _, raw := range []string{"", "garbage", "a.b.c", tampered} {
		if _, err := c.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("VerifyAccess(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
	if _, err := c.Decode("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Decode(garbage): expected ErrInvalidToken, got %v", err)
	}
}

func TestCodec_RejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	c := mustCodec(t, testCodecConfig(), clock)

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ID:        "jti-1",
		Issuer:    "crud-example",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.VerifyAccess(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg=none to be rejected, got %v", err)
	}
}

func TestCodec_IssuerEnforced(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	other := testCodecConfig()
	other.Issuer = "someone-else"

	signer := mustCodec(t, other, clock)
	verifier := mustCodec(t, testCodecConfig(), clock)

	pair, err := signer.GenerateTokens(context.Background(), "user-1", "a@x.com")
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := verifier.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestCodec_FreshJTIPerCall(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	c := mustCodec(t, testCodecConfig(), clock)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		pair, err := c.GenerateTokens(context.Background(), "user-1", "a@x.com")
		if err != nil {
			t.Fatalf("GenerateTokens: %v", err)
		}
		d, err := c.Decode(pair.RefreshToken)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if seen[d.JTI] {
			t.Fatalf("duplicate jti %q", d.JTI)
		}
		seen[d.JTI] = true
	}
}

func TestCodec_GenerateTokens_CanceledContext(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now().UTC()}
	c := mustCodec(t, testCodecConfig(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GenerateTokens(ctx, "user-1", "a@x.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCodecConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*CodecConfig)
	}{
		{name: "short access secret", mutate: func(c *CodecConfig) { c.AccessSecret = []byte("short") }},
		{name: "short refresh secret", mutate: func(c *CodecConfig) { c.RefreshSecret = []byte("short") }},
		{name: "same secrets", mutate: func(c *CodecConfig) { c.RefreshSecret = c.AccessSecret }},
		{name: "zero ttl", mutate: func(c *CodecConfig) { c.AccessTTL = 0 }},
		{name: "access not shorter", mutate: func(c *CodecConfig) { c.AccessTTL = c.RefreshTTL }},
		{name: "negative leeway", mutate: func(c *CodecConfig) { c.Leeway = -time.Second }},
	}

	for _, tc := range cases {
		cfg := testCodecConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}

	if err := testCodecConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestCodec_HashAndMatch(t *testing.T) {
	t.Parallel()

	cfg := testCodecConfig()
	cfg.HMACKey = []byte("hmac-key-hmac-key-hmac-key-hmac-")
	c := mustCodec(t, cfg, &testClock{now: time.Now().UTC()})

	h := c.HashRefreshToken("raw")
	if h != c.HashRefreshToken("raw") {
		t.Fatalf("hash must be deterministic")
	}
	if !c.TokensMatch("raw", h) || c.TokensMatch("other", h) {
		t.Fatalf("TokensMatch mismatch")
	}
}
