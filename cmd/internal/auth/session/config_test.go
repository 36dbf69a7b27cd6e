package session

import (
	"errors"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("CRUD_JWT_ACCESS_SECRET", "access-secret-access-secret-0001")
	t.Setenv("CRUD_JWT_REFRESH_SECRET", "refresh-secret-refresh-secret-01")
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("CRUD_JWT_ACCESS_SECRET", "")
	t.Setenv("CRUD_JWT_REFRESH_SECRET", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_SameSecrets(t *testing.T) {
	t.Setenv("CRUD_JWT_ACCESS_SECRET", "same-secret-same-secret-same-sec")
	t.Setenv("CRUD_JWT_REFRESH_SECRET", "same-secret-same-secret-same-sec")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on identical secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_JWT_ACCESS_TTL", "-5m")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_TTLOrder(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_JWT_ACCESS_TTL", "48h")
	t.Setenv("CRUD_JWT_REFRESH_TTL", "24h")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for access ttl >= refresh ttl, got %v", err)
	}
}

func TestLoadConfigFromEnv_RequireHMAC(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_REQUIRE_TOKEN_HMAC", "true")
	t.Setenv("CRUD_TOKEN_HMAC_KEY", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig when HMAC key is missing, got %v", err)
	}

	t.Setenv("CRUD_TOKEN_HMAC_KEY", "too-short")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig when HMAC key is short, got %v", err)
	}

	t.Setenv("CRUD_TOKEN_HMAC_KEY", "hmac-key-hmac-key-hmac-key-hmac-key")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.CodecConfig().HMACKey) == 0 {
		t.Fatalf("expected HMAC key in codec config")
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_JWT_ISSUER", "crud-test")
	t.Setenv("CRUD_JWT_ACCESS_TTL", "10m")
	t.Setenv("CRUD_JWT_REFRESH_TTL", "48h")
	t.Setenv("CRUD_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("CRUD_AUTH_REVOKE_ALL_ON_REUSE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "crud-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if !cfg.RevokeAllOnReuse {
		t.Fatalf("expected revoke-all-on-reuse")
	}

	cc := cfg.CodecConfig()
	if cc.Leeway != 20*time.Second || cc.Issuer != "crud-test" || len(cc.HMACKey) != 0 {
		t.Fatalf("codec config mismatch: %+v", cc)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := DefaultConfig()
	if cfg.AccessTTL != def.AccessTTL || cfg.RefreshTTL != def.RefreshTTL || cfg.ClockSkew != def.ClockSkew || cfg.Issuer != def.Issuer {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}
