package api

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("CRUD_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("CRUD_AUTH_COOKIE_SECURE", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
}

func TestLoadConfigFromEnv_CookieNamesMustDiffer(t *testing.T) {
	t.Setenv("CRUD_AUTH_ACCESS_COOKIE_NAME", "crud_token")
	t.Setenv("CRUD_AUTH_REFRESH_COOKIE_NAME", "crud_token")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessCookieName != "access_token" || cfg.RefreshCookieName != "refresh_token" {
		t.Fatalf("unexpected cookie names: %q %q", cfg.AccessCookieName, cfg.RefreshCookieName)
	}
	if cfg.CookieSameSite != http.SameSiteLaxMode || !cfg.CookieSecure {
		t.Fatalf("unexpected cookie policy: samesite=%v secure=%v", cfg.CookieSameSite, cfg.CookieSecure)
	}
	if cfg.LoginIPWindow != 5*time.Minute || cfg.LoginIPMax != 20 {
		t.Fatalf("unexpected throttle defaults: %+v", cfg)
	}
	if got := len(cfg.lockoutTiers()); got != 3 {
		t.Fatalf("expected 3 lockout tiers, got %d", got)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
