package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("CRUD_JWT_ACCESS_SECRET", "access-secret-access-secret-0001")
	t.Setenv("CRUD_JWT_REFRESH_SECRET", "refresh-secret-refresh-secret-01")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CRUD_DATABASE_URL", "")
	t.Setenv("CRUD_LEDGER_BACKEND", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.LedgerBackend != LedgerMemory {
		t.Fatalf("expected memory ledger without a database, got %q", cfg.LedgerBackend)
	}
	if cfg.Session.AccessTTL != 15*time.Minute || cfg.Session.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttls: %v %v", cfg.Session.AccessTTL, cfg.Session.RefreshTTL)
	}
	if cfg.Auth.AccessCookieName != "access_token" || cfg.Auth.RefreshCookieName != "refresh_token" {
		t.Fatalf("unexpected cookie names: %q %q", cfg.Auth.AccessCookieName, cfg.Auth.RefreshCookieName)
	}
	if !cfg.Auth.CookieSecure {
		t.Fatalf("cookies must default to Secure")
	}
}

func TestLoadConfig_DatabaseSelectsPostgresLedger(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_DATABASE_URL", "postgres://localhost/crud")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LedgerBackend != LedgerPostgres {
		t.Fatalf("expected postgres ledger, got %q", cfg.LedgerBackend)
	}
}

func TestLoadConfig_YAMLWithEnvOverride(t *testing.T) {
	setSecrets(t)
	t.Setenv("CRUD_HTTP_ADDR", "127.0.0.1:9999")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
http_addr: 127.0.0.1:7000
log_format: pretty
session:
  access_ttl: 10m
  issuer: yaml-issuer
auth:
  access_cookie_name: yaml_access
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("env must override yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "pretty" {
		t.Fatalf("LogFormat=%q", cfg.LogFormat)
	}
	if cfg.Session.AccessTTL != 10*time.Minute || cfg.Session.Issuer != "yaml-issuer" {
		t.Fatalf("yaml session values not applied: %+v", cfg.Session)
	}
	if cfg.Auth.AccessCookieName != "yaml_access" {
		t.Fatalf("yaml auth values not applied: %q", cfg.Auth.AccessCookieName)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want error
	}{
		{name: "unknown ledger", env: map[string]string{"CRUD_LEDGER_BACKEND": "etcd"}, want: ErrConfig},
		{name: "postgres ledger without db", env: map[string]string{"CRUD_LEDGER_BACKEND": "postgres"}, want: ErrConfig},
		{name: "redis ledger without url", env: map[string]string{"CRUD_LEDGER_BACKEND": "redis", "CRUD_REDIS_URL": ""}, want: ErrConfig},
		{name: "unknown log format", env: map[string]string{"CRUD_LOG_FORMAT": "xml"}, want: ErrConfig},
		{name: "short secret", env: map[string]string{"CRUD_JWT_ACCESS_SECRET": "short"}, want: session.ErrConfig},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setSecrets(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
