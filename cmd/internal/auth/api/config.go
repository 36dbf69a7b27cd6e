package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrConfig is returned for invalid transport configuration.
var ErrConfig = errors.New("auth api: invalid config")

// Config controls cookie transport, request limits and login throttling.
type Config struct {
	TrustProxy   bool  `yaml:"trust_proxy" env:"CRUD_AUTH_TRUST_PROXY" env-default:"false"`
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"CRUD_AUTH_MAX_BODY_BYTES" env-default:"1048576"`

	AccessCookieName  string `yaml:"access_cookie_name" env:"CRUD_AUTH_ACCESS_COOKIE_NAME" env-default:"access_token"`
	RefreshCookieName string `yaml:"refresh_cookie_name" env:"CRUD_AUTH_REFRESH_COOKIE_NAME" env-default:"refresh_token"`
	CookiePath        string `yaml:"cookie_path" env:"CRUD_AUTH_COOKIE_PATH" env-default:"/"`
	CookieDomain      string `yaml:"cookie_domain" env:"CRUD_AUTH_COOKIE_DOMAIN"`
	CookieSecure      bool   `yaml:"cookie_secure" env:"CRUD_AUTH_COOKIE_SECURE" env-default:"true"`
	SameSite          string `yaml:"cookie_samesite" env:"CRUD_AUTH_COOKIE_SAMESITE" env-default:"lax"`

	// CookieSameSite is derived from SameSite by Normalize.
	CookieSameSite http.SameSite `yaml:"-"`

	LoginIPMax    int           `yaml:"login_ip_max" env:"CRUD_AUTH_LOGIN_IP_MAX" env-default:"20"`
	LoginIPWindow time.Duration `yaml:"login_ip_window" env:"CRUD_AUTH_LOGIN_IP_WINDOW" env-default:"5m"`

	LockoutShortThreshold  int           `yaml:"lockout_short_threshold" env:"CRUD_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD" env-default:"5"`
	LockoutShortDuration   time.Duration `yaml:"lockout_short_duration" env:"CRUD_AUTH_LOGIN_LOCKOUT_SHORT_DURATION" env-default:"5m"`
	LockoutLongThreshold   int           `yaml:"lockout_long_threshold" env:"CRUD_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD" env-default:"10"`
	LockoutLongDuration    time.Duration `yaml:"lockout_long_duration" env:"CRUD_AUTH_LOGIN_LOCKOUT_LONG_DURATION" env-default:"30m"`
	LockoutSevereThreshold int           `yaml:"lockout_severe_threshold" env:"CRUD_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD" env-default:"20"`
	LockoutSevereDuration  time.Duration `yaml:"lockout_severe_duration" env:"CRUD_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION" env-default:"2h"`

	// ThrottleMaxKeys bounds the in-memory failure log.
	ThrottleMaxKeys int `yaml:"throttle_max_keys" env:"CRUD_AUTH_THROTTLE_MAX_KEYS" env-default:"10000"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	cfg := Config{
		MaxBodyBytes:           1 << 20,
		AccessCookieName:       "access_token",
		RefreshCookieName:      "refresh_token",
		CookiePath:             "/",
		CookieSecure:           true,
		SameSite:               "lax",
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
		ThrottleMaxKeys:        10000,
	}
	_ = cfg.Normalize()
	return cfg
}

// LoadConfigFromEnv loads the auth transport config with safe defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize applies cookie guardrails and clamps limits.
func (c *Config) Normalize() error {
	c.AccessCookieName = strings.TrimSpace(c.AccessCookieName)
	c.RefreshCookieName = strings.TrimSpace(c.RefreshCookieName)
	if c.AccessCookieName == "" {
		c.AccessCookieName = "access_token"
	}
	if c.RefreshCookieName == "" {
		c.RefreshCookieName = "refresh_token"
	}
	if c.AccessCookieName == c.RefreshCookieName {
		return fmt.Errorf("%w: access and refresh cookie names must differ", ErrConfig)
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = "/"
	}

	c.CookieSameSite = parseSameSite(c.SameSite)
	// Browsers drop SameSite=None cookies without Secure.
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = 5 * time.Minute
	}
	if c.ThrottleMaxKeys <= 0 {
		c.ThrottleMaxKeys = 10000
	}
	return nil
}

func (c Config) lockoutTiers() []lockoutTier {
	tiers := make([]lockoutTier, 0, 3)
	for _, t := range []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	} {
		if t.Threshold > 0 && t.Duration > 0 {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
