package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/security/token"

	"github.com/ilyakaznacheev/cleanenv"
)

// MinHMACKeyBytes is the minimum refresh fingerprint key size when HMAC is required.
const MinHMACKeyBytes = 32

// Config holds token signing material, lifetimes and rotation policy.
//
// Durations are Go duration strings ("15m", "168h").
type Config struct {
	AccessSecret  string `yaml:"access_secret" env:"CRUD_JWT_ACCESS_SECRET"`
	RefreshSecret string `yaml:"refresh_secret" env:"CRUD_JWT_REFRESH_SECRET"`

	AccessTTL  time.Duration `yaml:"access_ttl" env:"CRUD_JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"CRUD_JWT_REFRESH_TTL" env-default:"168h"`

	// Issuer is set as "iss" and enforced on verify when non-empty.
	Issuer string `yaml:"issuer" env:"CRUD_JWT_ISSUER" env-default:"crud-example"`

	// ClockSkew tolerates small clock differences between issuing and verifying nodes.
	ClockSkew time.Duration `yaml:"clock_skew" env:"CRUD_AUTH_CLOCK_SKEW" env-default:"30s"`

	// TokenHMACKey keys refresh token fingerprints. Empty selects plain SHA-256.
	TokenHMACKey     string `yaml:"token_hmac_key" env:"CRUD_TOKEN_HMAC_KEY"`
	RequireTokenHMAC bool   `yaml:"require_token_hmac" env:"CRUD_REQUIRE_TOKEN_HMAC" env-default:"false"`

	// RevokeAllOnReuse revokes every active session of a user when a revoked
	// refresh token is presented again.
	RevokeAllOnReuse bool `yaml:"revoke_all_on_reuse" env:"CRUD_AUTH_REVOKE_ALL_ON_REUSE" env-default:"false"`
}

// DefaultConfig returns defaults without secrets.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "crud-example",
		ClockSkew:  30 * time.Second,
	}
}

// LoadConfigFromEnv reads the session config from the environment.
//
// Required:
//   - CRUD_JWT_ACCESS_SECRET
//   - CRUD_JWT_REFRESH_SECRET
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks secrets, lifetimes and the HMAC policy.
func (c Config) Validate() error {
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrConfig)
	}
	if c.RequireTokenHMAC {
		if _, err := token.HMACKey(c.TokenHMACKey, MinHMACKeyBytes); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return fmt.Errorf("%w: CRUD_REQUIRE_TOKEN_HMAC=true but CRUD_TOKEN_HMAC_KEY is missing", ErrConfig)
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("%w: CRUD_TOKEN_HMAC_KEY is too short (min %d bytes)", ErrConfig, MinHMACKeyBytes)
			default:
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
		}
	}
	if err := c.CodecConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// CodecConfig converts c into the token codec configuration.
func (c Config) CodecConfig() token.CodecConfig {
	var hmacKey []byte
	if k := strings.TrimSpace(c.TokenHMACKey); k != "" {
		hmacKey = []byte(k)
	}
	return token.CodecConfig{
		AccessSecret:  []byte(c.AccessSecret),
		RefreshSecret: []byte(c.RefreshSecret),
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		Issuer:        strings.TrimSpace(c.Issuer),
		Leeway:        c.ClockSkew,
		HMACKey:       hmacKey,
	}
}
