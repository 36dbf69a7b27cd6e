package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/api"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr  string `yaml:"http_addr" env:"CRUD_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	LogLevel  string `yaml:"log_level" env:"CRUD_LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"CRUD_LOG_FORMAT" env-default:"json"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"CRUD_HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"CRUD_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"CRUD_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"CRUD_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"CRUD_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"CRUD_HTTP_MAX_HEADER_BYTES" env-default:"1048576"`

	DatabaseURL string `yaml:"database_url" env:"CRUD_DATABASE_URL"`
	DBSchema    string `yaml:"db_schema" env:"CRUD_DB_SCHEMA" env-default:"crud"`
	DBMaxConns  int32  `yaml:"db_max_conns" env:"CRUD_DB_MAX_CONNS" env-default:"10"`
	DBMinConns  int32  `yaml:"db_min_conns" env:"CRUD_DB_MIN_CONNS" env-default:"0"`
	// ApplySchema creates the tables on startup when they are missing.
	ApplySchema bool `yaml:"apply_schema" env:"CRUD_DB_APPLY_SCHEMA" env-default:"false"`

	// LedgerBackend is memory, postgres or redis. Empty picks postgres when a
	// database is configured and memory otherwise.
	LedgerBackend string `yaml:"ledger_backend" env:"CRUD_LEDGER_BACKEND"`
	RedisURL      string `yaml:"redis_url" env:"CRUD_REDIS_URL"`
	RedisPrefix   string `yaml:"redis_prefix" env:"CRUD_REDIS_PREFIX" env-default:"crud:refresh"`

	// ReadinessRequireDB makes /readyz fail unless a database is configured.
	ReadinessRequireDB bool `yaml:"readiness_require_db" env:"CRUD_READINESS_REQUIRE_DB" env-default:"false"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins" env:"CRUD_CORS_ALLOWED_ORIGINS" env-separator:","`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials" env:"CRUD_CORS_ALLOW_CREDENTIALS" env-default:"true"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds" env:"CRUD_CORS_MAX_AGE_SECONDS" env-default:"600"`

	// SeedCount and SeedPassword drive the seed command.
	SeedCount    int    `yaml:"seed_count" env:"CRUD_SEED_COUNT" env-default:"5"`
	SeedPassword string `yaml:"seed_password" env:"CRUD_SEED_PASSWORD" env-default:"seed-password-123"`

	Session session.Config `yaml:"session"`
	Auth    api.Config     `yaml:"auth"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH (when set) and then the
// environment, which takes precedence. The result is validated.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and normalizes nested configs.
func (c *Config) Validate() error {
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if c.LedgerBackend == "" {
		c.LedgerBackend = LedgerMemory
		if c.DatabaseURL != "" {
			c.LedgerBackend = LedgerPostgres
		}
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: ledger backend postgres requires CRUD_DATABASE_URL", ErrConfig)
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: ledger backend redis requires CRUD_REDIS_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrConfig, c.LedgerBackend)
	}

	if c.DatabaseURL != "" && !identity.ValidSchemaName(c.DBSchema) {
		return fmt.Errorf("%w: invalid db schema %q", ErrConfig, c.DBSchema)
	}

	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}

	if c.SeedCount < 0 || c.SeedCount > maxSeedUsers {
		return fmt.Errorf("%w: seed count must be within [0..%d]", ErrConfig, maxSeedUsers)
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Auth.Normalize()
}
