// Package app wires the crud-example runtime: config, logging, stores, the
// session service and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slava-viktorov/crud-example/cmd/identity"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/api"
	"github.com/slava-viktorov/crud-example/cmd/internal/auth/session"
	"github.com/slava-viktorov/crud-example/cmd/security/password"
	"github.com/slava-viktorov/crud-example/cmd/security/token"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP handler and the resources behind it.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	pool     *pgxpool.Pool
	redis    redis.UniversalClient

	users    identity.Store
	ledger   session.Ledger
	sessions *session.Service

	auth    *api.Handler
	handler http.Handler
}

// New constructs a fully wired App. Without a database URL the users store
// and the ledger live in memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	users, ledger, err := a.newStores()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.users, a.ledger = users, ledger

	codec, err := token.NewCodec(cfg.Session.CodecConfig())
	if err != nil {
		a.Close()
		return nil, err
	}
	hasher, err := password.FromEnv()
	if err != nil {
		a.Close()
		return nil, err
	}

	svc, err := session.NewService(cfg.Session, users, ledger, codec, hasher,
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(a.registry)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sessions = svc

	a.auth, err = api.NewHandler(log, cfg.Auth, svc)
	if err != nil {
		a.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithMetrics(h, NewHTTPMetrics(a.registry))
	a.handler = WithRequestLogging(h, log)

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until ctx is done or the server fails.
// Resources are closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.pool != nil,
		"ledger", a.cfg.LedgerBackend,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the database pool and the redis client. It is idempotent.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
}

func (a *App) connect(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		a.pool = pool
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

		if a.cfg.ApplySchema {
			if err := ApplySchema(ctx, pool, a.cfg); err != nil {
				return err
			}
			a.log.Info("db.schema.applied", "schema", a.cfg.DBSchema)
		}
	} else {
		a.log.Info("db.disabled.inmemory_store")
	}

	if a.cfg.LedgerBackend == LedgerRedis {
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.redis = rdb
	}
	return nil
}

// newStores picks the users store and the ledger. Postgres cascades ledger
// rows through its foreign key; the other ledgers are purged by hook.
func (a *App) newStores() (identity.Store, session.Ledger, error) {
	var (
		ledger session.Ledger
		purge  identity.UserDeletedHook
	)

	switch a.cfg.LedgerBackend {
	case LedgerPostgres:
		l, err := session.NewPostgresLedger(a.pool, a.cfg.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		ledger = l
	case LedgerRedis:
		l, err := session.NewRedisLedger(a.redis, a.cfg.RedisPrefix, a.cfg.Session.RefreshTTL)
		if err != nil {
			return nil, nil, err
		}
		ledger, purge = l, l.PurgeUser
	default:
		l := session.NewMemoryLedger()
		ledger, purge = l, l.PurgeUser
	}
	a.log.Info("ledger.backend", "backend", a.cfg.LedgerBackend)

	if a.pool == nil {
		return identity.NewMemoryStore(identity.WithMemoryUserDeletedHook(purge)), ledger, nil
	}

	opts := []identity.PostgresOption{identity.WithSchema(a.cfg.DBSchema)}
	if purge != nil {
		opts = append(opts, identity.WithPostgresUserDeletedHook(purge))
	}
	users, err := identity.NewPostgresStore(a.pool, opts...)
	if err != nil {
		return nil, nil, err
	}
	return users, ledger, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
