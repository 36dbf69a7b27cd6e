package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Commands understood by Run. An empty command serves HTTP.
const (
	CommandServe = "serve"
	CommandSeed  = "seed"
	CommandReset = "reset"
)

// Run is the CLI entrypoint used by cmd/crud.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	cmd := CommandServe
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case CommandServe, CommandSeed, CommandReset:
	default:
		return fmt.Errorf("unknown command %q (want %s, %s or %s)", cmd, CommandServe, CommandSeed, CommandReset)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}

	switch cmd {
	case CommandSeed:
		defer a.Close()
		if cfg.LedgerBackend == LedgerMemory && cfg.DatabaseURL == "" {
			log.Warn("seed.inmemory", "hint", "users vanish when this process exits; set CRUD_DATABASE_URL")
		}
		_, err = a.Seed(ctx, SeedUsers(cfg.SeedCount, cfg.SeedPassword))
		return err
	case CommandReset:
		defer a.Close()
		_, err = a.Reset(ctx)
		return err
	default:
		return a.Run(ctx)
	}
}
