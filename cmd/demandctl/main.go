// Package main is demandctl, the operator CLI for demandcast. It runs forecasts
// without the HTTP server, applies migrations and manages API keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/internal/store"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "demandctl",
		Short:         "Operate the demandcast forecasting pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newForecastCmd(),
		newMigrateCmd(),
		newKeysCmd(),
		newRegionsCmd(),
	)
	return root
}

// backends holds the storage the pipeline runs against. close releases whatever
// connections were opened.
type backends struct {
	cfg   *config.Config
	store store.Store
	cache cache.Cache
	close func()
}

// openMemory backs the pipeline with the in-process store and cache. Only the
// inference provider settings are required.
func openMemory() (*backends, error) {
	cfg := config.LoadUnvalidated()
	if err := cfg.ValidateAI(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &backends{
		cfg:   cfg,
		store: store.NewMemoryStore(),
		cache: cache.NewMemoryCache(),
		close: func() {},
	}, nil
}

// openPersistent connects to Postgres and Redis the same way the server does.
func openPersistent(ctx context.Context) (*backends, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}

	return &backends{
		cfg:   cfg,
		store: store.NewPostgresStore(pool, cfg.Database.LockTimeout),
		cache: redisCache,
		close: func() {
			_ = redisCache.Close()
			pool.Close()
		},
	}, nil
}

// openStore connects to Postgres only. Key management needs nothing else.
func openStore(ctx context.Context) (store.Store, func(), error) {
	cfg := config.LoadUnvalidated()
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool, cfg.Database.LockTimeout), pool.Close, nil
}
