package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheets/internal/config"
	"github.com/JonMunkholm/sheets/internal/core"
	"github.com/JonMunkholm/sheets/internal/logging"
	"github.com/JonMunkholm/sheets/internal/store"
	"github.com/JonMunkholm/sheets/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"transitive_recalc", cfg.Engine.TransitiveRecalc,
		"sweep_interval", cfg.Engine.SweepInterval,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	service := core.NewService(st, cfg)
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSweepScheduler(jobCtx, cfg.Engine.SweepInterval)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		if status := service.ImportStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore connects the configured storage driver. The Postgres schema is
// applied on every start; the SQLite store creates its own.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, data is lost on exit")
		return store.NewMemory(), nil

	case config.DriverSQLite:
		st, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLitePath)
		return st, nil

	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}

		// Apply pool configuration from config
		poolConfig.MaxConns = int32(cfg.MaxConns)
		poolConfig.MinConns = int32(cfg.MinConns)
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		// Log which database we connected to
		if u, err := url.Parse(cfg.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		}

		st := store.NewPostgres(pool)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
