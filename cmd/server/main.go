package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/bidlog/internal/config"
	"github.com/JonMunkholm/bidlog/internal/core"
	"github.com/JonMunkholm/bidlog/internal/filestore"
	"github.com/JonMunkholm/bidlog/internal/logging"
	"github.com/JonMunkholm/bidlog/internal/metrics"
	"github.com/JonMunkholm/bidlog/internal/store"
	"github.com/JonMunkholm/bidlog/internal/web"
)

func main() {
	// Overload so a local .env wins over the shell environment.
	envLoaded := godotenv.Overload() == nil

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	_, logCloser := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded", "env_file", envLoaded, "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	results, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	files, err := filestore.New(cfg.Upload.Dir, cfg.Upload.MaxFileSize)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	service := core.NewService(files, results, core.Options{
		MaxConcurrent:    cfg.Upload.MaxConcurrent,
		MaxWait:          cfg.Upload.MaxWaitTime,
		JobTimeout:       cfg.Upload.Timeout,
		JobRetention:     cfg.Jobs.Retention,
		ProgressInterval: cfg.Upload.ProgressInterval,
		Logger:           slog.Default(),
		Metrics:          m,
	})

	server := web.NewServer(cfg, service, files, m)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if st := service.LimiterStatus(); st.Active > 0 {
			slog.Info("waiting for jobs to complete", "active", st.Active)
			if err := service.WaitForJobs(shutdownCtx); err != nil {
				slog.Warn("jobs did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all jobs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-stopped
	slog.Info("server stopped")
	return nil
}

// openStore opens the configured result store and returns its closer.
func openStore(ctx context.Context, sc config.StoreConfig) (store.ResultStore, func(), error) {
	switch strings.ToLower(sc.Driver) {
	case config.DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(sc.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(sc.MaxConns)
		poolConfig.MinConns = int32(sc.MinConns)
		poolConfig.MaxConnLifetime = sc.MaxConnLifetime
		poolConfig.MaxConnIdleTime = sc.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("result store ready", "driver", sc.Driver, "database", poolConfig.ConnConfig.Database)
		return pg, pool.Close, nil

	case config.DriverBadger:
		kv, err := store.OpenBadger(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("result store ready", "driver", sc.Driver, "path", sc.Path)
		return kv, closeLogged(kv.Close), nil

	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store directory: %w", err)
		}
		db, err := store.OpenSQLite(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("result store ready", "driver", sc.Driver, "path", sc.Path)
		return db, closeLogged(db.Close), nil

	case config.DriverMemory:
		kv := store.NewMemory()
		slog.Warn("using in-memory result store; results are lost on restart")
		return kv, closeLogged(kv.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func closeLogged(fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			slog.Warn("close result store", "error", err)
		}
	}
}
