package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/core"
	"github.com/JonMunkholm/libinventory/internal/logging"
	"github.com/JonMunkholm/libinventory/internal/web"
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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"postgres", catalog.IsPostgresDSN(cfg.Database.URL),
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"match_policy", cfg.Import.MatchPolicy,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	store, err := catalog.Open(ctx, cfg.Database.URL, catalog.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service, err := core.NewService(store, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Running imports stop before their next row; wait for them to
		// record their partial results.
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("cancelling running imports", "active", status.Active)
			service.CancelAll()
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not finish in time", "error", err)
			} else {
				slog.Info("all imports finished")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
