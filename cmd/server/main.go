package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/comchain/service/backend"
	"github.com/brojonat/comchain/service/config"
	"github.com/brojonat/comchain/service/db"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/brojonat/comchain/service/server"
	"github.com/brojonat/comchain/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// nil uses the default registry
	metricsCollector := metrics.NewMetrics(nil)

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	ledgerClient := ledger.NewClient(ledger.NewRPCCaller(cfg.LedgerRPCURL), metricsCollector, logger)
	logger.Info("initialized ledger RPC client", "url", cfg.LedgerRPCURL)

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendToken, nil, metricsCollector, logger)

	// Schedules are optional: without Temporal the read API still works.
	var scheduler temporal.Scheduler
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, sync schedules disabled", "error", err)
	} else {
		defer temporalClient.Close()
		scheduler = temporalClient
	}

	httpServer := server.New(
		cfg.ServerAddr,
		server.Options{
			Currency:     cfg.CurrencySymbol,
			PageSize:     cfg.PageSize,
			SyncInterval: cfg.SyncInterval,
		},
		ledgerClient,
		backendClient,
		store,
		scheduler,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"ledger_rpc", cfg.LedgerRPCURL,
		"backend_url", cfg.BackendURL,
		"temporal_host", cfg.TemporalHost,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
