package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/brojonat/comchain/service/db"
	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
	"github.com/brojonat/comchain/service/resolver"
	"github.com/brojonat/comchain/service/stream"
	"github.com/brojonat/comchain/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordStore lists records written by the sync workflow.
type RecordStore interface {
	ListRecords(ctx context.Context, params db.ListRecordsParams) ([]*ledger.Record, error)
}

// Ledger is the read side of the ledger the API exposes.
type Ledger interface {
	stream.Fetcher
	GetBalance(ctx context.Context, address, currencyType string) (*big.Int, error)
}

// Options holds the settings handlers need.
type Options struct {
	Currency     string
	PageSize     int
	SyncInterval time.Duration
}

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr      string
	opts      Options
	ledger    Ledger
	labels    resolver.LabelLookup
	store     RecordStore
	scheduler temporal.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for wallet syncing;
// if nil, the schedule endpoints are not registered.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, opts Options, l Ledger, labels resolver.LabelLookup, store RecordStore, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = stream.DefaultPageSize
	}
	return &Server{
		addr:      addr,
		opts:      opts,
		ledger:    l,
		labels:    labels,
		store:     store,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/transactions", "/api/v1/transactions",
		handleLiveTransactions(s.ledger, s.labels, s.opts, s.metrics, s.logger))
	route("GET /api/v1/transactions/stored", "/api/v1/transactions/stored",
		handleStoredTransactions(s.store, s.logger))
	route("GET /api/v1/accounts/{address}/balance", "/api/v1/accounts/balance",
		handleBalance(s.ledger, s.opts, s.logger))

	if s.scheduler != nil {
		route("PUT /api/v1/wallets/{wallet_id}/sync-schedule", "/api/v1/wallets/sync-schedule",
			handleUpsertSyncSchedule(s.scheduler, s.opts, s.logger))
		route("DELETE /api/v1/wallets/{wallet_id}/sync-schedule", "/api/v1/wallets/sync-schedule",
			handleDeleteSyncSchedule(s.scheduler, s.logger))
	} else {
		s.logger.Warn("scheduler not configured, sync schedule endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // live feeds walk the ledger
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
