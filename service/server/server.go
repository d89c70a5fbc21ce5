// Package server exposes the payment monitoring service over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/db"
	"github.com/brojonat/coinwatch/service/metrics"
	"github.com/brojonat/coinwatch/service/monitor"
	"github.com/brojonat/coinwatch/service/price"
)

// Server represents the HTTP server for the payment monitoring service.
type Server struct {
	addr     string
	registry *monitor.Registry
	chains   *chain.Registry
	oracle   price.Oracle
	store    *db.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, outcome history endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, registry *monitor.Registry, chains *chain.Registry, oracle price.Oracle, store *db.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		chains:   chains,
		oracle:   oracle,
		store:    store,
		metrics:  m,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Monitor routes
	mux.Handle("POST /api/v1/monitors", handleStartMonitor(s.registry, s.logger))
	mux.Handle("GET /api/v1/monitors/{user_id}/{currency}/{address}", handleGetMonitor(s.registry, s.logger))
	mux.Handle("DELETE /api/v1/monitors/{user_id}/{currency}/{address}", handleCancelMonitor(s.registry, s.logger))

	// Chain routes
	mux.Handle("GET /api/v1/balances/{currency}/{address}", handleGetBalance(s.chains, s.oracle, s.logger))
	mux.Handle("GET /api/v1/currencies", handleListCurrencies(s.chains, s.logger))

	// Price routes
	mux.Handle("GET /api/v1/prices/{symbol}", handleGetPrice(s.oracle, s.logger))

	// Invoice routes
	mux.Handle("POST /api/v1/invoices", handleCreateInvoice(s.chains, s.logger))

	// Outcome history (if persistence is configured)
	if s.store != nil {
		mux.Handle("GET /api/v1/outcomes", handleListOutcomes(s.store, s.logger))
		s.logger.Info("outcome history endpoints enabled")
	} else {
		s.logger.Warn("outcome store not configured, history endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(metrics.HTTPMetricsMiddleware(s.metrics, "api")(mux))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
