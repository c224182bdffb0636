// Package api serves the bot's read-only status surface: a health check, a
// JSON snapshot mirroring status.json, and Prometheus metrics. There is no
// dashboard websocket here — operators read status.json directly or poll
// /api/snapshot; /metrics feeds whatever scraper the deployment already runs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polymarket-updown/pkg/types"
)

// StatusProvider supplies the live status snapshot the API surface reports.
type StatusProvider interface {
	Status() types.Status
}

// Server runs the read-only HTTP status/metrics surface.
type Server struct {
	provider StatusProvider
	metrics  *Metrics
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server listening on port, backed by provider for live
// state.
func NewServer(port int, provider StatusProvider, logger *slog.Logger) *Server {
	metrics := NewMetrics()

	mux := http.NewServeMux()
	s := &Server{provider: provider, metrics: metrics, logger: logger.With("component", "api")}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("status server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	status := s.provider.Status()
	s.metrics.Observe(status)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
