// Package status exposes a read-only HTTP view of the running ingestion
// session: liveness plus the latest aggregate snapshot. It is optional and
// never blocks ingestion; every request takes its own snapshot.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/roomcast/internal/engine"
)

// Server serves the status endpoints for one engine.
type Server struct {
	eng    *engine.Engine
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the status server listening on addr.
func NewServer(addr string, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{eng: eng, logger: logger}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It returns when the listener closes.
func (s *Server) Start() {
	s.logger.Info("status server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("status server failed", "error", err)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("status server shutdown", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.eng.State().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	doc := s.eng.Snapshot()
	if doc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no session yet"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
