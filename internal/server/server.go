// Package server is the operator HTTP surface: health, status, external
// halt, audit and replay queries, live signals, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/imbalancebot/internal/server/handler"
	"github.com/alanyoungcy/imbalancebot/internal/server/middleware"
)

type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey guards the mutating and query endpoints; empty disables auth.
	APIKey string
}

// Handlers groups the route handlers. Audit, Stream, Replay and Metrics
// are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Audit   *handler.AuditHandler
	Stream  *handler.StreamHandler
	Replay  *handler.ReplayHandler
	Metrics http.Handler
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	mux.Handle("GET /api/status", auth(http.HandlerFunc(h.Status.GetStatus)))
	mux.Handle("POST /api/halt", auth(http.HandlerFunc(h.Status.Halt)))
	if h.Audit != nil {
		mux.Handle("GET /api/audit", auth(http.HandlerFunc(h.Audit.List)))
	}
	if h.Stream != nil {
		mux.Handle("GET /api/audit/stream", auth(http.HandlerFunc(h.Stream.Read)))
		mux.Handle("GET /ws/signals", auth(http.HandlerFunc(h.Stream.Signals)))
	}
	if h.Replay != nil {
		mux.Handle("GET /api/replay/runs", auth(http.HandlerFunc(h.Replay.ListRuns)))
		mux.Handle("GET /api/replay/runs/{id}", auth(http.HandlerFunc(h.Replay.GetRun)))
	}

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Serve accepts on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
