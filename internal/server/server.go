package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/alanyoungcy/execengine/internal/server/handler"
	"github.com/alanyoungcy/execengine/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Executions *handler.ExecutionHandler
	Venues     *handler.VenueHandler
}

// Server is the headless HTTP API in front of the execution engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Execution endpoints.
	mux.HandleFunc("POST /api/executions", handlers.Executions.Execute)
	mux.HandleFunc("GET /api/executions/{id}", handlers.Executions.Status)
	mux.HandleFunc("GET /api/executions/{id}/metrics", handlers.Executions.Metrics)
	mux.HandleFunc("GET /api/executions/{id}/plan", handlers.Executions.Plan)
	mux.HandleFunc("DELETE /api/executions/{id}", handlers.Executions.Cancel)
	mux.HandleFunc("POST /api/executions/{id}/pause", handlers.Executions.Pause)
	mux.HandleFunc("POST /api/executions/{id}/resume", handlers.Executions.Resume)

	// Venue endpoints.
	mux.HandleFunc("GET /api/venues", handlers.Venues.ListScores)
	mux.HandleFunc("GET /api/venues/{name}/metrics", handlers.Venues.GetMetrics)

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
