// Package server exposes the protocol HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/duration-fi/durationd/internal/server/handler"
	"github.com/duration-fi/durationd/internal/server/middleware"
	"github.com/duration-fi/durationd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Commitments *handler.CommitmentHandler
	Options     *handler.OptionHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain (auth,
// logging, CORS) around them.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, no auth required.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Commitment endpoints.
	mux.HandleFunc("GET /api/commitments", handlers.Commitments.ListCommitments)
	mux.HandleFunc("POST /api/commitments", handlers.Commitments.CreateCommitment)
	mux.HandleFunc("GET /api/commitments/{hash}", handlers.Commitments.GetCommitment)
	mux.HandleFunc("DELETE /api/commitments/{hash}", handlers.Commitments.CancelCommitment)

	// Option lifecycle endpoints.
	mux.HandleFunc("GET /api/options", handlers.Options.ListOptions)
	mux.HandleFunc("POST /api/options/take", handlers.Options.TakeOption)
	mux.HandleFunc("GET /api/options/{id}", handlers.Options.GetOption)
	mux.HandleFunc("POST /api/options/{id}/exercise", handlers.Options.ExerciseOption)
	mux.HandleFunc("POST /api/options/{id}/liquidate", handlers.Options.LiquidateOption)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

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
		logger:     logger,
	}
}

// Start blocks until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
