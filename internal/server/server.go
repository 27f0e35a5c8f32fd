package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/app"
)

// Server owns the HTTP listener and the middleware chain
type Server struct {
	app    *app.App
	logger arbor.ILogger
	router *http.ServeMux
	server *http.Server
}

// New creates the HTTP server for a wired application
func New(application *app.App) *Server {
	s := &Server{
		app:    application,
		logger: application.Logger(),
		router: http.NewServeMux(),
	}

	s.setupRoutes()

	cfg := application.Config()
	rl := newIPRateLimiter(cfg.Server.MaxRequestsPerMinute)

	var handler http.Handler = s.router
	handler = rateLimitMiddleware(rl, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(s.logger, handler)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving. Blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
