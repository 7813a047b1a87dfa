package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/config"
	"github.com/edupulse/learning-integrity-backend/internal/service/fraud"
)

// Server is the HTTP front end for the fraud service.
type Server struct {
	httpServer      *http.Server
	fraud           fraud.Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// NewServer assembles the server with the full middleware stack.
func NewServer(cfg config.ServerConfig, svc fraud.Service, health HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	handler := NewHandler(svc, logger)
	router := NewRouter(handler, health)

	stack := chain(router,
		requestIDMiddleware,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		rateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      stack,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		fraud:           svc,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, drains in-flight requests, then
// drains the fraud service's background persistence.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	if err := s.fraud.Shutdown(ctx); err != nil {
		return fmt.Errorf("service drain failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
