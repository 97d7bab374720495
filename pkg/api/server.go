package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/api/auth"
	"github.com/marmos91/dittopam/pkg/api/handlers"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
)

// Caches is the part of the PAM responder driven through the API.
type Caches interface {
	handlers.Caches
	handlers.RefreshForgetter
}

// Backend is the state the API serves.
type Backend struct {
	Store   identity.Store
	Domains *domain.Registry
	Caches  Caches
}

func (b Backend) healthchecker() handlers.Healthchecker {
	if b.Store == nil {
		return nil
	}
	return b.Store
}

// Server provides the control API HTTP server.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server in a stopped state. Call Start()
// to begin serving requests.
//
// Returns an error if the JWT secret is missing or too short.
func NewServer(config APIConfig, b Backend) (*Server, error) {
	config.ApplyDefaults()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        config.JWTSecret,
		TokenDuration: config.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	server := &http.Server{
		Addr:         config.ListenAddr(),
		Handler:      NewRouter(b, jwtService),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: server, config: config}, nil
}

// Start starts the API HTTP server and blocks until the context is cancelled
// or an error occurs. Cancellation triggers a graceful shutdown, after which
// Start returns nil.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// The cancelled ctx would abort the shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.config.Port
}
