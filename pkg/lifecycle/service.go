// Package lifecycle runs the daemon's components and shuts them down in
// order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/pkg/adapter"
)

// DefaultShutdownTimeout is the default timeout for graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// AuxiliaryServer is an HTTP server running next to the adapter (API,
// metrics). Start blocks until the server stops.
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Background is a periodic job such as the refresher.
type Background interface {
	Start(ctx context.Context)
	Stop()
}

type namedServer struct {
	name   string
	server AuxiliaryServer
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Service orchestrates startup and graceful shutdown.
//
// Shutdown order:
//  1. Background jobs
//  2. The adapter (connection draining)
//  3. Drain hooks (in-flight provider calls)
//  4. Auxiliary servers
//  5. Closers, last registered first
type Service struct {
	shutdownTimeout time.Duration

	adapter    adapter.Adapter
	servers    []namedServer
	background []Background
	drains     []func()
	closers    []namedCloser

	// serveOnce ensures Serve() is only called once
	serveOnce sync.Once
	served    bool
}

// New creates a new lifecycle service.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout == 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{shutdownTimeout: shutdownTimeout}
}

func (s *Service) mustNotBeServing(what string) {
	if s.served {
		panic("cannot add " + what + " after Serve() has been called")
	}
}

// SetAdapter sets the client-facing adapter. Must be called before Serve().
func (s *Service) SetAdapter(a adapter.Adapter) {
	s.mustNotBeServing("adapter")
	s.adapter = a
}

// AddServer registers an auxiliary server under name.
func (s *Service) AddServer(name string, server AuxiliaryServer) {
	s.mustNotBeServing("server")
	s.servers = append(s.servers, namedServer{name: name, server: server})
	logger.Debug("Auxiliary server registered", "server", name)
}

// AddBackground registers a background job.
func (s *Service) AddBackground(b Background) {
	s.mustNotBeServing("background job")
	s.background = append(s.background, b)
}

// OnDrain registers a blocking hook run after the adapter has stopped.
// Hooks are bounded by the shutdown timeout.
func (s *Service) OnDrain(fn func()) {
	s.mustNotBeServing("drain hook")
	s.drains = append(s.drains, fn)
}

// AddCloser registers a resource released at the end of shutdown.
func (s *Service) AddCloser(name string, c io.Closer) {
	s.mustNotBeServing("closer")
	s.closers = append(s.closers, namedCloser{name: name, closer: c})
}

// Serve starts all components and blocks until ctx is cancelled or a
// component fails. Components are then shut down and the cause returned.
func (s *Service) Serve(ctx context.Context) error {
	err := errors.New("lifecycle: Serve called twice")
	s.serveOnce.Do(func() {
		s.served = true
		err = s.serve(ctx)
	})
	return err
}

func (s *Service) serve(ctx context.Context) error {
	if s.adapter == nil {
		return errors.New("lifecycle: no adapter set")
	}
	logger.Info("Starting dittopam runtime")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, b := range s.background {
		b.Start(runCtx)
	}

	errChan := make(chan error, len(s.servers))
	for _, ns := range s.servers {
		go func(ns namedServer) {
			if err := ns.server.Start(runCtx); err != nil {
				logger.Error("Auxiliary server error", "server", ns.name, logger.Err(err))
				errChan <- fmt.Errorf("%s server error: %w", ns.name, err)
			}
		}(ns)
	}

	adapterDone := make(chan error, 1)
	go func() {
		adapterDone <- s.adapter.Serve(runCtx)
	}()

	var shutdownErr error
	adapterRunning := true
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
		shutdownErr = ctx.Err()

	case err := <-errChan:
		logger.Error("Server failed, initiating shutdown", logger.Err(err))
		shutdownErr = err

	case err := <-adapterDone:
		adapterRunning = false
		if err != nil {
			logger.Error(s.adapter.Protocol()+" adapter failed, initiating shutdown", logger.Err(err))
			shutdownErr = fmt.Errorf("%s adapter error: %w", s.adapter.Protocol(), err)
		} else {
			logger.Info(s.adapter.Protocol() + " adapter stopped")
		}
	}

	cancel()
	s.shutdown(adapterDone, adapterRunning)

	logger.Info("dittopam runtime stopped")
	return shutdownErr
}

// shutdown stops components in order. Every step shares the shutdown
// deadline.
func (s *Service) shutdown(adapterDone <-chan error, adapterRunning bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	for _, b := range s.background {
		b.Stop()
	}

	if adapterRunning {
		logger.Info("Stopping " + s.adapter.Protocol() + " adapter")
		if err := s.adapter.Stop(ctx); err != nil {
			logger.Warn("Error stopping adapter", logger.Err(err))
		}
		select {
		case err := <-adapterDone:
			if err != nil {
				logger.Warn("Adapter shutdown error", logger.Err(err))
			}
		case <-ctx.Done():
			logger.Warn("Adapter did not stop before the shutdown timeout")
		}
	}

	for _, fn := range s.drains {
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("Drain did not finish before the shutdown timeout")
		}
	}

	for _, ns := range s.servers {
		logger.Debug("Stopping auxiliary server", "server", ns.name)
		if err := ns.server.Stop(ctx); err != nil {
			logger.Error("Server shutdown error", "server", ns.name, logger.Err(err))
		}
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		logger.Debug("Closing", "resource", nc.name)
		if err := nc.closer.Close(); err != nil {
			logger.Warn("Close failed", "resource", nc.name, logger.Err(err))
		}
	}
}
