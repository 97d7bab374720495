package adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittopam/internal/logger"
)

// ConnectionHandler represents a protocol-specific connection that can serve
// requests. The Serve method blocks until the connection is closed or the
// context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates protocol-specific connection handlers for accepted
// socket connections. privileged is set for connections that arrived on the
// privileged socket.
type ConnectionFactory interface {
	NewConnection(conn net.Conn, id string, privileged bool) ConnectionHandler
}

// BaseConfig holds configuration common to socket adapters.
type BaseConfig struct {
	// SocketPath is the unix socket every local client may connect to.
	SocketPath string

	// SocketMode is the permission of SocketPath. Zero means 0666.
	SocketMode fs.FileMode

	// PrivilegedSocketPath is an optional second socket, normally reachable
	// by root only. Its connections are trusted regardless of peer uid.
	PrivilegedSocketPath string

	// PrivilegedSocketMode is the permission of PrivilegedSocketPath. Zero
	// means 0600.
	PrivilegedSocketMode fs.FileMode

	// MaxConnections limits the number of concurrent client connections.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration
}

// MetricsRecorder allows adapters to record connection lifecycle metrics.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// OnConnectionClose is an optional callback invoked when a connection's serve
// goroutine completes, before its slot is released.
type OnConnectionClose func(id string)

// BaseAdapter provides shared unix socket lifecycle management: listeners,
// graceful shutdown, connection tracking and limiting, and metrics logging.
// Protocol-specific behavior is injected through a ConnectionFactory.
//
// All exported methods are safe for concurrent use. Stop may be called
// several times.
type BaseAdapter struct {
	Config BaseConfig

	// protocolName is the name used in logs (e.g. "PAM").
	protocolName string

	// Metrics is an optional recorder for connection lifecycle metrics.
	Metrics MetricsRecorder

	listeners  []net.Listener
	listenerMu sync.RWMutex

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once

	// Shutdown is closed once graceful shutdown has been initiated.
	Shutdown chan struct{}

	// ConnCount tracks the current number of active connections.
	ConnCount atomic.Int32

	// connSemaphore limits concurrent connections; nil when unlimited.
	connSemaphore chan struct{}

	// ShutdownCtx is cancelled during shutdown to abort in-flight requests.
	ShutdownCtx context.Context

	// CancelRequests cancels ShutdownCtx.
	CancelRequests context.CancelFunc

	// ActiveConnections maps connection ids to their net.Conn for forced
	// closure.
	ActiveConnections sync.Map

	// ListenerReady is closed when every listener accepts connections.
	ListenerReady chan struct{}
}

// NewBaseAdapter creates a BaseAdapter in a stopped state. Call
// ServeWithFactory to start it.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug(protocol+" connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// listenUnix binds path, replacing a stale socket left by a previous run.
func listenUnix(path string, mode fs.FileMode) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, mode); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// ServeWithFactory runs the accept loops of the configured sockets, handing
// every accepted connection to factory.
//
// preAccept, if set, may reject a connection before it is tracked. onClose,
// if set, runs when a connection's goroutine exits.
//
// Returns nil on graceful shutdown, or an error if a listener cannot be
// created or shutdown timed out.
func (b *BaseAdapter) ServeWithFactory(
	ctx context.Context,
	factory ConnectionFactory,
	preAccept func(conn net.Conn, privileged bool) bool,
	onClose OnConnectionClose,
) error {
	if b.Config.SocketPath == "" {
		return errors.New(b.protocolName + ": socket path is required")
	}

	sockets := []struct {
		path       string
		mode       fs.FileMode
		privileged bool
	}{{b.Config.SocketPath, orMode(b.Config.SocketMode, 0o666), false}}
	if b.Config.PrivilegedSocketPath != "" {
		sockets = append(sockets, struct {
			path       string
			mode       fs.FileMode
			privileged bool
		}{b.Config.PrivilegedSocketPath, orMode(b.Config.PrivilegedSocketMode, 0o600), true})
	}

	var listeners []net.Listener
	for _, s := range sockets {
		l, err := listenUnix(s.path, s.mode)
		if err != nil {
			for _, prev := range listeners {
				_ = prev.Close()
			}
			return fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, s.path, err)
		}
		listeners = append(listeners, l)
		logger.Info(b.protocolName+" server listening", "socket", s.path, "privileged", s.privileged)
	}

	b.listenerMu.Lock()
	b.listeners = listeners
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", "error", ctx.Err())
		case <-b.Shutdown:
		}
		b.initiateShutdown()
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	var loops sync.WaitGroup
	for i, l := range listeners {
		loops.Add(1)
		go func(l net.Listener, privileged bool) {
			defer loops.Done()
			b.acceptLoop(l, privileged, factory, preAccept, onClose)
		}(l, sockets[i].privileged)
	}
	loops.Wait()

	for _, s := range sockets {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Debug("Cannot remove "+b.protocolName+" socket", "socket", s.path, "error", err)
		}
	}
	return b.gracefulShutdown()
}

func orMode(m, def fs.FileMode) fs.FileMode {
	if m == 0 {
		return def
	}
	return m
}

// acceptLoop accepts connections on l until shutdown.
func (b *BaseAdapter) acceptLoop(
	l net.Listener,
	privileged bool,
	factory ConnectionFactory,
	preAccept func(net.Conn, bool) bool,
	onClose OnConnectionClose,
) {
	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return
			}
		}

		conn, err := l.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			select {
			case <-b.Shutdown:
				return
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", "error", err)
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		if preAccept != nil && !preAccept(conn, privileged) {
			_ = conn.Close()
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			continue
		}

		id := uuid.NewString()
		b.activeConns.Add(1)
		b.ConnCount.Add(1)
		b.ActiveConnections.Store(id, conn)

		current := b.ConnCount.Load()
		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
			b.Metrics.SetActiveConnections(current)
		}
		logger.Debug(b.protocolName+" connection accepted",
			logger.ConnectionID(id), "privileged", privileged, "active", current)

		handler := factory.NewConnection(conn, id, privileged)

		go func() {
			defer func() {
				if onClose != nil {
					onClose(id)
				}
				b.ActiveConnections.Delete(id)
				b.activeConns.Done()
				b.ConnCount.Add(-1)
				if b.connSemaphore != nil {
					<-b.connSemaphore
				}
				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
					b.Metrics.SetActiveConnections(b.ConnCount.Load())
				}
				logger.Debug(b.protocolName+" connection closed",
					logger.ConnectionID(id), "active", b.ConnCount.Load())
			}()

			handler.Serve(b.ShutdownCtx)
		}()
	}
}

// initiateShutdown closes the listeners, interrupts blocking reads and
// cancels in-flight requests. Safe to call more than once.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.Shutdown)

		b.listenerMu.Lock()
		for _, l := range b.listeners {
			if err := l.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", "error", err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active connections.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					logger.ConnectionID(key.(string)), "error", err)
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to finish, force-closing
// them once ShutdownTimeout has passed.
func (b *BaseAdapter) gracefulShutdown() error {
	activeCount := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", b.Config.ShutdownTimeout)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceCloseConnections() {
	closedCount := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		id := key.(string)
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.ConnectionID(id), "error", err)
			return true
		}
		closedCount++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})
	if closedCount > 0 {
		logger.Info("Force-closed connections", "count", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done. A nil ctx waits up to ShutdownTimeout.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			"active", b.ConnCount.Load(), "error", ctx.Err())
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Shutdown:
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics", "active_connections", b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// WaitReady blocks until the listeners accept connections or ctx is done.
func (b *BaseAdapter) WaitReady(ctx context.Context) error {
	select {
	case <-b.ListenerReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Protocol returns the protocol name used in logs.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
