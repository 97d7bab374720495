package adapter

import "context"

// Adapter is a client-facing server managed by the daemon.
//
// Lifecycle:
//  1. Creation with protocol-specific configuration
//  2. Serve starts the listeners and blocks until shutdown
//  3. Stop initiates graceful shutdown with a timeout
//
// Implementations must be safe for concurrent use; Stop may be called
// concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts the server and blocks until ctx is cancelled or an
	// unrecoverable error occurs. It returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits for active connections
	// until ctx is done.
	Stop(ctx context.Context) error

	// Protocol returns the name used in logs and metrics.
	Protocol() string
}
