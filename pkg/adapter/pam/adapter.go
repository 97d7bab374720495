// Package pam serves the PAM responder over local unix sockets.
//
// Every connection negotiates a protocol version with GET_VERSION and then
// sends one PAM request at a time. The peer's uid and pid come from the
// kernel (SO_PEERCRED), never from the request body.
package pam

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/adapter"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/provider"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

// Handler services decoded PAM frames. *responder.Responder implements it.
type Handler interface {
	Handle(h *provider.Handle, client responder.Client, version int, cmd wire.Command, body []byte, done func(responder.Reply))
}

// peer is the kernel-reported identity of a connected process.
type peer struct {
	UID uint32
	PID int32
}

// Adapter is the PAM socket server. It embeds BaseAdapter for listener and
// connection lifecycle management.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	handler Handler
	metrics metrics.PAMMetrics

	// peers carries credentials from preAccept to NewConnection.
	peers sync.Map

	// peerCreds reads peer credentials; replaced in tests.
	peerCreds func(net.Conn) (peer, error)
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a stopped Adapter. m may be nil.
func New(config Config, handler Handler, m metrics.PAMMetrics) (*Adapter, error) {
	if handler == nil {
		return nil, errors.New("PAM adapter: handler is required")
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		SocketPath:           config.SocketPath,
		PrivilegedSocketPath: config.PrivilegedSocketPath,
		MaxConnections:       config.MaxConnections,
		ShutdownTimeout:      config.ShutdownTimeout,
		MetricsLogInterval:   config.MetricsLogInterval,
	}, "PAM")
	base.Metrics = m

	return &Adapter{
		BaseAdapter: base,
		config:      config,
		handler:     handler,
		metrics:     m,
		peerCreds:   peerCredentials,
	}, nil
}

// Serve listens on the configured sockets until ctx is cancelled.
func (s *Adapter) Serve(ctx context.Context) error {
	return s.ServeWithFactory(ctx, s, s.preAcceptCheck, nil)
}

// preAcceptCheck rejects peers whose credentials cannot be read.
func (s *Adapter) preAcceptCheck(conn net.Conn, privileged bool) bool {
	p, err := s.peerCreds(conn)
	if err != nil {
		logger.Warn("PAM connection rejected: cannot read peer credentials",
			"privileged", privileged, logger.Err(err))
		return false
	}
	s.peers.Store(conn, p)
	return true
}

// NewConnection implements adapter.ConnectionFactory.
func (s *Adapter) NewConnection(conn net.Conn, id string, privileged bool) adapter.ConnectionHandler {
	var p peer
	if v, ok := s.peers.LoadAndDelete(conn); ok {
		p = v.(peer)
	}
	return newConnection(s, conn, id, p, privileged)
}

// SocketPath returns the unprivileged socket path.
func (s *Adapter) SocketPath() string {
	return s.config.SocketPath
}
