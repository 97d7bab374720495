package pam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/provider"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

var errUnknownCommand = errors.New("unknown command")

// Connection handles a single PAM client connection. Requests are served one
// at a time in arrival order; a disconnect cancels the request in flight.
type Connection struct {
	server *Adapter
	conn   net.Conn
	id     string
	client responder.Client

	// version is the negotiated protocol version, 1 until GET_VERSION.
	version int

	packets chan *wire.Packet
	readErr chan error
	closed  chan struct{}
}

func newConnection(server *Adapter, conn net.Conn, id string, p peer, privileged bool) *Connection {
	return &Connection{
		server: server,
		conn:   conn,
		id:     id,
		client: responder.Client{
			UID:          p.UID,
			PID:          p.PID,
			Privileged:   privileged,
			ConnectionID: id,
		},
		version: wire.Version1,
		packets: make(chan *wire.Packet),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Serve reads and answers requests until the client goes away, the idle
// timeout expires or ctx is cancelled.
func (c *Connection) Serve(ctx context.Context) {
	defer c.handleConnectionClose()

	logger.Debug("New PAM connection", logger.ConnectionID(c.id),
		logger.ClientUID(c.client.UID), "client_pid", c.client.PID, "privileged", c.client.Privileged)

	c.armIdleTimeout()
	go c.readLoop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("PAM connection closed due to shutdown", logger.ConnectionID(c.id))
			return
		case err := <-c.readErr:
			c.logReadError(err)
			return
		case p := <-c.packets:
			if err := c.dispatch(ctx, p); err != nil {
				logger.Debug("Closing PAM connection", logger.ConnectionID(c.id), logger.Err(err))
				return
			}
			c.armIdleTimeout()
		}
	}
}

// readLoop feeds packets to Serve. The idle deadline is cleared as soon as a
// packet arrives so that a long request keeps the connection open while a
// disconnect is still noticed.
func (c *Connection) readLoop() {
	for {
		p, err := wire.ReadPacket(c.conn, c.server.config.MaxPacketSize)
		if err != nil {
			c.readErr <- err
			return
		}
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			c.readErr <- err
			return
		}
		select {
		case c.packets <- p:
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) armIdleTimeout() {
	if c.server.config.IdleTimeout <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
		logger.Warn("Failed to set idle deadline", logger.ConnectionID(c.id), logger.Err(err))
	}
}

func (c *Connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debug("PAM connection closed by client", logger.ConnectionID(c.id))
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("PAM connection idle timeout", logger.ConnectionID(c.id))
	default:
		logger.Debug("Error reading PAM request", logger.ConnectionID(c.id), logger.Err(err))
	}
}

// dispatch answers one packet. A returned error closes the connection.
func (c *Connection) dispatch(ctx context.Context, p *wire.Packet) error {
	switch {
	case p.Command == wire.CmdGetVersion:
		c.version = wire.NegotiateVersion(p.Body)
		logger.Debug("Negotiated PAM protocol version",
			logger.ConnectionID(c.id), logger.Version(c.version))
		return c.write(p.Command, wire.VersionBody(c.version))

	case p.Command.IsPAM():
		return c.handlePAM(ctx, p)

	default:
		return fmt.Errorf("%w %s", errUnknownCommand, p.Command)
	}
}

// handlePAM hands the frame to the responder and waits for its reply. If the
// client disconnects first the request's handle is invalidated, which drops
// any completion still to come.
func (c *Connection) handlePAM(ctx context.Context, p *wire.Packet) error {
	h := provider.NewHandle(ctx)
	defer h.Invalidate()

	replies := make(chan responder.Reply, 1)
	c.server.handler.Handle(h, c.client, c.version, p.Command, p.Body, func(rep responder.Reply) {
		replies <- rep
	})
	clear(p.Body)

	select {
	case rep := <-replies:
		if rep.Err != nil {
			return rep.Err
		}
		return c.write(rep.Command, rep.Body)
	case err := <-c.readErr:
		c.logReadError(err)
		return fmt.Errorf("client went away during %s: %w", p.Command, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) write(cmd wire.Command, body []byte) error {
	if wt := c.server.config.WriteTimeout; wt > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			return err
		}
	}
	return wire.WritePacket(c.conn, cmd, 0, body)
}

func (c *Connection) handleConnectionClose() {
	if r := recover(); r != nil {
		logger.Error("Panic in PAM connection handler", logger.ConnectionID(c.id), "error", r)
	}
	close(c.closed)
	_ = c.conn.Close()
}
