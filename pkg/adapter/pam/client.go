package pam

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
)

// Client speaks the PAM protocol from the client side. It is what
// `dpam auth` uses to exercise a running daemon. Calls are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	version int
}

// Dial connects to the socket at path and negotiates version. A version
// of 0 asks for the latest one.
func Dial(ctx context.Context, path string, version int) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	c, err := NewClient(ctx, conn, version)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient negotiates version over an established connection.
func NewClient(ctx context.Context, conn net.Conn, version int) (*Client, error) {
	if version == 0 {
		version = wire.LatestVersion
	}
	c := &Client{conn: conn}
	p, err := c.roundTrip(ctx, wire.CmdGetVersion, wire.VersionBody(version))
	if err != nil {
		return nil, fmt.Errorf("version negotiation: %w", err)
	}
	c.version = wire.NegotiateVersion(p.Body)
	return c, nil
}

// Version returns the negotiated protocol version.
func (c *Client) Version() int {
	return c.version
}

// Call sends req as cmd and waits for the reply.
func (c *Client) Call(ctx context.Context, cmd wire.Command, req *wire.Request) (wire.Status, []wire.ResponseItem, error) {
	body, err := wire.EncodeRequest(c.version, req)
	if err != nil {
		return 0, nil, err
	}
	p, err := c.roundTrip(ctx, cmd, body)
	if err != nil {
		return 0, nil, err
	}
	if p.Command != cmd {
		return 0, nil, fmt.Errorf("reply for %s to a %s request", p.Command, cmd)
	}
	return wire.DecodeResponse(p.Body)
}

func (c *Client) roundTrip(ctx context.Context, cmd wire.Command, body []byte) (*wire.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := wire.WritePacket(c.conn, cmd, 0, body); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}
	p, err := wire.ReadPacket(c.conn, 0)
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", cmd, err)
	}
	return p, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
