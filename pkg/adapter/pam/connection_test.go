package pam

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/pkg/provider"
	responder "github.com/marmos91/dittopam/pkg/responder/pam"
)

type call struct {
	client  responder.Client
	version int
	cmd     wire.Command
	body    []byte
	h       *provider.Handle
	done    func(responder.Reply)
}

// fakeHandler records calls and answers each one through respond. A nil
// respond leaves the request pending.
type fakeHandler struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call)
}

func (f *fakeHandler) Handle(h *provider.Handle, client responder.Client, version int, cmd wire.Command, body []byte, done func(responder.Reply)) {
	c := call{client: client, version: version, cmd: cmd, body: append([]byte(nil), body...), h: h, done: done}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		respond(c)
	}
}

func (f *fakeHandler) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func echoStatus(c call) {
	c.done(responder.Reply{
		Command: c.cmd,
		Status:  wire.StatusSuccess,
		Body:    wire.EncodeResponse(wire.StatusSuccess, nil),
	})
}

func newTestAdapter(t *testing.T, cfg Config, h Handler) *Adapter {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/nonexistent/pam"
	}
	a, err := New(cfg, h, nil)
	require.NoError(t, err)
	a.peerCreds = func(net.Conn) (peer, error) { return peer{UID: 1000, PID: 77}, nil }
	return a
}

// pipeConn serves one connection over net.Pipe and returns the client end.
func pipeConn(t *testing.T, a *Adapter, privileged bool) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	c := newConnection(a, server, "conn-1", peer{UID: 1000, PID: 77}, privileged)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		<-done
	})
	return client
}

func roundTrip(t *testing.T, conn net.Conn, cmd wire.Command, body []byte) *wire.Packet {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.WritePacket(conn, cmd, 0, body))
	p, err := wire.ReadPacket(conn, 0)
	require.NoError(t, err)
	return p
}

func TestVersionNegotiation(t *testing.T) {
	h := &fakeHandler{respond: echoStatus}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), false)

	p := roundTrip(t, conn, wire.CmdGetVersion, wire.VersionBody(9))
	assert.Equal(t, wire.CmdGetVersion, p.Command)
	assert.Equal(t, wire.VersionBody(wire.Version3), p.Body)

	p = roundTrip(t, conn, wire.CmdAcctMgmt, []byte("frame"))
	assert.Equal(t, wire.CmdAcctMgmt, p.Command)
	st, _, err := wire.DecodeResponse(p.Body)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, st)

	c := h.last()
	assert.Equal(t, wire.Version3, c.version)
	assert.Equal(t, []byte("frame"), c.body)
	assert.Equal(t, uint32(1000), c.client.UID)
	assert.Equal(t, int32(77), c.client.PID)
	assert.Equal(t, "conn-1", c.client.ConnectionID)
	assert.False(t, c.client.Privileged)
}

func TestVersionDefaultsToOne(t *testing.T) {
	h := &fakeHandler{respond: echoStatus}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), true)

	roundTrip(t, conn, wire.CmdAuthenticate, nil)
	assert.Equal(t, wire.Version1, h.last().version)
	assert.True(t, h.last().client.Privileged)
}

func TestRequestsAreServedInOrder(t *testing.T) {
	h := &fakeHandler{respond: echoStatus}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), false)

	for _, cmd := range []wire.Command{wire.CmdPreauth, wire.CmdAuthenticate, wire.CmdAcctMgmt, wire.CmdOpenSession} {
		p := roundTrip(t, conn, cmd, nil)
		assert.Equal(t, cmd, p.Command)
	}
	assert.Equal(t, 4, h.count())
}

func TestUnknownCommandClosesConnection(t *testing.T) {
	h := &fakeHandler{respond: echoStatus}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), false)

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.WritePacket(conn, wire.Command(0x99), 0, nil))
	_, err := wire.ReadPacket(conn, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, h.count())
}

func TestTransportErrorClosesConnection(t *testing.T) {
	h := &fakeHandler{respond: func(c call) {
		c.done(responder.Reply{Command: c.cmd, Err: provider.ErrTransport})
	}}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), false)

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.WritePacket(conn, wire.CmdAuthenticate, 0, nil))
	_, err := wire.ReadPacket(conn, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDisconnectInvalidatesPendingRequest(t *testing.T) {
	h := &fakeHandler{}
	conn := pipeConn(t, newTestAdapter(t, Config{}, h), false)

	require.NoError(t, wire.WritePacket(conn, wire.CmdAuthenticate, 0, []byte("secret")))
	require.Eventually(t, func() bool { return h.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	c := h.last()
	assert.True(t, c.h.Alive())
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !c.h.Alive() }, 5*time.Second, 10*time.Millisecond)

	// A late completion is harmless.
	echoStatus(c)
}

func TestIdleTimeout(t *testing.T) {
	h := &fakeHandler{respond: echoStatus}
	conn := pipeConn(t, newTestAdapter(t, Config{IdleTimeout: 50 * time.Millisecond}, h), false)

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := wire.ReadPacket(conn, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPendingRequestOutlivesIdleTimeout(t *testing.T) {
	h := &fakeHandler{respond: func(c call) {
		go func() {
			time.Sleep(150 * time.Millisecond)
			echoStatus(c)
		}()
	}}
	conn := pipeConn(t, newTestAdapter(t, Config{IdleTimeout: 50 * time.Millisecond}, h), false)

	p := roundTrip(t, conn, wire.CmdAuthenticate, nil)
	assert.Equal(t, wire.CmdAuthenticate, p.Command)
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "dpam")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestServeUnixSockets(t *testing.T) {
	dir := shortTempDir(t)
	h := &fakeHandler{respond: echoStatus}
	a := newTestAdapter(t, Config{
		SocketPath:           filepath.Join(dir, "pam"),
		PrivilegedSocketPath: filepath.Join(dir, "private", "pam"),
	}, h)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx) }()

	readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readyCancel()
	require.NoError(t, a.WaitReady(readyCtx))

	fi, err := os.Stat(filepath.Join(dir, "private", "pam"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	for _, tc := range []struct {
		path       string
		privileged bool
	}{
		{filepath.Join(dir, "pam"), false},
		{filepath.Join(dir, "private", "pam"), true},
	} {
		conn, err := net.Dial("unix", tc.path)
		require.NoError(t, err)
		roundTrip(t, conn, wire.CmdGetVersion, wire.VersionBody(2))
		roundTrip(t, conn, wire.CmdAcctMgmt, nil)
		assert.Equal(t, tc.privileged, h.last().client.Privileged)
		assert.Equal(t, wire.Version2, h.last().version)
		assert.NotEmpty(t, h.last().client.ConnectionID)
		_ = conn.Close()
	}

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	_, err = os.Stat(filepath.Join(dir, "pam"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRejectsPeerWithoutCredentials(t *testing.T) {
	dir := shortTempDir(t)
	a := newTestAdapter(t, Config{SocketPath: filepath.Join(dir, "pam")}, &fakeHandler{respond: echoStatus})
	a.peerCreds = func(net.Conn) (peer, error) { return peer{}, errors.New("no creds") }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Serve(ctx) }()
	require.NoError(t, a.WaitReady(ctx))

	conn, err := net.Dial("unix", filepath.Join(dir, "pam"))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = wire.ReadPacket(conn, 0)
	assert.Error(t, err)
	assert.Zero(t, a.GetActiveConnections())
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	a, err := New(Config{}, &fakeHandler{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSocketPath, a.SocketPath())
	assert.Equal(t, DefaultIdleTimeout, a.config.IdleTimeout)
	assert.Equal(t, wire.DefaultMaxPacketSize, a.config.MaxPacketSize)

	_, err = New(Config{SocketPath: "/run/p", PrivilegedSocketPath: "/run/p"}, &fakeHandler{}, nil)
	assert.Error(t, err)
	_, err = New(Config{MaxConnections: -1}, &fakeHandler{}, nil)
	assert.Error(t, err)
	_, err = New(Config{MaxPacketSize: 4}, &fakeHandler{}, nil)
	assert.Error(t, err)
	_, err = New(Config{}, nil, nil)
	assert.Error(t, err)
}
