package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeAdapter struct {
	rec     *recorder
	serveFn func(ctx context.Context) error
}

func (a *fakeAdapter) Serve(ctx context.Context) error {
	if a.serveFn != nil {
		return a.serveFn(ctx)
	}
	<-ctx.Done()
	a.rec.add("adapter.served")
	return nil
}

func (a *fakeAdapter) Stop(context.Context) error {
	a.rec.add("adapter.stop")
	return nil
}

func (a *fakeAdapter) Protocol() string { return "PAM" }

type fakeServer struct {
	rec      *recorder
	name     string
	startErr error
}

func (s *fakeServer) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.rec.add(s.name + ".stop")
	return nil
}

type fakeBackground struct {
	rec     *recorder
	started chan struct{}
}

func (b *fakeBackground) Start(context.Context) { close(b.started) }
func (b *fakeBackground) Stop()                 { b.rec.add("refresh.stop") }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestServe_OrderedShutdown(t *testing.T) {
	rec := &recorder{}
	bg := &fakeBackground{rec: rec, started: make(chan struct{})}

	s := New(time.Second)
	s.SetAdapter(&fakeAdapter{rec: rec})
	s.AddServer("api", &fakeServer{rec: rec, name: "api"})
	s.AddBackground(bg)
	s.OnDrain(func() { rec.add("drain") })
	s.AddCloser("store", closerFunc(func() error { rec.add("store.close"); return nil }))
	s.AddCloser("providers", closerFunc(func() error { rec.add("providers.close"); return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	<-bg.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	events := rec.list()
	require.Contains(t, events, "adapter.served")
	// The adapter may finish serving before or after Stop is called.
	var ordered []string
	for _, e := range events {
		if e != "adapter.served" {
			ordered = append(ordered, e)
		}
	}
	assert.Equal(t, []string{
		"refresh.stop",
		"adapter.stop",
		"drain",
		"api.stop",
		"providers.close",
		"store.close",
	}, ordered)
}

func TestServe_ServerErrorStopsEverything(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("address in use")

	s := New(time.Second)
	s.SetAdapter(&fakeAdapter{rec: rec})
	s.AddServer("metrics", &fakeServer{rec: rec, name: "metrics", startErr: boom})

	err := s.Serve(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "metrics server error")
	assert.Contains(t, rec.list(), "adapter.stop")
}

func TestServe_AdapterFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("socket path is required")

	s := New(time.Second)
	s.SetAdapter(&fakeAdapter{rec: rec, serveFn: func(context.Context) error { return boom }})
	s.AddServer("api", &fakeServer{rec: rec, name: "api"})

	err := s.Serve(context.Background())
	require.ErrorIs(t, err, boom)
	events := rec.list()
	assert.NotContains(t, events, "adapter.stop")
	assert.Contains(t, events, "api.stop")
}

func TestServe_DrainBoundedByTimeout(t *testing.T) {
	rec := &recorder{}
	block := make(chan struct{})
	defer close(block)

	s := New(50 * time.Millisecond)
	s.SetAdapter(&fakeAdapter{rec: rec})
	s.OnDrain(func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_ = s.Serve(ctx)
	assert.Less(t, time.Since(start), time.Second)
}

func TestServe_OnlyOnce(t *testing.T) {
	s := New(0)
	s.SetAdapter(&fakeAdapter{rec: &recorder{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Serve(ctx)

	assert.Error(t, s.Serve(ctx))
	assert.Panics(t, func() { s.AddServer("late", &fakeServer{}) })
}

func TestServe_NoAdapter(t *testing.T) {
	err := New(0).Serve(context.Background())
	assert.Error(t, err)
}
