package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittopam/internal/logger"
	"github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/internal/telemetry"
	"github.com/marmos91/dittopam/pkg/authtok"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/metrics"
)

// DefaultTimeout bounds a single backend call. It is half the time a PAM
// client waits on its socket.
const DefaultTimeout = 150 * time.Second

// Operation names used in logs and metrics.
const (
	OpRefreshDomains = "refresh_domains"
	OpRefreshAccount = "refresh_account"
	OpAuthenticate   = "authenticate"
)

// Dispatcher runs backend calls asynchronously.
type Dispatcher struct {
	mu       sync.RWMutex
	backends map[string]Backend

	timeout time.Duration
	metrics metrics.PAMMetrics
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A timeout of 0 selects DefaultTimeout;
// m may be nil.
func NewDispatcher(timeout time.Duration, m metrics.PAMMetrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		backends: make(map[string]Backend),
		timeout:  timeout,
		metrics:  m,
	}
}

// Register adds a backend under its Name.
func (d *Dispatcher) Register(b Backend) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.backends[b.Name()]; dup {
		return fmt.Errorf("provider: backend %q already registered", b.Name())
	}
	d.backends[b.Name()] = b
	return nil
}

// Backend returns the backend registered as name.
func (d *Dispatcher) Backend(name string) (Backend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, name)
	}
	return b, nil
}

// Names lists the registered backends in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.backends))
	for n := range d.backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Timeout returns the per-call bound.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Wait blocks until every started call has finished or been abandoned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RefreshDomains asks the provider of dom for its subdomains.
func (d *Dispatcher) RefreshDomains(h *Handle, dom *domain.Domain, done func([]string, error)) {
	Go(d, h, OpRefreshDomains, dom.Provider, func(ctx context.Context) ([]string, error) {
		b, err := d.Backend(dom.Provider)
		if err != nil {
			return nil, err
		}
		return b.RefreshDomains(ctx, dom)
	}, done)
}

// RefreshAccount asks the provider of dom to refresh name and its group
// memberships into the identity store.
func (d *Dispatcher) RefreshAccount(h *Handle, dom *domain.Domain, name string, isUPN bool, done func(error)) {
	Go(d, h, OpRefreshAccount, dom.Provider, func(ctx context.Context) (struct{}, error) {
		b, err := d.Backend(dom.Provider)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, b.RefreshAccount(ctx, dom, name, isUPN)
	}, func(_ struct{}, err error) { done(err) })
}

// Authenticate forwards req to the provider of dom. The backend works on a
// copy of req whose secrets are wiped once it returns.
func (d *Dispatcher) Authenticate(h *Handle, dom *domain.Domain, req *pam.Request, done func(*AuthResult, error)) {
	snap := snapshot(req)
	Go(d, h, OpAuthenticate, dom.Provider, func(ctx context.Context) (*AuthResult, error) {
		defer snap.Wipe()
		b, err := d.Backend(dom.Provider)
		if err != nil {
			return nil, err
		}
		return b.Authenticate(ctx, dom, snap)
	}, done)
}

// Go runs fn on its own goroutine under h, bounded by the dispatcher
// timeout, and hands the result to done on that goroutine. done is not called
// once h has been invalidated. A panic in fn is reported as ErrTransport; a
// call that outlives the timeout is reported as a MajorTimeout Error and its
// result is discarded.
func Go[T any](d *Dispatcher, h *Handle, op, provider string, fn func(ctx context.Context) (T, error), done func(T, error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx := h.Context()
		if h.parent.IsValid() {
			ctx = trace.ContextWithSpanContext(ctx, h.parent)
		}
		ctx, span := telemetry.StartProviderSpan(ctx, op, provider)
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		start := time.Now()
		v, err := await(ctx, fn)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			err = &Error{Major: MajorTimeout, Message: op + " timed out"}
		}
		res := outcome(err)
		metrics.RecordProviderCall(d.metrics, op, provider, res, time.Since(start))
		span.SetAttributes(telemetry.Outcome(res))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, res)
		}

		if !h.Alive() {
			logger.Debug("Dropping completion of abandoned request",
				"operation", op, logger.Provider(provider))
			metrics.RecordOrphanedCompletion(d.metrics, op)
			return
		}
		done(v, err)
	}()
}

type result[T any] struct {
	v   T
	err error
}

// await runs fn and returns its result, or ctx.Err() as soon as ctx ends.
// A backend that ignores ctx is left to finish on its own.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("%w: backend panic: %v", ErrTransport, p)
			}
			ch <- r
		}()
		r.v, r.err = fn(ctx)
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func outcome(err error) string {
	var pe *Error
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.As(err, &pe) && pe.Major == MajorTimeout:
		return "timeout"
	case errors.As(err, &pe) && pe.Major == MajorOffline:
		return "offline"
	default:
		return "error"
	}
}

// snapshot copies the fields a backend may read.
func snapshot(req *pam.Request) *pam.Request {
	c := *req
	c.AuthTok = authtok.Clone(req.AuthTok)
	c.NewAuthTok = authtok.Clone(req.NewAuthTok)
	c.RequestedDomains = slices.Clone(req.RequestedDomains)
	c.Responses = nil
	return &c
}
