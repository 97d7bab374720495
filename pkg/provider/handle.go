package provider

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Handle ties asynchronous work to the request that waits for it.
//
// The request owns the handle and invalidates it when it is torn down. Work
// started under the handle sees its context cancelled, and completions that
// arrive afterwards are discarded instead of resuming a dead request.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	alive  atomic.Bool

	// parent is the span of the owning request; calls started under the
	// handle are traced as its children.
	parent trace.SpanContext
}

// NewHandle returns a live handle whose context derives from parent.
func NewHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{ctx: ctx, cancel: cancel}
	h.alive.Store(true)
	return h
}

// Alive reports whether the owner still waits for completions. A handle whose
// parent context ended is no longer alive.
func (h *Handle) Alive() bool {
	return h.alive.Load() && h.ctx.Err() == nil
}

// Context is cancelled when the handle is invalidated.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Invalidate marks the owner gone. It is idempotent.
func (h *Handle) Invalidate() {
	if h.alive.CompareAndSwap(true, false) {
		h.cancel()
	}
}

// SetParentSpan records the span of the owning request. It must be called
// before work is started under h.
func (h *Handle) SetParentSpan(sc trace.SpanContext) {
	h.parent = sc
}
