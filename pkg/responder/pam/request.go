package pam

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittopam/internal/logger"
	wire "github.com/marmos91/dittopam/internal/protocol/pam"
	"github.com/marmos91/dittopam/internal/telemetry"
	"github.com/marmos91/dittopam/pkg/domain"
	"github.com/marmos91/dittopam/pkg/identity"
	"github.com/marmos91/dittopam/pkg/metrics"
	"github.com/marmos91/dittopam/pkg/provider"
)

// authRequest is the live state of one request. Only one goroutine touches it
// at a time: the caller of Handle until the first wait, then whichever
// goroutine completes each wait.
type authRequest struct {
	r      *Responder
	h      *provider.Handle
	ctx    context.Context
	span   trace.Span
	lc     *logger.LogContext
	client Client
	start  time.Time
	done   func(Reply)

	pd    *wire.Request
	dom   *domain.Domain
	state State

	trusted          bool
	checkProvider    bool
	useCachedAuth    bool
	cachedAuthFailed bool

	// refreshedDomains lists the domains whose provider already refreshed
	// the user during this request.
	refreshedDomains []string

	// domainsRefreshed is set once the domain list was refreshed for an
	// unknown domain suffix.
	domainsRefreshed bool

	// certUser is the identity bound to the smartcard certificate, if the
	// certificate path ran and matched.
	certUser  *identity.Record
	certToken string

	replied atomic.Bool
}

func (r *Responder) newRequest(h *provider.Handle, c Client, cmd wire.Command, done func(Reply)) *authRequest {
	lc := logger.NewLogContext(newRequestID(), c.UID).WithCommand(cmd.String())
	a := &authRequest{
		r:       r,
		h:       h,
		lc:      lc,
		client:  c,
		start:   r.now(),
		done:    done,
		trusted: r.isTrusted(c),
		state:   StateReceived,
	}

	ctx, span := telemetry.StartPAMSpan(h.Context(), cmd.String(),
		telemetry.RequestID(lc.RequestID),
		telemetry.ClientUID(c.UID),
		telemetry.ClientPID(c.PID),
		telemetry.ClientPrivileged(c.Privileged),
		telemetry.ConnectionID(c.ConnectionID))
	lc.TraceID = telemetry.TraceID(ctx)
	lc.SpanID = telemetry.SpanID(ctx)
	a.span = span
	h.SetParentSpan(span.SpanContext())
	a.ctx = logger.WithContext(ctx, lc)

	// A request abandoned by its client never reaches deliver.
	context.AfterFunc(h.Context(), func() { span.End() })
	return a
}

// attach binds the decoded request. Its secrets are wiped when the handle
// ends, whether or not a reply was sent.
func (a *authRequest) attach(pd *wire.Request) {
	a.pd = pd
	a.lc.ClientPID = pd.ClientPID
	a.lc.User = pd.LogonName
	context.AfterFunc(a.h.Context(), pd.Wipe)
	a.span.SetAttributes(
		telemetry.Username(pd.LogonName),
		telemetry.PAMService(pd.Service),
		telemetry.AuthTokType(tokenType(pd)))

	logger.DebugCtx(a.ctx, "PAM request decoded",
		logger.Service(pd.Service),
		"tty", pd.TTY,
		"rhost", pd.RHost,
		"authtok_type", tokenType(pd),
		"requested_domains", pd.RequestedDomains,
		"trusted", a.trusted)
}

func (a *authRequest) enter(s State) {
	if a.state == s {
		return
	}
	logger.DebugCtx(a.ctx, "PAM request state change",
		"from", a.state.String(), logger.State(s.String()))
	a.state = s
}

func (a *authRequest) setDomain(d *domain.Domain) {
	a.dom = d
	a.lc.Domain = d.Name
	a.span.SetAttributes(telemetry.Domain(d.Name))
}

// alive reports whether the client still waits for this request.
func (a *authRequest) alive() bool {
	return a.h.Alive()
}

// finish sets the status and sends the reply through the assembler.
func (a *authRequest) finish(status wire.Status) {
	a.pd.Status = status
	a.reply()
}

// deliver hands the encoded reply to the caller, once.
func (a *authRequest) deliver(rep Reply) {
	if !a.replied.CompareAndSwap(false, true) {
		return
	}
	a.enter(StateReply)
	metrics.RecordRequestEnd(a.r.metrics, a.pd.Command.String())
	if rep.Err == nil {
		metrics.RecordRequest(a.r.metrics, a.pd.Command.String(), rep.Status.String(), a.r.now().Sub(a.start))
	}
	a.pd.Wipe()

	a.span.SetAttributes(telemetry.PAMStatus(int(rep.Status)), telemetry.PAMStatusName(rep.Status.String()))
	if rep.Err != nil {
		telemetry.RecordError(a.ctx, rep.Err)
	}
	a.span.End()

	if !a.alive() {
		logger.DebugCtx(a.ctx, "Client gone, dropping PAM reply")
		return
	}
	logger.InfoCtx(a.ctx, "PAM request completed",
		logger.Status(int(rep.Status)),
		logger.StatusMsg(rep.Status.String()),
		logger.DurationMs(float64(a.r.now().Sub(a.start).Microseconds())/1000))
	a.done(rep)
}

// abort closes the client connection instead of replying.
func (a *authRequest) abort(err error) {
	logger.ErrorCtx(a.ctx, "Provider channel failed, closing client connection", logger.Err(err))
	a.deliver(Reply{Command: a.pd.Command, Status: wire.StatusSystemErr, Err: err})
}

func tokenType(pd *wire.Request) string {
	if pd.AuthTok == nil {
		return "empty"
	}
	return pd.AuthTok.Type().String()
}
