package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging fields for one PAM request.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	RequestID string    // Per-request UUID
	Command   string    // PAM command name (AUTHENTICATE, ACCT_MGMT, ...)
	ClientPID uint32    // pid reported by the client (protocol v3)
	ClientUID uint32    // uid from peer credentials
	HasPeer   bool      // ClientUID is meaningful
	User      string    // Logon name as sent by the client
	Domain    string    // Resolved domain
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a request from the given peer uid.
func NewLogContext(requestID string, uid uint32) *LogContext {
	return &LogContext{
		RequestID: requestID,
		ClientUID: uid,
		HasPeer:   true,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithCommand returns a copy with the command name set.
func (lc *LogContext) WithCommand(cmd string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Command = cmd
	}
	return c
}

// WithIdentity returns a copy with the logon name and domain set.
func (lc *LogContext) WithIdentity(user, domain string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.User = user
		c.Domain = domain
	}
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
