package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. They follow OpenTelemetry semantic conventions where one
// exists.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientPID        = "client.pid"
	AttrClientUID        = "client.uid"
	AttrClientPrivileged = "client.privileged"
	AttrConnectionID     = "client.connection_id"

	// ========================================================================
	// PAM request attributes
	// ========================================================================
	AttrPAMCommand  = "pam.command"
	AttrPAMVersion  = "pam.protocol_version"
	AttrPAMService  = "pam.service"
	AttrPAMStatus   = "pam.status"
	AttrPAMStatusNm = "pam.status_name"
	AttrPAMAuthTok  = "pam.authtok_type"
	AttrRequestID   = "pam.request_id"

	// ========================================================================
	// User/Auth attributes
	// ========================================================================
	AttrUsername = "user.name"
	AttrDomain   = "user.domain"
	AttrAuth     = "auth.method" // provider, cache, certificate

	// ========================================================================
	// Provider attributes
	// ========================================================================
	AttrProvider   = "provider.name"
	AttrProviderOp = "provider.operation"
	AttrOutcome    = "provider.outcome"

	// ========================================================================
	// Store attributes
	// ========================================================================
	AttrStoreType = "store.type"
	AttrCacheHit  = "cache.hit"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanPAMRequest   = "pam.request"
	SpanProviderCall = "provider.call"
	SpanCertHelper   = "certhelper.run"
	SpanRefreshRun   = "refresh.run"
)

// ClientPID returns an attribute for the peer's process id.
func ClientPID(pid int32) attribute.KeyValue {
	return attribute.Int64(AttrClientPID, int64(pid))
}

// ClientUID returns an attribute for the peer's uid.
func ClientUID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrClientUID, int64(uid))
}

// ClientPrivileged marks requests that came in on the privileged socket.
func ClientPrivileged(p bool) attribute.KeyValue {
	return attribute.Bool(AttrClientPrivileged, p)
}

// ConnectionID returns an attribute for the socket connection id.
func ConnectionID(id string) attribute.KeyValue {
	return attribute.String(AttrConnectionID, id)
}

// PAMCommand returns an attribute for the PAM command name.
func PAMCommand(cmd string) attribute.KeyValue {
	return attribute.String(AttrPAMCommand, cmd)
}

// PAMVersion returns an attribute for the negotiated protocol version.
func PAMVersion(v int) attribute.KeyValue {
	return attribute.Int(AttrPAMVersion, v)
}

// PAMService returns an attribute for the PAM service name (sshd, login, ...).
func PAMService(s string) attribute.KeyValue {
	return attribute.String(AttrPAMService, s)
}

// PAMStatus returns an attribute for the numeric reply status.
func PAMStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrPAMStatus, status)
}

// PAMStatusName returns an attribute for the reply status name.
func PAMStatusName(name string) attribute.KeyValue {
	return attribute.String(AttrPAMStatusNm, name)
}

// AuthTokType returns an attribute for the kind of credential sent.
func AuthTokType(t string) attribute.KeyValue {
	return attribute.String(AttrPAMAuthTok, t)
}

// RequestID returns an attribute for the per-request id.
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// Username returns an attribute for the logon name.
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// Domain returns an attribute for the resolved domain.
func Domain(name string) attribute.KeyValue {
	return attribute.String(AttrDomain, name)
}

// AuthMethod returns an attribute for how the user was authenticated.
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// Provider returns an attribute for the backend name.
func Provider(name string) attribute.KeyValue {
	return attribute.String(AttrProvider, name)
}

// ProviderOperation returns an attribute for the backend operation.
func ProviderOperation(op string) attribute.KeyValue {
	return attribute.String(AttrProviderOp, op)
}

// Outcome returns an attribute for a provider call outcome.
func Outcome(o string) attribute.KeyValue {
	return attribute.String(AttrOutcome, o)
}

// StoreType returns an attribute for the identity store backend.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// CacheHit returns an attribute for cache hit/miss.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// StartPAMSpan starts the root span of one PAM request.
func StartPAMSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{PAMCommand(command)}, attrs...)
	return StartSpan(ctx, SpanPAMRequest,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(allAttrs...))
}

// StartProviderSpan starts a span around one provider backend call.
func StartProviderSpan(ctx context.Context, operation, provider string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ProviderOperation(operation), Provider(provider)}, attrs...)
	return StartSpan(ctx, SpanProviderCall,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(allAttrs...))
}
