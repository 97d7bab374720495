package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so logs can be aggregated and queried.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request
	KeyRequestID = "request_id"
	KeyCommand   = "command"    // PAM command: AUTHENTICATE, CHAUTHTOK, ...
	KeyVersion   = "version"    // negotiated protocol version
	KeyStatus    = "pam_status" // PAM status code returned to the client
	KeyStatusMsg = "status_msg"
	KeyState     = "state" // orchestrator state

	// Client
	KeyClientPID    = "client_pid"
	KeyClientUID    = "client_uid"
	KeyConnectionID = "connection_id"
	KeyPrivileged   = "privileged"
	KeyService      = "service"
	KeyTTY          = "tty"
	KeyRHost        = "rhost"

	// Identity
	KeyUser      = "user"
	KeyDomain    = "domain"
	KeyUPN       = "upn"
	KeyTokenType = "authtok_type"
	KeyProvider  = "provider"

	// Outcome
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorMajor = "err_maj"
	KeyErrorMinor = "err_min"
	KeyCacheHit   = "cache_hit"
	KeyStoreType  = "store_type"
	KeyCount      = "count"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// RequestID returns a slog.Attr for the request UUID.
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Command returns a slog.Attr for the PAM command name.
func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

// Version returns a slog.Attr for the negotiated protocol version.
func Version(v int) slog.Attr { return slog.Int(KeyVersion, v) }

// Status returns a slog.Attr for a PAM status code.
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// StatusMsg returns a slog.Attr for human-readable status message
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// State returns a slog.Attr for an orchestrator state.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// ClientPID returns a slog.Attr for the client pid.
func ClientPID(pid uint32) slog.Attr { return slog.Any(KeyClientPID, pid) }

// ClientUID returns a slog.Attr for the peer uid.
func ClientUID(uid uint32) slog.Attr { return slog.Any(KeyClientUID, uid) }

// ConnectionID returns a slog.Attr for connection identifier
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }

// Service returns a slog.Attr for the PAM service name.
func Service(name string) slog.Attr { return slog.String(KeyService, name) }

// User returns a slog.Attr for a user name.
func User(name string) slog.Attr { return slog.String(KeyUser, name) }

// Domain returns a slog.Attr for domain name
func Domain(name string) slog.Attr { return slog.String(KeyDomain, name) }

// Provider returns a slog.Attr for a provider backend name.
func Provider(name string) slog.Attr { return slog.String(KeyProvider, name) }

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// CacheHit returns a slog.Attr for cache hit indicator
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

// StoreType returns a slog.Attr for store type
func StoreType(t string) slog.Attr { return slog.String(KeyStoreType, t) }
