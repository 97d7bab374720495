package metrics

import "time"

// PAMMetrics provides observability for the PAM responder and its socket
// adapter. A nil PAMMetrics disables collection; use the package helpers to
// call it without nil checks.
//
// Example usage:
//
//	m := metrics.NewPAMMetrics() // nil unless InitRegistry was called
//	disp := provider.NewDispatcher(timeout, m)
type PAMMetrics interface {
	// RecordRequest records a completed PAM request.
	//
	// Parameters:
	//   - command: PAM command name (e.g. "AUTHENTICATE")
	//   - status: PAM status name of the reply (e.g. "PAM_SUCCESS")
	//   - duration: time from frame receipt to reply
	RecordRequest(command, status string, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge for command.
	RecordRequestStart(command string)

	// RecordRequestEnd decrements the in-flight gauge for command.
	RecordRequestEnd(command string)

	// SetActiveConnections updates the open client connection count.
	SetActiveConnections(count int32)

	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by a shutdown
	// that ran out of time.
	RecordConnectionForceClosed()

	// RecordProviderCall records one dispatched backend call. outcome is one
	// of "success", "offline", "timeout", "error" or "transport".
	RecordProviderCall(operation, provider, outcome string, duration time.Duration)

	// RecordOrphanedCompletion counts completions dropped because the
	// request that started them was gone.
	RecordOrphanedCompletion(operation string)

	// RecordCacheAuth records an offline authentication attempt against
	// cached credentials. outcome is "success", "denied", "wrong_password",
	// "no_credentials" or "error".
	RecordCacheAuth(outcome string)

	// RecordNegativeCacheHit counts lookups answered by the negative cache.
	RecordNegativeCacheHit()
}

// NewPAMMetrics creates the Prometheus-backed PAMMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPAMMetrics() PAMMetrics {
	if !IsEnabled() || newPrometheusPAMMetrics == nil {
		return nil
	}
	return newPrometheusPAMMetrics()
}

// newPrometheusPAMMetrics is set by pkg/metrics/prometheus during package
// initialization, which keeps this package free of the client dependency.
var newPrometheusPAMMetrics func() PAMMetrics

// RegisterPAMMetricsConstructor registers the Prometheus constructor.
func RegisterPAMMetricsConstructor(constructor func() PAMMetrics) {
	newPrometheusPAMMetrics = constructor
}

// RecordRequest is a nil-safe wrapper for PAMMetrics.RecordRequest.
func RecordRequest(m PAMMetrics, command, status string, d time.Duration) {
	if m != nil {
		m.RecordRequest(command, status, d)
	}
}

// RecordRequestStart is a nil-safe wrapper for PAMMetrics.RecordRequestStart.
func RecordRequestStart(m PAMMetrics, command string) {
	if m != nil {
		m.RecordRequestStart(command)
	}
}

// RecordRequestEnd is a nil-safe wrapper for PAMMetrics.RecordRequestEnd.
func RecordRequestEnd(m PAMMetrics, command string) {
	if m != nil {
		m.RecordRequestEnd(command)
	}
}

// RecordProviderCall is a nil-safe wrapper for PAMMetrics.RecordProviderCall.
func RecordProviderCall(m PAMMetrics, op, provider, outcome string, d time.Duration) {
	if m != nil {
		m.RecordProviderCall(op, provider, outcome, d)
	}
}

// RecordOrphanedCompletion is a nil-safe wrapper.
func RecordOrphanedCompletion(m PAMMetrics, op string) {
	if m != nil {
		m.RecordOrphanedCompletion(op)
	}
}

// RecordCacheAuth is a nil-safe wrapper for PAMMetrics.RecordCacheAuth.
func RecordCacheAuth(m PAMMetrics, outcome string) {
	if m != nil {
		m.RecordCacheAuth(outcome)
	}
}

// RecordNegativeCacheHit is a nil-safe wrapper.
func RecordNegativeCacheHit(m PAMMetrics) {
	if m != nil {
		m.RecordNegativeCacheHit()
	}
}
