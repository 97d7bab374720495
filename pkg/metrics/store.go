package metrics

import "time"

// StoreMetrics observes identity store operations.
type StoreMetrics interface {
	// RecordStoreOperation records one call. outcome is "success",
	// "not_found" or "error".
	RecordStoreOperation(backend, operation, outcome string, duration time.Duration)
}

// NewStoreMetrics creates the Prometheus-backed StoreMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() StoreMetrics {
	if !IsEnabled() || newPrometheusStoreMetrics == nil {
		return nil
	}
	return newPrometheusStoreMetrics()
}

var newPrometheusStoreMetrics func() StoreMetrics

// RegisterStoreMetricsConstructor registers the Prometheus constructor.
func RegisterStoreMetricsConstructor(constructor func() StoreMetrics) {
	newPrometheusStoreMetrics = constructor
}

// RecordStoreOperation is a nil-safe wrapper.
func RecordStoreOperation(m StoreMetrics, backend, op, outcome string, d time.Duration) {
	if m != nil {
		m.RecordStoreOperation(backend, op, outcome, d)
	}
}
