package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittopam/pkg/metrics"
)

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewStoreMetrics creates the identity store collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &storeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_store_operations_total",
				Help: "Identity store operations by backend, operation and outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittopam_store_operation_duration_milliseconds",
				Help: "Duration of identity store operations in milliseconds",
				Buckets: []float64{
					0.1, // 100us - memory and badger hits
					0.5,
					1,
					5,
					10, // 10ms - postgres round trip
					50,
					100,
					500,
				},
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *storeMetrics) RecordStoreOperation(backend, operation, outcome string, duration time.Duration) {
	m.operations.WithLabelValues(backend, operation, outcome).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(float64(duration.Microseconds()) / 1000)
}
