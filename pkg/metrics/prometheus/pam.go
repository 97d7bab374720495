// Package prometheus implements the metrics interfaces with the Prometheus
// client. Importing it registers the constructors with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittopam/pkg/metrics"
)

func init() {
	metrics.RegisterPAMMetricsConstructor(NewPAMMetrics)
	metrics.RegisterStoreMetricsConstructor(NewStoreMetrics)
}

// pamMetrics is the Prometheus implementation of metrics.PAMMetrics.
type pamMetrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inFlight          *prometheus.GaugeVec
	activeConnections prometheus.Gauge
	connections       *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	orphaned          *prometheus.CounterVec
	cacheAuth         *prometheus.CounterVec
	negcacheHits      prometheus.Counter
}

// NewPAMMetrics creates the collectors on the global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPAMMetrics() metrics.PAMMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &pamMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_requests_total",
				Help: "Total number of PAM requests by command and reply status",
			},
			[]string{"command", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittopam_request_duration_milliseconds",
				Help: "Time from frame receipt to reply in milliseconds",
				Buckets: []float64{
					1,     // cached answer
					5,     // 5ms
					25,    // 25ms
					100,   // 100ms - typical provider round trip
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - response delay
					30000, // 30s
				},
			},
			[]string{"command"},
		),
		inFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittopam_requests_in_flight",
				Help: "PAM requests currently being processed",
			},
			[]string{"command"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittopam_active_connections",
				Help: "Open PAM client connections",
			},
		),
		connections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_connections_total",
				Help: "PAM client connection events",
			},
			[]string{"event"}, // "accepted", "closed", "force_closed"
		),
		providerCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_provider_calls_total",
				Help: "Provider backend calls by operation, provider and outcome",
			},
			[]string{"operation", "provider", "outcome"},
		),
		providerDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittopam_provider_call_duration_milliseconds",
				Help:    "Duration of provider backend calls in milliseconds",
				Buckets: []float64{5, 25, 100, 250, 1000, 5000, 30000, 150000},
			},
			[]string{"operation", "provider"},
		),
		orphaned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_orphaned_completions_total",
				Help: "Provider completions dropped because their request was gone",
			},
			[]string{"operation"},
		),
		cacheAuth: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittopam_cache_auth_total",
				Help: "Authentications against cached credentials by outcome",
			},
			[]string{"outcome"},
		),
		negcacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittopam_negative_cache_hits_total",
				Help: "Lookups answered by the negative cache",
			},
		),
	}
}

func (m *pamMetrics) RecordRequest(command, status string, duration time.Duration) {
	m.requests.WithLabelValues(command, status).Inc()
	m.requestDuration.WithLabelValues(command).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *pamMetrics) RecordRequestStart(command string) {
	m.inFlight.WithLabelValues(command).Inc()
}

func (m *pamMetrics) RecordRequestEnd(command string) {
	m.inFlight.WithLabelValues(command).Dec()
}

func (m *pamMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *pamMetrics) RecordConnectionAccepted() {
	m.connections.WithLabelValues("accepted").Inc()
}

func (m *pamMetrics) RecordConnectionClosed() {
	m.connections.WithLabelValues("closed").Inc()
}

func (m *pamMetrics) RecordConnectionForceClosed() {
	m.connections.WithLabelValues("force_closed").Inc()
}

func (m *pamMetrics) RecordProviderCall(operation, provider, outcome string, duration time.Duration) {
	m.providerCalls.WithLabelValues(operation, provider, outcome).Inc()
	m.providerDuration.WithLabelValues(operation, provider).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *pamMetrics) RecordOrphanedCompletion(operation string) {
	m.orphaned.WithLabelValues(operation).Inc()
}

func (m *pamMetrics) RecordCacheAuth(outcome string) {
	m.cacheAuth.WithLabelValues(outcome).Inc()
}

func (m *pamMetrics) RecordNegativeCacheHit() {
	m.negcacheHits.Inc()
}
