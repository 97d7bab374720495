// Package metrics provides Prometheus metrics collection for dittopam.
//
// All metrics are optional: if the registry is not initialized, the
// constructors return nil and components skip collection. Components take
// the metrics interfaces declared here and call them through the nil-safe
// helpers.
//
// Usage:
//
//	metrics.InitRegistry()
//	pamMetrics := metrics.NewPAMMetrics()
//	storeMetrics := metrics.NewStoreMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global registry together with the Go runtime
// and process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
