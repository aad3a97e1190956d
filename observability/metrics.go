package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to record
// RPC module activity and emitted auction events.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sealedbid",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module, method, and outcome.",
			}, []string{"module", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "sealedbid",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sealedbid",
				Subsystem: "auction",
				Name:      "events_total",
				Help:      "Count of auction events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.latency,
			moduleRegistry.events,
		)
	})
	return moduleRegistry
}

// ObserveRequest records one handled RPC request.
func (m *moduleMetrics) ObserveRequest(module, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(elapsed.Seconds())
}

// RecordEvent increments the counter for an emitted auction event type.
func (m *moduleMetrics) RecordEvent(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
