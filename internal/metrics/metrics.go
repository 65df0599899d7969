// Package metrics exposes Prometheus instrumentation for reconciliation
// passes and per-order outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors. One instance per process.
type Metrics struct {
	registry *prometheus.Registry

	passes       *prometheus.CounterVec
	orders       *prometheus.CounterVec
	passDuration prometheus.Histogram
}

// New creates and registers the tallyman collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_passes_total",
			Help: "Reconciliation passes by result (ok, auth_failed, store_failed, snapshot_failed, cancelled).",
		}, []string{"result"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tallyman_orders_total",
			Help: "Per-order pass outcomes (submitted, retired, skipped, rejected, dropped).",
		}, []string{"action"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tallyman_pass_duration_seconds",
			Help:    "Wall-clock duration of one reconciliation pass.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	m.registry.MustRegister(m.passes, m.orders, m.passDuration)
	return m
}

// PassFinished records a completed pass with the given result label.
func (m *Metrics) PassFinished(result string, elapsed time.Duration) {
	m.passes.WithLabelValues(result).Inc()
	m.passDuration.Observe(elapsed.Seconds())
}

// OrderOutcome records one per-order action.
func (m *Metrics) OrderOutcome(action string) {
	m.orders.WithLabelValues(action).Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
