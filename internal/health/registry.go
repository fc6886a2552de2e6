package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the process-wide metric families named in spec.md §4.3
// that are not already owned by another package (the bus owns its own
// bus_* counters; this registry owns the request/readiness/amnesia
// families).
type Registry struct {
	RequestLatency   *prometheus.HistogramVec
	ServiceRestarts  *prometheus.CounterVec
	AmnesiaMode      prometheus.Gauge
	HealthReady      *prometheus.GaugeVec
}

// NewRegistry constructs and registers the exposer's own metric families.
func NewRegistry() *Registry {
	return &Registry{
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ServiceRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "service_restarts_total",
			Help: "Total restarts per supervised service.",
		}, []string{"service"}),
		AmnesiaMode: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "amnesia_mode",
			Help: "1 when amnesia mode is active, 0 otherwise.",
		}),
		HealthReady: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_ready",
			Help: "1 when a named readiness check currently passes.",
		}, []string{"check"}),
	}
}

// SyncFromReadiness pushes the current readiness snapshot into the
// health_ready gauge family, and restart counters are kept in sync by the
// supervisor calling IncRestart/ObserveRestart directly.
func (r *Registry) SyncFromReadiness(snap Snapshot) {
	for name, v := range snap.Gates {
		g := r.HealthReady.WithLabelValues(name)
		if v {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
}

// ObserveRestart increments the Prometheus restart counter for a service.
// Callers (the supervisor) invoke this alongside Readiness.IncRestart so
// the two stay consistent; Prometheus counters can only move forward, so
// this is not driven from a Snapshot's absolute restart count.
func (r *Registry) ObserveRestart(service string) {
	r.ServiceRestarts.WithLabelValues(service).Inc()
}
