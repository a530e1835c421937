// Package metrics wraps a Prometheus registry with the counters and
// histograms the registry exposes at the ambient /metrics endpoint
// (SPEC_FULL.md §2, component A3), grounded on the collector pattern
// used elsewhere in this dependency stack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric the registry records.
type Metrics struct {
	registry *prometheus.Registry

	Registrations         *prometheus.CounterVec
	RegistrationsFailed   *prometheus.CounterVec
	CompatibilityChecks   *prometheus.CounterVec
	ReplayLagCommands     prometheus.Gauge
	AppendDuration        prometheus.Histogram
	ReplicaForwardedTotal prometheus.Counter
}

// New constructs a Metrics with every series registered against a fresh
// Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_registrations_total",
			Help: "Schema registrations accepted, by subject.",
		}, []string{"subject"}),

		RegistrationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_registrations_failed_total",
			Help: "Schema registrations rejected, by subject and failure kind.",
		}, []string{"subject", "kind"}),

		CompatibilityChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_compatibility_checks_total",
			Help: "Compatibility checks performed, by policy and outcome.",
		}, []string{"policy", "compatible"}),

		ReplayLagCommands: factory.NewGauge(prometheus.GaugeOpts{
			Name: "registry_replay_lag_commands",
			Help: "Commands in the log not yet applied by this node's replay loop.",
		}),

		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "registry_append_duration_seconds",
			Help:    "Time spent appending a command to the log.",
			Buckets: prometheus.DefBuckets,
		}),

		ReplicaForwardedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "registry_replica_forwarded_total",
			Help: "Write requests a replica forwarded to the primary.",
		}),
	}
}

// Registry returns the underlying Prometheus registry for the /metrics
// HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
