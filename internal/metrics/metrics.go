// Package metrics exposes the AIO engine's operational counters and
// gauges through github.com/prometheus/client_golang, matching
// SPEC_FULL.md's Metrics row: handles-in-flight, completions by status,
// bounce-buffer occupancy, and read-stream distance/regime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this module registers. Construct one
// with New and register it with a *prometheus.Registry (or the default
// one via prometheus.MustRegister) at startup.
type Metrics struct {
	HandlesInFlight  prometheus.Gauge
	HandlesIdle      prometheus.Gauge
	Completions      *prometheus.CounterVec
	BounceBuffersUsed prometheus.Gauge
	StreamDistance   *prometheus.GaugeVec
	StreamRegime     *prometheus.GaugeVec
}

// New constructs every collector, namespaced under "aio".
func New() *Metrics {
	return &Metrics{
		HandlesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aio",
			Name:      "handles_in_flight",
			Help:      "Number of AIO handles acquired but not yet completed.",
		}),
		HandlesIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aio",
			Name:      "handles_idle",
			Help:      "Number of AIO handles currently IDLE across all backends.",
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aio",
			Name:      "completions_total",
			Help:      "Total completions by distilled result status.",
		}, []string{"status"}),
		BounceBuffersUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aio",
			Name:      "bounce_buffers_in_use",
			Help:      "Number of bounce buffers currently checked out of the pool.",
		}),
		StreamDistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aio",
			Subsystem: "readstream",
			Name:      "distance",
			Help:      "Current look-ahead distance of a read stream, by backend.",
		}, []string{"backend"}),
		StreamRegime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aio",
			Subsystem: "readstream",
			Name:      "regime",
			Help:      "Current distance-controller regime of a read stream (0=cached, 1=sequential, 2=random), by backend.",
		}, []string{"backend"}),
	}
}

// Collectors returns every collector in m, for bulk registration:
// registry.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HandlesInFlight,
		m.HandlesIdle,
		m.Completions,
		m.BounceBuffersUsed,
		m.StreamDistance,
		m.StreamRegime,
	}
}
