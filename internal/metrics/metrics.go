// Package metrics keeps the hosting counters in a Prometheus registry and
// exports them as a node_exporter textfile. Nothing here listens on a socket.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/hosting/internal/session"
)

// TextfileName is the default textfile name inside the storage directory.
const TextfileName = "hosting.prom"

// Metrics holds the hosting collectors.
type Metrics struct {
	registry *prometheus.Registry

	canaryWrites    prometheus.Counter
	lastCanaryWrite prometheus.Gauge
	transitions     *prometheus.CounterVec
}

// New registers the hosting collectors. enabled backs the
// hosting_feature_enabled gauge and may be nil.
func New(enabled func() bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		canaryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hosting",
			Name:      "canary_writes_total",
			Help:      "Number of liveness marker writes.",
		}),
		lastCanaryWrite: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hosting",
			Name:      "canary_last_write_timestamp_seconds",
			Help:      "Unix time of the last liveness marker write.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hosting",
			Name:      "session_transitions_total",
			Help:      "Session state transitions observed, by target state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(m.canaryWrites, m.lastCanaryWrite, m.transitions)

	if enabled != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "hosting",
			Name:      "feature_enabled",
			Help:      "1 when canary writes are enabled in Hosting.cfg.",
		}, func() float64 {
			if enabled() {
				return 1
			}
			return 0
		}))
	}

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCanaryWrite records a marker write at t.
func (m *Metrics) ObserveCanaryWrite(t time.Time) {
	m.canaryWrites.Inc()
	m.lastCanaryWrite.Set(float64(t.UnixNano()) / 1e9)
}

// OnTransition counts a session transition. It satisfies session.Listener.
func (m *Metrics) OnTransition(state session.State) error {
	m.transitions.WithLabelValues(state.String()).Inc()
	return nil
}

// WriteTextfile atomically writes the registry in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
