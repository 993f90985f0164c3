// Package metrics exposes Prometheus instrumentation for the streaming hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors tracked by the server. Collectors register
// against the given registerer, so tests can pass a private registry.
type Metrics struct {
	ConnectionsActive      prometheus.Gauge
	ConnectionsTotal       prometheus.Counter
	SessionsInFlight       prometheus.Gauge
	SessionsTotal          *prometheus.CounterVec
	ChunksRelayedTotal     prometheus.Counter
	HeartbeatTimeoutsTotal prometheus.Counter
}

// New creates and registers all collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestra",
			Name:      "connections_active",
			Help:      "Number of currently registered client connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "connections_total",
			Help:      "Total number of client connections accepted.",
		}),
		SessionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestra",
			Name:      "sessions_in_flight",
			Help:      "Number of streaming sessions currently running.",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "sessions_total",
			Help:      "Total streaming sessions by terminal outcome.",
		}, []string{"outcome"}),
		ChunksRelayedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "chunks_relayed_total",
			Help:      "Total streamed chunks relayed to clients.",
		}),
		HeartbeatTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestra",
			Name:      "heartbeat_timeouts_total",
			Help:      "Total connections terminated for missing heartbeats.",
		}),
	}
}
