// Package metrics exposes the broker's Prometheus gauges and counters
// (github.com/prometheus/client_golang, already in the teacher's
// go.mod). Not named by spec.md directly — its Non-goals exclude
// replication and consensus, not observability — but ambient metrics
// are carried the way the teacher carries them for its mix servers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every broker-side Prometheus collector.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	StreamsActive     prometheus.Gauge
	EventsEnqueued    *prometheus.CounterVec
	EventsAcked       *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	AuthFailures      prometheus.Counter
}

// New registers and returns the broker's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "h3x_connections_active",
			Help: "Number of currently open QUIC connections.",
		}),
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "h3x_streams_active",
			Help: "Number of currently open bidirectional streams.",
		}),
		EventsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "h3x_events_enqueued_total",
			Help: "Events persisted to the durable queue, by namespace.",
		}, []string{"namespace"}),
		EventsAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "h3x_events_acked_total",
			Help: "Events removed from the durable queue via AckEvent, by namespace.",
		}, []string{"namespace"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "h3x_queue_depth",
			Help: "Unacknowledged events currently persisted, by namespace.",
		}, []string{"namespace"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "h3x_auth_failures_total",
			Help: "Auth frames rejected for unknown client_id or bad token.",
		}),
	}
}

// Serve starts a minimal HTTP server exposing /metrics on addr. It
// blocks until the process exits or the listener fails, and returns
// that error; no handle is exposed for shutting the server down.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
