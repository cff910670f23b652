// Package metrics tracks relay availability. Counters are kept in memory for
// the status snapshot clients can request and are mirrored into Prometheus
// instruments served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of registered sessions.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nubustream_connections_active",
		Help: "Current number of registered chat sessions",
	})

	// ConnectionsTotal counts session lifecycle events, labeled by
	// event: "opened" or "closed".
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nubustream_connections_total",
		Help: "Total number of session lifecycle events",
	}, []string{"event"})

	// MessagesTotal counts chat messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nubustream_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"type"}) // type = "delivered", "failed", "rejected"

	// DeliveriesTotal counts per-recipient frame deliveries by result.
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nubustream_deliveries_total",
		Help: "Total number of per-recipient deliveries",
	}, []string{"result"}) // result = "ok", "failed"

	// BroadcastLatency records how long one room fan-out takes.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nubustream_broadcast_latency_seconds",
		Help:    "Room fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// DurabilityOps counts durability backend operations.
	DurabilityOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nubustream_durability_ops_total",
		Help: "Total number of durability backend operations",
	}, []string{"op", "result"}) // op = "store", "publish"; result = "ok", "error"
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsTotal,
		MessagesTotal,
		DeliveriesTotal,
		BroadcastLatency,
		DurabilityOps,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDurability records the outcome of a durability operation.
func ObserveDurability(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	DurabilityOps.WithLabelValues(op, result).Inc()
}
