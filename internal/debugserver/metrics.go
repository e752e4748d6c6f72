package debugserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the debug stream's health. A nil *Metrics (see
// NewHub) disables all recording, since the debug server is optional
// tooling rather than a production dependency.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ChangesTotal      prometheus.Counter
	DroppedTotal      prometheus.Counter
	BroadcastDuration prometheus.Histogram
}

// NewMetrics registers the debug server's collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "debugserver",
			Name:      "connections_active",
			Help:      "Current number of connected WebSocket debug clients.",
		}),
		ChangesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debugserver",
			Name:      "changes_broadcast_total",
			Help:      "Total number of feature changes broadcast to subscribers.",
		}),
		DroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debugserver",
			Name:      "changes_dropped_total",
			Help:      "Total number of feature changes dropped due to a full broadcast buffer.",
		}),
		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "debugserver",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of one fan-out to all connected subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
	}
}
