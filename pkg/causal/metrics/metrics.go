package metrics

import "github.com/prometheus/client_golang/prometheus"

// Anomalies that are handled locally (stale deltas, lazily created
// consumers) are not errors; they are only counted.

var (
	StaleDeltasDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clonos",
		Subsystem: "causal",
		Name:      "stale_deltas_discarded_total",
		Help:      "Upstream log deltas discarded because the receiver already held their bytes or had reclaimed their epoch.",
	})
	ConsumersLazilyCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clonos",
		Subsystem: "causal",
		Name:      "consumers_lazily_created_total",
		Help:      "Consumer cursors created on first read instead of at registration.",
	})
)

func init() {
	prometheus.MustRegister(StaleDeltasDiscarded, ConsumersLazilyCreated)
}
