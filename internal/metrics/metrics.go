package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the Brain exposes on its /metrics
// surface. Grouping them in one struct keeps the orchestrator and executor
// from reaching into a global registry by name.
type Metrics struct {
	TickDuration     prometheus.Histogram
	PositionsOpen    prometheus.Gauge
	DecisionsTotal   *prometheus.CounterVec
	RPCFailuresTotal prometheus.Counter
	ExecutionLatency prometheus.Histogram
	StoreConflicts   prometheus.Counter
}

// New registers and returns the Brain's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "brain",
			Name:      "tick_duration_seconds",
			Help:      "Time taken to process one orchestrator tick across all open positions.",
			Buckets:   prometheus.DefBuckets,
		}),
		PositionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "brain",
			Name:      "positions_open",
			Help:      "Number of positions currently in the open or exiting state.",
		}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brain",
			Name:      "decisions_total",
			Help:      "Count of decision engine outcomes, labeled by kind and reason.",
		}, []string{"kind", "reason"}),
		RPCFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "brain",
			Name:      "rpc_failures_total",
			Help:      "Count of RPC calls that exhausted the endpoint pool's retries.",
		}),
		ExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "brain",
			Name:      "execution_latency_seconds",
			Help:      "Time from bundle submission to on-chain confirmation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		StoreConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "brain",
			Name:      "store_conflicts_total",
			Help:      "Count of optimistic-concurrency conflicts observed on position updates.",
		}),
	}
}

// RecordDecision increments the decisions counter for one tick's outcome.
func (m *Metrics) RecordDecision(kind, reason string) {
	m.DecisionsTotal.WithLabelValues(kind, reason).Inc()
}
