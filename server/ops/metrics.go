package ops

import "github.com/prometheus/client_golang/prometheus"

var (
	pollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustermap",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Poll cycles by status kind and result",
	}, []string{"kind", "result"})

	snapshotPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustermap",
		Subsystem: "snapshot",
		Name:      "publishes_total",
		Help:      "Status snapshots published by kind",
	}, []string{"kind"})

	graphMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustermap",
		Subsystem: "graph",
		Name:      "mutations_total",
		Help:      "Graph mutations applied by graph and operation",
	}, []string{"graph", "op"})

	reconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clustermap",
		Subsystem: "graph",
		Name:      "reconcile_seconds",
		Help:      "Time taken to reconcile a graph with a snapshot",
	}, []string{"graph"})

	reachableHosts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clustermap",
		Subsystem: "monitor",
		Name:      "reachable_hosts",
		Help:      "Hosts with at least one healthy status poll",
	})
)

func init() {
	prometheus.MustRegister(
		pollCycles,
		snapshotPublishes,
		graphMutations,
		reconcileDuration,
		reachableHosts,
	)
}
