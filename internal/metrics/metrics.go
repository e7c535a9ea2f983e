// Package metrics exposes Prometheus counters/gauges for the commit log,
// orchestrator, and node runtime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CommitsApplied counts APPLY_COMMIT batches executed by the orchestrator.
	CommitsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataflow_commits_applied_total",
		Help: "Number of commits applied by orchestrator drivers, by dataflow_id.",
	}, []string{"dataflow_id"})

	// NodesDispatched counts node worker spawns.
	NodesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataflow_nodes_dispatched_total",
		Help: "Number of node workers dispatched, by node type.",
	}, []string{"node_type"})

	// NodeResultsTotal counts workflows reaching a terminal completed_success
	// or completed_failure status, labelled by that status. Individual node
	// completions and failures are not counted.
	NodeResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataflow_node_results_total",
		Help: "Number of workflows completing, by final workflow status.",
	}, []string{"outcome"})

	// ActiveOrchestrators tracks the number of live per-workflow drivers.
	ActiveOrchestrators = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataflow_active_orchestrators",
		Help: "Number of orchestrator driver loops currently running.",
	})

	// YieldRoundTrip observes yield()/reply latency in seconds.
	YieldRoundTrip = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataflow_yield_round_trip_seconds",
		Help:    "Latency between a node yield request and its reply.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(CommitsApplied, NodesDispatched, NodeResultsTotal, ActiveOrchestrators, YieldRoundTrip)
}
