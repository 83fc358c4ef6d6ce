// Package metrics provides Prometheus instrumentation for Lattice.
//
// Metrics are exposed at /metrics in Prometheus text format and cover the
// ingestion pipeline, the decay sweep, and the recommendation read path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_events_ingested_total",
			Help: "Engagement events successfully applied to the graph",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_events_dropped_total",
			Help: "Engagement events dropped as unmappable or unresolvable",
		},
		[]string{"reason"},
	)

	MutationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_edge_mutations_total",
			Help: "Edge weight mutations applied by the ingestion path",
		},
	)

	// Reweighting metrics

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_decay_sweep_duration_seconds",
			Help:    "Duration of decay sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EdgesDecayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_edges_decayed_total",
			Help: "Edges decayed across all sweeps",
		},
	)

	EdgesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_edges_pruned_total",
			Help: "Edges pruned after decaying below epsilon",
		},
	)

	SweepEdgeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_sweep_edge_errors_total",
			Help: "Per-edge failures skipped during decay sweeps",
		},
	)

	// Read path metrics

	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_feed_requests_total",
			Help: "HTTP API requests served, by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	TraversalTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_traversal_truncated_total",
			Help: "Traversals truncated by the visitation budget",
		},
	)
)
