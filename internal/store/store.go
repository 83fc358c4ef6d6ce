// Package store provides graph persistence backends for Lattice.
//
// It defines the GraphStore interface that all backends must satisfy,
// along with common types shared across implementations. Two backends
// exist: a durable BadgerDB store and an in-memory store for tests and
// ephemeral runs.
package store

import (
	"context"

	"github.com/latticefeed/lattice/internal/graph"
)

// Neighbor is a single entry in an adjacency query result.
type Neighbor struct {
	// ID is the neighbor node ID.
	ID string

	// Weight is the weight of the connecting edge.
	Weight float64
}

// Stats summarizes store size.
type Stats struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Tombstones int `json:"tombstones"`
}

// GraphStore defines the contract for graph persistence backends.
//
// Implementations must be safe for concurrent use. The unit of atomicity
// is a single node or edge mutation; there is no cross-edge transaction.
// Reads observe a consistent snapshot and never block on writers.
type GraphStore interface {
	// Close releases all resources held by the backend.
	Close() error

	// Node operations

	// UpsertNode creates the node if absent (by natural key) and returns
	// its ID. If a node with the same kind and key already exists, the
	// existing ID is returned and any richer payload fields (resolved
	// content metadata, agent specialization) are merged in. Idempotent.
	UpsertNode(ctx context.Context, node *graph.Node) (string, error)

	// GetNode returns the node with the given ID.
	// Returns graph.ErrNotFound if the node does not exist; tombstoned
	// nodes are returned with their flag set.
	GetNode(ctx context.Context, nodeID string) (*graph.Node, error)

	// Tombstone marks a node inactive. Idempotent; does not cascade to
	// edges. Returns graph.ErrNotFound for unknown IDs.
	Tombstone(ctx context.Context, nodeID string) error

	// Edge operations

	// UpsertEdge creates the edge with weight max(0, delta) if absent,
	// otherwise adds delta to the current weight (clamped at zero) and
	// refreshes its timestamp. Returns graph.ErrNotFound if either
	// endpoint is missing or tombstoned.
	UpsertEdge(ctx context.Context, from, to string, typ graph.EdgeType, delta float64) error

	// GetEdge returns the edge for (from, to, typ), or graph.ErrNotFound.
	GetEdge(ctx context.Context, from, to string, typ graph.EdgeType) (*graph.Edge, error)

	// ScaleEdge multiplies the edge weight by factor atomically. If the
	// resulting weight falls below pruneBelow the edge is removed; the
	// returned bool reports whether it was pruned. Missing edges are a
	// no-op (false, nil): sweeps race with pruning by design.
	ScaleEdge(ctx context.Context, from, to string, typ graph.EdgeType, factor, pruneBelow float64) (bool, error)

	// GetNeighbors returns outgoing neighbors of the node ordered by
	// descending weight. typ filters by edge type when non-empty;
	// minWeight drops weaker edges. Neighbors that are tombstoned are
	// excluded. An empty result is not an error.
	GetNeighbors(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error)

	// GetIncoming is GetNeighbors over incoming edges: it returns the
	// source nodes of edges pointing at nodeID, descending by weight.
	GetIncoming(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error)

	// ForEachEdge invokes fn for every edge in a read snapshot. Used by
	// the decay sweep; fn must not mutate the store through the
	// iteration's snapshot.
	ForEachEdge(ctx context.Context, fn func(graph.Edge) error) error

	// Stats returns store size counters.
	Stats(ctx context.Context) (Stats, error)
}

// edgeKey builds the canonical key for an edge. Node IDs never contain
// the separator: natural keys are normalized before upsert.
func edgeKey(from, to string, typ graph.EdgeType) string {
	return from + "|" + string(typ) + "|" + to
}
