package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/latticefeed/lattice/internal/graph"
)

// MemoryStore is an in-memory GraphStore for tests and ephemeral runs.
//
// A single RWMutex guards all state; per-edge atomicity is trivially
// satisfied because every mutation holds the write lock.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*graph.Node
	edges map[string]*graph.Edge

	// Adjacency indexes: node ID -> set of edge keys.
	outgoing map[string]map[string]struct{}
	incoming map[string]map[string]struct{}

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*graph.Node),
		edges:    make(map[string]*graph.Edge),
		outgoing: make(map[string]map[string]struct{}),
		incoming: make(map[string]map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the store clock. Test hook.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close implements GraphStore. No resources to release.
func (s *MemoryStore) Close() error { return nil }

// UpsertNode creates the node if absent and returns its ID.
func (s *MemoryStore) UpsertNode(ctx context.Context, node *graph.Node) (string, error) {
	id, prepared, err := prepareNode(node, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[id]; ok {
		mergePayload(existing, prepared)
		return id, nil
	}

	s.nodes[id] = prepared
	return id, nil
}

// GetNode returns the node with the given ID.
func (s *MemoryStore) GetNode(ctx context.Context, nodeID string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, graph.NotFoundError(nodeID)
	}
	cp := *node
	return &cp, nil
}

// Tombstone marks a node inactive. Idempotent.
func (s *MemoryStore) Tombstone(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return graph.NotFoundError(nodeID)
	}
	node.Tombstoned = true
	return nil
}

// UpsertEdge creates or strengthens the edge (from, to, typ).
func (s *MemoryStore) UpsertEdge(ctx context.Context, from, to string, typ graph.EdgeType, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{from, to} {
		node, ok := s.nodes[id]
		if !ok || node.Tombstoned {
			return graph.NotFoundError(id)
		}
	}

	key := edgeKey(from, to, typ)
	edge, ok := s.edges[key]
	if !ok {
		edge = &graph.Edge{From: from, To: to, Type: typ}
		s.edges[key] = edge
		s.index(from, to, key)
	}

	edge.Weight += delta
	if edge.Weight < 0 {
		edge.Weight = 0
	}
	edge.UpdatedAt = s.now()
	return nil
}

// GetEdge returns the edge for (from, to, typ).
func (s *MemoryStore) GetEdge(ctx context.Context, from, to string, typ graph.EdgeType) (*graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.edges[edgeKey(from, to, typ)]
	if !ok {
		return nil, graph.NotFoundError(edgeKey(from, to, typ))
	}
	cp := *edge
	return &cp, nil
}

// ScaleEdge multiplies the edge weight by factor, pruning below pruneBelow.
func (s *MemoryStore) ScaleEdge(ctx context.Context, from, to string, typ graph.EdgeType, factor, pruneBelow float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey(from, to, typ)
	edge, ok := s.edges[key]
	if !ok {
		return false, nil
	}

	edge.Weight *= factor
	if edge.Weight < 0 {
		edge.Weight = 0
	}
	if edge.Weight < pruneBelow {
		delete(s.edges, key)
		delete(s.outgoing[from], key)
		delete(s.incoming[to], key)
		return true, nil
	}
	edge.UpdatedAt = s.now()
	return false, nil
}

// GetNeighbors returns outgoing neighbors ordered by descending weight.
func (s *MemoryStore) GetNeighbors(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.outgoing[nodeID], typ, minWeight, func(e *graph.Edge) string { return e.To }), nil
}

// GetIncoming returns incoming neighbors ordered by descending weight.
func (s *MemoryStore) GetIncoming(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.incoming[nodeID], typ, minWeight, func(e *graph.Edge) string { return e.From }), nil
}

// ForEachEdge invokes fn for every edge in a copied snapshot.
func (s *MemoryStore) ForEachEdge(ctx context.Context, fn func(graph.Edge) error) error {
	s.mu.RLock()
	snapshot := make([]graph.Edge, 0, len(s.edges))
	for _, edge := range s.edges {
		snapshot = append(snapshot, *edge)
	}
	s.mu.RUnlock()

	// Deterministic iteration order keeps sweep behavior reproducible.
	sort.Slice(snapshot, func(i, j int) bool {
		return edgeKey(snapshot[i].From, snapshot[i].To, snapshot[i].Type) <
			edgeKey(snapshot[j].From, snapshot[j].To, snapshot[j].Type)
	})

	for _, edge := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(edge); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns store size counters.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Nodes: len(s.nodes), Edges: len(s.edges)}
	for _, node := range s.nodes {
		if node.Tombstoned {
			stats.Tombstones++
		}
	}
	return stats, nil
}

// index records an edge key in both adjacency indexes.
// Must be called with the write lock held.
func (s *MemoryStore) index(from, to, key string) {
	if s.outgoing[from] == nil {
		s.outgoing[from] = make(map[string]struct{})
	}
	s.outgoing[from][key] = struct{}{}

	if s.incoming[to] == nil {
		s.incoming[to] = make(map[string]struct{})
	}
	s.incoming[to][key] = struct{}{}
}

// collect gathers qualifying neighbors from an adjacency set.
// Must be called with at least the read lock held.
func (s *MemoryStore) collect(keys map[string]struct{}, typ graph.EdgeType, minWeight float64, pick func(*graph.Edge) string) []Neighbor {
	neighbors := make([]Neighbor, 0, len(keys))
	for key := range keys {
		edge, ok := s.edges[key]
		if !ok {
			continue
		}
		if typ != "" && edge.Type != typ {
			continue
		}
		if edge.Weight < minWeight {
			continue
		}
		id := pick(edge)
		if node, ok := s.nodes[id]; !ok || node.Tombstoned {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: id, Weight: edge.Weight})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].ID < neighbors[j].ID
	})
	return neighbors
}
