package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/latticefeed/lattice/internal/graph"
)

// Key prefixes for the different record types.
const (
	prefixNode     = "n:" // node data
	prefixEdge     = "e:" // edge data
	prefixOutgoing = "o:" // outgoing adjacency index
	prefixIncoming = "i:" // incoming adjacency index
)

// maxCommitRetries bounds optimistic-concurrency retries on write conflicts.
// Conflicting edge mutations (decay vs. reinforcement on the same edge) are
// re-run from scratch, so each retry observes the other writer's result.
const maxCommitRetries = 8

// BadgerStore is a durable BadgerDB-backed GraphStore.
//
// Every mutation is a single Badger transaction, which gives per-node and
// per-edge atomicity without any package-level locking. Reads run on MVCC
// snapshots and never block on writers.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens or creates the BadgerDB database at the given path.
func OpenBadger(path string, readOnly bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR)

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger at %s: %v", graph.ErrStoreUnavailable, path, err)
	}

	return &BadgerStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNow overrides the store clock. Test hook.
func (s *BadgerStore) SetNow(now func() time.Time) {
	s.now = now
}

// Close releases all resources held by the store.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) && attempt < maxCommitRetries {
			continue
		}
		return err
	}
}

// UpsertNode creates the node if absent and returns its ID.
func (s *BadgerStore) UpsertNode(ctx context.Context, node *graph.Node) (string, error) {
	id, prepared, err := prepareNode(node, s.now())
	if err != nil {
		return "", err
	}

	err = s.update(func(txn *badger.Txn) error {
		existing, err := getNode(txn, id)
		if err != nil && !errors.Is(err, graph.ErrNotFound) {
			return err
		}
		if existing != nil {
			mergePayload(existing, prepared)
			return setJSON(txn, nodeKey(id), existing)
		}
		return setJSON(txn, nodeKey(id), prepared)
	})
	if err != nil {
		return "", storeErr("upserting node", err)
	}
	return id, nil
}

// GetNode returns the node with the given ID.
func (s *BadgerStore) GetNode(ctx context.Context, nodeID string) (*graph.Node, error) {
	var node *graph.Node
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = getNode(txn, nodeID)
		return err
	})
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("getting node", err)
	}
	return node, nil
}

// Tombstone marks a node inactive. Idempotent.
func (s *BadgerStore) Tombstone(ctx context.Context, nodeID string) error {
	err := s.update(func(txn *badger.Txn) error {
		node, err := getNode(txn, nodeID)
		if err != nil {
			return err
		}
		if node.Tombstoned {
			return nil
		}
		node.Tombstoned = true
		return setJSON(txn, nodeKey(nodeID), node)
	})
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return err
		}
		return storeErr("tombstoning node", err)
	}
	return nil
}

// UpsertEdge creates or strengthens the edge (from, to, typ).
func (s *BadgerStore) UpsertEdge(ctx context.Context, from, to string, typ graph.EdgeType, delta float64) error {
	key := edgeKey(from, to, typ)

	err := s.update(func(txn *badger.Txn) error {
		for _, id := range []string{from, to} {
			node, err := getNode(txn, id)
			if err != nil {
				return err
			}
			if node.Tombstoned {
				return graph.NotFoundError(id)
			}
		}

		edge, err := getEdge(txn, key)
		if err != nil && !errors.Is(err, graph.ErrNotFound) {
			return err
		}
		created := edge == nil
		if created {
			edge = &graph.Edge{From: from, To: to, Type: typ}
		}

		edge.Weight += delta
		if edge.Weight < 0 {
			edge.Weight = 0
		}
		edge.UpdatedAt = s.now()

		if err := setJSON(txn, []byte(prefixEdge+key), edge); err != nil {
			return err
		}
		if created {
			if err := txn.Set(outKey(from, to, typ), []byte(key)); err != nil {
				return err
			}
			if err := txn.Set(inKey(from, to, typ), []byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return err
		}
		return storeErr("upserting edge", err)
	}
	return nil
}

// GetEdge returns the edge for (from, to, typ).
func (s *BadgerStore) GetEdge(ctx context.Context, from, to string, typ graph.EdgeType) (*graph.Edge, error) {
	var edge *graph.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = getEdge(txn, edgeKey(from, to, typ))
		return err
	})
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("getting edge", err)
	}
	return edge, nil
}

// ScaleEdge multiplies the edge weight by factor, pruning below pruneBelow.
func (s *BadgerStore) ScaleEdge(ctx context.Context, from, to string, typ graph.EdgeType, factor, pruneBelow float64) (bool, error) {
	key := edgeKey(from, to, typ)
	pruned := false

	err := s.update(func(txn *badger.Txn) error {
		pruned = false
		edge, err := getEdge(txn, key)
		if errors.Is(err, graph.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		edge.Weight *= factor
		if edge.Weight < 0 {
			edge.Weight = 0
		}
		if edge.Weight < pruneBelow {
			pruned = true
			if err := txn.Delete([]byte(prefixEdge + key)); err != nil {
				return err
			}
			if err := txn.Delete(outKey(from, to, typ)); err != nil {
				return err
			}
			return txn.Delete(inKey(from, to, typ))
		}
		edge.UpdatedAt = s.now()
		return setJSON(txn, []byte(prefixEdge+key), edge)
	})
	if err != nil {
		return false, storeErr("scaling edge", err)
	}
	return pruned, nil
}

// GetNeighbors returns outgoing neighbors ordered by descending weight.
func (s *BadgerStore) GetNeighbors(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error) {
	return s.adjacency(prefixOutgoing, nodeID, typ, minWeight, func(e *graph.Edge) string { return e.To })
}

// GetIncoming returns incoming neighbors ordered by descending weight.
func (s *BadgerStore) GetIncoming(ctx context.Context, nodeID string, typ graph.EdgeType, minWeight float64) ([]Neighbor, error) {
	return s.adjacency(prefixIncoming, nodeID, typ, minWeight, func(e *graph.Edge) string { return e.From })
}

// adjacency scans one adjacency index and materializes qualifying neighbors.
func (s *BadgerStore) adjacency(indexPrefix, nodeID string, typ graph.EdgeType, minWeight float64, pick func(*graph.Edge) string) ([]Neighbor, error) {
	prefix := indexPrefix + nodeID + "|"
	if typ != "" {
		prefix += string(typ) + "|"
	}

	var neighbors []Neighbor
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var key string
			if err := it.Item().Value(func(val []byte) error {
				key = string(val)
				return nil
			}); err != nil {
				return err
			}

			edge, err := getEdge(txn, key)
			if errors.Is(err, graph.ErrNotFound) {
				continue // pruned between index scan and load
			}
			if err != nil {
				return err
			}
			if edge.Weight < minWeight {
				continue
			}

			id := pick(edge)
			node, err := getNode(txn, id)
			if err != nil || node.Tombstoned {
				continue
			}
			neighbors = append(neighbors, Neighbor{ID: id, Weight: edge.Weight})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("scanning neighbors", err)
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].ID < neighbors[j].ID
	})
	return neighbors, nil
}

// ForEachEdge invokes fn for every edge in a read snapshot.
func (s *BadgerStore) ForEachEdge(ctx context.Context, fn func(graph.Edge) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEdge)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var edge graph.Edge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &edge)
			}); err != nil {
				return err
			}
			if err := fn(edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return storeErr("iterating edges", err)
	}
	return err
}

// Stats returns store size counters.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixNode)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var node graph.Node
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &node)
			}); err != nil {
				continue
			}
			stats.Nodes++
			if node.Tombstoned {
				stats.Tombstones++
			}
		}
		it.Close()

		opts.Prefix = []byte(prefixEdge)
		opts.PrefetchValues = false
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stats.Edges++
		}
		return nil
	})
	if err != nil {
		return Stats{}, storeErr("counting", err)
	}
	return stats, nil
}

// Transaction helpers

func getNode(txn *badger.Txn, nodeID string) (*graph.Node, error) {
	item, err := txn.Get(nodeKey(nodeID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, graph.NotFoundError(nodeID)
	}
	if err != nil {
		return nil, err
	}

	var node graph.Node
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return nil, err
	}
	return &node, nil
}

func getEdge(txn *badger.Txn, key string) (*graph.Edge, error) {
	item, err := txn.Get([]byte(prefixEdge + key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, graph.NotFoundError(key)
	}
	if err != nil {
		return nil, err
	}

	var edge graph.Edge
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &edge)
	}); err != nil {
		return nil, err
	}
	return &edge, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func nodeKey(nodeID string) []byte {
	return []byte(prefixNode + nodeID)
}

func outKey(from, to string, typ graph.EdgeType) []byte {
	return []byte(prefixOutgoing + from + "|" + string(typ) + "|" + to)
}

func inKey(from, to string, typ graph.EdgeType) []byte {
	return []byte(prefixIncoming + to + "|" + string(typ) + "|" + from)
}

// storeErr wraps a backend failure as a store-unavailable error.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", graph.ErrStoreUnavailable, op, err)
}
