package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/latticefeed/lattice/internal/graph"
)

// prepareNode validates a node for upsert and returns its deterministic ID
// alongside a defensive copy with ID and CreatedAt populated.
func prepareNode(node *graph.Node, now time.Time) (string, *graph.Node, error) {
	if node == nil {
		return "", nil, fmt.Errorf("nil node")
	}
	if !node.Kind.Valid() {
		return "", nil, fmt.Errorf("unknown node kind %q", node.Kind)
	}

	key := normalizeKey(node.Kind, node.Key)
	if key == "" {
		return "", nil, fmt.Errorf("empty natural key for %s node", node.Kind)
	}

	cp := *node
	cp.Key = key
	cp.ID = graph.NodeID(cp.Kind, key)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	return cp.ID, &cp, nil
}

// normalizeKey canonicalizes a natural key. Topic keys fold case so that
// "GoLang" and "golang" resolve to the same node; all keys drop the key
// separator characters so IDs and edge keys stay parseable.
func normalizeKey(kind graph.NodeKind, key string) string {
	key = strings.TrimSpace(key)
	key = strings.Map(func(r rune) rune {
		if r == '|' || r == ':' {
			return '-'
		}
		return r
	}, key)
	if kind == graph.NodeTopic {
		key = strings.ToLower(key)
	}
	return key
}

// mergePayload enriches an existing node in place with any fuller payload
// carried by a repeated upsert. Content created lazily from a bare event
// reference is reconciled once real metadata arrives; agents without a
// specialization vector pick one up on re-provisioning. Existing resolved
// data is never overwritten.
func mergePayload(existing, incoming *graph.Node) {
	switch existing.Kind {
	case graph.NodeContent:
		if incoming.Content == nil {
			return
		}
		if existing.Content == nil {
			existing.Content = incoming.Content
			return
		}
		if existing.Content.Partial && !incoming.Content.Partial {
			// Swap in a fresh payload rather than writing through the old
			// pointer: GetNode snapshots may still alias it.
			existing.Content = &graph.ContentPayload{
				AuthorID: incoming.Content.AuthorID,
				MediaRef: incoming.Content.MediaRef,
			}
		}
	case graph.NodeAgent:
		if incoming.Agent == nil {
			return
		}
		if existing.Agent == nil || len(existing.Agent.Specialization) == 0 {
			existing.Agent = incoming.Agent
		}
	}
}
