package rank

import (
	"context"

	"github.com/latticefeed/lattice/internal/graph"
)

// Co-engagement scoring weights. Shared interests are the strongest
// similarity signal, then shared engagement, then follow overlap.
const (
	coInterestWeight = 2.0
	coEngageWeight   = 1.0
	coFollowWeight   = 0.5
)

// Similar returns nodes similar to the given user or agent, scored by
// neighborhood overlap: engaging the same content, sharing topic
// interests, and being followed by the node's followees.
func (r *Ranker) Similar(ctx context.Context, nodeID string, limit int) ([]Candidate, error) {
	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Tombstoned {
		return nil, graph.NotFoundError(nodeID)
	}

	scores := make(map[string]float64)
	budget := r.cfg.VisitBudget

	// Others who engaged the same content.
	engaged, err := r.store.GetNeighbors(ctx, nodeID, graph.EdgeEngagedWith, 0)
	if err != nil {
		return nil, err
	}
	for _, content := range engaged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		others, err := r.store.GetIncoming(ctx, content.ID, graph.EdgeEngagedWith, 0)
		if err != nil {
			continue
		}
		for _, o := range others {
			if budget <= 0 {
				break
			}
			budget--
			if o.ID != nodeID {
				scores[o.ID] += coEngageWeight * o.Weight
			}
		}
	}

	// Others interested in the same topics.
	interests, err := r.store.GetNeighbors(ctx, nodeID, graph.EdgeInterestIn, 0)
	if err != nil {
		return nil, err
	}
	for _, topic := range interests {
		others, err := r.store.GetIncoming(ctx, topic.ID, graph.EdgeInterestIn, 0)
		if err != nil {
			continue
		}
		for _, o := range others {
			if budget <= 0 {
				break
			}
			budget--
			if o.ID != nodeID {
				scores[o.ID] += coInterestWeight * o.Weight
			}
		}
	}

	// Who the node's followees follow.
	follows, err := r.store.GetNeighbors(ctx, nodeID, graph.EdgeFollows, 0)
	if err != nil {
		return nil, err
	}
	for _, followee := range follows {
		theirs, err := r.store.GetNeighbors(ctx, followee.ID, graph.EdgeFollows, 0)
		if err != nil {
			continue
		}
		for _, o := range theirs {
			if budget <= 0 {
				break
			}
			budget--
			if o.ID != nodeID {
				scores[o.ID] += coFollowWeight * o.Weight
			}
		}
	}

	var candidates []Candidate
	for _, id := range sortedKeys(scores) {
		other, err := r.store.GetNode(ctx, id)
		if err != nil || other.Tombstoned || other.Kind == graph.NodeContent || other.Kind == graph.NodeTopic {
			continue
		}
		candidates = append(candidates, Candidate{ID: id, Score: scores[id], CreatedAt: other.CreatedAt})
	}

	ordered := OrderCandidates(candidates)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, nil
}
