// Package ingest provides the engagement ingestion pipeline for Lattice.
//
// Raw interaction events are mapped to edge mutation instructions by a pure
// derivation step, then applied to the graph store by a pool of pipeline
// workers fed from an in-process pub/sub. Bad events are dropped and
// reported; the pipeline never stops for a single event.
package ingest

import (
	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/store"
)

// Weights configures the weight each event kind contributes to the graph.
type Weights struct {
	// ViewWeight is the ENGAGED_WITH delta per viewed second, capped at
	// ViewCapSeconds.
	ViewWeight     float64
	ViewCapSeconds float64

	// Fixed bonuses per event kind.
	LikeWeight    float64
	CommentWeight float64
	ShareWeight   float64

	// SkipPenalty is subtracted on skips; the store clamps at zero.
	SkipPenalty float64
}

// EventContext is the graph snapshot MapEvent needs to derive mutations:
// the engaged content's authors and topics at ingestion time.
type EventContext struct {
	// Authors are incoming AUTHORED neighbors of the content (agents),
	// descending by weight.
	Authors []store.Neighbor

	// Topics are outgoing ABOUT neighbors of the content, descending by
	// weight.
	Topics []store.Neighbor
}

// MapEvent derives edge mutations from one engagement event. Pure: it
// mutates nothing and reads only its arguments.
//
// Derivation rules:
//   - view: subject->content ENGAGED_WITH += min(duration, cap) * ViewWeight
//   - like: ENGAGED_WITH += LikeWeight, plus author->topic INTEREST_IN
//     boosts proportional to each author's authorship share and each
//     topic's share of the content's ABOUT weight
//   - comment/share: ENGAGED_WITH += CommentWeight/ShareWeight
//   - skip: ENGAGED_WITH -= SkipPenalty (clamped at zero by the store)
//
// Returns graph.ErrIngestion when the event cannot map to any mutation.
func MapEvent(w Weights, ev graph.EngagementEvent, ectx EventContext) ([]graph.EdgeMutation, error) {
	if ev.SubjectID == "" || ev.ObjectID == "" {
		return nil, graph.IngestionError(ev.ID, "missing subject or object")
	}
	if !ev.Kind.Valid() {
		return nil, graph.IngestionError(ev.ID, "unknown event kind "+string(ev.Kind))
	}

	var muts []graph.EdgeMutation
	engage := func(delta float64) {
		muts = append(muts, graph.EdgeMutation{
			From:  ev.SubjectID,
			To:    ev.ObjectID,
			Type:  graph.EdgeEngagedWith,
			Delta: delta,
		})
	}

	switch ev.Kind {
	case graph.EventView:
		if ev.Magnitude <= 0 {
			return nil, graph.IngestionError(ev.ID, "view without duration")
		}
		d := ev.Magnitude
		if d > w.ViewCapSeconds {
			d = w.ViewCapSeconds
		}
		engage(d * w.ViewWeight)

	case graph.EventLike:
		engage(w.LikeWeight)
		muts = append(muts, affinityBoosts(w.LikeWeight, ectx)...)

	case graph.EventComment:
		engage(w.CommentWeight)

	case graph.EventShare:
		engage(w.ShareWeight)
		muts = append(muts, affinityBoosts(w.ShareWeight, ectx)...)

	case graph.EventSkip:
		engage(-w.SkipPenalty)
	}

	return muts, nil
}

// affinityBoosts distributes a bonus across author->topic INTEREST_IN edges
// proportional to authorship share and topic share.
func affinityBoosts(bonus float64, ectx EventContext) []graph.EdgeMutation {
	if len(ectx.Authors) == 0 || len(ectx.Topics) == 0 {
		return nil
	}

	var authorTotal, topicTotal float64
	for _, a := range ectx.Authors {
		authorTotal += a.Weight
	}
	for _, t := range ectx.Topics {
		topicTotal += t.Weight
	}
	if authorTotal <= 0 || topicTotal <= 0 {
		return nil
	}

	muts := make([]graph.EdgeMutation, 0, len(ectx.Authors)*len(ectx.Topics))
	for _, a := range ectx.Authors {
		share := a.Weight / authorTotal
		for _, t := range ectx.Topics {
			muts = append(muts, graph.EdgeMutation{
				From:  a.ID,
				To:    t.ID,
				Type:  graph.EdgeInterestIn,
				Delta: bonus * share * (t.Weight / topicTotal),
			})
		}
	}
	return muts
}
