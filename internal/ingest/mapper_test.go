package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/store"
)

func testWeights() Weights {
	return Weights{
		ViewWeight:     0.1,
		ViewCapSeconds: 30,
		LikeWeight:     5,
		CommentWeight:  3,
		ShareWeight:    8,
		SkipPenalty:    0.5,
	}
}

func event(kind graph.EventKind, magnitude float64) graph.EngagementEvent {
	return graph.EngagementEvent{
		ID:        "ev-1",
		SubjectID: "user:alice",
		ObjectID:  "content:post-1",
		Kind:      kind,
		Magnitude: magnitude,
	}
}

func TestMapEvent_View(t *testing.T) {
	t.Parallel()

	t.Run("ScalesWithDuration", func(t *testing.T) {
		muts, err := MapEvent(testWeights(), event(graph.EventView, 12), EventContext{})
		require.NoError(t, err)
		require.Len(t, muts, 1)

		assert.Equal(t, "user:alice", muts[0].From)
		assert.Equal(t, "content:post-1", muts[0].To)
		assert.Equal(t, graph.EdgeEngagedWith, muts[0].Type)
		assert.InDelta(t, 1.2, muts[0].Delta, 1e-9)
	})

	t.Run("CapsDuration", func(t *testing.T) {
		muts, err := MapEvent(testWeights(), event(graph.EventView, 3600), EventContext{})
		require.NoError(t, err)
		require.Len(t, muts, 1)
		assert.InDelta(t, 3.0, muts[0].Delta, 1e-9)
	})

	t.Run("RejectsMissingDuration", func(t *testing.T) {
		_, err := MapEvent(testWeights(), event(graph.EventView, 0), EventContext{})
		assert.ErrorIs(t, err, graph.ErrIngestion)
	})
}

func TestMapEvent_Like(t *testing.T) {
	t.Parallel()

	t.Run("FixedBonus", func(t *testing.T) {
		muts, err := MapEvent(testWeights(), event(graph.EventLike, 0), EventContext{})
		require.NoError(t, err)
		require.Len(t, muts, 1)
		assert.InDelta(t, 5, muts[0].Delta, 1e-9)
	})

	t.Run("BoostsAuthorTopicAffinity", func(t *testing.T) {
		ectx := EventContext{
			Authors: []store.Neighbor{{ID: "agent:writer", Weight: 1}},
			Topics: []store.Neighbor{
				{ID: "topic:golang", Weight: 3},
				{ID: "topic:databases", Weight: 1},
			},
		}
		muts, err := MapEvent(testWeights(), event(graph.EventLike, 0), ectx)
		require.NoError(t, err)
		require.Len(t, muts, 3)

		byTopic := make(map[string]graph.EdgeMutation)
		for _, m := range muts[1:] {
			assert.Equal(t, "agent:writer", m.From)
			assert.Equal(t, graph.EdgeInterestIn, m.Type)
			byTopic[m.To] = m
		}
		assert.InDelta(t, 5*0.75, byTopic["topic:golang"].Delta, 1e-9)
		assert.InDelta(t, 5*0.25, byTopic["topic:databases"].Delta, 1e-9)
	})

	t.Run("NoBoostWithoutContext", func(t *testing.T) {
		ectx := EventContext{Topics: []store.Neighbor{{ID: "topic:golang", Weight: 1}}}
		muts, err := MapEvent(testWeights(), event(graph.EventLike, 0), ectx)
		require.NoError(t, err)
		assert.Len(t, muts, 1, "no authors means no affinity boosts")
	})
}

func TestMapEvent_CommentAndShare(t *testing.T) {
	t.Parallel()

	muts, err := MapEvent(testWeights(), event(graph.EventComment, 0), EventContext{})
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.InDelta(t, 3, muts[0].Delta, 1e-9)

	muts, err = MapEvent(testWeights(), event(graph.EventShare, 0), EventContext{})
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.InDelta(t, 8, muts[0].Delta, 1e-9)
}

func TestMapEvent_Skip(t *testing.T) {
	t.Parallel()

	muts, err := MapEvent(testWeights(), event(graph.EventSkip, 0), EventContext{})
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.InDelta(t, -0.5, muts[0].Delta, 1e-9)
}

func TestMapEvent_Invalid(t *testing.T) {
	t.Parallel()

	t.Run("MissingSubject", func(t *testing.T) {
		ev := event(graph.EventLike, 0)
		ev.SubjectID = ""
		_, err := MapEvent(testWeights(), ev, EventContext{})
		assert.ErrorIs(t, err, graph.ErrIngestion)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		ev := event("upvote", 0)
		_, err := MapEvent(testWeights(), ev, EventContext{})
		assert.ErrorIs(t, err, graph.ErrIngestion)
	})
}
