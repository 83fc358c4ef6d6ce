package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/store"
)

type stubResolver struct {
	meta map[string]ContentMetadata
}

func (r *stubResolver) ResolveContentMetadata(ctx context.Context, contentKey string) (ContentMetadata, error) {
	meta, ok := r.meta[contentKey]
	if !ok {
		return ContentMetadata{}, errors.New("unknown content")
	}
	return meta, nil
}

type stubDirectory struct {
	specs map[string]map[string]float64
}

func (d *stubDirectory) GetAgentSpecialization(ctx context.Context, agentKey string) (map[string]float64, error) {
	spec, ok := d.specs[agentKey]
	if !ok {
		return nil, errors.New("unknown agent")
	}
	return spec, nil
}

type recordedTrend struct {
	contentID string
	delta     float64
}

type stubTrends struct {
	recorded []recordedTrend
}

func (s *stubTrends) Record(contentID string, delta float64, at time.Time) {
	s.recorded = append(s.recorded, recordedTrend{contentID, delta})
}

func newTestIngestor(st store.GraphStore, opts ...func(*Config)) *Ingestor {
	cfg := Config{
		Store:   st,
		Weights: testWeights(),
		Logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func TestIngestor_Apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("LazilyCreatesSubjectAndContent", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := newTestIngestor(st)

		err := ing.Apply(ctx, graph.EngagementEvent{
			ID:        "ev-1",
			SubjectID: "user:alice",
			ObjectID:  "content:post-1",
			Kind:      graph.EventLike,
		})
		require.NoError(t, err)

		user, err := st.GetNode(ctx, "user:alice")
		require.NoError(t, err)
		assert.Equal(t, graph.NodeUser, user.Kind)

		content, err := st.GetNode(ctx, "content:post-1")
		require.NoError(t, err)
		require.NotNil(t, content.Content)
		assert.True(t, content.Content.Partial, "unresolved content stays partial")

		edge, err := st.GetEdge(ctx, "user:alice", "content:post-1", graph.EdgeEngagedWith)
		require.NoError(t, err)
		assert.InDelta(t, 5, edge.Weight, 1e-9)
	})

	t.Run("EnrichesContentFromResolver", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := newTestIngestor(st, func(c *Config) {
			c.Resolver = &stubResolver{meta: map[string]ContentMetadata{
				"post-2": {AuthorID: "agent:writer", TopicKeys: []string{"golang"}, MediaRef: "s3://m/2"},
			}}
		})

		err := ing.Apply(ctx, graph.EngagementEvent{
			ID:        "ev-2",
			SubjectID: "user:bob",
			ObjectID:  "content:post-2",
			Kind:      graph.EventView,
			Magnitude: 10,
		})
		require.NoError(t, err)

		content, err := st.GetNode(ctx, "content:post-2")
		require.NoError(t, err)
		require.NotNil(t, content.Content)
		assert.False(t, content.Content.Partial)
		assert.Equal(t, "agent:writer", content.Content.AuthorID)

		authors, err := st.GetIncoming(ctx, "content:post-2", graph.EdgeAuthored, 0)
		require.NoError(t, err)
		require.Len(t, authors, 1)
		assert.Equal(t, "agent:writer", authors[0].ID)

		topics, err := st.GetNeighbors(ctx, "content:post-2", graph.EdgeAbout, 0)
		require.NoError(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, "topic:golang", topics[0].ID)
	})

	t.Run("SeedsAgentInterests", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := newTestIngestor(st, func(c *Config) {
			c.Directory = &stubDirectory{specs: map[string]map[string]float64{
				"critic": {"golang": 0.8, "rust": 0.4},
			}}
		})

		err := ing.Apply(ctx, graph.EngagementEvent{
			ID:        "ev-3",
			SubjectID: "agent:critic",
			ObjectID:  "content:post-3",
			Kind:      graph.EventComment,
		})
		require.NoError(t, err)

		interests, err := st.GetNeighbors(ctx, "agent:critic", graph.EdgeInterestIn, 0)
		require.NoError(t, err)
		require.Len(t, interests, 2)
		assert.Equal(t, "topic:golang", interests[0].ID)
		assert.InDelta(t, 0.8, interests[0].Weight, 1e-9)
	})

	t.Run("SkipOnMissingContentIsNoop", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := newTestIngestor(st)

		err := ing.Apply(ctx, graph.EngagementEvent{
			ID:        "ev-4",
			SubjectID: "user:carol",
			ObjectID:  "content:vanished",
			Kind:      graph.EventSkip,
		})
		require.NoError(t, err)

		_, err = st.GetNode(ctx, "content:vanished")
		assert.ErrorIs(t, err, graph.ErrNotFound, "skip must not create the content node")
	})

	t.Run("SkipOnTombstonedContentIsNoop", func(t *testing.T) {
		st := store.NewMemoryStore()
		_, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeContent, Key: "buried"})
		require.NoError(t, err)
		require.NoError(t, st.Tombstone(ctx, "content:buried"))

		ing := newTestIngestor(st)
		err = ing.Apply(ctx, graph.EngagementEvent{
			ID:        "ev-5",
			SubjectID: "user:carol",
			ObjectID:  "content:buried",
			Kind:      graph.EventSkip,
		})
		assert.NoError(t, err)
	})

	t.Run("RejectsMalformedReferences", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := newTestIngestor(st)

		err := ing.Apply(ctx, graph.EngagementEvent{
			ID: "ev-6", SubjectID: "alice", ObjectID: "content:p", Kind: graph.EventLike,
		})
		assert.ErrorIs(t, err, graph.ErrIngestion)

		err = ing.Apply(ctx, graph.EngagementEvent{
			ID: "ev-7", SubjectID: "user:alice", ObjectID: "topic:golang", Kind: graph.EventLike,
		})
		assert.ErrorIs(t, err, graph.ErrIngestion)

		err = ing.Apply(ctx, graph.EngagementEvent{
			ID: "ev-8", SubjectID: "user:alice", ObjectID: "content:p", Kind: "boost",
		})
		assert.ErrorIs(t, err, graph.ErrIngestion)
	})

	t.Run("RecordsTrendOnPositiveEngagement", func(t *testing.T) {
		st := store.NewMemoryStore()
		trends := &stubTrends{}
		ing := newTestIngestor(st, func(c *Config) { c.Trends = trends })

		require.NoError(t, ing.Apply(ctx, graph.EngagementEvent{
			ID: "ev-9", SubjectID: "user:dana", ObjectID: "content:hot", Kind: graph.EventShare,
		}))
		require.Len(t, trends.recorded, 1)
		assert.Equal(t, "content:hot", trends.recorded[0].contentID)
		assert.InDelta(t, 8, trends.recorded[0].delta, 1e-9)

		require.NoError(t, ing.Apply(ctx, graph.EngagementEvent{
			ID: "ev-10", SubjectID: "user:dana", ObjectID: "content:hot", Kind: graph.EventSkip,
		}))
		assert.Len(t, trends.recorded, 1, "skips never trend")
	})
}

func TestIngestor_Pipeline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	ing := newTestIngestor(st, func(c *Config) { c.Workers = 2 })
	require.NoError(t, ing.Start(ctx))

	require.NoError(t, ing.Submit(graph.EngagementEvent{
		SubjectID: "user:eve",
		ObjectID:  "content:async",
		Kind:      graph.EventLike,
	}))

	// Fire-and-forget: poll until the pipeline has applied the event.
	require.Eventually(t, func() bool {
		edge, err := st.GetEdge(ctx, "user:eve", "content:async", graph.EdgeEngagedWith)
		return err == nil && edge.Weight == 5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ing.Close())
}

func TestIngestor_SubmitFillsIdentity(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	ing := newTestIngestor(st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ing.Start(ctx))
	defer func() { _ = ing.Close() }()

	err := ing.Submit(graph.EngagementEvent{
		SubjectID: "user:fred",
		ObjectID:  "content:idless",
		Kind:      graph.EventComment,
	})
	assert.NoError(t, err)
}
