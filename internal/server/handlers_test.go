package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticefeed/lattice/internal/config"
	"github.com/latticefeed/lattice/internal/feed"
	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/ingest"
	"github.com/latticefeed/lattice/internal/rank"
	"github.com/latticefeed/lattice/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.GraphStore, *rank.TrendTracker) {
	t.Helper()

	st := store.NewMemoryStore()
	trends := rank.NewTrendTracker(time.Hour)

	ing := ingest.New(ingest.Config{
		Store: st,
		Weights: ingest.Weights{
			ViewWeight: 0.1, ViewCapSeconds: 30,
			LikeWeight: 5, CommentWeight: 3, ShareWeight: 8, SkipPenalty: 0.5,
		},
		Trends: trends,
		Logger: zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ing.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = ing.Close()
	})

	ranker := rank.New(st, rank.Config{
		SeedLimit: 20, HopDecay: 0.5, SeenThreshold: 3, RelaxCeiling: 6, VisitBudget: 10000,
	}, zerolog.Nop())
	svc := feed.New(st, ranker, trends, feed.Config{MaxPoolSize: 100, TrendingLimit: 100}, zerolog.Nop())

	srv := New(config.ServerConfig{
		Addr:         ":0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, st, ing, svc, zerolog.Nop())
	return srv, st, trends
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func addContent(t *testing.T, st store.GraphStore, key string) string {
	t.Helper()
	id, err := st.UpsertNode(context.Background(), &graph.Node{Kind: graph.NodeContent, Key: key})
	require.NoError(t, err)
	return id
}

func TestServer_SubmitEvent(t *testing.T) {
	t.Parallel()

	t.Run("Accepted", func(t *testing.T) {
		srv, st, _ := newTestServer(t)

		rec := doRequest(t, srv, http.MethodPost, "/api/events", map[string]any{
			"subject_id": "user:alice",
			"object_id":  "content:post-1",
			"kind":       "like",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp struct {
			EventID string `json:"event_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.EventID)

		// Asynchronous: the edge appears once a worker applies the event.
		require.Eventually(t, func() bool {
			edge, err := st.GetEdge(context.Background(), "user:alice", "content:post-1", graph.EdgeEngagedWith)
			return err == nil && edge.Weight == 5
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/events", map[string]any{
			"subject_id": "user:alice",
			"object_id":  "content:post-1",
			"kind":       "boost",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("MissingFields", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodPost, "/api/events", map[string]any{"kind": "like"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Feed(t *testing.T) {
	t.Parallel()

	t.Run("UnknownRequester", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodGet, "/api/feed/user:ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ColdStartServesTrending", func(t *testing.T) {
		srv, st, trends := newTestServer(t)
		ctx := context.Background()

		_, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeUser, Key: "newcomer"})
		require.NoError(t, err)
		hot := addContent(t, st, "hot")
		trends.Record(hot, 5, time.Now().UTC())

		rec := doRequest(t, srv, http.MethodGet, "/api/feed/user:newcomer", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page feed.Page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, feed.SourceTrending, page.Source)
		require.Len(t, page.Items, 1)
		assert.Equal(t, hot, page.Items[0].ID)
	})

	t.Run("InvalidCursor", func(t *testing.T) {
		srv, st, _ := newTestServer(t)
		_, err := st.UpsertNode(context.Background(), &graph.Node{Kind: graph.NodeUser, Key: "alice"})
		require.NoError(t, err)

		rec := doRequest(t, srv, http.MethodGet, "/api/feed/user:alice?cursor=%21%21", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Trending(t *testing.T) {
	t.Parallel()

	srv, st, trends := newTestServer(t)
	hot := addContent(t, st, "viral")
	trends.Record(hot, 9, time.Now().UTC())

	rec := doRequest(t, srv, http.MethodGet, "/api/trending?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []feed.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, hot, resp.Items[0].ID)
}

func TestServer_Nodes(t *testing.T) {
	t.Parallel()

	t.Run("Get", func(t *testing.T) {
		srv, st, _ := newTestServer(t)
		id := addContent(t, st, "readable")

		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var node graph.Node
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
		assert.Equal(t, id, node.ID)
		assert.Equal(t, graph.NodeContent, node.Kind)
	})

	t.Run("GetMissing", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/content:nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Tombstone", func(t *testing.T) {
		srv, st, _ := newTestServer(t)
		id := addContent(t, st, "deletable")

		rec := doRequest(t, srv, http.MethodDelete, "/api/nodes/"+id, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		node, err := st.GetNode(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, node.Tombstoned)
	})

	t.Run("TombstoneMissing", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doRequest(t, srv, http.MethodDelete, "/api/nodes/content:nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Neighbors(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	u, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeUser, Key: "alice"})
	require.NoError(t, err)
	c := addContent(t, st, "linked")
	a, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeAgent, Key: "writer"})
	require.NoError(t, err)
	require.NoError(t, st.UpsertEdge(ctx, u, c, graph.EdgeEngagedWith, 2))
	require.NoError(t, st.UpsertEdge(ctx, u, a, graph.EdgeFollows, 1))

	t.Run("Outgoing", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+u+"/neighbors?type=engaged_with", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp neighborsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Neighbors, 1)
		assert.Equal(t, c, resp.Neighbors[0].ID)
	})

	t.Run("Incoming", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+c+"/neighbors?type=engaged_with&direction=in", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp neighborsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Neighbors, 1)
		assert.Equal(t, u, resp.Neighbors[0].ID)
	})

	t.Run("AllTypesWhenUnfiltered", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+u+"/neighbors", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp neighborsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Neighbors, 2)
		assert.Equal(t, c, resp.Neighbors[0].ID)
		assert.Equal(t, a, resp.Neighbors[1].ID)
	})

	t.Run("BadDirection", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+u+"/neighbors?type=engaged_with&direction=sideways", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Similar(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	u, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeUser, Key: "alice"})
	require.NoError(t, err)
	twin, err := st.UpsertNode(ctx, &graph.Node{Kind: graph.NodeUser, Key: "twin"})
	require.NoError(t, err)
	c := addContent(t, st, "both-read")
	require.NoError(t, st.UpsertEdge(ctx, u, c, graph.EdgeEngagedWith, 1))
	require.NoError(t, st.UpsertEdge(ctx, twin, c, graph.EdgeEngagedWith, 1))

	rec := doRequest(t, srv, http.MethodGet, "/api/nodes/"+u+"/similar", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []feed.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, twin, resp.Items[0].ID)
}

func TestServer_StatsAndHealth(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t)
	addContent(t, st, "counted")

	rec := doRequest(t, srv, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Nodes)

	rec = doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lattice_")
}
