package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/latticefeed/lattice/internal/feed"
	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/metrics"
	"github.com/latticefeed/lattice/internal/store"
)

type submitEventRequest struct {
	SubjectID string  `json:"subject_id"`
	ObjectID  string  `json:"object_id"`
	Kind      string  `json:"kind"`
	Magnitude float64 `json:"magnitude,omitempty"`
}

type submitEventResponse struct {
	EventID string `json:"event_id"`
}

type neighborsResponse struct {
	NodeID    string           `json:"node_id"`
	Direction string           `json:"direction"`
	Type      graph.EdgeType   `json:"type,omitempty"`
	Neighbors []store.Neighbor `json:"neighbors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleSubmitEvent accepts an engagement event and enqueues it. 202 means
// accepted for processing, not applied.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "events", http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubjectID == "" || req.ObjectID == "" {
		s.writeError(w, "events", http.StatusBadRequest, "subject_id and object_id are required")
		return
	}
	kind := graph.EventKind(req.Kind)
	if !kind.Valid() {
		s.writeError(w, "events", http.StatusBadRequest, "unknown event kind "+req.Kind)
		return
	}

	ev := graph.EngagementEvent{
		ID:        uuid.NewString(),
		SubjectID: req.SubjectID,
		ObjectID:  req.ObjectID,
		Kind:      kind,
		Magnitude: req.Magnitude,
	}
	if err := s.ingestor.Submit(ev); err != nil {
		s.writeDomainError(w, "events", err)
		return
	}
	s.writeJSON(w, "events", http.StatusAccepted, submitEventResponse{EventID: ev.ID})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 0)
	cursor := r.URL.Query().Get("cursor")

	page, err := s.feed.Feed(r.Context(), requesterID, limit, cursor)
	if err != nil {
		s.writeDomainError(w, "feed", err)
		return
	}
	s.writeJSON(w, "feed", http.StatusOK, page)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	items, err := s.feed.Trending(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		s.writeDomainError(w, "trending", err)
		return
	}
	if items == nil {
		items = []feed.Item{}
	}
	s.writeJSON(w, "trending", http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, "nodes", err)
		return
	}
	s.writeJSON(w, "nodes", http.StatusOK, node)
}

// handleTombstoneNode logically deletes a node. The node stays in the store
// so its ID is never reused; traversal and ranking skip it immediately.
func (s *Server) handleTombstoneNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	if err := s.store.Tombstone(r.Context(), nodeID); err != nil {
		s.writeDomainError(w, "nodes", err)
		return
	}
	metrics.FeedRequests.WithLabelValues("nodes", strconv.Itoa(http.StatusNoContent)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	// An empty type filter means all edge types.
	typ := graph.EdgeType(r.URL.Query().Get("type"))
	minWeight, _ := strconv.ParseFloat(r.URL.Query().Get("min_weight"), 64)

	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = "out"
	}

	var (
		neighbors []store.Neighbor
		err       error
	)
	switch direction {
	case "out":
		neighbors, err = s.store.GetNeighbors(r.Context(), nodeID, typ, minWeight)
	case "in":
		neighbors, err = s.store.GetIncoming(r.Context(), nodeID, typ, minWeight)
	default:
		s.writeError(w, "neighbors", http.StatusBadRequest, "direction must be in or out")
		return
	}
	if err != nil {
		s.writeDomainError(w, "neighbors", err)
		return
	}
	if neighbors == nil {
		neighbors = []store.Neighbor{}
	}
	s.writeJSON(w, "neighbors", http.StatusOK, neighborsResponse{
		NodeID:    nodeID,
		Direction: direction,
		Type:      typ,
		Neighbors: neighbors,
	})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	items, err := s.feed.Similar(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		s.writeDomainError(w, "similar", err)
		return
	}
	s.writeJSON(w, "similar", http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, "stats", err)
		return
	}
	s.writeJSON(w, "stats", http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		s.writeError(w, "healthz", http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, "healthz", http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, v any) {
	metrics.FeedRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, status int, msg string) {
	metrics.FeedRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func (s *Server) writeDomainError(w http.ResponseWriter, endpoint string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
		s.writeError(w, endpoint, status, "internal error")
		return
	}
	s.writeError(w, endpoint, status, err.Error())
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
