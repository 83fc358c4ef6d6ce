// Package server exposes the recommendation engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/config"
	"github.com/latticefeed/lattice/internal/feed"
	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/ingest"
	"github.com/latticefeed/lattice/internal/store"
)

// Server wires the HTTP API over the store, ingestor and feed facade.
type Server struct {
	store    store.GraphStore
	ingestor *ingest.Ingestor
	feed     *feed.Service
	log      zerolog.Logger

	http *http.Server
}

// New creates a Server.
func New(cfg config.ServerConfig, st store.GraphStore, ing *ingest.Ingestor, svc *feed.Service, logger zerolog.Logger) *Server {
	s := &Server{
		store:    st,
		ingestor: ing,
		feed:     svc,
		log:      logger.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleSubmitEvent)
		r.Get("/feed/{id}", s.handleFeed)
		r.Get("/trending", s.handleTrending)
		r.Get("/stats", s.handleStats)
		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetNode)
			r.Delete("/", s.handleTombstoneNode)
			r.Get("/neighbors", s.handleNeighbors)
			r.Get("/similar", s.handleSimilar)
		})
	})
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrIngestion), errors.Is(err, feed.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
