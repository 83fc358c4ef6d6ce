// Package feed is the recommendation facade: it composes traversal
// ranking, trending fallback and cursor pagination behind one API.
package feed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/rank"
	"github.com/latticefeed/lattice/internal/store"
)

// ErrInvalidCursor indicates a pagination cursor that cannot be decoded,
// typically one forged or corrupted by the client.
var ErrInvalidCursor = errors.New("invalid cursor")

// Source labels where a feed's candidates came from.
type Source string

const (
	// SourceGraph means candidates were ranked from the requester's
	// graph neighborhood.
	SourceGraph Source = "graph"

	// SourceTrending means the requester had no graph history and the
	// feed fell back to globally trending content.
	SourceTrending Source = "trending"
)

// Item is one recommended content node.
type Item struct {
	ID        string    `json:"id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is one page of a feed.
type Page struct {
	Items []Item `json:"items"`

	// NextCursor resumes after the last item. Empty when the pool is
	// exhausted.
	NextCursor string `json:"nextCursor,omitempty"`

	// Source reports whether the page was personalized or a trending
	// fallback.
	Source Source `json:"source"`

	// Truncated reports that traversal hit its visit budget; the page
	// is valid but may be less complete than usual.
	Truncated bool `json:"truncated,omitempty"`
}

// Config tunes the facade.
type Config struct {
	// MaxPoolSize caps the candidate pool built per request. Page limits
	// above it are clamped.
	MaxPoolSize int

	// TrendingLimit caps trending listings and the cold-start fallback.
	TrendingLimit int
}

// Trends is the trending signal consumed by the facade.
type Trends interface {
	Trending(limit int) []rank.TrendScore
}

// Service serves feeds, trending listings and similarity lookups.
type Service struct {
	store  store.GraphStore
	ranker *rank.Ranker
	trends Trends
	cfg    Config
	log    zerolog.Logger
}

// New creates a Service.
func New(st store.GraphStore, ranker *rank.Ranker, trends Trends, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		ranker: ranker,
		trends: trends,
		cfg:    cfg,
		log:    logger.With().Str("component", "feed").Logger(),
	}
}

// Feed returns up to limit recommendations for a requester, resuming
// after cursor when one is given.
//
// The pool is rebuilt from live graph state on every call, so a page
// fetched after new engagement reflects it; the cursor only marks a
// position in the deterministic ordering, never a frozen snapshot.
func (s *Service) Feed(ctx context.Context, requesterID string, limit int, cursor string) (*Page, error) {
	if limit <= 0 || limit > s.cfg.MaxPoolSize {
		limit = s.cfg.MaxPoolSize
	}

	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	ranking, err := s.ranker.Rank(ctx, requesterID, s.cfg.MaxPoolSize)
	if err != nil {
		return nil, err
	}
	candidates := ranking.Candidates

	// Only a cold start falls back to trending: a seeded requester whose
	// pool came up empty gets an empty feed, never padding. The fallback
	// applies before the cursor trim so later pages stay pageable.
	source := SourceGraph
	if ranking.ColdStart {
		candidates, err = s.trendingCandidates(ctx)
		if err != nil {
			return nil, err
		}
		source = SourceTrending
	}

	if after != nil {
		candidates = trimBefore(candidates, *after)
	}

	page := &Page{Source: source, Truncated: ranking.Truncated, Items: make([]Item, 0, limit)}
	var last rank.Candidate
	for _, c := range candidates {
		if len(page.Items) == limit {
			page.NextCursor = encodeCursor(last)
			break
		}
		page.Items = append(page.Items, Item{ID: c.ID, Score: c.Score, CreatedAt: c.CreatedAt})
		last = c
	}
	return page, nil
}

// Trending returns the globally trending content listing.
func (s *Service) Trending(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 || limit > s.cfg.TrendingLimit {
		limit = s.cfg.TrendingLimit
	}
	candidates, err := s.trendingCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	items := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, Item{ID: c.ID, Score: c.Score, CreatedAt: c.CreatedAt})
	}
	return items, nil
}

// Similar returns nodes similar to the given user or agent.
func (s *Service) Similar(ctx context.Context, nodeID string, limit int) ([]Item, error) {
	if limit <= 0 || limit > s.cfg.MaxPoolSize {
		limit = s.cfg.MaxPoolSize
	}
	candidates, err := s.ranker.Similar(ctx, nodeID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, Item{ID: c.ID, Score: c.Score, CreatedAt: c.CreatedAt})
	}
	return items, nil
}

// trendingCandidates resolves the tracker's scores against live nodes,
// dropping content that has been tombstoned since it trended.
func (s *Service) trendingCandidates(ctx context.Context) ([]rank.Candidate, error) {
	scores := s.trends.Trending(s.cfg.TrendingLimit)
	candidates := make([]rank.Candidate, 0, len(scores))
	for _, ts := range scores {
		node, err := s.store.GetNode(ctx, ts.ContentID)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if node.Tombstoned || node.Kind != graph.NodeContent {
			continue
		}
		candidates = append(candidates, rank.Candidate{ID: ts.ContentID, Score: ts.Score, CreatedAt: node.CreatedAt})
	}
	// Served in the exact order the cursor comparator paginates, so
	// equal-score items survive across pages.
	return rank.OrderCandidates(candidates), nil
}

// cursorPos marks a position in the served candidate ordering. Readmitted
// carries the section: the unseen pool pages out fully before any
// re-admitted items.
type cursorPos struct {
	Score      float64   `json:"s"`
	CreatedAt  time.Time `json:"t"`
	ID         string    `json:"i"`
	Readmitted bool      `json:"r,omitempty"`
}

func encodeCursor(last rank.Candidate) string {
	raw, err := json.Marshal(cursorPos{Score: last.Score, CreatedAt: last.CreatedAt, ID: last.ID, Readmitted: last.Readmitted})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (*cursorPos, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	var pos cursorPos
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	return &pos, nil
}

// trimBefore drops candidates at or before the cursor position in the
// served ordering.
func trimBefore(candidates []rank.Candidate, after cursorPos) []rank.Candidate {
	for i, c := range candidates {
		if ranksAfter(c, after) {
			return candidates[i:]
		}
	}
	return nil
}

// ranksAfter reports whether c is served strictly after the cursor
// position. It mirrors the served ordering exactly: the unseen section
// (score desc, newest first, then ID) pages out before the re-admitted
// section (score asc, then ID), so a relaxed pool never repeats items.
func ranksAfter(c rank.Candidate, after cursorPos) bool {
	if c.Readmitted != after.Readmitted {
		return c.Readmitted
	}
	if c.Readmitted {
		if c.Score != after.Score {
			return c.Score > after.Score
		}
		return c.ID > after.ID
	}
	if c.Score != after.Score {
		return c.Score < after.Score
	}
	if !c.CreatedAt.Equal(after.CreatedAt) {
		return c.CreatedAt.Before(after.CreatedAt)
	}
	return c.ID > after.ID
}
