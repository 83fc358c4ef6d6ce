package rank

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/metrics"
	"github.com/latticefeed/lattice/internal/store"
)

// Config tunes traversal ranking.
type Config struct {
	// SeedLimit caps the requester's direct neighborhood at the top K
	// edges by weight.
	SeedLimit int

	// HopDecay discounts each expansion hop beyond the seed. Must be in
	// (0,1).
	HopDecay float64

	// SeenThreshold is the requester engagement weight above which content
	// counts as seen and is excluded from recommendations.
	SeenThreshold float64

	// RelaxCeiling bounds re-admission when the pool runs short: content
	// engaged above this weight is never re-admitted, so a feed may return
	// fewer items than requested.
	RelaxCeiling float64

	// VisitBudget caps the number of edges examined per traversal.
	// Exceeding it truncates expansion; truncation is not an error.
	VisitBudget int
}

// Candidate is a scored content node.
type Candidate struct {
	ID        string
	Score     float64
	CreatedAt time.Time

	// Readmitted marks a candidate that came back through exclusion
	// relaxation. Re-admitted items are served after the unseen pool in
	// ascending relevance, so the flag is part of the serving order.
	Readmitted bool
}

// Ranking is the outcome of one traversal.
type Ranking struct {
	Candidates []Candidate

	// ColdStart is set when the requester has no seed edges at all. A
	// cold-start ranking is empty by definition; an empty non-cold-start
	// ranking means everything reachable was filtered out.
	ColdStart bool

	// Truncated reports the visit budget cut expansion short. Truncated
	// output is valid, just less complete.
	Truncated bool
}

// expandHops is how far beyond the seed set the traversal reaches.
const expandHops = 2

// seedEdges are the edge types that define the requester's direct
// neighborhood.
var seedEdges = []graph.EdgeType{graph.EdgeFollows, graph.EdgeEngagedWith, graph.EdgeAuthored}

// Ranker produces ordered content candidates by graph traversal.
//
// Ranking is read-only: it observes a possibly mid-update graph snapshot,
// which is safe because every edge weight is individually valid at all
// times. The caller's context bounds wall time; VisitBudget bounds work.
type Ranker struct {
	store store.GraphStore
	cfg   Config
	log   zerolog.Logger
}

// New creates a Ranker.
func New(st store.GraphStore, cfg Config, logger zerolog.Logger) *Ranker {
	return &Ranker{
		store: st,
		cfg:   cfg,
		log:   logger.With().Str("component", "rank").Logger(),
	}
}

// Rank scores content for a requester.
//
//  1. Seed with the requester's top-K FOLLOWS/ENGAGED_WITH/AUTHORED
//     neighbors.
//  2. Expand up to two hops from the seeds along ABOUT, SIMILAR_TO (both
//     directions) and outgoing AUTHORED, accumulating per content node the
//     sum over paths of seedWeight * hopWeights * HopDecay^hops.
//  3. Exclude content the requester already engaged above SeenThreshold;
//     if the pool falls short, re-admit excluded items in ascending
//     relevance order (most relevant last), but never past RelaxCeiling.
func (r *Ranker) Rank(ctx context.Context, requesterID string, poolSize int) (*Ranking, error) {
	requester, err := r.store.GetNode(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester.Tombstoned {
		return nil, graph.NotFoundError(requesterID)
	}

	seeds, err := r.seeds(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		// Cold start: no graph history to personalize from.
		return &Ranking{ColdStart: true}, nil
	}

	scores, truncated, err := r.expand(ctx, requesterID, seeds)
	if err != nil {
		return nil, err
	}

	seen, err := r.engagement(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	candidates, excluded, err := r.materialize(ctx, scores, seen)
	if err != nil {
		return nil, err
	}

	ordered := OrderCandidates(candidates)
	if len(ordered) < poolSize {
		ordered = append(ordered, relaxExclusion(excluded, poolSize-len(ordered))...)
	}
	return &Ranking{Candidates: ordered, Truncated: truncated}, nil
}

// seeds returns the requester's direct neighborhood, summed across seed
// edge types and capped at the top K by weight.
func (r *Ranker) seeds(ctx context.Context, requesterID string) ([]store.Neighbor, error) {
	combined := make(map[string]float64)
	for _, typ := range seedEdges {
		neighbors, err := r.store.GetNeighbors(ctx, requesterID, typ, 0)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			combined[n.ID] += n.Weight
		}
	}

	seeds := make([]store.Neighbor, 0, len(combined))
	for id, w := range combined {
		if w > 0 {
			seeds = append(seeds, store.Neighbor{ID: id, Weight: w})
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].Weight != seeds[j].Weight {
			return seeds[i].Weight > seeds[j].Weight
		}
		return seeds[i].ID < seeds[j].ID
	})
	if len(seeds) > r.cfg.SeedLimit {
		seeds = seeds[:r.cfg.SeedLimit]
	}
	return seeds, nil
}

// expand walks outward from the seeds accumulating relevance mass per
// reachable node. Returns the raw score map and whether the visit budget
// truncated the walk.
func (r *Ranker) expand(ctx context.Context, requesterID string, seeds []store.Neighbor) (map[string]float64, bool, error) {
	scores := make(map[string]float64)
	frontier := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		frontier[s.ID] = s.Weight
		scores[s.ID] += s.Weight
	}

	budget := r.cfg.VisitBudget
	truncated := false

	for hop := 0; hop < expandHops && len(frontier) > 0 && !truncated; hop++ {
		next := make(map[string]float64)

		for _, id := range sortedKeys(frontier) {
			if err := ctx.Err(); err != nil {
				return nil, truncated, err
			}
			if budget <= 0 {
				truncated = true
				break
			}

			acc := frontier[id]
			neighbors, err := r.expansionNeighbors(ctx, id)
			if err != nil {
				// One unreadable neighborhood does not invalidate the
				// rest of the traversal.
				r.log.Warn().Str("node", id).Err(err).Msg("expansion read failed")
				continue
			}

			for _, n := range neighbors {
				if budget <= 0 {
					truncated = true
					break
				}
				budget--
				if n.ID == requesterID {
					continue
				}
				mass := acc * n.Weight * r.cfg.HopDecay
				if mass <= 0 {
					continue
				}
				scores[n.ID] += mass
				next[n.ID] += mass
			}
		}
		frontier = next
	}

	if truncated {
		metrics.TraversalTruncated.Inc()
		r.log.Debug().Str("requester", requesterID).Err(graph.ErrBudgetExceeded).Msg("expansion truncated")
	}
	return scores, truncated, nil
}

// expansionNeighbors gathers the nodes reachable in one expansion hop:
// ABOUT and SIMILAR_TO in both directions (topic pivots work both ways),
// plus outgoing AUTHORED so followed agents surface their content.
func (r *Ranker) expansionNeighbors(ctx context.Context, nodeID string) ([]store.Neighbor, error) {
	var all []store.Neighbor
	for _, typ := range []graph.EdgeType{graph.EdgeAbout, graph.EdgeSimilarTo} {
		out, err := r.store.GetNeighbors(ctx, nodeID, typ, 0)
		if err != nil {
			return nil, err
		}
		in, err := r.store.GetIncoming(ctx, nodeID, typ, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, out...)
		all = append(all, in...)
	}

	authored, err := r.store.GetNeighbors(ctx, nodeID, graph.EdgeAuthored, 0)
	if err != nil {
		return nil, err
	}
	return append(all, authored...), nil
}

// engagement returns the requester's current ENGAGED_WITH weight per
// content node.
func (r *Ranker) engagement(ctx context.Context, requesterID string) (map[string]float64, error) {
	neighbors, err := r.store.GetNeighbors(ctx, requesterID, graph.EdgeEngagedWith, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]float64, len(neighbors))
	for _, n := range neighbors {
		seen[n.ID] = n.Weight
	}
	return seen, nil
}

// excludedCandidate carries the engagement weight that got a candidate
// excluded, for relaxation decisions.
type excludedCandidate struct {
	Candidate
	engagement float64
}

// materialize resolves scored node IDs into live content candidates and
// splits off those the requester has already seen.
func (r *Ranker) materialize(ctx context.Context, scores map[string]float64, seen map[string]float64) ([]Candidate, []excludedCandidate, error) {
	var candidates []Candidate
	var excluded []excludedCandidate

	for _, id := range sortedKeys(scores) {
		node, err := r.store.GetNode(ctx, id)
		if err != nil || node.Tombstoned || node.Kind != graph.NodeContent {
			continue
		}

		c := Candidate{ID: id, Score: scores[id], CreatedAt: node.CreatedAt}
		if w := seen[id]; w > r.cfg.SeenThreshold {
			if w <= r.cfg.RelaxCeiling {
				excluded = append(excluded, excludedCandidate{Candidate: c, engagement: w})
			}
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, excluded, nil
}

// OrderCandidates sorts by score descending, then newer creation first,
// then node ID, so identical graph state always ranks identically.
func OrderCandidates(candidates []Candidate) []Candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// relaxExclusion re-admits up to n excluded items, least relevant first so
// the strongest already-seen recommendations come back last. Items above
// the relax ceiling were filtered out before this point.
func relaxExclusion(excluded []excludedCandidate, n int) []Candidate {
	sort.Slice(excluded, func(i, j int) bool {
		if excluded[i].Score != excluded[j].Score {
			return excluded[i].Score < excluded[j].Score
		}
		return excluded[i].ID < excluded[j].ID
	})

	readmitted := make([]Candidate, 0, n)
	for _, e := range excluded {
		if len(readmitted) == n {
			break
		}
		c := e.Candidate
		c.Readmitted = true
		readmitted = append(readmitted, c)
	}
	return readmitted
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
