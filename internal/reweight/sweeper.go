// Package reweight applies periodic decay to relationship weights so that
// stale relationships lose influence over time.
//
// The sweep is an explicit scheduled task with its own run/shutdown
// lifecycle rather than a timer buried in object state, so tests can drive
// it deterministically with a fake tick source.
package reweight

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/latticefeed/lattice/internal/graph"
	"github.com/latticefeed/lattice/internal/metrics"
	"github.com/latticefeed/lattice/internal/store"
)

// Config tunes the decay sweep.
type Config struct {
	// Factor is the multiplicative decay gamma, in (0,1).
	Factor float64

	// Interval is the sweep period.
	Interval time.Duration

	// PruneEpsilon removes edges whose weight decays below it, bounding
	// graph size. Nodes are never removed by the sweep.
	PruneEpsilon float64
}

// Result summarizes one sweep.
type Result struct {
	Decayed  int
	Pruned   int
	Failures int
	Elapsed  time.Duration
}

// Sweeper decays every edge once per cycle.
//
// Each edge is scaled through the store's atomic ScaleEdge primitive, so a
// reinforcement racing the sweep on the same edge serializes against it:
// decay-then-reinforce or reinforce-then-decay, never a lost update and
// never a negative weight.
type Sweeper struct {
	store store.GraphStore
	cfg   Config
	log   zerolog.Logger

	// newTicker is swapped out by tests to drive sweeps manually.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// New creates a Sweeper.
func New(st store.GraphStore, cfg Config, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store: st,
		cfg:   cfg,
		log:   logger.With().Str("component", "reweight").Logger(),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetTicker overrides the tick source. Test hook.
func (s *Sweeper) SetTicker(newTicker func(time.Duration) (<-chan time.Time, func())) {
	s.newTicker = newTicker
}

// Run sweeps once per interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticks, stop := s.newTicker(s.cfg.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			res := s.SweepOnce(ctx)
			s.log.Debug().
				Int("decayed", res.Decayed).
				Int("pruned", res.Pruned).
				Int("failures", res.Failures).
				Dur("elapsed", res.Elapsed).
				Msg("decay sweep complete")
		}
	}
}

// SweepOnce decays every edge once. A failure on one edge is logged and
// skipped; the sweep always runs to completion over its snapshot. Sweeps
// are idempotent per cycle and commutative with reinforcement on other
// edges.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	start := time.Now()
	var res Result

	// Snapshot the edge set first so mutation runs outside the read
	// transaction. Edges reinforced after the snapshot decay next cycle.
	type edgeRef struct {
		from, to string
		typ      graph.EdgeType
	}
	var edges []edgeRef
	err := s.store.ForEachEdge(ctx, func(e graph.Edge) error {
		edges = append(edges, edgeRef{e.From, e.To, e.Type})
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("edge snapshot failed, skipping sweep")
		res.Failures++
		return res
	}

	for _, e := range edges {
		if ctx.Err() != nil {
			break
		}
		pruned, err := s.store.ScaleEdge(ctx, e.from, e.to, e.typ, s.cfg.Factor, s.cfg.PruneEpsilon)
		if err != nil {
			res.Failures++
			metrics.SweepEdgeErrors.Inc()
			s.log.Warn().
				Str("from", e.from).Str("to", e.to).Str("type", string(e.typ)).
				Err(err).Msg("edge decay failed, skipping")
			continue
		}
		res.Decayed++
		metrics.EdgesDecayed.Inc()
		if pruned {
			res.Pruned++
			metrics.EdgesPruned.Inc()
		}
	}

	res.Elapsed = time.Since(start)
	metrics.SweepDuration.Observe(res.Elapsed.Seconds())
	return res
}
