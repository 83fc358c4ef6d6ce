// Package rank computes personalized relevance and trending scores by
// traversing the knowledge graph.
package rank

import (
	"sort"
	"sync"
	"time"
)

// TrendTracker scores content by the rate of recent engagement weight
// increase over a sliding window. The score is independent of any
// requester's neighborhood, which makes it the cold-start fallback.
//
// Samples are held in memory only: trending is a derivative signal and is
// rebuilt organically from live traffic after a restart.
type TrendTracker struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time

	samples map[string][]sample
}

type sample struct {
	at    time.Time
	delta float64
}

// TrendScore is one entry in a trending ranking.
type TrendScore struct {
	ContentID string
	Score     float64
}

// NewTrendTracker creates a tracker with the given sliding window.
func NewTrendTracker(window time.Duration) *TrendTracker {
	return &TrendTracker{
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
		samples: make(map[string][]sample),
	}
}

// SetNow overrides the tracker clock. Test hook.
func (t *TrendTracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Record adds a positive engagement weight increase for a content node.
func (t *TrendTracker) Record(contentID string, delta float64, at time.Time) {
	if delta <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	if at.Before(cutoff) {
		return
	}
	t.samples[contentID] = append(pruneSamples(t.samples[contentID], cutoff), sample{at: at, delta: delta})
}

// Forget drops a content node from the tracker, e.g. after a tombstone.
func (t *TrendTracker) Forget(contentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.samples, contentID)
}

// Trending returns up to limit content IDs ordered by descending trending
// score. More recent increases weigh more: each sample contributes
// delta * (1 - age/window). Ties break by content ID for determinism.
func (t *TrendTracker) Trending(limit int) []TrendScore {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)

	scores := make([]TrendScore, 0, len(t.samples))
	for id, samples := range t.samples {
		samples = pruneSamples(samples, cutoff)
		if len(samples) == 0 {
			delete(t.samples, id)
			continue
		}
		t.samples[id] = samples

		var score float64
		for _, s := range samples {
			age := now.Sub(s.at)
			score += s.delta * (1 - float64(age)/float64(t.window))
		}
		if score > 0 {
			scores = append(scores, TrendScore{ContentID: id, Score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ContentID < scores[j].ContentID
	})

	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

func pruneSamples(samples []sample, cutoff time.Time) []sample {
	kept := samples[:0]
	for _, s := range samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
