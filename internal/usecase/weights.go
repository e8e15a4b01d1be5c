package usecase

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"PredServe/internal/domain/models"
	applogger "PredServe/pkg/logger"
)

// WeightCalculator tracks recent per-model outcomes and derives the
// ensemble weight set. Published sets are immutable; recomputation
// builds a fresh map and swaps it in one atomic store, so readers never
// observe a half-updated set.
type WeightCalculator struct {
	window    int
	minWeight float64
	interval  time.Duration

	mu       sync.Mutex
	outcomes map[string][]*models.Outcome // modelId -> ring of recent outcomes

	current atomic.Value // models.WeightSet
	l       *applogger.Logger
	stop    chan struct{}
	once    sync.Once
}

// NewWeightCalculator seeds the calculator with equal weights for the
// given member ids.
func NewWeightCalculator(members []string, window int, minWeight float64, interval time.Duration) *WeightCalculator {
	if window <= 0 {
		window = 100
	}
	if interval <= 0 {
		interval = time.Minute
	}
	w := &WeightCalculator{
		window:    window,
		minWeight: minWeight,
		interval:  interval,
		outcomes:  make(map[string][]*models.Outcome),
		stop:      make(chan struct{}),
	}

	seed := make(models.WeightSet, len(members))
	if len(members) > 0 {
		for _, id := range members {
			seed[id] = 1 / float64(len(members))
			w.outcomes[id] = nil
		}
	}
	w.current.Store(seed)
	return w
}

// SetLogger injects a structured logger.
func (w *WeightCalculator) SetLogger(l *applogger.Logger) { w.l = l }

// Current returns the live weight set. The returned map must not be
// mutated.
func (w *WeightCalculator) Current() models.WeightSet {
	return w.current.Load().(models.WeightSet)
}

// RecordOutcome appends one resolved outcome to the member's sliding
// window. Unknown models are admitted; they enter the next recompute.
func (w *WeightCalculator) RecordOutcome(o *models.Outcome) {
	if o == nil || o.ModelID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := append(w.outcomes[o.ModelID], o)
	if len(ring) > w.window {
		ring = ring[len(ring)-w.window:]
	}
	w.outcomes[o.ModelID] = ring
}

// Run recomputes periodically until ctx ends.
func (w *WeightCalculator) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Recompute()
		}
	}
}

// Close stops the recompute loop.
func (w *WeightCalculator) Close() { w.once.Do(func() { close(w.stop) }) }

// Recompute rebuilds the weight set from recent accuracy. Each member's
// score is its confidence-weighted hit rate with exponential decay
// favoring newer outcomes; members with no history keep their floor.
func (w *WeightCalculator) Recompute() {
	w.mu.Lock()
	scores := make(map[string]float64, len(w.outcomes))
	for id, ring := range w.outcomes {
		scores[id] = w.score(ring)
	}
	w.mu.Unlock()

	if len(scores) == 0 {
		return
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	next := make(models.WeightSet, len(scores))
	if sum <= 0 {
		for id := range scores {
			next[id] = 1 / float64(len(scores))
		}
	} else {
		for id, s := range scores {
			wt := s / sum
			if wt < w.minWeight {
				wt = w.minWeight
			}
			next[id] = wt
		}
		next = next.Normalized()
	}

	w.current.Store(next)
	if w.l != nil {
		w.l.Debug("ensemble weights recomputed", applogger.Int("members", len(next)))
	}
}

// score folds a member's window into one number. An empty window scores
// a neutral 0.5 so a fresh member is neither favored nor starved.
func (w *WeightCalculator) score(ring []*models.Outcome) float64 {
	if len(ring) == 0 {
		return 0.5
	}
	var num, den float64
	n := len(ring)
	for i, o := range ring {
		// newest outcome gets weight 1, the oldest ~1/e
		decay := math.Exp(float64(i-n+1) / float64(n))
		conf := o.Confidence
		if conf <= 0 {
			conf = 0.5
		}
		den += decay * conf
		if o.Correct {
			num += decay * conf
		}
	}
	if den == 0 {
		return 0.5
	}
	return num / den
}
