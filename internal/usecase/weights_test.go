package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func outcome(modelID string, correct bool, conf float64) *models.Outcome {
	return &models.Outcome{
		ModelID:    modelID,
		Symbol:     "AAPL",
		Horizon:    "1w",
		Correct:    correct,
		Confidence: conf,
		ResolvedAt: time.Now(),
	}
}

func TestSeedWeightsAreEqual(t *testing.T) {
	w := NewWeightCalculator([]string{"m1", "m2", "m3", "m4"}, 100, 0.05, time.Minute)
	cur := w.Current()
	require.Len(t, cur, 4)
	for _, v := range cur {
		require.InDelta(t, 0.25, v, 1e-9)
	}
}

func TestAccurateModelGainsWeight(t *testing.T) {
	w := NewWeightCalculator([]string{"good", "bad"}, 100, 0.05, time.Minute)

	for i := 0; i < 50; i++ {
		w.RecordOutcome(outcome("good", true, 0.8))
		w.RecordOutcome(outcome("bad", i%4 == 0, 0.8))
	}
	w.Recompute()

	cur := w.Current()
	require.Greater(t, cur["good"], cur["bad"])

	var sum float64
	for _, v := range cur {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestMinWeightFloorHolds(t *testing.T) {
	w := NewWeightCalculator([]string{"good", "awful"}, 100, 0.1, time.Minute)

	for i := 0; i < 50; i++ {
		w.RecordOutcome(outcome("good", true, 0.9))
		w.RecordOutcome(outcome("awful", false, 0.9))
	}
	w.Recompute()

	cur := w.Current()
	// The floor is applied before renormalization, so the loser keeps a
	// meaningful share instead of collapsing to zero.
	require.GreaterOrEqual(t, cur["awful"], 0.05)
	var sum float64
	for _, v := range cur {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestFreshMemberScoresNeutral(t *testing.T) {
	w := NewWeightCalculator([]string{"seasoned", "fresh"}, 100, 0.05, time.Minute)

	// A seasoned member at exactly coin-flip accuracy should land near
	// the fresh member's neutral 0.5 score.
	for i := 0; i < 40; i++ {
		w.RecordOutcome(outcome("seasoned", i%2 == 0, 0.6))
	}
	w.Recompute()

	cur := w.Current()
	require.InDelta(t, cur["seasoned"], cur["fresh"], 0.15)
}

func TestWindowDropsOldOutcomes(t *testing.T) {
	w := NewWeightCalculator([]string{"m1", "m2"}, 10, 0.0, time.Minute)

	// m1 starts terrible, then turns perfect; only the last 10 outcomes
	// should count.
	for i := 0; i < 30; i++ {
		w.RecordOutcome(outcome("m1", false, 0.9))
	}
	for i := 0; i < 10; i++ {
		w.RecordOutcome(outcome("m1", true, 0.9))
	}
	for i := 0; i < 10; i++ {
		w.RecordOutcome(outcome("m2", i%2 == 0, 0.9))
	}
	w.Recompute()

	cur := w.Current()
	require.Greater(t, cur["m1"], cur["m2"])
}

func TestRecordOutcomeIgnoresJunk(t *testing.T) {
	w := NewWeightCalculator([]string{"m1"}, 10, 0.0, time.Minute)
	w.RecordOutcome(nil)
	w.RecordOutcome(&models.Outcome{})
	w.Recompute()
	require.Len(t, w.Current(), 1)
}

func TestNormalizedExcludesFailedMembers(t *testing.T) {
	ws := models.WeightSet{"a": 0.5, "b": 0.3, "c": 0.2}
	out := ws.Normalized("b")
	require.Len(t, out, 2)
	require.InDelta(t, 0.5/0.7, out["a"], 1e-9)
	require.InDelta(t, 0.2/0.7, out["c"], 1e-9)

	var sum float64
	for _, v := range out {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)

	// Excluding everything leaves no mass to rescale.
	require.Nil(t, ws.Normalized("a", "b", "c"))
}
