package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func ensembleFixture(t *testing.T, predictors map[string]*scriptedPredictor) (*EnsembleService, *fixture) {
	t.Helper()
	f := newFixture(t, predictors, EngineConfig{})
	svc := NewEnsembleService(f.engine, f.weights, f.pool, nil)
	return svc, f
}

func TestEnsembleAggregatesAllMembers(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"champ": {score: 0.8, conf: 0.9},
		"chall": {score: 0.4, conf: 0.7},
	})
	f.registry.champion = deployedModel("champ", 1)
	challenger := deployedModel("chall", 0.1)
	challenger.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{challenger}

	res, err := svc.Predict(context.Background(), "AAPL", "1w", nil)
	require.NoError(t, err)
	require.True(t, res.Ensemble)
	require.ElementsMatch(t, []string{"champ", "chall"}, res.Members)

	// Equal seed weights average the member scores.
	require.InDelta(t, 0.6, res.RawScore, 1e-9)
	require.Equal(t, models.DirectionUp, res.Direction)
	require.Equal(t, "champ", res.ModelID)

	// Disagreement between 0.8 and 0.4 shaves confidence below the
	// weighted mean.
	require.Less(t, res.Confidence, 0.8)
	require.Greater(t, res.Confidence, 0.0)

	sum := res.Probability.Up + res.Probability.Down + res.Probability.Neutral
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestEnsembleDropsFailedMemberAndRenormalizes(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"champ":  {score: 0.8, conf: 0.9},
		"broken": {err: fmt.Errorf("artifact corrupt")},
	})
	f.registry.champion = deployedModel("champ", 1)
	broken := deployedModel("broken", 0.1)
	broken.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{broken}

	res, err := svc.Predict(context.Background(), "AAPL", "1w", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"champ"}, res.Members)

	// The survivor carries full weight, so the aggregate is its output.
	require.InDelta(t, 0.8, res.RawScore, 1e-9)
	sum := res.Probability.Up + res.Probability.Down + res.Probability.Neutral
	require.InDelta(t, 1.0, sum, 1e-6)

	// A lone member cannot disagree with itself.
	require.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestEnsembleTotalFailure(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"a": {err: fmt.Errorf("boom")},
		"b": {err: fmt.Errorf("boom")},
	})
	f.registry.champion = deployedModel("a", 1)
	b := deployedModel("b", 0.1)
	b.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{b}

	_, err := svc.Predict(context.Background(), "AAPL", "1w", nil)
	require.ErrorIs(t, err, models.ErrEnsembleTotalFailure)
}

func TestEnsembleMembersServeFromResultCache(t *testing.T) {
	preds := map[string]*scriptedPredictor{
		"champ": {score: 0.8, conf: 0.9},
		"chall": {score: 0.4, conf: 0.7},
	}
	svc, f := ensembleFixture(t, preds)
	f.registry.champion = deployedModel("champ", 1)
	challenger := deployedModel("chall", 0.1)
	challenger.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{challenger}
	ctx := context.Background()

	first, err := svc.Predict(ctx, "AAPL", "1w", nil)
	require.NoError(t, err)
	second, err := svc.Predict(ctx, "AAPL", "1w", nil)
	require.NoError(t, err)
	require.Equal(t, first.RawScore, second.RawScore)

	// The second call reuses each member's cached result instead of
	// re-running its inference pipeline.
	require.EqualValues(t, 1, atomic.LoadInt32(&preds["champ"].calls))
	require.EqualValues(t, 1, atomic.LoadInt32(&preds["chall"].calls))
}

func TestEnsembleExplicitMemberList(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.8, conf: 0.9},
		"m2": {score: 0.4, conf: 0.7},
	})
	f.registry.champion = deployedModel("m1", 1)
	// Zero traffic fraction: default single-model routing never picks m2.
	m2 := deployedModel("m2", 0)
	m2.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{m2}

	res, err := svc.Predict(context.Background(), "AAPL", "1w", []string{"m1", "m2"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"m1", "m2"}, res.Members)
	require.Equal(t, "m1", res.ModelID)
	require.InDelta(t, 0.6, res.RawScore, 1e-9)

	sum := res.Probability.Up + res.Probability.Down + res.Probability.Neutral
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestEnsembleExplicitUnknownMemberFails(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.8, conf: 0.9},
	})
	f.registry.champion = deployedModel("m1", 1)

	_, err := svc.Predict(context.Background(), "AAPL", "1w", []string{"m1", "ghost"})
	require.ErrorIs(t, err, models.ErrModelNotFound)
}

func TestEnsembleUsesRecomputedWeights(t *testing.T) {
	svc, f := ensembleFixture(t, map[string]*scriptedPredictor{
		"champ": {score: 1, conf: 0.9},
		"chall": {score: 0, conf: 0.9},
	})
	f.registry.champion = deployedModel("champ", 1)
	challenger := deployedModel("chall", 0.1)
	challenger.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{challenger}

	// Make the champion the clear performer so its weight dominates.
	for i := 0; i < 50; i++ {
		f.weights.RecordOutcome(outcome("champ", true, 0.9))
		f.weights.RecordOutcome(outcome("chall", false, 0.9))
	}
	f.weights.Recompute()

	res, err := svc.Predict(context.Background(), "AAPL", "1w", nil)
	require.NoError(t, err)
	// With equal weights the aggregate would be 0.5; the performance
	// skew pulls it toward the champion's score.
	require.Greater(t, res.RawScore, 0.6)
}
