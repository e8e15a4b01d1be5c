package artifact

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func record(modelType models.ModelType) *models.ModelRecord {
	return &models.ModelRecord{ModelID: "m1", Version: "1.0.0", ModelType: modelType}
}

func marshal(t *testing.T, f artifactFile) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	require.NoError(t, err)
	return b
}

func TestDeserializeTreeAndWalk(t *testing.T) {
	// One stump: values[0] <= 0.5 -> -2, else +2.
	raw := marshal(t, artifactFile{
		ModelType: models.ModelTypeGBDTA,
		Features:  []string{"macd", "rsi_14"},
		BaseScore: 0,
		Trees: []treeSpec{{Nodes: []treeNode{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
			{Left: -1, Value: -2},
			{Left: -1, Value: 2},
		}}},
	})

	p, err := Deserialize(record(models.ModelTypeGBDTA), raw)
	require.NoError(t, err)
	require.Equal(t, []string{"macd", "rsi_14"}, p.FeatureNames())

	out, err := p.Predict(context.Background(), &models.OptimizedInput{Values: []float64{0.9, 0.1}})
	require.NoError(t, err)
	require.InDelta(t, math.Tanh(2), out.Score, 1e-9)
	require.Greater(t, out.Probability.Up, out.Probability.Down)

	out, err = p.Predict(context.Background(), &models.OptimizedInput{Values: []float64{0.1, 0.9}})
	require.NoError(t, err)
	require.InDelta(t, math.Tanh(-2), out.Score, 1e-9)
	require.Greater(t, out.Probability.Down, out.Probability.Up)
}

func TestLearningRateScalesTreeOutput(t *testing.T) {
	stump := treeSpec{Nodes: []treeNode{{Left: -1, Value: 1}}}
	raw := marshal(t, artifactFile{
		ModelType:    models.ModelTypeGBDTB,
		Features:     []string{"a"},
		LearningRate: 0.5,
		Trees:        []treeSpec{stump, stump},
	})

	p, err := Deserialize(record(models.ModelTypeGBDTB), raw)
	require.NoError(t, err)
	out, err := p.Predict(context.Background(), &models.OptimizedInput{Values: []float64{0}})
	require.NoError(t, err)
	require.InDelta(t, math.Tanh(1), out.Score, 1e-9)
}

func TestSequencePredictorLinearHead(t *testing.T) {
	raw := marshal(t, artifactFile{
		ModelType: models.ModelTypeSequence,
		Features:  []string{"a", "b"},
		Weights:   []float64{2, -1},
		Bias:      0.5,
	})

	p, err := Deserialize(record(models.ModelTypeSequence), raw)
	require.NoError(t, err)
	out, err := p.Predict(context.Background(), &models.OptimizedInput{Values: []float64{1, 0.5}})
	require.NoError(t, err)
	// 0.5 + 2*1 - 1*0.5 = 2
	require.InDelta(t, math.Tanh(2), out.Score, 1e-9)
}

func TestDeserializeFamilyMismatch(t *testing.T) {
	raw := marshal(t, artifactFile{
		ModelType: models.ModelTypeSequence,
		Features:  []string{"a"},
		Weights:   []float64{1},
	})

	_, err := Deserialize(record(models.ModelTypeGBDTA), raw)
	var loadErr *models.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, "m1", loadErr.ModelID)
}

func TestDeserializeRejectsMalformedArtifacts(t *testing.T) {
	var loadErr *models.ModelLoadError

	_, err := Deserialize(record(models.ModelTypeGBDTA), []byte("not json"))
	require.ErrorAs(t, err, &loadErr)

	// Tree record without trees.
	_, err = Deserialize(record(models.ModelTypeGBDTA), marshal(t, artifactFile{Features: []string{"a"}}))
	require.ErrorAs(t, err, &loadErr)

	// Sequence weight/feature count mismatch.
	_, err = Deserialize(record(models.ModelTypeSequence), marshal(t, artifactFile{
		Features: []string{"a", "b"},
		Weights:  []float64{1},
	}))
	require.ErrorAs(t, err, &loadErr)
}

func TestWalkRejectsCorruptTrees(t *testing.T) {
	// A cycle between nodes 0 and 1 must not loop forever.
	cyclic := []treeNode{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 1},
		{Feature: 0, Threshold: 0.5, Left: 0, Right: 0},
	}
	_, err := walk(cyclic, []float64{0})
	require.Error(t, err)

	// Child index beyond the node slice.
	oob := []treeNode{{Feature: 0, Threshold: 0.5, Left: 7, Right: 7}}
	_, err = walk(oob, []float64{0})
	require.Error(t, err)
}

func TestSquashBounds(t *testing.T) {
	for _, raw := range []float64{-10, -1, -0.2, 0, 0.2, 1, 10} {
		out := squash(raw)
		require.GreaterOrEqual(t, out.Score, -1.0)
		require.LessOrEqual(t, out.Score, 1.0)
		require.GreaterOrEqual(t, out.Confidence, 0.0)
		require.LessOrEqual(t, out.Confidence, 1.0)
		sum := out.Probability.Up + out.Probability.Down + out.Probability.Neutral
		require.InDelta(t, 1.0, sum, 1e-9)
	}

	// Zero margin is maximally neutral.
	out := squash(0)
	require.Equal(t, 0.5, out.Probability.Neutral)
	require.Equal(t, 0.0, out.Confidence)
}
