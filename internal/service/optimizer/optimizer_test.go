package optimizer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

func vector(features map[string]float64) *models.FeatureVector {
	return &models.FeatureVector{
		Symbol:    "AAPL",
		Timestamp: time.Unix(1700000000, 0),
		Features:  features,
	}
}

func TestPrepareRejectsNonFiniteValues(t *testing.T) {
	o := New(nil)

	_, err := o.Prepare(vector(map[string]float64{"rsi_14": math.NaN()}), models.ModelTypeGBDTA)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "rsi_14", verr.Field)

	_, err = o.Prepare(vector(map[string]float64{"macd": math.Inf(1)}), models.ModelTypeSequence)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "macd", verr.Field)
}

func TestPrepareRejectsEmptyVector(t *testing.T) {
	o := New(nil)
	_, err := o.Prepare(vector(nil), models.ModelTypeGBDTA)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPrepareMinMaxForTreeFamily(t *testing.T) {
	o := New(nil)
	in, err := o.Prepare(vector(map[string]float64{"a": 10, "b": 20, "c": 30}), models.ModelTypeGBDTB)
	require.NoError(t, err)

	// Order is sorted feature names; values scaled into [0,1].
	require.Equal(t, []string{"a", "b", "c"}, in.Order)
	require.InDelta(t, 0.0, in.Values[0], 1e-9)
	require.InDelta(t, 0.5, in.Values[1], 1e-9)
	require.InDelta(t, 1.0, in.Values[2], 1e-9)
}

func TestPrepareZScoreForSequenceFamily(t *testing.T) {
	o := New(nil)
	in, err := o.Prepare(vector(map[string]float64{"a": 1, "b": 2, "c": 3}), models.ModelTypeSequence)
	require.NoError(t, err)

	var sum float64
	for _, v := range in.Values {
		sum += v
	}
	require.InDelta(t, 0, sum, 1e-9)
}

func TestPrepareConstantVector(t *testing.T) {
	o := New(nil)

	in, err := o.Prepare(vector(map[string]float64{"a": 5, "b": 5}), models.ModelTypeGBDTA)
	require.NoError(t, err)
	require.Equal(t, []float64{0.5, 0.5}, in.Values)

	in, err = o.Prepare(vector(map[string]float64{"a": 5, "b": 5}), models.ModelTypeSequence)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0}, in.Values)
}

func TestAlignImputesMissingFeatures(t *testing.T) {
	o := New(nil, WithImputeStrategy(ImputeMean))
	in := &models.OptimizedInput{
		Symbol: "AAPL",
		Order:  []string{"a", "b"},
		Values: []float64{0.2, 0.8},
	}

	aligned := o.Align(in, []string{"b", "missing", "a"})
	require.Equal(t, []string{"b", "missing", "a"}, aligned.Order)
	require.InDelta(t, 0.8, aligned.Values[0], 1e-9)
	require.InDelta(t, 0.5, aligned.Values[1], 1e-9) // mean of present values
	require.InDelta(t, 0.2, aligned.Values[2], 1e-9)
}

func TestAlignMedianImpute(t *testing.T) {
	o := New(nil, WithImputeStrategy(ImputeMedian))
	in := &models.OptimizedInput{
		Order:  []string{"a", "b", "c"},
		Values: []float64{1, 100, 3},
	}
	aligned := o.Align(in, []string{"missing"})
	require.InDelta(t, 3, aligned.Values[0], 1e-9)
}

func TestPrepareCacheEvictsLeastRecentlyUsed(t *testing.T) {
	o := New(nil, WithCacheSize(2))

	base := time.Unix(1700000000, 0)
	vecAt := func(ts time.Time) *models.FeatureVector {
		return &models.FeatureVector{
			Symbol:    "AAPL",
			Timestamp: ts,
			Features:  map[string]float64{"a": 1, "b": 2},
		}
	}

	a, err := o.Prepare(vecAt(base), models.ModelTypeGBDTA)
	require.NoError(t, err)
	b, err := o.Prepare(vecAt(base.Add(time.Second)), models.ModelTypeGBDTA)
	require.NoError(t, err)

	// Touching a makes b the eviction candidate.
	again, err := o.Prepare(vecAt(base), models.ModelTypeGBDTA)
	require.NoError(t, err)
	require.Same(t, a, again)

	_, err = o.Prepare(vecAt(base.Add(2*time.Second)), models.ModelTypeGBDTA)
	require.NoError(t, err)

	// a survived the trim, b did not.
	kept, err := o.Prepare(vecAt(base), models.ModelTypeGBDTA)
	require.NoError(t, err)
	require.Same(t, a, kept)

	fresh, err := o.Prepare(vecAt(base.Add(time.Second)), models.ModelTypeGBDTA)
	require.NoError(t, err)
	require.NotSame(t, b, fresh)
}

func TestPrepareCachesByTimestamp(t *testing.T) {
	o := New(nil)
	v := vector(map[string]float64{"a": 1, "b": 2})

	first, err := o.Prepare(v, models.ModelTypeGBDTA)
	require.NoError(t, err)
	second, err := o.Prepare(v, models.ModelTypeGBDTA)
	require.NoError(t, err)

	// Same timestamp and family returns the cached input.
	require.Same(t, first, second)

	// A newer snapshot is prepared fresh.
	v2 := vector(map[string]float64{"a": 1, "b": 2})
	v2.Timestamp = v.Timestamp.Add(time.Minute)
	third, err := o.Prepare(v2, models.ModelTypeGBDTA)
	require.NoError(t, err)
	require.NotSame(t, first, third)
}
