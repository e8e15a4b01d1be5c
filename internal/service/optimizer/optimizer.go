package optimizer

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"PredServe/internal/domain/models"
	"PredServe/internal/domain/repository"
)

// ImputeStrategy selects the fill value for features absent from a vector.
type ImputeStrategy string

const (
	ImputeZero   ImputeStrategy = "zero"
	ImputeMean   ImputeStrategy = "mean"
	ImputeMedian ImputeStrategy = "median"
)

// Option configures the Optimizer.
type Option func(*Optimizer)

// WithImputeStrategy overrides the default zero imputation.
func WithImputeStrategy(s ImputeStrategy) Option {
	return func(o *Optimizer) { o.impute = s }
}

// WithCacheSize bounds the preprocessed-input cache.
func WithCacheSize(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// Optimizer converts raw feature vectors into the dense, normalized layout
// models consume. Tree families get min-max scaling, the sequence family
// gets z-score. NaN or infinite inputs are rejected, never zeroed.
type Optimizer struct {
	impute    ImputeStrategy
	cacheSize int
	metrics   repository.Metrics

	mu     sync.Mutex
	cache  map[string]*models.OptimizedInput
	access map[string]int64 // recency tick per key, oldest evicts first
	tick   int64
}

// New creates an optimizer.
func New(metrics repository.Metrics, opts ...Option) *Optimizer {
	o := &Optimizer{
		impute:    ImputeZero,
		cacheSize: 512,
		metrics:   metrics,
		cache:     make(map[string]*models.OptimizedInput),
		access:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prepare validates, imputes, normalizes and packs one vector for the
// given model family.
func (o *Optimizer) Prepare(v *models.FeatureVector, modelType models.ModelType) (*models.OptimizedInput, error) {
	if v == nil || len(v.Features) == 0 {
		return nil, models.NewValidationError("features", "empty feature vector")
	}

	key := cacheKey(v, modelType)
	o.mu.Lock()
	if cached, ok := o.cache[key]; ok {
		o.touch(key)
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.RecordCacheEvent("preproc", "hit")
		}
		return cached, nil
	}
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.RecordCacheEvent("preproc", "miss")
	}

	names := make([]string, 0, len(v.Features))
	for name, val := range v.Features {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, models.NewValidationError(name, fmt.Sprintf("non-finite value %v", val))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = v.Features[name]
	}

	if modelType.IsTreeFamily() {
		minMaxScale(values)
	} else {
		zScore(values)
	}

	in := &models.OptimizedInput{
		Symbol:    v.Symbol,
		ModelType: modelType,
		Order:     names,
		Values:    values,
	}
	o.store(key, in)
	return in, nil
}

// PrepareBatch prepares many vectors for one family. The first invalid
// vector aborts the batch; batch callers isolate failures per symbol
// above this layer.
func (o *Optimizer) PrepareBatch(vs []*models.FeatureVector, modelType models.ModelType) ([]*models.OptimizedInput, error) {
	out := make([]*models.OptimizedInput, 0, len(vs))
	for _, v := range vs {
		in, err := o.Prepare(v, modelType)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// Align reorders and imputes a prepared input to match the model's
// expected feature order. Missing features are filled per strategy.
func (o *Optimizer) Align(in *models.OptimizedInput, want []string) *models.OptimizedInput {
	have := make(map[string]float64, len(in.Order))
	for i, name := range in.Order {
		have[name] = in.Values[i]
	}

	fill := o.fillValue(in.Values)
	values := make([]float64, len(want))
	for i, name := range want {
		if v, ok := have[name]; ok {
			values[i] = v
		} else {
			values[i] = fill
		}
	}
	return &models.OptimizedInput{
		Symbol:    in.Symbol,
		ModelType: in.ModelType,
		Order:     want,
		Values:    values,
	}
}

func (o *Optimizer) fillValue(present []float64) float64 {
	if len(present) == 0 {
		return 0
	}
	switch o.impute {
	case ImputeMean:
		sum := 0.0
		for _, v := range present {
			sum += v
		}
		return sum / float64(len(present))
	case ImputeMedian:
		s := append([]float64(nil), present...)
		sort.Float64s(s)
		mid := len(s) / 2
		if len(s)%2 == 0 {
			return (s[mid-1] + s[mid]) / 2
		}
		return s[mid]
	default:
		return 0
	}
}

func (o *Optimizer) store(key string, in *models.OptimizedInput) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.cache[key]; ok {
		o.touch(key)
		return
	}
	for len(o.cache) >= o.cacheSize && len(o.access) > 0 {
		o.evictOldest()
	}
	o.cache[key] = in
	o.touch(key)
}

// touch marks key as most recently used. Caller holds the lock.
func (o *Optimizer) touch(key string) {
	o.tick++
	o.access[key] = o.tick
}

// evictOldest drops the least recently used entry. Caller holds the lock.
func (o *Optimizer) evictOldest() {
	var oldestKey string
	oldest := int64(math.MaxInt64)
	for k, at := range o.access {
		if at < oldest {
			oldest = at
			oldestKey = k
		}
	}
	delete(o.cache, oldestKey)
	delete(o.access, oldestKey)
}

func cacheKey(v *models.FeatureVector, modelType models.ModelType) string {
	return fmt.Sprintf("%s:%s:%d", v.Symbol, modelType, v.Timestamp.UnixMilli())
}

// minMaxScale maps values into [0,1] in place. A constant vector maps
// to all 0.5 so downstream thresholds stay meaningful.
func minMaxScale(values []float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i := range values {
		if span == 0 {
			values[i] = 0.5
		} else {
			values[i] = (values[i] - lo) / span
		}
	}
}

// zScore standardizes values in place. A zero-variance vector becomes
// all zeros.
func zScore(values []float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	std := math.Sqrt(variance)

	for i := range values {
		if std == 0 {
			values[i] = 0
		} else {
			values[i] = (values[i] - mean) / std
		}
	}
}
