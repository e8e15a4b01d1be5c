package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
	domainsvc "PredServe/internal/domain/service"
	"PredServe/internal/service/featurestore"
	"PredServe/internal/service/modelcache"
	"PredServe/internal/service/optimizer"
	"PredServe/internal/service/workerpool"
	pkgcache "PredServe/pkg/cache"
)

// ---- fakes shared by the engine and ensemble tests ----

type durableStub struct {
	mu      sync.Mutex
	vectors map[string]*models.FeatureVector
}

func (d *durableStub) GetVector(_ context.Context, symbol string, _ time.Time) (*models.FeatureVector, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.vectors[symbol]
	if !ok {
		return nil, models.ErrFeatureMissing
	}
	return v.Clone(), nil
}

func (d *durableStub) GetMatrix(ctx context.Context, symbols []string, _ []string) (map[string]*models.FeatureVector, error) {
	out := make(map[string]*models.FeatureVector)
	for _, s := range symbols {
		if v, err := d.GetVector(ctx, s, time.Now()); err == nil {
			out[s] = v
		}
	}
	return out, nil
}

func (d *durableStub) Health(context.Context) error { return nil }
func (d *durableStub) StoreVector(_ context.Context, v *models.FeatureVector) error {
	d.mu.Lock()
	d.vectors[v.Symbol] = v.Clone()
	d.mu.Unlock()
	return nil
}
func (d *durableStub) StoreVectorBatch(ctx context.Context, vs []*models.FeatureVector) error {
	for _, v := range vs {
		_ = d.StoreVector(ctx, v)
	}
	return nil
}
func (d *durableStub) Close() error { return nil }

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return nil
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return pkgcache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *memCache) DeleteByPattern(context.Context, string) error          { return nil }
func (c *memCache) Exists(context.Context, ...string) (bool, error)        { return false, nil }
func (c *memCache) Increment(context.Context, string) (int64, error)       { return 0, nil }
func (c *memCache) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}
func (c *memCache) MSet(context.Context, map[string]interface{}, time.Duration) error { return nil }
func (c *memCache) MGet(context.Context, ...string) (map[string]string, error) {
	return nil, nil
}
func (c *memCache) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
func (c *memCache) Unlock(context.Context, string) error { return nil }

var _ pkgcache.Service = (*memCache)(nil)

type stubRegistry struct {
	mu          sync.Mutex
	champion    *models.ModelRecord
	challengers []*models.ModelRecord
	err         error
}

func (r *stubRegistry) Register(context.Context, *models.ModelRecord) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (r *stubRegistry) Resolve(context.Context, string, string) (*models.ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.champion == nil {
		return nil, models.ErrModelNotFound
	}
	return r.champion, nil
}

func (r *stubRegistry) ResolveByID(_ context.Context, modelID string) (*models.ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.champion != nil && r.champion.ModelID == modelID {
		return r.champion, nil
	}
	for _, c := range r.challengers {
		if c.ModelID == modelID {
			return c, nil
		}
	}
	return nil, models.ErrModelNotFound
}

func (r *stubRegistry) Challengers(context.Context, string, string) ([]*models.ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.challengers, nil
}

func (r *stubRegistry) Deploy(context.Context, string, models.DeployRole, float64) error {
	return nil
}

func (r *stubRegistry) Rollback(context.Context, string, string) (*models.ModelRecord, error) {
	return nil, models.ErrModelNotFound
}

func (r *stubRegistry) Health(context.Context) error { return nil }

func (r *stubRegistry) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// scriptedPredictor emits a fixed raw prediction and counts its runs.
type scriptedPredictor struct {
	score float64
	conf  float64
	err   error
	block bool
	calls int32
}

func (p *scriptedPredictor) Predict(ctx context.Context, _ *models.OptimizedInput) (*models.RawPrediction, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &models.RawPrediction{
		Score:       p.score,
		Confidence:  p.conf,
		Probability: distFor(p.score),
	}, nil
}

func (p *scriptedPredictor) FeatureNames() []string { return []string{"macd", "rsi_14"} }

func distFor(score float64) models.ProbabilityDistribution {
	neutral := (1 - math.Abs(score)) / 2
	rem := 1 - neutral
	up := rem * (1 + score) / 2
	return models.ProbabilityDistribution{Up: up, Down: rem - up, Neutral: neutral}
}

// countingMetrics records cache events so tests can assert hit/miss
// accounting; everything else is a no-op.
type countingMetrics struct {
	mu     sync.Mutex
	events map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: make(map[string]int)}
}

func (m *countingMetrics) RecordPrediction(string, string) {}
func (m *countingMetrics) RecordCacheEvent(cache, event string) {
	m.mu.Lock()
	m.events[cache+":"+event]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordError(string)            {}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordQueueDepth(string, int)  {}
func (m *countingMetrics) RecordResidentModels(int)      {}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[key]
}

type scriptedLoader struct{}

func (scriptedLoader) Bytes(_ context.Context, rec *models.ModelRecord) ([]byte, error) {
	return []byte(rec.ModelID), nil
}

func deployedModel(id string, fraction float64) *models.ModelRecord {
	return &models.ModelRecord{
		ModelID:           id,
		Name:              "direction-" + id,
		Version:           "1.0.0",
		ModelType:         models.ModelTypeGBDTA,
		Objective:         "DIRECTION",
		PredictionHorizon: "1w",
		ValidationScore:   0.75,
		Status:            models.StatusDeployed,
		TrafficFraction:   fraction,
	}
}

type fixture struct {
	engine   *Engine
	registry *stubRegistry
	durable  *durableStub
	cache    *memCache
	pool     *workerpool.Pool
	weights  *WeightCalculator
}

func newFixture(t *testing.T, predictors map[string]*scriptedPredictor, cfg EngineConfig) *fixture {
	t.Helper()

	durable := &durableStub{vectors: map[string]*models.FeatureVector{
		"AAPL": {
			Symbol:           "AAPL",
			Timestamp:        time.Now(),
			Features:         map[string]float64{"rsi_14": 65.5, "macd": 1.2},
			ConfidenceScore:  0.9,
			DataQualityScore: 0.95,
			SourceProvider:   "alpha",
		},
	}}
	cache := newMemCache()
	features := featurestore.New(durable, durable, cache, nil)

	deser := func(rec *models.ModelRecord, _ []byte) (domainsvc.Predictor, error) {
		p, ok := predictors[rec.ModelID]
		if !ok {
			return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: fmt.Errorf("no artifact")}
		}
		return p, nil
	}
	mcache := modelcache.New(5, scriptedLoader{}, deser, nil)

	pool := workerpool.New(nil, workerpool.WithWorkers(4), workerpool.WithQueueCap(64))
	pool.Start()
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	ids := make([]string, 0, len(predictors))
	for id := range predictors {
		ids = append(ids, id)
	}
	weights := NewWeightCalculator(ids, 100, 0.05, time.Minute)

	registry := &stubRegistry{}
	if cfg.Objective == "" {
		cfg.Objective = "DIRECTION"
	}

	engine := NewEngine(features, registry, cache, mcache, optimizer.New(nil), pool, nil, weights, nil, cfg)
	return &fixture{engine: engine, registry: registry, durable: durable, cache: cache, pool: pool, weights: weights}
}

// ---- engine tests ----

func TestPredictCacheMissThenIdenticalHit(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{ConfidenceThreshold: 0.55})
	f.registry.champion = deployedModel("m1", 1)
	ctx := context.Background()

	first, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, models.DirectionUp, first.Direction)
	require.Equal(t, "m1", first.ModelID)
	require.Equal(t, "1.0.0", first.ModelVersion)
	require.NotNil(t, first.Quality)
	require.InDelta(t, 1.0, first.Probability.Up+first.Probability.Down+first.Probability.Neutral, 1e-9)

	second, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.RawScore, second.RawScore)
	require.Equal(t, first.Direction, second.Direction)
	require.Equal(t, first.ModelVersion, second.ModelVersion)
	require.Equal(t, first.TimestampMs, second.TimestampMs)
}

func TestLowConfidenceResultsAreNotCached(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.05, conf: 0.3},
	}, EngineConfig{ConfidenceThreshold: 0.55})
	f.registry.champion = deployedModel("m1", 1)
	ctx := context.Background()

	first, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, models.DirectionNeutral, first.Direction)

	second, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	require.False(t, second.CacheHit)
}

func TestPredictUnknownSymbolIsMissing(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("m1", 1)

	_, err := f.engine.Predict(context.Background(), "NOPE", "1w")
	require.ErrorIs(t, err, models.ErrFeatureMissing)
}

func TestPredictBudgetExpiryMapsToTimeout(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {block: true},
	}, EngineConfig{UncachedBudget: 30 * time.Millisecond})
	f.registry.champion = deployedModel("m1", 1)

	_, err := f.engine.Predict(context.Background(), "AAPL", "1w")
	require.ErrorIs(t, err, models.ErrTimeout)
}

func TestChallengerReceivesAllTrafficAtFullFraction(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"champ": {score: 0.6, conf: 0.8},
		"chall": {score: -0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("champ", 1)
	challenger := deployedModel("chall", 1)
	challenger.Role = models.RoleChallenger
	challenger.Version = "1.1.0"
	f.registry.challengers = []*models.ModelRecord{challenger}

	res, err := f.engine.Predict(context.Background(), "AAPL", "1w")
	require.NoError(t, err)
	require.Equal(t, "chall", res.ModelID)
	require.Equal(t, models.DirectionDown, res.Direction)
}

func TestZeroFractionChallengerGetsNoTraffic(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"champ": {score: 0.6, conf: 0.8},
		"chall": {score: -0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("champ", 1)
	challenger := deployedModel("chall", 0)
	challenger.Role = models.RoleChallenger
	f.registry.challengers = []*models.ModelRecord{challenger}

	res, err := f.engine.Predict(context.Background(), "AAPL", "1w")
	require.NoError(t, err)
	require.Equal(t, "champ", res.ModelID)
}

func TestStaleChampionServedWhenRegistryDown(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("m1", 1)
	ctx := context.Background()

	_, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)

	// Expire the cached pointer and take the registry down.
	f.engine.champMu.Lock()
	entry := f.engine.champions["1w"]
	entry.at = time.Now().Add(-time.Minute)
	f.engine.champions["1w"] = entry
	f.engine.champMu.Unlock()
	f.registry.setErr(fmt.Errorf("registry unreachable"))

	res, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	require.Equal(t, "m1", res.ModelID)
}

func TestBatchIsolatesFailedSymbols(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("m1", 1)

	out, err := f.engine.PredictBatch(context.Background(), []string{"AAPL", "NOPE"}, "1w")
	require.NoError(t, err)
	require.Len(t, out.Predictions, 1)
	require.Equal(t, "AAPL", out.Predictions[0].Symbol)
	require.Len(t, out.FailedSymbols, 1)
	require.Equal(t, "NOPE", out.FailedSymbols[0].Symbol)
}

func TestResultCacheHitAndMissEventsAreRecorded(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("m1", 1)
	m := newCountingMetrics()
	f.engine.metrics = m
	ctx := context.Background()

	_, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	_, err = f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)

	require.Equal(t, 1, m.count("result:miss"))
	require.Equal(t, 1, m.count("result:hit"))
}

func TestMetricsTrackTotalsAndFailures(t *testing.T) {
	f := newFixture(t, map[string]*scriptedPredictor{
		"m1": {score: 0.6, conf: 0.8},
	}, EngineConfig{})
	f.registry.champion = deployedModel("m1", 1)
	ctx := context.Background()

	_, err := f.engine.Predict(ctx, "AAPL", "1w")
	require.NoError(t, err)
	_, err = f.engine.Predict(ctx, "NOPE", "1w")
	require.Error(t, err)

	m := f.engine.Metrics()
	require.Equal(t, int64(2), m.TotalPredictions)
	require.InDelta(t, 0.5, m.FailureRate, 1e-9)
}
