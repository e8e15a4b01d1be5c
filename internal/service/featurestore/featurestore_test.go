package featurestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
	pkgcache "PredServe/pkg/cache"
)

type fakeDurable struct {
	mu      sync.Mutex
	vectors map[string]*models.FeatureVector
	failing bool
	reads   int64
}

func (f *fakeDurable) GetVector(_ context.Context, symbol string, _ time.Time) (*models.FeatureVector, error) {
	atomic.AddInt64(&f.reads, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("connection refused")
	}
	v, ok := f.vectors[symbol]
	if !ok {
		return nil, models.ErrFeatureMissing
	}
	return v.Clone(), nil
}

func (f *fakeDurable) GetMatrix(ctx context.Context, symbols []string, _ []string) (map[string]*models.FeatureVector, error) {
	out := make(map[string]*models.FeatureVector)
	for _, s := range symbols {
		if v, err := f.GetVector(ctx, s, time.Now()); err == nil {
			out[s] = v
		}
	}
	return out, nil
}

func (f *fakeDurable) Health(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("connection refused")
	}
	return nil
}

func (f *fakeDurable) StoreVector(_ context.Context, v *models.FeatureVector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return fmt.Errorf("connection refused")
	}
	f.vectors[v.Symbol] = v.Clone()
	return nil
}

func (f *fakeDurable) StoreVectorBatch(ctx context.Context, vs []*models.FeatureVector) error {
	for _, v := range vs {
		if err := f.StoreVector(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDurable) Close() error { return nil }

// fakeCache is a JSON round-tripping cache, mimicking the Redis layer.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return pkgcache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeCache) DeleteByPattern(context.Context, string) error { return nil }
func (c *fakeCache) Exists(context.Context, ...string) (bool, error) {
	return false, nil
}
func (c *fakeCache) Increment(context.Context, string) (int64, error) { return 0, nil }
func (c *fakeCache) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}
func (c *fakeCache) MSet(context.Context, map[string]interface{}, time.Duration) error { return nil }
func (c *fakeCache) MGet(context.Context, ...string) (map[string]string, error) {
	return nil, nil
}
func (c *fakeCache) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
func (c *fakeCache) Unlock(context.Context, string) error { return nil }

var _ pkgcache.Service = (*fakeCache)(nil)

func freshVector(symbol string) *models.FeatureVector {
	return &models.FeatureVector{
		Symbol:           symbol,
		Timestamp:        time.Now(),
		Features:         map[string]float64{"rsi_14": 65.5, "macd": 1.2},
		ConfidenceScore:  0.9,
		DataQualityScore: 0.95,
		SourceProvider:   "alpha",
	}
}

func TestGetVectorMissReadsDurableThenHits(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{"AAPL": freshVector("AAPL")}}
	s := New(durable, durable, newFakeCache(), nil)

	v, q, err := s.GetVector(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 65.5, v.Features["rsi_14"])
	require.Greater(t, q.Score, 0.5)
	require.Equal(t, int64(1), atomic.LoadInt64(&durable.reads))

	// Second read is served from the hot map.
	_, _, err = s.GetVector(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&durable.reads))
}

func TestGetVectorReturnsClones(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{"AAPL": freshVector("AAPL")}}
	s := New(durable, durable, newFakeCache(), nil)

	v1, _, err := s.GetVector(context.Background(), "AAPL")
	require.NoError(t, err)
	v1.Features["rsi_14"] = -1

	v2, _, err := s.GetVector(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 65.5, v2.Features["rsi_14"])
}

func TestUnknownSymbolIsMissing(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{}}
	s := New(durable, durable, newFakeCache(), nil)

	_, _, err := s.GetVector(context.Background(), "NOPE")
	require.ErrorIs(t, err, models.ErrFeatureMissing)
}

func TestDurableFailureServesStaleHotEntry(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{}}
	cache := newFakeCache()
	// Nanosecond TTL makes the hot entry stale on the very next read.
	s := New(durable, durable, cache, nil, WithTTL(time.Nanosecond))

	require.NoError(t, s.Ingest(context.Background(), freshVector("AAPL")))
	require.NoError(t, cache.Delete(context.Background(), "features:AAPL"))
	time.Sleep(time.Millisecond)

	durable.mu.Lock()
	durable.failing = true
	durable.mu.Unlock()

	v, q, err := s.GetVector(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 65.5, v.Features["rsi_14"])
	require.Equal(t, 0.0, q.Freshness)
	require.True(t, q.Degraded())
}

func TestDegradedWithoutCacheIsAnError(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{}, failing: true}
	s := New(durable, durable, newFakeCache(), nil)

	_, _, err := s.GetVector(context.Background(), "AAPL")
	require.ErrorIs(t, err, models.ErrFeatureDegraded)
}

func TestGetMatrixIsolatesMissingSymbols(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{
		"AAPL": freshVector("AAPL"),
		"MSFT": freshVector("MSFT"),
	}}
	s := New(durable, durable, newFakeCache(), nil)

	out, missing, err := s.GetMatrix(context.Background(), []string{"AAPL", "MSFT", "NOPE"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []string{"NOPE"}, missing)
}

func TestDegradedModeFlipsAndRecovers(t *testing.T) {
	durable := &fakeDurable{vectors: map[string]*models.FeatureVector{"AAPL": freshVector("AAPL")}, failing: true}
	s := New(durable, durable, newFakeCache(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.GetVector(ctx, "AAPL")
		require.ErrorIs(t, err, models.ErrFeatureDegraded)
	}
	require.True(t, s.Degraded())

	durable.mu.Lock()
	durable.failing = false
	durable.mu.Unlock()

	// Degraded mode persists until a durable read succeeds.
	require.ErrorIs(t, s.Health(ctx), models.ErrFeatureDegraded)

	_, _, err := s.GetVector(ctx, "AAPL")
	require.NoError(t, err)
	require.False(t, s.Degraded())
	require.NoError(t, s.Health(ctx))
}
