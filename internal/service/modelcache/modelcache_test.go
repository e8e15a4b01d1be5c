package modelcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
	domainsvc "PredServe/internal/domain/service"
)

type fakeLoader struct {
	loads int64
	fail  map[string]bool
}

func (f *fakeLoader) Bytes(_ context.Context, rec *models.ModelRecord) ([]byte, error) {
	atomic.AddInt64(&f.loads, 1)
	if f.fail[rec.ModelID] {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: fmt.Errorf("boom")}
	}
	return []byte(rec.ModelID), nil
}

type stubPredictor struct{ id string }

func (s *stubPredictor) Predict(_ context.Context, _ *models.OptimizedInput) (*models.RawPrediction, error) {
	return &models.RawPrediction{Score: 0.5}, nil
}
func (s *stubPredictor) FeatureNames() []string { return []string{"f1"} }

func stubDeserializer(rec *models.ModelRecord, _ []byte) (domainsvc.Predictor, error) {
	return &stubPredictor{id: rec.ModelID}, nil
}

func rec(id string) *models.ModelRecord {
	return &models.ModelRecord{ModelID: id, Version: "1.0.0", ModelType: models.ModelTypeGBDTA}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	loader := &fakeLoader{}
	c := New(3, loader, stubDeserializer, nil)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := c.Get(ctx, rec(id))
		require.NoError(t, err)
	}

	// Touch m1 so m2 becomes the LRU victim.
	_, err := c.Get(ctx, rec("m1"))
	require.NoError(t, err)

	_, err = c.Get(ctx, rec("m4"))
	require.NoError(t, err)

	st := c.Snapshot()
	require.Equal(t, 3, st.Resident)
	require.Equal(t, uint64(1), st.Evictions)

	// m2 was evicted: fetching it again loads from the artifact store.
	before := atomic.LoadInt64(&loader.loads)
	_, err = c.Get(ctx, rec("m2"))
	require.NoError(t, err)
	require.Equal(t, before+1, atomic.LoadInt64(&loader.loads))

	// m1 survived the eviction.
	before = atomic.LoadInt64(&loader.loads)
	_, err = c.Get(ctx, rec("m1"))
	require.NoError(t, err)
	require.Equal(t, before, atomic.LoadInt64(&loader.loads))
}

func TestCacheHitDoesNotReload(t *testing.T) {
	loader := &fakeLoader{}
	c := New(5, loader, stubDeserializer, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, rec("m1"))
	require.NoError(t, err)
	_, err = c.Get(ctx, rec("m1"))
	require.NoError(t, err)

	require.Equal(t, int64(1), atomic.LoadInt64(&loader.loads))
	st := c.Snapshot()
	require.Equal(t, uint64(1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
}

func TestLoadFailurePoisonsOnlyItsEntry(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"bad": true}}
	c := New(5, loader, stubDeserializer, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, rec("good"))
	require.NoError(t, err)

	_, err = c.Get(ctx, rec("bad"))
	var loadErr *models.ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, "bad", loadErr.ModelID)

	// The resident model is untouched and still served without a reload.
	before := atomic.LoadInt64(&loader.loads)
	p, err := c.Get(ctx, rec("good"))
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, before, atomic.LoadInt64(&loader.loads))
	require.Equal(t, 1, c.Snapshot().Resident)
}

func TestInvalidateDropsEntry(t *testing.T) {
	loader := &fakeLoader{}
	c := New(5, loader, stubDeserializer, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, rec("m1"))
	require.NoError(t, err)
	c.Invalidate("m1")

	_, err = c.Get(ctx, rec("m1"))
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&loader.loads))
}
