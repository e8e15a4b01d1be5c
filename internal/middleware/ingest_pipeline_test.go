package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PredServe/internal/domain/models"
)

type recordingSink struct {
	mu       sync.Mutex
	vectors  []*models.FeatureVector
	failNext int
}

func (s *recordingSink) Ingest(_ context.Context, v *models.FeatureVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("store down")
	}
	s.vectors = append(s.vectors, v)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vectors)
}

type noopMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newNoopMetrics() *noopMetrics { return &noopMetrics{errors: make(map[string]int)} }

func (m *noopMetrics) RecordPrediction(string, string) {}
func (m *noopMetrics) RecordCacheEvent(string, string) {}
func (m *noopMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *noopMetrics) RecordLatency(string, float64) {}
func (m *noopMetrics) RecordQueueDepth(string, int)  {}
func (m *noopMetrics) RecordResidentModels(int)      {}

func (m *noopMetrics) errCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func vec(symbol string, features map[string]float64) *models.FeatureVector {
	return &models.FeatureVector{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Features:  features,
	}
}

func TestProcessForwardsValidVectors(t *testing.T) {
	sink := &recordingSink{}
	p := NewIngestPipeline(sink, newNoopMetrics())

	err := p.Process(context.Background(), vec("AAPL", map[string]float64{"rsi_14": 65.5}))
	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
}

func TestProcessRejectsInvalidVectors(t *testing.T) {
	sink := &recordingSink{}
	m := newNoopMetrics()
	p := NewIngestPipeline(sink, m)
	ctx := context.Background()

	require.Error(t, p.Process(ctx, nil))
	require.Error(t, p.Process(ctx, vec("", map[string]float64{"a": 1})))
	require.Error(t, p.Process(ctx, &models.FeatureVector{Symbol: "AAPL", Timestamp: time.Now()}))
	require.Error(t, p.Process(ctx, &models.FeatureVector{Symbol: "AAPL", Features: map[string]float64{"a": 1}}))

	err := p.Process(ctx, vec("AAPL", map[string]float64{"rsi_14": math.NaN()}))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "rsi_14", verr.Field)

	require.Equal(t, 0, sink.count())
	require.Equal(t, 5, m.errCount("ingest_validate"))
}

func TestThrottleDropsBurstPerSymbol(t *testing.T) {
	sink := &recordingSink{}
	m := newNoopMetrics()
	p := NewIngestPipeline(sink, m, WithMaxRPS(1))
	ctx := context.Background()

	// Burst on one symbol: only the first passes, drops are silent.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, vec("AAPL", map[string]float64{"a": 1})))
	}
	require.Equal(t, 1, sink.count())
	require.Equal(t, 4, m.errCount("ingest_throttle"))

	// A different symbol has its own budget.
	require.NoError(t, p.Process(ctx, vec("MSFT", map[string]float64{"a": 1})))
	require.Equal(t, 2, sink.count())
}

func TestTransformRunsBeforeForwarding(t *testing.T) {
	sink := &recordingSink{}
	p := NewIngestPipeline(sink, newNoopMetrics(), WithTransform(func(v *models.FeatureVector) *models.FeatureVector {
		v.Features["derived"] = v.Features["a"] * 2
		return v
	}))

	require.NoError(t, p.Process(context.Background(), vec("AAPL", map[string]float64{"a": 3})))
	require.Equal(t, 1, sink.count())
	require.Equal(t, 6.0, sink.vectors[0].Features["derived"])
}

func TestDownstreamFailureBuffersAndFlushes(t *testing.T) {
	sink := &recordingSink{failNext: 1}
	m := newNoopMetrics()
	p := NewIngestPipeline(sink, m, WithBufferSize(10))

	err := p.Process(context.Background(), vec("AAPL", map[string]float64{"a": 1}))
	require.Error(t, err)
	require.Equal(t, 1, m.errCount("ingest_store"))
	require.Equal(t, 0, sink.count())

	// The flusher replays the buffered vector once the sink recovers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
