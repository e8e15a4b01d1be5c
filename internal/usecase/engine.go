package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
	"PredServe/internal/service/featurestore"
	"PredServe/internal/service/modelcache"
	"PredServe/internal/service/optimizer"
	"PredServe/internal/service/workerpool"
	pkgcache "PredServe/pkg/cache"
	applogger "PredServe/pkg/logger"
)

// EngineConfig carries the serving knobs.
type EngineConfig struct {
	Objective           string
	NeutralBand         float64
	ConfidenceThreshold float64
	CachedBudget        time.Duration
	UncachedBudget      time.Duration
	ResultTTL           time.Duration
	BatchChunkSize      int
	BatchParallelism    int
}

// Engine is the real-time prediction core: feature read, preprocessing,
// model resolution, inference and result caching behind one Predict
// surface. Results are immutable once produced; a stale cache entry is
// replaced by a new result, never edited.
type Engine struct {
	features  *featurestore.Store
	registry  domrepo.ModelRegistry
	cacheSvc  pkgcache.Service
	models    *modelcache.Cache
	opt       *optimizer.Optimizer
	pool      *workerpool.Pool
	publisher domrepo.PredictionPublisher
	weights   *WeightCalculator
	metrics   domrepo.Metrics
	cfg       EngineConfig
	l         *applogger.Logger

	sf  singleflight.Group
	lat *latencyWindow

	total     int64
	failures  int64
	cacheHits int64

	champMu     sync.Mutex
	champions   map[string]championEntry
	initialized atomic.Bool
}

type championEntry struct {
	rec         *models.ModelRecord
	challengers []*models.ModelRecord
	at          time.Time
}

// champion pointers are re-read from the registry after this long.
const championTTL = 30 * time.Second

// NewEngine wires the serving core.
func NewEngine(
	features *featurestore.Store,
	registry domrepo.ModelRegistry,
	cacheSvc pkgcache.Service,
	modelCache *modelcache.Cache,
	opt *optimizer.Optimizer,
	pool *workerpool.Pool,
	publisher domrepo.PredictionPublisher,
	weights *WeightCalculator,
	metrics domrepo.Metrics,
	cfg EngineConfig,
) *Engine {
	if cfg.NeutralBand <= 0 {
		cfg.NeutralBand = 0.1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if cfg.BatchChunkSize <= 0 {
		cfg.BatchChunkSize = 16
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = 4
	}
	return &Engine{
		features:  features,
		registry:  registry,
		cacheSvc:  cacheSvc,
		models:    modelCache,
		opt:       opt,
		pool:      pool,
		publisher: publisher,
		weights:   weights,
		metrics:   metrics,
		cfg:       cfg,
		lat:       newLatencyWindow(2048),
		champions: make(map[string]championEntry),
	}
}

// SetLogger injects a structured logger.
func (e *Engine) SetLogger(l *applogger.Logger) { e.l = l }

// Warm resolves the current champion and pre-loads its artifact so the
// first request does not pay the cold-start cost.
func (e *Engine) Warm(ctx context.Context, horizon string) error {
	horizon = string(domrepo.NormalizeHorizon(horizon))
	rec, _, err := e.resolve(ctx, horizon)
	if err != nil {
		return err
	}
	if _, err := e.models.Get(ctx, rec); err != nil {
		return err
	}
	e.initialized.Store(true)
	if e.l != nil {
		e.l.Info("engine warmed",
			applogger.String("model_id", rec.ModelID),
			applogger.String("version", rec.Version),
			applogger.String("horizon", horizon),
		)
	}
	return nil
}

// Predict serves one symbol at one horizon. Cached answers return as-is;
// misses run the full pipeline under the uncached latency budget, with
// concurrent identical requests collapsed into a single computation.
func (e *Engine) Predict(ctx context.Context, symbol, horizon string) (*models.PredictionResult, error) {
	start := time.Now()
	horizon = string(domrepo.NormalizeHorizon(horizon))
	atomic.AddInt64(&e.total, 1)

	rec, challengers, err := e.resolve(ctx, horizon)
	if err != nil {
		return nil, e.fail(err)
	}
	rec = e.route(symbol, rec, challengers)

	res, err := e.predictWith(ctx, symbol, horizon, rec)
	if err != nil {
		return nil, e.fail(err)
	}
	res.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	if res.CacheHit {
		atomic.AddInt64(&e.cacheHits, 1)
		e.observe("predict_cached", start)
	} else {
		e.observe("predict", start)
	}
	return res, nil
}

// predictWith serves (symbol, horizon) on one specific model, result
// cache first. Ensemble members come through here directly, so each
// member's output is cached and reused independently of the others.
func (e *Engine) predictWith(ctx context.Context, symbol, horizon string, rec *models.ModelRecord) (*models.PredictionResult, error) {
	key := resultKey(symbol, horizon, rec)

	cctx := ctx
	if e.cfg.CachedBudget > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.cfg.CachedBudget)
		defer cancel()
	}
	var cached models.PredictionResult
	if err := e.cacheSvc.Get(cctx, key, &cached); err == nil && cached.Symbol == symbol {
		if e.metrics != nil {
			e.metrics.RecordCacheEvent("result", "hit")
		}
		out := cached
		out.CacheHit = true
		return &out, nil
	}
	if e.metrics != nil {
		e.metrics.RecordCacheEvent("result", "miss")
	}

	if e.cfg.UncachedBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.UncachedBudget)
		defer cancel()
	}

	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		return e.compute(ctx, symbol, horizon, rec)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = models.ErrTimeout
		}
		return nil, err
	}

	out := *v.(*models.PredictionResult)
	return &out, nil
}

// compute runs the uncached pipeline for one (symbol, horizon, model).
func (e *Engine) compute(ctx context.Context, symbol, horizon string, rec *models.ModelRecord) (*models.PredictionResult, error) {
	vec, quality, err := e.features.GetVector(ctx, symbol)
	if err != nil {
		return nil, err
	}

	in, err := e.opt.Prepare(vec, rec.ModelType)
	if err != nil {
		return nil, err
	}

	predictor, err := e.models.Get(ctx, rec)
	if err != nil {
		return nil, err
	}
	in = e.opt.Align(in, predictor.FeatureNames())

	raw, err := predictor.Predict(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	res := &models.PredictionResult{
		Symbol:       symbol,
		Horizon:      horizon,
		RawScore:     raw.Score,
		Direction:    models.DirectionFor(raw.Score, e.cfg.NeutralBand),
		Confidence:   raw.Confidence,
		Probability:  raw.Probability,
		ModelVersion: rec.Version,
		ModelID:      rec.ModelID,
		Quality:      &quality,
		TimestampMs:  time.Now().UnixMilli(),
	}

	// Low-confidence answers are served but never cached, so a better
	// answer can replace them immediately.
	if raw.Confidence >= e.cfg.ConfidenceThreshold {
		if err := e.cacheSvc.Set(ctx, resultKey(symbol, horizon, rec), res, e.cfg.ResultTTL); err != nil && e.l != nil {
			e.l.Warn("result cache set failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}

	e.publish(res)
	if e.metrics != nil {
		e.metrics.RecordPrediction(horizon, string(res.Direction))
	}
	return res, nil
}

// PredictBatch serves many symbols, chunked and fanned out over the
// worker pool. One symbol's failure is recorded, not propagated.
func (e *Engine) PredictBatch(ctx context.Context, symbols []string, horizon string) (*models.BatchResult, error) {
	start := time.Now()
	horizon = string(domrepo.NormalizeHorizon(horizon))

	out := &models.BatchResult{}
	var (
		mu   sync.Mutex
		hits int64
	)

	sem := make(chan struct{}, e.cfg.BatchParallelism)
	for lo := 0; lo < len(symbols); lo += e.cfg.BatchChunkSize {
		hi := lo + e.cfg.BatchChunkSize
		if hi > len(symbols) {
			hi = len(symbols)
		}
		var wg sync.WaitGroup
		for _, sym := range symbols[lo:hi] {
			sym := sym
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				fut, err := e.pool.Submit(func(tctx context.Context) (interface{}, error) {
					return e.Predict(tctx, sym, horizon)
				}, workerpool.PriorityNormal)
				if err != nil {
					mu.Lock()
					out.FailedSymbols = append(out.FailedSymbols, models.FailedSymbol{Symbol: sym, Reason: err.Error()})
					mu.Unlock()
					return
				}
				v, err := fut.Wait(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					out.FailedSymbols = append(out.FailedSymbols, models.FailedSymbol{Symbol: sym, Reason: err.Error()})
					return
				}
				res := v.(*models.PredictionResult)
				if res.CacheHit {
					hits++
				}
				out.Predictions = append(out.Predictions, res)
			}()
		}
		// Chunks complete in order so one slow chunk cannot starve the
		// pool for the whole batch.
		wg.Wait()
	}

	if n := len(out.Predictions); n > 0 {
		out.CacheHitRate = float64(hits) / float64(n)
	}
	e.observe("predict_batch", start)
	return out, nil
}

// Metrics returns the rolling serving metrics snapshot.
func (e *Engine) Metrics() models.EngineMetrics {
	total := atomic.LoadInt64(&e.total)
	fails := atomic.LoadInt64(&e.failures)
	hits := atomic.LoadInt64(&e.cacheHits)
	p50, p95, p99 := e.lat.percentiles()

	m := models.EngineMetrics{
		TotalPredictions: total,
		P50LatencyMs:     p50,
		P95LatencyMs:     p95,
		P99LatencyMs:     p99,
		AvgLatencyMs:     p50,
	}
	if total > 0 {
		m.CacheHitRate = float64(hits) / float64(total)
		m.FailureRate = float64(fails) / float64(total)
	}
	return m
}

// Health aggregates dependency probes into one status.
func (e *Engine) Health(ctx context.Context) models.HealthStatus {
	st := models.HealthStatus{
		Initialized: e.initialized.Load(),
		Metrics:     e.Metrics(),
		CheckedAt:   time.Now().UTC(),
	}
	if err := e.features.Health(ctx); err != nil {
		st.Issues = append(st.Issues, fmt.Sprintf("feature store: %v", err))
	}
	if err := e.registry.Health(ctx); err != nil {
		st.Issues = append(st.Issues, fmt.Sprintf("model registry: %v", err))
	}
	if d := e.pool.Depth(); d > 0 {
		st.Issues = append(st.Issues, fmt.Sprintf("inference backlog: %d pending", d))
	}
	return st
}

// resolve returns the cached champion pointer and challenger set for a
// horizon, refreshing from the registry on expiry.
func (e *Engine) resolve(ctx context.Context, horizon string) (*models.ModelRecord, []*models.ModelRecord, error) {
	e.champMu.Lock()
	entry, ok := e.champions[horizon]
	e.champMu.Unlock()
	if ok && time.Since(entry.at) < championTTL {
		return entry.rec, entry.challengers, nil
	}

	rec, err := e.registry.Resolve(ctx, e.cfg.Objective, horizon)
	if err != nil {
		if ok {
			// Registry briefly unreachable: serve with the stale pointer.
			return entry.rec, entry.challengers, nil
		}
		return nil, nil, err
	}
	challengers, err := e.registry.Challengers(ctx, e.cfg.Objective, horizon)
	if err != nil {
		challengers = nil
	}

	e.champMu.Lock()
	e.champions[horizon] = championEntry{rec: rec, challengers: challengers, at: time.Now()}
	e.champMu.Unlock()
	return rec, challengers, nil
}

// route sends a stable fraction of symbols to each challenger. Hashing
// the symbol keeps one symbol's traffic on one model between recomputes.
func (e *Engine) route(symbol string, champion *models.ModelRecord, challengers []*models.ModelRecord) *models.ModelRecord {
	if len(challengers) == 0 {
		return champion
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	slot := float64(h.Sum32()) / float64(^uint32(0))

	var lo float64
	for _, c := range challengers {
		hi := lo + c.TrafficFraction
		if slot >= lo && slot < hi {
			return c
		}
		lo = hi
	}
	return champion
}

func (e *Engine) publish(res *models.PredictionResult) {
	if e.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.publisher.Publish(ctx, res); err != nil && e.l != nil {
			e.l.Warn("prediction publish failed",
				applogger.String("symbol", res.Symbol),
				applogger.Error(err),
			)
		}
	}()
}

func (e *Engine) observe(op string, start time.Time) {
	ms := float64(time.Since(start).Microseconds()) / 1000
	e.lat.observe(ms)
	if e.metrics != nil {
		e.metrics.RecordLatency(op, ms/1000)
	}
}

func (e *Engine) fail(err error) error {
	atomic.AddInt64(&e.failures, 1)
	if e.metrics != nil {
		e.metrics.RecordError(errorKind(err))
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrFeatureMissing):
		return "feature_missing"
	case errors.Is(err, models.ErrFeatureDegraded):
		return "feature_degraded"
	case errors.Is(err, models.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, models.ErrQueueOverflow):
		return "queue_overflow"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

// resultKey buckets cached results hourly so entries age out alongside
// the feature snapshots that produced them. The model id keeps champion
// and challenger entries apart even when their versions collide.
func resultKey(symbol, horizon string, rec *models.ModelRecord) string {
	return pkgcache.GenerateKeyWithParams("pred", symbol, horizon, rec.ModelID, rec.Version, time.Now().UTC().Format("2006010215"))
}
