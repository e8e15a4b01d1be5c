package featurestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"PredServe/internal/domain/models"
	"PredServe/internal/domain/repository"
	pkgcache "PredServe/pkg/cache"
	applogger "PredServe/pkg/logger"
)

// failures of the durable layer before the store flips to cache-only.
const degradeThreshold = 3

// Option configures the Store.
type Option func(*Store)

// WithTTL overrides the feature cache TTL.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithProviderReliability sets per-provider reliability used in quality
// scoring. Unlisted providers get 0.8.
func WithProviderReliability(m map[string]float64) Option {
	return func(s *Store) { s.reliability = m }
}

// Store is the read path for feature vectors: an in-process hot map in
// front of Redis in front of the durable store. When the durable layer
// is unreachable the store keeps serving cached vectors and flags them
// as degraded instead of failing requests.
type Store struct {
	durable repository.FeatureReader
	writer  repository.FeatureWriter
	cache   pkgcache.Service
	ttl     time.Duration

	mu  sync.RWMutex
	hot map[string]hotEntry

	reliability map[string]float64
	failures    int64
	degraded    atomic.Bool
	group       singleflight.Group
	metrics     repository.Metrics
	l           *applogger.Logger
}

type hotEntry struct {
	vector   *models.FeatureVector
	storedAt time.Time
}

// New creates the cached feature store.
func New(durable repository.FeatureReader, writer repository.FeatureWriter, cache pkgcache.Service, metrics repository.Metrics, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		writer:  writer,
		cache:   cache,
		ttl:     15 * time.Minute,
		hot:     make(map[string]hotEntry),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger injects a structured logger.
func (s *Store) SetLogger(l *applogger.Logger) { s.l = l }

// Degraded reports whether the store is currently serving cache-only.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// GetVector returns the freshest vector for symbol together with its
// quality assessment. Stale cached data is returned with a degraded
// quality score rather than hidden; a vector nowhere to be found yields
// models.ErrFeatureMissing.
func (s *Store) GetVector(ctx context.Context, symbol string) (*models.FeatureVector, models.FeatureQuality, error) {
	now := time.Now()

	// L1: in-process map.
	s.mu.RLock()
	he, ok := s.hot[symbol]
	s.mu.RUnlock()
	if ok && now.Sub(he.storedAt) < s.ttl {
		s.event("hit")
		return he.vector.Clone(), s.assess(he.vector, now), nil
	}

	// L2: Redis.
	var cached models.FeatureVector
	if err := s.cache.Get(ctx, featureKey(symbol), &cached); err == nil && len(cached.Features) > 0 {
		s.event("hit")
		s.keep(symbol, &cached, now)
		return cached.Clone(), s.assess(&cached, now), nil
	}
	s.event("miss")

	// Durable layer, collapsed per symbol so a thundering herd issues
	// one query.
	v, err, _ := s.group.Do(symbol, func() (interface{}, error) {
		return s.durable.GetVector(ctx, symbol, now)
	})
	if err != nil {
		if errors.Is(err, models.ErrFeatureMissing) {
			return nil, models.FeatureQuality{}, err
		}
		s.noteFailure(err)
		// Serve whatever we still hold, marked degraded.
		if ok {
			q := s.assess(he.vector, now)
			q.Freshness = 0
			q.Score = q.Score * 0.5
			return he.vector.Clone(), q, nil
		}
		return nil, models.FeatureQuality{}, models.ErrFeatureDegraded
	}
	s.noteSuccess()

	vec := v.(*models.FeatureVector)
	s.keep(symbol, vec, now)
	if err := s.cache.Set(ctx, featureKey(symbol), vec, s.ttl); err != nil && s.l != nil {
		s.l.Warn("feature cache set failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
	return vec.Clone(), s.assess(vec, now), nil
}

// GetMatrix fetches vectors for many symbols in parallel. Symbols that
// cannot be served are reported in the missing list, never as an error.
func (s *Store) GetMatrix(ctx context.Context, symbols []string) (map[string]*models.FeatureVector, []string, error) {
	var (
		mu      sync.Mutex
		out     = make(map[string]*models.FeatureVector, len(symbols))
		missing []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			v, _, err := s.GetVector(gctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missing = append(missing, sym)
				return nil
			}
			out[sym] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return out, missing, nil
}

// Ingest stores a fresh vector: caches synchronously, persists to the
// durable layer in the background.
func (s *Store) Ingest(ctx context.Context, v *models.FeatureVector) error {
	if v == nil || v.Symbol == "" || len(v.Features) == 0 {
		return models.NewValidationError("vector", "empty vector")
	}
	now := time.Now()
	s.keep(v.Symbol, v, now)
	if err := s.cache.Set(ctx, featureKey(v.Symbol), v, s.ttl); err != nil && s.l != nil {
		s.l.Warn("feature cache set failed", applogger.String("symbol", v.Symbol), applogger.Error(err))
	}

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.writer.StoreVector(wctx, v); err != nil {
			s.noteFailure(err)
			return
		}
		s.noteSuccess()
	}()
	return nil
}

// Health reports the durable layer's reachability; degraded mode is an
// error so probes surface it.
func (s *Store) Health(ctx context.Context) error {
	if err := s.durable.Health(ctx); err != nil {
		return err
	}
	if s.degraded.Load() {
		return models.ErrFeatureDegraded
	}
	return nil
}

func (s *Store) keep(symbol string, v *models.FeatureVector, now time.Time) {
	s.mu.Lock()
	s.hot[symbol] = hotEntry{vector: v.Clone(), storedAt: now}
	s.mu.Unlock()
}

// assess scores a vector's quality: how filled it is, how old it is and
// how reliable its source is.
func (s *Store) assess(v *models.FeatureVector, now time.Time) models.FeatureQuality {
	completeness := v.DataQualityScore
	if completeness <= 0 {
		completeness = 1
	}

	age := now.Sub(v.Timestamp)
	freshness := 1 - float64(age)/float64(s.ttl)
	if freshness < 0 {
		freshness = 0
	}
	if freshness > 1 {
		freshness = 1
	}

	rel := 0.8
	if r, ok := s.reliability[v.SourceProvider]; ok {
		rel = r
	}

	return models.FeatureQuality{
		Completeness: completeness,
		Freshness:    freshness,
		Reliability:  rel,
		Score:        0.4*completeness + 0.35*freshness + 0.25*rel,
	}
}

func (s *Store) noteFailure(err error) {
	n := atomic.AddInt64(&s.failures, 1)
	if n >= degradeThreshold && !s.degraded.Swap(true) {
		if s.l != nil {
			s.l.Error("feature store degraded to cache-only", applogger.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordError("feature_store_degraded")
		}
	}
}

func (s *Store) noteSuccess() {
	atomic.StoreInt64(&s.failures, 0)
	if s.degraded.Swap(false) && s.l != nil {
		s.l.Info("feature store recovered")
	}
}

func (s *Store) event(kind string) {
	if s.metrics != nil {
		s.metrics.RecordCacheEvent("feature", kind)
	}
}

func featureKey(symbol string) string {
	return pkgcache.GenerateKey("features", symbol)
}
