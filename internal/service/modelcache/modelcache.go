package modelcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"PredServe/internal/domain/models"
	"PredServe/internal/domain/repository"
	domainsvc "PredServe/internal/domain/service"
	applogger "PredServe/pkg/logger"
)

// Loader resolves a registry record into raw artifact bytes and turns
// them into an executable predictor. Implemented by the artifact store.
type Loader interface {
	Bytes(ctx context.Context, rec *models.ModelRecord) ([]byte, error)
}

// Deserializer builds a predictor from verified artifact bytes.
type Deserializer func(rec *models.ModelRecord, raw []byte) (domainsvc.Predictor, error)

type entry struct {
	predictor  domainsvc.Predictor
	record     *models.ModelRecord
	lastAccess time.Time
	loadedAt   time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int
	Capacity  int
}

// Cache keeps deserialized predictors resident in memory with strict
// LRU eviction at a fixed capacity. A load failure poisons only the
// requested entry; resident predictors are never touched by it.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element // model_id -> *entry element
	order    *list.List               // front = most recently used
	capacity int

	loader  Loader
	deser   Deserializer
	group   singleflight.Group
	metrics repository.Metrics
	l       *applogger.Logger

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a model cache with the given capacity.
func New(capacity int, loader Loader, deser Deserializer, metrics repository.Metrics) *Cache {
	if capacity <= 0 {
		capacity = 5
	}
	return &Cache{
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		loader:   loader,
		deser:    deser,
		metrics:  metrics,
	}
}

// SetLogger injects a structured logger.
func (c *Cache) SetLogger(l *applogger.Logger) { c.l = l }

// Get returns the resident predictor for rec, loading and deserializing
// the artifact on a miss. Concurrent misses for the same model collapse
// into a single load.
func (c *Cache) Get(ctx context.Context, rec *models.ModelRecord) (domainsvc.Predictor, error) {
	start := time.Now()

	c.mu.Lock()
	if el, ok := c.entries[rec.ModelID]; ok {
		e := el.Value.(*entry)
		e.lastAccess = time.Now()
		c.order.MoveToFront(el)
		c.hits++
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordCacheEvent("model", "hit")
			c.metrics.RecordLatency("model_cache_get", time.Since(start).Seconds())
		}
		return e.predictor, nil
	}
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheEvent("model", "miss")
	}

	v, err, _ := c.group.Do(rec.ModelID, func() (interface{}, error) {
		raw, err := c.loader.Bytes(ctx, rec)
		if err != nil {
			return nil, err
		}
		p, err := c.deser(rec, raw)
		if err != nil {
			return nil, err
		}
		c.admit(rec, p)
		return p, nil
	})
	if err != nil {
		if c.l != nil {
			c.l.Error("model load failed",
				applogger.String("model_id", rec.ModelID),
				applogger.String("version", rec.Version),
				applogger.Error(err),
			)
		}
		if c.metrics != nil {
			c.metrics.RecordError("model_load")
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordLatency("model_cache_get", time.Since(start).Seconds())
	}
	return v.(domainsvc.Predictor), nil
}

// Invalidate drops a model from the resident set, if present.
func (c *Cache) Invalidate(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[modelID]; ok {
		c.order.Remove(el)
		delete(c.entries, modelID)
	}
	if c.metrics != nil {
		c.metrics.RecordResidentModels(len(c.entries))
	}
}

// Snapshot returns current hit/miss/eviction counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Resident:  len(c.entries),
		Capacity:  c.capacity,
	}
}

// admit inserts a freshly loaded predictor, evicting the least recently
// used entry when at capacity. Eviction is a map/list removal only, so
// in-flight predictions holding the old handle keep working.
func (c *Cache) admit(rec *models.ModelRecord, p domainsvc.Predictor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[rec.ModelID]; ok {
		e := el.Value.(*entry)
		e.predictor = p
		e.record = rec
		e.lastAccess = time.Now()
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.entries, victim.record.ModelID)
		c.evictions++
		if c.l != nil {
			c.l.Debug("model evicted",
				applogger.String("model_id", victim.record.ModelID),
				applogger.String("version", victim.record.Version),
			)
		}
		if c.metrics != nil {
			c.metrics.RecordCacheEvent("model", "eviction")
		}
	}

	now := time.Now()
	el := c.order.PushFront(&entry{predictor: p, record: rec, lastAccess: now, loadedAt: now})
	c.entries[rec.ModelID] = el
	if c.metrics != nil {
		c.metrics.RecordResidentModels(len(c.entries))
	}
}
