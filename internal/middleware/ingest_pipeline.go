package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
)

// VectorSink is the downstream the pipeline feeds, usually the cached
// feature store's ingest path.
type VectorSink interface {
	Ingest(ctx context.Context, v *models.FeatureVector) error
}

// IngestPipeline sits between the live feed (WebSocket or Kafka) and the
// feature store. It validates, throttles per symbol, optionally
// transforms, and buffers vectors when the store is briefly unavailable.
type IngestPipeline struct {
	sink     VectorSink
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.FeatureVector
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
	// optional reshaping hook applied before validation re-runs
	transform func(*models.FeatureVector) *models.FeatureVector
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS caps accepted vectors per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the holding buffer used while downstream is down.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform installs a reshaping hook.
func WithTransform(fn func(*models.FeatureVector) *models.FeatureVector) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

// NewIngestPipeline creates a pipeline in front of sink.
func NewIngestPipeline(sink VectorSink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		bufCh:    make(chan *models.FeatureVector, 1000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.FeatureVector, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered vectors.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case v := <-p.bufCh:
				if v == nil {
					continue
				}
				if err := p.sink.Ingest(ctx, v); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("ingest_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- v:
					default:
						p.metrics.RecordError("ingest_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles and forwards a vector, buffering on
// downstream errors.
func (p *IngestPipeline) Process(ctx context.Context, v *models.FeatureVector) error {
	start := time.Now()
	if err := validateVector(v); err != nil {
		p.metrics.RecordError("ingest_validate")
		return err
	}
	if p.transform != nil {
		v = p.transform(v)
		if err := validateVector(v); err != nil {
			p.metrics.RecordError("ingest_transform_invalid")
			return err
		}
	}
	if !p.allow(v.Symbol, start) {
		// throttled; record and drop silently
		p.metrics.RecordError("ingest_throttle")
		return nil
	}

	if err := p.sink.Ingest(ctx, v); err != nil {
		p.metrics.RecordError("ingest_store")
		// buffer non-blocking
		select {
		case p.bufCh <- v:
			p.metrics.RecordQueueDepth("ingest_buffer", len(p.bufCh))
		default:
			p.metrics.RecordError("ingest_buffer_full")
		}
		return fmt.Errorf("ingest downstream: %w", err)
	}
	p.metrics.RecordLatency("ingest_process", time.Since(start).Seconds())
	return nil
}

func validateVector(v *models.FeatureVector) error {
	if v == nil {
		return fmt.Errorf("vector nil")
	}
	if v.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if v.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if len(v.Features) == 0 {
		return fmt.Errorf("no features")
	}
	for name, val := range v.Features {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return models.NewValidationError(name, "non-finite value")
		}
	}
	return nil
}

func (p *IngestPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if last.IsZero() {
		p.lastSeen[symbol] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
