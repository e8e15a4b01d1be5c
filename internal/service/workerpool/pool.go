package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"PredServe/internal/domain/models"
	"PredServe/internal/domain/repository"
	applogger "PredServe/pkg/logger"
)

// Priority orders pending inference work. Interactive requests preempt
// batch and speculative work.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Task is one unit of pooled work. The pool applies its own per-task
// deadline on top of the submitter's context.
type Task func(ctx context.Context) (interface{}, error)

// Future resolves to a task's result exactly once.
type Future struct {
	ch chan result
}

type result struct {
	value interface{}
	err   error
}

// Wait blocks until the task completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case r := <-f.ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type item struct {
	task     Task
	future   *Future
	enqueued time.Time
}

// Option configures the Pool.
type Option func(*Pool)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueCap bounds total pending tasks across all priorities.
func WithQueueCap(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueCap = int64(n)
		}
	}
}

// WithTaskTimeout bounds each task's run time.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.taskTimeout = d
		}
	}
}

// Pool runs inference tasks on a fixed set of workers with three strict
// priority lanes. Total backlog is bounded; a full queue rejects
// immediately rather than blocking the caller.
type Pool struct {
	workers     int
	queueCap    int64
	taskTimeout time.Duration

	high   chan item
	normal chan item
	low    chan item

	depth   int64
	metrics repository.Metrics
	l       *applogger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a pool. Start must be called before submitting.
func New(metrics repository.Metrics, opts ...Option) *Pool {
	p := &Pool{
		workers:     4,
		queueCap:    100,
		taskTimeout: 5 * time.Second,
		metrics:     metrics,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.high = make(chan item, p.queueCap)
	p.normal = make(chan item, p.queueCap)
	p.low = make(chan item, p.queueCap)
	return p
}

// SetLogger injects a structured logger.
func (p *Pool) SetLogger(l *applogger.Logger) { p.l = l }

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if p.l != nil {
		p.l.Info("worker pool started",
			applogger.Int("workers", p.workers),
			applogger.Int("queue_cap", int(p.queueCap)),
		)
	}
}

// Submit enqueues a task at the given priority and returns its future.
// Returns ErrQueueOverflow when the shared backlog is at capacity.
func (p *Pool) Submit(task Task, prio Priority) (*Future, error) {
	for {
		d := atomic.LoadInt64(&p.depth)
		if d >= p.queueCap {
			if p.metrics != nil {
				p.metrics.RecordError("queue_overflow")
			}
			return nil, models.ErrQueueOverflow
		}
		if atomic.CompareAndSwapInt64(&p.depth, d, d+1) {
			break
		}
	}

	it := item{
		task:     task,
		future:   &Future{ch: make(chan result, 1)},
		enqueued: time.Now(),
	}
	var lane chan item
	switch prio {
	case PriorityHigh:
		lane = p.high
	case PriorityNormal:
		lane = p.normal
	default:
		lane = p.low
	}

	select {
	case lane <- it:
	default:
		// Lane full even though the shared counter admitted us; treat
		// the same as overflow.
		atomic.AddInt64(&p.depth, -1)
		return nil, models.ErrQueueOverflow
	}
	if p.metrics != nil {
		p.metrics.RecordQueueDepth("inference", int(atomic.LoadInt64(&p.depth)))
	}
	return it.future, nil
}

// Depth returns the current number of pending tasks.
func (p *Pool) Depth() int {
	return int(atomic.LoadInt64(&p.depth))
}

// Shutdown stops intake and waits for workers to drain in-flight tasks,
// bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker drains the high lane first, then normal, then low. A pending
// high item always wins the next slot.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		// Strict priority: never pull a lower lane while a higher one
		// has work.
		select {
		case it := <-p.high:
			p.run(it)
			continue
		default:
		}
		select {
		case it := <-p.high:
			p.run(it)
		case it := <-p.normal:
			p.run(it)
		default:
			select {
			case it := <-p.high:
				p.run(it)
			case it := <-p.normal:
				p.run(it)
			case it := <-p.low:
				p.run(it)
			case <-p.stop:
				// Accepted work still holds futures; empty every lane
				// before exiting so none resolve as abandoned.
				p.drain()
				return
			}
		}
	}
}

// drain empties all lanes without blocking. Lane order no longer
// matters once intake has stopped.
func (p *Pool) drain() {
	for {
		select {
		case it := <-p.high:
			p.run(it)
		case it := <-p.normal:
			p.run(it)
		case it := <-p.low:
			p.run(it)
		default:
			return
		}
	}
}

func (p *Pool) run(it item) {
	defer atomic.AddInt64(&p.depth, -1)

	ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
	defer cancel()

	type done struct {
		value interface{}
		err   error
	}
	ch := make(chan done, 1)
	go func() {
		v, err := it.task(ctx)
		ch <- done{v, err}
	}()

	select {
	case d := <-ch:
		it.future.ch <- result{d.value, d.err}
	case <-ctx.Done():
		it.future.ch <- result{nil, models.ErrTimeout}
		if p.metrics != nil {
			p.metrics.RecordError("task_timeout")
		}
		if p.l != nil {
			p.l.Warn("pooled task timed out",
				applogger.Duration("timeout", p.taskTimeout),
				applogger.Duration("queued", time.Since(it.enqueued)),
			)
		}
	}
	if p.metrics != nil {
		p.metrics.RecordQueueDepth("inference", int(atomic.LoadInt64(&p.depth)))
	}
}
