package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions    *prometheus.CounterVec
	cacheEvents    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	residentModels prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predserve_predictions_total",
				Help: "Total predictions served, by horizon and outcome",
			},
			[]string{"horizon", "outcome"},
		),
		cacheEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predserve_cache_events_total",
				Help: "Cache hits/misses/evictions per cache",
			},
			[]string{"cache", "event"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predserve_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predserve_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .15, .25, .5, .8, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "predserve_queue_depth",
				Help: "Pending tasks per worker pool",
			},
			[]string{"pool"},
		),
		residentModels: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "predserve_resident_models",
				Help: "Models currently loaded in the model cache",
			},
		),
	}
}

// RecordPrediction records one served prediction.
func (r *Recorder) RecordPrediction(horizon, outcome string) {
	r.predictions.WithLabelValues(horizon, outcome).Inc()
}

// RecordCacheEvent records a hit/miss/eviction for a named cache.
func (r *Recorder) RecordCacheEvent(cache, event string) {
	r.cacheEvents.WithLabelValues(cache, event).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordQueueDepth records current queue depth for a pool.
func (r *Recorder) RecordQueueDepth(pool string, depth int) {
	r.queueDepth.WithLabelValues(pool).Set(float64(depth))
}

// RecordResidentModels records the resident set size of the model cache.
func (r *Recorder) RecordResidentModels(n int) {
	r.residentModels.Set(float64(n))
}
