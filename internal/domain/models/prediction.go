package models

import "time"

// Direction is the classified sign of a prediction.
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// ProbabilityDistribution sums to ~1 across the three directions.
type ProbabilityDistribution struct {
	Up      float64 `json:"up"`
	Down    float64 `json:"down"`
	Neutral float64 `json:"neutral"`
}

// PredictionResult is the unit of output for single, batch and ensemble
// prediction. Created fresh per request; never mutated after creation.
// A stale cache entry is replaced, not edited.
type PredictionResult struct {
	Symbol       string                  `json:"symbol"`
	Horizon      string                  `json:"horizon"`
	RawScore     float64                 `json:"raw_score"`
	Direction    Direction               `json:"direction"`
	Confidence   float64                 `json:"confidence"`
	Probability  ProbabilityDistribution `json:"probability"`
	LatencyMs    float64                 `json:"latency_ms"`
	CacheHit     bool                    `json:"cache_hit"`
	ModelVersion string                  `json:"model_version"`
	ModelID      string                  `json:"model_id"`
	Ensemble     bool                    `json:"ensemble,omitempty"`
	Members      []string                `json:"members,omitempty"`
	Quality      *FeatureQuality         `json:"quality,omitempty"`
	TimestampMs  int64                   `json:"timestamp_ms"`
}

// DirectionFor classifies a raw score against a symmetric neutral band.
func DirectionFor(score, neutralBand float64) Direction {
	switch {
	case score > neutralBand:
		return DirectionUp
	case score < -neutralBand:
		return DirectionDown
	default:
		return DirectionNeutral
	}
}

// BatchResult aggregates per-symbol outcomes of one predictBatch call.
// Per-symbol failures never abort the batch.
type BatchResult struct {
	Predictions   []*PredictionResult `json:"predictions"`
	FailedSymbols []FailedSymbol      `json:"failed_symbols"`
	CacheHitRate  float64             `json:"cache_hit_rate"`
}

// FailedSymbol carries the typed reason one symbol produced no prediction.
type FailedSymbol struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// EngineMetrics is the serving-path metrics snapshot exposed by getMetrics.
type EngineMetrics struct {
	TotalPredictions int64   `json:"total_predictions"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	P50LatencyMs     float64 `json:"p50_latency_ms"`
	P95LatencyMs     float64 `json:"p95_latency_ms"`
	P99LatencyMs     float64 `json:"p99_latency_ms"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	FailureRate      float64 `json:"failure_rate"`
}

// HealthStatus is the aggregate healthCheck payload.
type HealthStatus struct {
	Initialized bool          `json:"initialized"`
	Issues      []string      `json:"issues"`
	Metrics     EngineMetrics `json:"metrics"`
	CheckedAt   time.Time     `json:"checked_at"`
}
