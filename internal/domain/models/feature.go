package models

import "time"

// FeatureVector is a point-in-time snapshot of named numeric features for
// one symbol. Vectors are produced by the upstream extraction pipeline and
// are immutable once stored for a given (symbol, timestamp).
type FeatureVector struct {
	Symbol           string             `json:"symbol"`
	Timestamp        time.Time          `json:"timestamp"`
	Features         map[string]float64 `json:"features"`
	ConfidenceScore  float64            `json:"confidence_score"`
	DataQualityScore float64            `json:"data_quality_score"`
	SourceProvider   string             `json:"source_provider"`
}

// Clone returns a deep copy so cached vectors are never aliased by callers.
func (v *FeatureVector) Clone() *FeatureVector {
	if v == nil {
		return nil
	}
	cp := *v
	cp.Features = make(map[string]float64, len(v.Features))
	for k, val := range v.Features {
		cp.Features[k] = val
	}
	return &cp
}

// FeatureQuality breaks the composite quality score into its components.
type FeatureQuality struct {
	Completeness float64 `json:"completeness"` // fraction of requested features present
	Freshness    float64 `json:"freshness"`    // age vs cache TTL, 1=fresh 0=stale
	Reliability  float64 `json:"reliability"`  // source provider reliability
	Score        float64 `json:"score"`        // weighted combination
}

// Degraded reports whether the vector should be flagged to the caller.
// The engine decides whether to proceed; the store never hides low quality.
func (q FeatureQuality) Degraded() bool { return q.Score < 0.5 }
