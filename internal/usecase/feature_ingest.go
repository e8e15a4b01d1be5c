package usecase

import (
	"context"
	"encoding/json"
	"time"

	"PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
	"PredServe/internal/middleware"
	pkgkafka "PredServe/pkg/kafka"
)

// FeatureIngestHandler consumes feature vectors from Kafka and pushes
// them through the ingest pipeline into the feature store.
type FeatureIngestHandler struct {
	topic    string
	pipeline *middleware.IngestPipeline
	metrics  domrepo.Metrics
}

func NewFeatureIngestHandler(topic string, pipeline *middleware.IngestPipeline, metrics domrepo.Metrics) *FeatureIngestHandler {
	return &FeatureIngestHandler{topic: topic, pipeline: pipeline, metrics: metrics}
}

func (h *FeatureIngestHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, features, confidence, quality, provider}
func (h *FeatureIngestHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol     string             `json:"symbol"`
		T          int64              `json:"t"`
		Features   map[string]float64 `json:"features"`
		Confidence float64            `json:"confidence"`
		Quality    float64            `json:"quality"`
		Provider   string             `json:"provider"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	ts := time.UnixMilli(m.T)
	if m.T < 1e11 { // seconds
		ts = time.Unix(m.T, 0)
	}
	// E2E latency from extraction time to now (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	start := time.Now()
	err := h.pipeline.Process(ctx, &models.FeatureVector{
		Symbol:           m.Symbol,
		Timestamp:        ts,
		Features:         m.Features,
		ConfidenceScore:  m.Confidence,
		DataQualityScore: m.Quality,
		SourceProvider:   m.Provider,
	})
	h.metrics.RecordLatency("feature_ingest_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_ingest")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*FeatureIngestHandler)(nil)
