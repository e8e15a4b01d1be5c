package repository

import (
	"context"
	"time"

	"PredServe/internal/domain/models"
)

// FeatureReader is the durable (symbol×feature×time) store behind the
// cached FeatureStore. Unavailability is not fatal: the store degrades to
// cache-only reads and raises models.ErrFeatureDegraded.
type FeatureReader interface {
	GetVector(ctx context.Context, symbol string, asOf time.Time) (*models.FeatureVector, error)
	GetMatrix(ctx context.Context, symbols []string, features []string) (map[string]*models.FeatureVector, error)
	Health(ctx context.Context) error
}

// FeatureWriter persists vectors arriving from the ingestion path.
// Writes to the durable layer are asynchronous; the cache is populated
// synchronously by the caller.
type FeatureWriter interface {
	StoreVector(ctx context.Context, v *models.FeatureVector) error
	StoreVectorBatch(ctx context.Context, vs []*models.FeatureVector) error
	Close() error
}

// ModelRegistry is the versioned catalog of trained models.
// Deploy and rollback are transactional: pointer and history entry commit
// together or not at all.
type ModelRegistry interface {
	Register(ctx context.Context, rec *models.ModelRecord) (string, error)
	Resolve(ctx context.Context, objective, horizon string) (*models.ModelRecord, error)
	ResolveByID(ctx context.Context, modelID string) (*models.ModelRecord, error)
	Challengers(ctx context.Context, objective, horizon string) ([]*models.ModelRecord, error)
	Deploy(ctx context.Context, modelID string, role models.DeployRole, trafficFraction float64) error
	Rollback(ctx context.Context, objective, horizon string) (*models.ModelRecord, error)
	Health(ctx context.Context) error
}

// PredictionPublisher emits completed predictions for downstream
// consumers. Publish failures never fail the prediction itself.
type PredictionPublisher interface {
	Publish(ctx context.Context, p *models.PredictionResult) error
	Close() error
}

// FeatureStream is a live feed of fresh feature vectors (WebSocket).
type FeatureStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.FeatureVector, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Metrics records serving-path observability signals.
type Metrics interface {
	RecordPrediction(horizon, outcome string)
	RecordCacheEvent(cache, event string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordQueueDepth(pool string, depth int)
	RecordResidentModels(n int)
}
