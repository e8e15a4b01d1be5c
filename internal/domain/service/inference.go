package service

import (
	"context"

	"PredServe/internal/domain/models"
)

// Predictor is a deserialized model artifact: an opaque predict function.
// Handles are read-only; the model cache retains sole mutation rights over
// the backing artifact.
type Predictor interface {
	Predict(ctx context.Context, in *models.OptimizedInput) (*models.RawPrediction, error)
	FeatureNames() []string
}

// Optimizer prepares a feature vector for a given algorithm family.
type Optimizer interface {
	Prepare(vector *models.FeatureVector, modelType models.ModelType) (*models.OptimizedInput, error)
	PrepareBatch(vectors []*models.FeatureVector, modelType models.ModelType) ([]*models.OptimizedInput, error)
}

// OutcomeSink receives resolved prediction outcomes for weight updates.
type OutcomeSink interface {
	RecordOutcome(o *models.Outcome)
}
