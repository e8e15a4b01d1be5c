package usecase

import (
	"context"

	"PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
	"PredServe/pkg/queue"
)

// OutcomeJob consumes resolved prediction outcomes from the Redis queue
// and feeds them to the weight calculator. Outcomes arrive once the
// prediction horizon has elapsed and the realized direction is known.
type OutcomeJob struct {
	weights *WeightCalculator
	metrics domrepo.Metrics
}

func NewOutcomeJob(weights *WeightCalculator, metrics domrepo.Metrics) *OutcomeJob {
	return &OutcomeJob{weights: weights, metrics: metrics}
}

func (j *OutcomeJob) Name() string { return "prediction-outcome" }

func (j *OutcomeJob) Type() string { return "outcome" }

func (j *OutcomeJob) Handle(ctx context.Context, payload interface{}) error {
	o, err := queue.ParsePayload[models.Outcome](payload)
	if err != nil {
		j.metrics.RecordError("outcome_parse")
		return err
	}
	j.weights.RecordOutcome(o)
	return nil
}

var _ queue.Job = (*OutcomeJob)(nil)
