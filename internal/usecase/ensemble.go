package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"PredServe/internal/domain/models"
	domrepo "PredServe/internal/domain/repository"
	"PredServe/internal/service/workerpool"
	applogger "PredServe/pkg/logger"
)

// EnsembleService aggregates the deployed member models into one
// weighted prediction. Failed members are dropped and the surviving
// weights renormalized; only the loss of every member is an error.
type EnsembleService struct {
	engine  *Engine
	weights *WeightCalculator
	pool    *workerpool.Pool
	metrics domrepo.Metrics
	l       *applogger.Logger
}

// NewEnsembleService creates the ensemble aggregator on top of the engine.
func NewEnsembleService(engine *Engine, weights *WeightCalculator, pool *workerpool.Pool, metrics domrepo.Metrics) *EnsembleService {
	return &EnsembleService{engine: engine, weights: weights, pool: pool, metrics: metrics}
}

// SetLogger injects a structured logger.
func (s *EnsembleService) SetLogger(l *applogger.Logger) { s.l = l }

type memberOutput struct {
	rec *models.RawPrediction
	id  string
}

// Predict runs the ensemble members for (symbol, horizon) in parallel
// and folds their outputs under the current weight set. An explicit
// modelIDs list picks the membership; an empty list means the deployed
// champion plus its challengers.
func (s *EnsembleService) Predict(ctx context.Context, symbol, horizon string, modelIDs []string) (*models.PredictionResult, error) {
	start := time.Now()
	horizon = string(domrepo.NormalizeHorizon(horizon))

	members, lead, err := s.resolveMembers(ctx, horizon, modelIDs)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		outputs []memberOutput
		failed  = make(map[string]error)
		wg      sync.WaitGroup
	)
	for _, rec := range members {
		rec := rec
		wg.Add(1)
		fut, err := s.pool.Submit(func(tctx context.Context) (interface{}, error) {
			return s.memberPredict(tctx, symbol, horizon, rec)
		}, workerpool.PriorityNormal)
		if err != nil {
			wg.Done()
			mu.Lock()
			failed[rec.ModelID] = err
			mu.Unlock()
			continue
		}
		go func() {
			defer wg.Done()
			v, err := fut.Wait(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[rec.ModelID] = err
				return
			}
			outputs = append(outputs, memberOutput{rec: v.(*models.RawPrediction), id: rec.ModelID})
		}()
	}
	wg.Wait()

	if len(outputs) == 0 {
		if s.metrics != nil {
			s.metrics.RecordError("ensemble_total_failure")
		}
		return nil, models.ErrEnsembleTotalFailure
	}
	if len(failed) > 0 {
		if s.l != nil {
			s.l.Warn("ensemble degraded",
				applogger.String("symbol", symbol),
				applogger.Int("failed", len(failed)),
				applogger.Int("survived", len(outputs)),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordError("ensemble_member_failure")
		}
	}

	excluded := make([]string, 0, len(failed))
	for id := range failed {
		excluded = append(excluded, id)
	}
	weights := s.memberWeights(members).Normalized(excluded...)
	if weights == nil {
		// Weight mass vanished with the failures; fall back to equal
		// weights over the survivors.
		weights = make(models.WeightSet, len(outputs))
		for _, o := range outputs {
			weights[o.id] = 1 / float64(len(outputs))
		}
	}

	var (
		score    float64
		conf     float64
		prob     models.ProbabilityDistribution
		memberID []string
	)
	for _, o := range outputs {
		w := weights[o.id]
		score += w * o.rec.Score
		conf += w * o.rec.Confidence
		prob.Up += w * o.rec.Probability.Up
		prob.Down += w * o.rec.Probability.Down
		prob.Neutral += w * o.rec.Probability.Neutral
		memberID = append(memberID, o.id)
	}

	// Disagreement between members reduces confidence: unanimous
	// members keep it, a split ensemble halves it.
	conf *= 1 - disagreement(outputs, score)/2

	res := &models.PredictionResult{
		Symbol:       symbol,
		Horizon:      horizon,
		RawScore:     score,
		Direction:    models.DirectionFor(score, s.engine.cfg.NeutralBand),
		Confidence:   conf,
		Probability:  prob,
		ModelVersion: lead.Version,
		ModelID:      lead.ModelID,
		Ensemble:     true,
		Members:      memberID,
		LatencyMs:    float64(time.Since(start).Microseconds()) / 1000,
		TimestampMs:  time.Now().UnixMilli(),
	}

	s.engine.publish(res)
	if s.metrics != nil {
		s.metrics.RecordPrediction(horizon, string(res.Direction))
		s.metrics.RecordLatency("predict_ensemble", time.Since(start).Seconds())
	}
	return res, nil
}

// resolveMembers picks the ensemble membership: the caller's explicit
// model ids when given, the deployed champion plus challengers otherwise.
// The first member leads and lends the result its model attribution.
func (s *EnsembleService) resolveMembers(ctx context.Context, horizon string, modelIDs []string) ([]*models.ModelRecord, *models.ModelRecord, error) {
	if len(modelIDs) == 0 {
		champion, challengers, err := s.engine.resolve(ctx, horizon)
		if err != nil {
			return nil, nil, err
		}
		return append([]*models.ModelRecord{champion}, challengers...), champion, nil
	}

	members := make([]*models.ModelRecord, 0, len(modelIDs))
	for _, id := range modelIDs {
		rec, err := s.engine.registry.ResolveByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("member %s: %w", id, err)
		}
		members = append(members, rec)
	}
	return members, members[0], nil
}

// memberPredict serves one member through the engine's cached per-model
// path, so a repeated ensemble call reuses each member's stored result
// instead of re-running its pipeline.
func (s *EnsembleService) memberPredict(ctx context.Context, symbol, horizon string, rec *models.ModelRecord) (*models.RawPrediction, error) {
	res, err := s.engine.predictWith(ctx, symbol, horizon, rec)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", rec.ModelID, err)
	}
	return &models.RawPrediction{
		Score:       res.RawScore,
		Confidence:  res.Confidence,
		Probability: res.Probability,
	}, nil
}

// memberWeights picks the live weight for each member, seeding unseen
// members with the mean weight so a fresh challenger participates.
func (s *EnsembleService) memberWeights(members []*models.ModelRecord) models.WeightSet {
	current := s.weights.Current()
	out := make(models.WeightSet, len(members))
	mean := 1 / float64(len(members))
	for _, rec := range members {
		if w, ok := current[rec.ModelID]; ok {
			out[rec.ModelID] = w
		} else {
			out[rec.ModelID] = mean
		}
	}
	return out
}

// disagreement is the weighted spread of member scores around the
// aggregate, scaled into [0,1].
func disagreement(outputs []memberOutput, aggregate float64) float64 {
	if len(outputs) < 2 {
		return 0
	}
	var variance float64
	for _, o := range outputs {
		d := o.rec.Score - aggregate
		variance += d * d
	}
	variance /= float64(len(outputs))
	// scores live in [-1,1]; max variance is 1
	return math.Min(math.Sqrt(variance), 1)
}
