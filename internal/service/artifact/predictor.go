package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"PredServe/internal/domain/models"
	domainsvc "PredServe/internal/domain/service"
)

// artifactFile is the on-disk JSON layout shared by all model families.
// Tree families carry trees; the sequence family carries a linear head.
type artifactFile struct {
	ModelType    models.ModelType `json:"model_type"`
	Features     []string         `json:"features"`
	BaseScore    float64          `json:"base_score"`
	LearningRate float64          `json:"learning_rate"`
	Trees        []treeSpec       `json:"trees,omitempty"`
	Weights      []float64        `json:"weights,omitempty"`
	Bias         float64          `json:"bias"`
}

type treeSpec struct {
	Nodes []treeNode `json:"nodes"`
}

// treeNode is one node of a flattened binary tree. Leaves have
// Left == -1 and carry the output in Value.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Deserialize parses a verified artifact into an executable predictor.
// Errors are wrapped per model so one bad artifact poisons only its own
// cache entry.
func Deserialize(rec *models.ModelRecord, raw []byte) (domainsvc.Predictor, error) {
	var f artifactFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: fmt.Errorf("parse artifact: %w", err)}
	}
	if len(f.Features) == 0 {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: fmt.Errorf("artifact declares no features")}
	}
	if f.ModelType != "" && f.ModelType != rec.ModelType {
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version,
			Err: fmt.Errorf("artifact family %q does not match record %q", f.ModelType, rec.ModelType)}
	}

	switch {
	case rec.ModelType.IsTreeFamily():
		if len(f.Trees) == 0 {
			return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version, Err: fmt.Errorf("tree artifact has no trees")}
		}
		lr := f.LearningRate
		if lr == 0 {
			lr = 1
		}
		return &treePredictor{features: f.Features, trees: f.Trees, base: f.BaseScore, lr: lr}, nil
	case rec.ModelType == models.ModelTypeSequence:
		if len(f.Weights) != len(f.Features) {
			return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version,
				Err: fmt.Errorf("weight count %d does not match feature count %d", len(f.Weights), len(f.Features))}
		}
		return &sequencePredictor{features: f.Features, weights: f.Weights, bias: f.Bias}, nil
	default:
		return nil, &models.ModelLoadError{ModelID: rec.ModelID, Version: rec.Version,
			Err: fmt.Errorf("unknown model type %q", rec.ModelType)}
	}
}

type treePredictor struct {
	features []string
	trees    []treeSpec
	base     float64
	lr       float64
}

func (p *treePredictor) FeatureNames() []string { return p.features }

func (p *treePredictor) Predict(_ context.Context, in *models.OptimizedInput) (*models.RawPrediction, error) {
	if len(in.Values) != len(p.features) {
		return nil, fmt.Errorf("input width %d, model expects %d", len(in.Values), len(p.features))
	}
	raw := p.base
	for i := range p.trees {
		leaf, err := walk(p.trees[i].Nodes, in.Values)
		if err != nil {
			return nil, err
		}
		raw += p.lr * leaf
	}
	return squash(raw), nil
}

func walk(nodes []treeNode, values []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(nodes); steps++ {
		if i < 0 || i >= len(nodes) {
			return 0, fmt.Errorf("tree node index %d out of range", i)
		}
		n := nodes[i]
		if n.Left < 0 {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(values) {
			return 0, fmt.Errorf("tree references feature %d beyond input width %d", n.Feature, len(values))
		}
		if values[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, fmt.Errorf("tree walk did not terminate")
}

type sequencePredictor struct {
	features []string
	weights  []float64
	bias     float64
}

func (p *sequencePredictor) FeatureNames() []string { return p.features }

func (p *sequencePredictor) Predict(_ context.Context, in *models.OptimizedInput) (*models.RawPrediction, error) {
	if len(in.Values) != len(p.weights) {
		return nil, fmt.Errorf("input width %d, model expects %d", len(in.Values), len(p.weights))
	}
	raw := p.bias
	for i, w := range p.weights {
		raw += w * in.Values[i]
	}
	return squash(raw), nil
}

// squash maps a raw margin into score [-1,1] plus a probability mass
// over the three directions. Neutral mass grows as the score approaches
// zero; the remainder splits by the score's sign and magnitude.
func squash(raw float64) *models.RawPrediction {
	score := math.Tanh(raw)
	neutral := (1 - math.Abs(score)) / 2
	directional := 1 - neutral
	return &models.RawPrediction{
		Score: score,
		Probability: models.ProbabilityDistribution{
			Up:      directional * (1 + score) / 2,
			Down:    directional * (1 - score) / 2,
			Neutral: neutral,
		},
		Confidence: math.Abs(score),
	}
}
