package models

// OptimizedInput is the dense numeric layout the inference step consumes.
// Produced by the optimizer from a validated, imputed, normalized vector.
type OptimizedInput struct {
	Symbol    string
	ModelType ModelType
	Order     []string  // feature name per position
	Values    []float64 // normalized values, aligned with Order
}

// RawPrediction is a model's native output before postprocessing.
type RawPrediction struct {
	Score       float64
	Probability ProbabilityDistribution
	Confidence  float64
}
