package models

import "time"

// WeightSet maps modelId to its ensemble weight. A set is immutable once
// published; recomputation builds a new map and swaps it atomically so
// concurrent readers never observe a partial update. Weights sum to 1.
type WeightSet map[string]float64

// Normalized returns a copy rescaled to sum to 1. Entries for the given
// exclusions are dropped first (failed members). Returns nil when nothing
// remains to carry weight.
func (w WeightSet) Normalized(exclude ...string) WeightSet {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var sum float64
	for id, wt := range w {
		if !skip[id] {
			sum += wt
		}
	}
	if sum <= 0 {
		return nil
	}
	out := make(WeightSet, len(w))
	for id, wt := range w {
		if !skip[id] {
			out[id] = wt / sum
		}
	}
	return out
}

// Outcome is one resolved prediction used to score a member model's
// recent performance. Delivered by the analysis pipeline after the
// prediction horizon elapses.
type Outcome struct {
	ModelID    string    `json:"model_id"`
	Symbol     string    `json:"symbol"`
	Horizon    string    `json:"horizon"`
	Correct    bool      `json:"correct"`
	Confidence float64   `json:"confidence"`
	ResolvedAt time.Time `json:"resolved_at"`
}
