package bench

import (
	"context"
	"sort"
)

// SweepResult holds metrics for one tuning epoch count.
type SweepResult struct {
	Epochs  int
	Metrics Metrics
}

// SweepEpochs generates epoch counts from min up to and including max.
func SweepEpochs(min, max, step int) []int {
	if step <= 0 {
		step = 1
	}
	var epochs []int
	for e := min; e <= max; e += step {
		epochs = append(epochs, e)
	}
	return epochs
}

// Sweep evaluates the corpus once per epoch count and returns results sorted
// by weighted score, best first.
func Sweep(ctx context.Context, tr Translator, sets []*Set, cfg Config, epochs []int) ([]SweepResult, error) {
	results := make([]SweepResult, 0, len(epochs))

	for _, e := range epochs {
		cfg.Epochs = &e
		m, err := EvaluateCorpus(ctx, tr, sets, cfg)
		if err != nil {
			return nil, err
		}
		results = append(results, SweepResult{
			Epochs:  e,
			Metrics: m,
		})
	}

	// Sort by weighted score descending
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Metrics.WeightedScore > results[j].Metrics.WeightedScore
	})

	return results, nil
}
