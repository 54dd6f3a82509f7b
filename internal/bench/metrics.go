package bench

import (
	"context"
	"fmt"

	mmt "github.com/jamesainslie/go-mmt"
	"github.com/jamesainslie/go-mmt/align"
)

// Config holds evaluation parameters.
type Config struct {
	// Epochs tunes on the set itself before aligning; nil keeps the
	// decoder's own tuning and zero disables it.
	Epochs          *int
	PrecisionWeight float64
	RecallWeight    float64
}

// DefaultConfig returns default evaluation configuration.
func DefaultConfig() Config {
	return Config{
		PrecisionWeight: 1.0,
		RecallWeight:    1.0,
	}
}

// Metrics holds evaluation results.
type Metrics struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Precision      float64
	Recall         float64
	F1             float64
	AER            float64
	WeightedScore  float64
}

// Evaluate compares a predicted alignment against the reference.
// Every reference link counts as sure.
func Evaluate(predicted, gold align.Alignment, cfg Config) Metrics {
	want := make(map[align.Pair]struct{}, len(gold))
	for _, p := range gold {
		want[p] = struct{}{}
	}

	tp := 0
	seen := make(map[align.Pair]struct{}, len(predicted))
	for _, p := range predicted {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, ok := want[p]; ok {
			tp++
		}
	}

	return computeMetrics(tp, len(seen)-tp, len(want)-tp, cfg)
}

// Add accumulates the counts of other and recomputes the ratios.
func (m Metrics) Add(other Metrics, cfg Config) Metrics {
	return computeMetrics(
		m.TruePositives+other.TruePositives,
		m.FalsePositives+other.FalsePositives,
		m.FalseNegatives+other.FalseNegatives,
		cfg)
}

func computeMetrics(tp, fp, fn int, cfg Config) Metrics {
	m := Metrics{
		TruePositives:  tp,
		FalsePositives: fp,
		FalseNegatives: fn,
		AER:            1,
	}

	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	// With sure links only, AER = 1 - 2|A∩S| / (|A| + |S|).
	if predicted, sure := tp+fp, tp+fn; predicted+sure > 0 {
		m.AER = 1 - 2*float64(tp)/float64(predicted+sure)
	} else {
		m.AER = 0
	}

	wp := cfg.PrecisionWeight
	wr := cfg.RecallWeight
	if wp+wr > 0 {
		m.WeightedScore = (wp*m.Precision + wr*m.Recall) / (wp + wr)
	}

	return m
}

// Translator is the part of mmt.Decoder and mmt.Pool used by the benchmark.
type Translator interface {
	Translate(ctx context.Context, sourceLang, targetLang string, segments []string, opts ...mmt.TranslateOption) ([]mmt.Translation, error)
}

// EvaluateSet force-decodes every example of set and scores the alignments.
// With cfg.Epochs set, the examples are also passed as tuning suggestions.
func EvaluateSet(ctx context.Context, tr Translator, set *Set, cfg Config) (Metrics, error) {
	m := computeMetrics(0, 0, 0, cfg)
	if len(set.Examples) == 0 {
		return m, nil
	}

	opts := []mmt.TranslateOption{mmt.WithForcedTranslations(set.Targets()...)}
	if cfg.Epochs != nil {
		opts = append(opts, mmt.WithSuggestions(suggestions(set)...), mmt.WithTuningEpochs(*cfg.Epochs))
	}

	out, err := tr.Translate(ctx, set.SourceLang, set.TargetLang, set.Segments(), opts...)
	if err != nil {
		return Metrics{}, fmt.Errorf("set %s: %w", set.ID, err)
	}
	if len(out) != len(set.Examples) {
		return Metrics{}, fmt.Errorf("set %s: %d translations for %d examples", set.ID, len(out), len(set.Examples))
	}

	for i, ex := range set.Examples {
		m = m.Add(Evaluate(out[i].Alignment, ex.Gold, cfg), cfg)
	}
	return m, nil
}

func suggestions(set *Set) []mmt.Suggestion {
	out := make([]mmt.Suggestion, len(set.Examples))
	for i, ex := range set.Examples {
		out[i] = mmt.Suggestion{
			SourceLang:  set.SourceLang,
			TargetLang:  set.TargetLang,
			Segment:     ex.Source,
			Translation: ex.Target,
			Score:       1,
		}
	}
	return out
}

// EvaluateCorpus aggregates EvaluateSet over sets.
func EvaluateCorpus(ctx context.Context, tr Translator, sets []*Set, cfg Config) (Metrics, error) {
	total := computeMetrics(0, 0, 0, cfg)
	for _, set := range sets {
		m, err := EvaluateSet(ctx, tr, set, cfg)
		if err != nil {
			return Metrics{}, err
		}
		total = total.Add(m, cfg)
	}
	return total, nil
}
