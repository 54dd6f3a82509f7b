package mmt

import (
	"github.com/jamesainslie/go-mmt/align"
	"github.com/jamesainslie/go-mmt/tuning"
)

// Translation is the result for one input segment.
type Translation struct {
	Text      string
	Alignment align.Alignment

	// Score is the exponentiated normalized log score, in (0, 1].
	// Forced translations have no score.
	Score    float64
	HasScore bool
}

// Suggestion is an example translation used to adapt the model.
type Suggestion = tuning.Suggestion

// TranslateOption configures one Translate call.
type TranslateOption func(*request)

type request struct {
	suggestions  []Suggestion
	epochs       *int
	learningRate *float64
	forced       []string
}

// WithSuggestions tunes the model on suggestions before decoding.
func WithSuggestions(s ...Suggestion) TranslateOption {
	return func(r *request) {
		r.suggestions = append(r.suggestions, s...)
	}
}

// WithTuningEpochs overrides the estimated epoch count.
func WithTuningEpochs(n int) TranslateOption {
	return func(r *request) {
		r.epochs = &n
	}
}

// WithTuningLearningRate overrides the estimated learning rate.
func WithTuningLearningRate(lr float64) TranslateOption {
	return func(r *request) {
		r.learningRate = &lr
	}
}

// WithForcedTranslations force-decodes the given translations, one per
// segment, to obtain their alignments.
func WithForcedTranslations(translations ...string) TranslateOption {
	return func(r *request) {
		r.forced = translations
		if r.forced == nil {
			r.forced = []string{}
		}
	}
}
