// Package tuning adapts a model to a handful of example translations before
// decoding.
package tuning

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/jamesainslie/go-mmt/model"
)

// Suggestion is an example translation used to adapt the model.
type Suggestion struct {
	SourceLang  string
	TargetLang  string
	Segment     string
	Translation string
	// Score is the suggestion quality in [0, 1].
	Score float64
}

// Controller chooses tuning hyperparameters and runs the gradient updates.
type Controller struct {
	opts   Options
	logger *slog.Logger
}

// NewController creates a Controller. A nil logger uses slog.Default().
func NewController(opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger}
}

// Options returns the controller configuration.
func (c *Controller) Options() Options { return c.opts }

// Estimate derives epochs and learning rate from suggestion quality.
//
// With average score s in [0, 1], epochs = int(MaxEpochs*s) and
// lr = MaxLearningRate*sqrt(s): perfect suggestions get the maximum of both,
// useless ones get nothing. Both grow with s and are never negative.
func (c *Controller) Estimate(suggestions []Suggestion) (epochs int, learningRate float64) {
	if len(suggestions) == 0 {
		return 0, 0
	}

	var avg float64
	for _, s := range suggestions {
		avg += min(max(s.Score, 0), 1)
	}
	avg /= float64(len(suggestions))

	epochs = max(int(float64(c.opts.MaxEpochs)*avg), 0)
	learningRate = math.Max(c.opts.MaxLearningRate*math.Sqrt(avg), 0)
	return epochs, learningRate
}

// Resolve picks the hyperparameters for one request. Per-request values win
// over configured overrides, which win over the estimate.
func (c *Controller) Resolve(suggestions []Suggestion, epochs *int, learningRate *float64) (int, float64) {
	if epochs == nil {
		epochs = c.opts.Epochs
	}
	if learningRate == nil {
		learningRate = c.opts.LearningRate
	}
	if epochs != nil && learningRate != nil {
		return *epochs, *learningRate
	}

	estEpochs, estLR := c.Estimate(suggestions)
	if epochs != nil {
		estEpochs = *epochs
	}
	if learningRate != nil {
		estLR = *learningRate
	}
	return estEpochs, estLR
}

// Job is one tuning run.
type Job struct {
	Trainer      model.Trainer
	Dictionary   model.Dictionary
	MaxPositions int

	// LanguageTag, when set, returns the tag prepended to the source of a
	// sample, given the target language of its suggestion.
	LanguageTag func(targetLang string) (int32, error)

	Suggestions  []Suggestion
	Epochs       int
	LearningRate float64
	Seed         int64

	// MarkStale is called once before the first gradient step.
	MarkStale func()
}

// Result summarises a tuning run.
type Result struct {
	Samples int
	Batches int
	Steps   int
	Skipped int
}

// Tune runs Epochs passes of gradient updates over the suggestions. It is a
// no-op when Epochs or LearningRate is not positive; MarkStale is then never called.
//
// Weights are stale from the first step on, so a failure part-way leaves the
// model marked stale.
func (c *Controller) Tune(ctx context.Context, job Job) (Result, error) {
	var res Result
	if job.Epochs <= 0 || job.LearningRate <= 0 {
		return res, nil
	}
	if job.Trainer == nil {
		return res, errors.New("tuning: nil trainer")
	}

	samples, err := buildSamples(job)
	if err != nil {
		return res, err
	}
	batches := minibatches(samples, c.opts.MaxBatchTokens, job.Dictionary)
	res.Samples = len(samples)
	res.Batches = len(batches)

	if job.MarkStale != nil {
		job.MarkStale()
	}

	for step := 0; step < job.Epochs; step++ {
		for _, b := range batches {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			err := job.Trainer.TrainStep(ctx, b, job.LearningRate, job.Seed+int64(step))
			switch {
			case err == nil:
				res.Steps++
			case errors.Is(err, model.ErrOutOfMemory):
				res.Skipped++
				c.logger.Warn("ran out of memory, skipping batch",
					slog.Int("step", step),
					slog.Int("rows", b.Source.Rows()))
			case errors.Is(err, model.ErrGradientOverflow):
				res.Skipped++
				c.logger.Warn("overflow detected", slog.Int("step", step), slog.String("error", err.Error()))
			default:
				return res, fmt.Errorf("tuning step %d: %w", step, err)
			}
		}
	}

	c.logger.Debug("tuning complete",
		slog.Int("samples", res.Samples),
		slog.Int("batches", res.Batches),
		slog.Int("steps", res.Steps),
		slog.Int("skipped", res.Skipped),
		slog.Int("epochs", job.Epochs),
		slog.Float64("learning_rate", job.LearningRate))

	return res, nil
}

type sample struct {
	source []int32
	target []int32
}

func buildSamples(job Job) ([]sample, error) {
	dict := job.Dictionary
	eos := dict.EOSID()

	out := make([]sample, 0, len(job.Suggestions))
	for _, s := range job.Suggestions {
		var src []int32
		if job.LanguageTag != nil {
			tag, err := job.LanguageTag(s.TargetLang)
			if err != nil {
				return nil, fmt.Errorf("suggestion %q: %w", s.Segment, err)
			}
			src = append(src, tag)
		}
		src = append(src, dict.EncodeIDs(s.Segment)...)
		src = append(src, eos)

		tgt := append(dict.EncodeIDs(s.Translation), eos)

		if job.MaxPositions > 0 && (len(src) > job.MaxPositions || len(tgt) > job.MaxPositions) {
			continue
		}
		out = append(out, sample{source: src, target: tgt})
	}
	return out, nil
}

// minibatches groups samples so that rows*longest row stays within maxTokens.
// A sample larger than the budget forms a batch of its own.
func minibatches(samples []sample, maxTokens int, dict model.Dictionary) []model.TrainingBatch {
	if len(samples) == 0 {
		return nil
	}

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(len(samples[a].target), len(samples[b].target)); c != 0 {
			return c
		}
		return cmp.Compare(len(samples[a].source), len(samples[b].source))
	})

	var (
		out     []model.TrainingBatch
		current []sample
		longest int
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, collate(current, dict))
			current, longest = nil, 0
		}
	}

	for _, i := range order {
		s := samples[i]
		size := max(len(s.source), len(s.target))
		next := max(longest, size)
		if maxTokens > 0 && len(current) > 0 && next*(len(current)+1) > maxTokens {
			flush()
			next = size
		}
		current = append(current, s)
		longest = next
	}
	flush()

	return out
}

func collate(samples []sample, dict model.Dictionary) model.TrainingBatch {
	pad, eos := dict.PadID(), dict.EOSID()

	srcWidth, tgtWidth := 0, 0
	for _, s := range samples {
		srcWidth = max(srcWidth, len(s.source))
		tgtWidth = max(tgtWidth, len(s.target))
	}

	var b model.TrainingBatch
	for _, s := range samples {
		src := make([]int32, srcWidth)
		n := srcWidth - len(s.source)
		for i := 0; i < n; i++ {
			src[i] = pad
		}
		copy(src[n:], s.source)

		tgt := make([]int32, tgtWidth)
		prev := make([]int32, tgtWidth)
		for i := range tgt {
			tgt[i], prev[i] = pad, pad
		}
		copy(tgt, s.target)
		prev[0] = eos
		copy(prev[1:], s.target[:len(s.target)-1])

		b.Source.Tokens = append(b.Source.Tokens, src)
		b.Source.Lengths = append(b.Source.Lengths, len(s.source))
		b.Target.Tokens = append(b.Target.Tokens, tgt)
		b.Target.Lengths = append(b.Target.Lengths, len(s.target))
		b.PrevOutput.Tokens = append(b.PrevOutput.Tokens, prev)
		b.PrevOutput.Lengths = append(b.PrevOutput.Lengths, len(s.target))
	}
	return b
}
