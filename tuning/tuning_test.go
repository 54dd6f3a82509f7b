package tuning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-mmt/internal/mmttest"
	"github.com/jamesainslie/go-mmt/model"
)

func suggestions(scores ...float64) []Suggestion {
	out := make([]Suggestion, len(scores))
	for i, s := range scores {
		out[i] = Suggestion{
			SourceLang:  "en",
			TargetLang:  "fr",
			Segment:     "hello world",
			Translation: "bonjour monde",
			Score:       s,
		}
	}
	return out
}

func TestEstimate(t *testing.T) {
	c := NewController(DefaultOptions(), nil)

	tests := []struct {
		name       string
		scores     []float64
		wantEpochs int
		wantLR     float64
	}{
		{"none", nil, 0, 0},
		{"perfect", []float64{1, 1}, 4, 1e-4},
		{"useless", []float64{0, 0}, 0, 0},
		{"quarter", []float64{0.25}, 1, 0.5e-4},
		{"clamped high", []float64{3}, 4, 1e-4},
		{"clamped low", []float64{-2}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			epochs, lr := c.Estimate(suggestions(tt.scores...))
			assert.Equal(t, tt.wantEpochs, epochs)
			assert.InDelta(t, tt.wantLR, lr, 1e-12)
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	c := NewController(DefaultOptions(), nil)

	prevEpochs, prevLR := 0, 0.0
	for i := 0; i <= 20; i++ {
		epochs, lr := c.Estimate(suggestions(float64(i) / 20))
		assert.GreaterOrEqual(t, epochs, prevEpochs)
		assert.GreaterOrEqual(t, lr, prevLR)
		prevEpochs, prevLR = epochs, lr
	}
}

func TestResolve(t *testing.T) {
	epochs, lr := 7, 0.3

	c := NewController(DefaultOptions(), nil)
	e, l := c.Resolve(suggestions(1), &epochs, nil)
	assert.Equal(t, 7, e)
	assert.InDelta(t, 1e-4, l, 1e-12)

	opts := DefaultOptions()
	opts.LearningRate = &lr
	c = NewController(opts, nil)
	e, l = c.Resolve(suggestions(1), nil, nil)
	assert.Equal(t, 4, e)
	assert.InDelta(t, 0.3, l, 1e-12)

	requested := 0.9
	_, l = c.Resolve(suggestions(1), nil, &requested)
	assert.InDelta(t, 0.9, l, 1e-12)
}

func newJob(m *mmttest.Model, dict *mmttest.Dictionary, epochs int, lr float64) (Job, *int) {
	var stale int
	return Job{
		Trainer:      m,
		Dictionary:   dict,
		MaxPositions: m.MaxPositions(),
		Suggestions:  suggestions(1, 1, 1),
		Epochs:       epochs,
		LearningRate: lr,
		Seed:         1,
		MarkStale:    func() { stale++ },
	}, &stale
}

func TestTuneNoop(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"hello", "world", "bonjour", "monde"}, nil, 0)

	tests := []struct {
		name   string
		epochs int
		lr     float64
	}{
		{"zero epochs", 0, 1e-4},
		{"zero learning rate", 2, 0},
		{"negative", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mmttest.NewModel(dict)
			job, stale := newJob(m, dict, tt.epochs, tt.lr)

			res, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, Result{}, res)
			assert.Zero(t, *stale)
			assert.Zero(t, m.Steps)
		})
	}
}

func TestTune(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"hello", "world", "bonjour", "monde"}, nil, 0)
	m := mmttest.NewModel(dict)
	require.NoError(t, m.LoadWeights(context.Background(), model.Weights{}))

	job, stale := newJob(m, dict, 3, 1e-4)
	res, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, *stale)
	assert.Equal(t, 3, res.Samples)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 3, m.Steps)

	bonjour := dict.EncodeIDs("bonjour")[0]
	assert.Greater(t, m.Bias()[bonjour], float32(0))
}

func TestTuneSkipsRecoverableErrors(t *testing.T) {
	for _, sentinel := range []error{model.ErrOutOfMemory, model.ErrGradientOverflow} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			dict := mmttest.NewDictionary([]string{"hello", "world", "bonjour", "monde"}, nil, 0)
			m := mmttest.NewModel(dict)
			require.NoError(t, m.LoadWeights(context.Background(), model.Weights{}))
			m.FailStep = 1
			m.FailStepErr = fmt.Errorf("device: %w", sentinel)

			job, _ := newJob(m, dict, 2, 1e-4)
			res, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Skipped)
			assert.Equal(t, 1, res.Steps)
		})
	}
}

func TestTuneFailureLeavesStale(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"hello", "world", "bonjour", "monde"}, nil, 0)
	m := mmttest.NewModel(dict)
	require.NoError(t, m.LoadWeights(context.Background(), model.Weights{}))
	boom := errors.New("boom")
	m.FailStep = 2
	m.FailStepErr = boom

	job, stale := newJob(m, dict, 3, 1e-4)
	_, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, *stale)
}

func TestTuneCanceled(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"hello"}, nil, 0)
	m := mmttest.NewModel(dict)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, _ := newJob(m, dict, 1, 1e-4)
	_, err := NewController(DefaultOptions(), nil).Tune(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Steps)
}

func TestTuneDropsLongSamples(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"a", "b"}, nil, 0)
	m := mmttest.NewModel(dict)
	require.NoError(t, m.LoadWeights(context.Background(), model.Weights{}))

	job, _ := newJob(m, dict, 1, 1e-4)
	job.MaxPositions = 3
	job.Suggestions = []Suggestion{
		{Segment: "a b", Translation: "b a", Score: 1},
		{Segment: "a b a b", Translation: "b", Score: 1},
	}

	res, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Samples)
}

func TestBuildSamplesPrefixesTag(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"a", "b"}, []string{"fr", "it"}, 0)
	fr, _ := dict.LanguageTag("fr")
	it, _ := dict.LanguageTag("it")

	samples, err := buildSamples(Job{
		Dictionary: dict,
		LanguageTag: func(lang string) (int32, error) {
			tag, ok := dict.LanguageTag(lang)
			if !ok {
				return 0, errors.New("no tag")
			}
			return tag, nil
		},
		Suggestions: []Suggestion{
			{TargetLang: "fr", Segment: "a b", Translation: "b"},
			{TargetLang: "it", Segment: "b", Translation: "a"},
		},
	})
	require.NoError(t, err)
	require.Len(t, samples, 2)

	a, b := dict.EncodeIDs("a")[0], dict.EncodeIDs("b")[0]
	assert.Equal(t, []int32{fr, a, b, mmttest.EOSID}, samples[0].source)
	assert.Equal(t, []int32{b, mmttest.EOSID}, samples[0].target)
	assert.Equal(t, []int32{it, b, mmttest.EOSID}, samples[1].source)
}

func TestTuneUnknownLanguageTag(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"a", "b"}, []string{"fr"}, 0)
	m := mmttest.NewModel(dict)
	job, stale := newJob(m, dict, 1, 1e-4)
	boom := errors.New("no tag")
	job.LanguageTag = func(string) (int32, error) { return 0, boom }

	_, err := NewController(DefaultOptions(), nil).Tune(context.Background(), job)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, m.Steps)
	assert.Zero(t, *stale)
}

func TestMinibatches(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"a", "b"}, nil, 0)
	a, b := dict.EncodeIDs("a")[0], dict.EncodeIDs("b")[0]
	eos := mmttest.EOSID

	samples := []sample{
		{source: []int32{a, b, eos}, target: []int32{b, eos}},
		{source: []int32{a, eos}, target: []int32{b, a, eos}},
		{source: []int32{b, eos}, target: []int32{a, eos}},
	}

	batches := minibatches(samples, 6, dict)
	require.Len(t, batches, 2)

	first := batches[0]
	assert.Equal(t, 2, first.Source.Rows())
	assert.Equal(t, [][]int32{{0, b, eos}, {a, b, eos}}, first.Source.Tokens)
	assert.Equal(t, []int{2, 3}, first.Source.Lengths)
	assert.Equal(t, [][]int32{{a, eos}, {b, eos}}, first.Target.Tokens)
	assert.Equal(t, [][]int32{{eos, a}, {eos, b}}, first.PrevOutput.Tokens)

	second := batches[1]
	assert.Equal(t, [][]int32{{a, eos}}, second.Source.Tokens)
	assert.Equal(t, [][]int32{{b, a, eos}}, second.Target.Tokens)
	assert.Equal(t, [][]int32{{eos, b, a}}, second.PrevOutput.Tokens)
	assert.Equal(t, []int{3}, second.Target.Lengths)
}

func TestMinibatchesRightPadsTarget(t *testing.T) {
	dict := mmttest.NewDictionary([]string{"a", "b"}, nil, 0)
	a, b := dict.EncodeIDs("a")[0], dict.EncodeIDs("b")[0]
	eos := mmttest.EOSID

	batches := minibatches([]sample{
		{source: []int32{a, eos}, target: []int32{b, eos}},
		{source: []int32{a, eos}, target: []int32{b, a, eos}},
	}, 0, dict)
	require.Len(t, batches, 1)
	assert.Equal(t, [][]int32{{b, eos, 0}, {b, a, eos}}, batches[0].Target.Tokens)
	assert.Equal(t, [][]int32{{eos, b, 0}, {eos, b, a}}, batches[0].PrevOutput.Tokens)
}
