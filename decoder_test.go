package mmt

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/go-mmt/align"
	"github.com/jamesainslie/go-mmt/batch"
	"github.com/jamesainslie/go-mmt/checkpoint"
	"github.com/jamesainslie/go-mmt/internal/mmttest"
	"github.com/jamesainslie/go-mmt/model"
	"github.com/jamesainslie/go-mmt/tokenizer"
	"github.com/jamesainslie/go-mmt/tuning"
)

const extendedSize = 32

var testWords = []string{"hello", "world", "good", "morning", "bonjour", "monde", "bon", "matin"}

type fixture struct {
	dec   *Decoder
	model *mmttest.Model
	dict  *mmttest.Dictionary
}

func newFixture(t *testing.T, multilingual bool, opts ...Option) *fixture {
	t.Helper()

	var langs []string
	if multilingual {
		langs = []string{"fr", "it"}
	}
	dict := mmttest.NewDictionary(testWords, langs, extendedSize)
	m := mmttest.NewModel(dict)

	src := checkpoint.NewMemorySource(
		&checkpoint.Checkpoint{Source: "en", Target: "fr", Dictionary: dict,
			Weights: mmttest.Weights(extendedSize, 0), MultilingualTarget: multilingual},
		&checkpoint.Checkpoint{Source: "en", Target: "it", Dictionary: dict,
			Weights: mmttest.Weights(extendedSize, 0), MultilingualTarget: multilingual},
	)
	return &fixture{
		dec:   New(checkpoint.NewStore(src), m, opts...),
		model: m,
		dict:  dict,
	}
}

func suggestion() Suggestion {
	return Suggestion{
		SourceLang:  "en",
		TargetLang:  "fr",
		Segment:     "hello world",
		Translation: "bonjour monde",
		Score:       1,
	}
}

func TestTranslate(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello", "world", "good morning"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, want := range []string{"hello", "world", "good morning"} {
		assert.Equal(t, want, out[i].Text)
		assert.True(t, out[i].HasScore)
		assert.Greater(t, out[i].Score, 0.0)
		assert.LessOrEqual(t, out[i].Score, 1.0)
	}
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}}, out[0].Alignment)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}, out[2].Alignment)

	assert.Equal(t, 1, f.model.Loads)
	assert.Equal(t, 1, f.model.Generations)
}

func TestTranslateMasksExtendedVocabulary(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello world"})
	require.NoError(t, err)

	require.NotEmpty(t, f.model.LogProbWidths)
	for _, w := range f.model.LogProbWidths {
		assert.Equal(t, extendedSize, w)
	}
}

func TestTranslateSameCheckpointSkipsReload(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.dec.Translate(ctx, "en", "fr", []string{"hello"})
	require.NoError(t, err)
	first := f.dec.session.Current()

	_, err = f.dec.Translate(ctx, "EN", "FR", []string{"world"})
	require.NoError(t, err)

	assert.Same(t, first, f.dec.session.Current())
	assert.Equal(t, 1, f.model.Loads)
}

func TestTranslateSwitchesCheckpoints(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, target := range []string{"fr", "it", "fr"} {
		_, err := f.dec.Translate(ctx, "en", target, []string{"hello"})
		require.NoError(t, err)
		assert.Equal(t, "en__"+target, f.dec.session.Current().Name)
	}
	assert.Equal(t, 3, f.model.Loads)
}

func TestTranslateRepeatedSuggestions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	segments := []string{"hello world"}

	baseline, err := f.dec.Translate(ctx, "en", "fr", segments)
	require.NoError(t, err)
	cp := f.dec.session.Current()

	first, err := f.dec.Translate(ctx, "en", "fr", segments, WithSuggestions(suggestion()))
	require.NoError(t, err)
	assert.Equal(t, 1, f.model.Loads, "weights were fresh, no reload")
	assert.Equal(t, 4, f.model.Steps)
	assert.True(t, f.dec.session.Stale())

	second, err := f.dec.Translate(ctx, "en", "fr", segments, WithSuggestions(suggestion()))
	require.NoError(t, err)
	assert.Same(t, cp, f.dec.session.Current(), "checkpoint unchanged")
	assert.Equal(t, 2, f.model.Loads, "tuned weights are restored before tuning again")
	assert.Equal(t, 8, f.model.Steps, "tuning runs on every request")

	assert.Equal(t, first, second)
	assert.NotEqual(t, baseline[0].Score, first[0].Score)
	assert.Equal(t, baseline[0].Text, first[0].Text)

	// Without suggestions the base weights come back.
	again, err := f.dec.Translate(ctx, "en", "fr", segments)
	require.NoError(t, err)
	assert.Equal(t, baseline, again)
	assert.False(t, f.dec.session.Stale())
}

func TestTranslateTuningOverrides(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello"},
		WithSuggestions(suggestion()),
		WithTuningEpochs(2),
		WithTuningLearningRate(0.5))
	require.NoError(t, err)
	assert.Equal(t, 2, f.model.Steps)
}

func TestTranslateZeroEpochsIsNoop(t *testing.T) {
	tests := []struct {
		name string
		opts []TranslateOption
	}{
		{"zero epochs", []TranslateOption{WithSuggestions(suggestion()), WithTuningEpochs(0)}},
		{"zero learning rate", []TranslateOption{WithSuggestions(suggestion()), WithTuningLearningRate(0)}},
		{"useless suggestions", []TranslateOption{WithSuggestions(Suggestion{Segment: "hello", Translation: "bonjour", Score: 0})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			ctx := context.Background()

			_, err := f.dec.Translate(ctx, "en", "fr", []string{"hello"})
			require.NoError(t, err)
			before := f.model.Bias()

			_, err = f.dec.Translate(ctx, "en", "fr", []string{"hello"}, tt.opts...)
			require.NoError(t, err)

			assert.Zero(t, f.model.Steps)
			assert.False(t, f.dec.session.Stale())
			assert.Equal(t, before, f.model.Bias())
		})
	}
}

func TestTranslateTuneFailureLeavesStale(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	boom := errors.New("boom")
	f.model.FailStep = 2
	f.model.FailStepErr = boom

	_, err := f.dec.Translate(ctx, "en", "fr", []string{"hello"}, WithSuggestions(suggestion()))
	require.ErrorIs(t, err, boom)
	assert.True(t, f.dec.session.Stale())

	_, err = f.dec.Translate(ctx, "en", "fr", []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.model.Loads)
	assert.False(t, f.dec.session.Stale())
}

func TestTranslateTuneSkipsRecoverableErrors(t *testing.T) {
	f := newFixture(t, false)
	f.model.FailStep = 1
	f.model.FailStepErr = model.ErrOutOfMemory

	_, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello"}, WithSuggestions(suggestion()))
	require.NoError(t, err)
	assert.Equal(t, 4, f.model.Steps)
}

// frozenModel hides the Trainer capability of the wrapped model.
type frozenModel struct {
	model.Model
}

func TestTranslateWithoutTrainerIgnoresSuggestions(t *testing.T) {
	dict := mmttest.NewDictionary(testWords, nil, extendedSize)
	m := mmttest.NewModel(dict)
	src := checkpoint.NewMemorySource(&checkpoint.Checkpoint{Source: "en", Target: "fr", Dictionary: dict})
	dec := New(checkpoint.NewStore(src), frozenModel{m})

	out, err := dec.Translate(context.Background(), "en", "fr", []string{"hello"}, WithSuggestions(suggestion()))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Zero(t, m.Steps)
	assert.False(t, dec.session.Stale())
}

func TestTranslateUnknownPair(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dec.Translate(context.Background(), "en", "de", []string{"hello"})
	require.ErrorIs(t, err, ErrUnknownLanguagePair)
	assert.Zero(t, f.model.Generations)
}

func TestTranslateEmptySegments(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.dec.Translate(context.Background(), "en", "fr", nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 1, f.model.Generations, "placeholder batch is decoded")
}

func TestTranslateMultilingual(t *testing.T) {
	f := newFixture(t, true)

	out, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello world", "good"},
		WithSuggestions(suggestion()))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "hello world", out[0].Text)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}, out[0].Alignment)
	assert.Equal(t, "good", out[1].Text)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}}, out[1].Alignment)
	assert.Equal(t, 4, f.model.Steps)
}

func TestTranslateMultilingualSuggestionTags(t *testing.T) {
	tests := []struct {
		name       string
		targetLang string
		wantLang   string
	}{
		{"own target", "it", "it"},
		{"request target", "fr", "fr"},
		{"unset", "", "fr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			s := suggestion()
			s.TargetLang = tt.targetLang

			_, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello"}, WithSuggestions(s))
			require.NoError(t, err)
			require.NotEmpty(t, f.model.Trained)

			want, ok := f.dict.LanguageTag(tt.wantLang)
			require.True(t, ok)
			rows := f.model.Trained[0].Source.Tokens
			require.Len(t, rows, 1)
			assert.Equal(t, want, rows[0][0])
		})
	}
}

func TestTranslateUnknownSuggestionTag(t *testing.T) {
	f := newFixture(t, true)
	s := suggestion()
	s.TargetLang = "de"

	_, err := f.dec.Translate(context.Background(), "en", "fr", []string{"hello"}, WithSuggestions(s))
	require.ErrorIs(t, err, batch.ErrUnknownLanguageTag)
	assert.Zero(t, f.model.Steps)
	assert.False(t, f.dec.session.Stale())
}

func TestForceDecode(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.dec.Translate(context.Background(), "en", "fr",
		[]string{"hello world", "good"},
		WithForcedTranslations("bonjour monde", "bon matin"))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "bonjour monde", out[0].Text)
	assert.False(t, out[0].HasScore)
	assert.Zero(t, out[0].Score)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}, out[0].Alignment)

	assert.Equal(t, "bon matin", out[1].Text)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}, {Source: 0, Target: 1}}, out[1].Alignment)

	assert.Equal(t, 1, f.model.Forwards)
	assert.Zero(t, f.model.Generations)
}

func TestForceDecodeMultilingual(t *testing.T) {
	f := newFixture(t, true)

	out, err := f.dec.Translate(context.Background(), "en", "fr",
		[]string{"hello world"}, WithForcedTranslations("bonjour monde"))
	require.NoError(t, err)
	assert.Equal(t, align.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 1}}, out[0].Alignment)
}

func TestForceDecodeCountMismatch(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dec.Translate(context.Background(), "en", "fr",
		[]string{"hello", "world"}, WithForcedTranslations("bonjour"))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, f.model.Loads)
}

func TestForceDecodeEmpty(t *testing.T) {
	f := newFixture(t, false)

	out, err := f.dec.Translate(context.Background(), "en", "fr", nil, WithForcedTranslations())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, f.model.Forwards)
}

func TestWarmup(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.dec.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.model.Loads)
	assert.Equal(t, 1, f.model.Generations)
	assert.Equal(t, "en__fr", f.dec.session.Current().Name)
}

func TestWarmupNoPairs(t *testing.T) {
	dict := mmttest.NewDictionary(testWords, nil, 0)
	dec := New(checkpoint.NewStore(checkpoint.NewMemorySource()), mmttest.NewModel(dict))

	_, err := dec.Warmup(context.Background())
	require.ErrorIs(t, err, ErrInvalidModel)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"certain", 0, 1},
		{"positive", 0.5, 1},
		{"half", math.Log(0.5), 0.5},
		{"underflow", -1e6, math.SmallestNonzeroFloat64},
		{"negative infinity", math.Inf(-1), math.SmallestNonzeroFloat64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidence(tt.score)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Greater(t, got, 0.0)
		})
	}
}

func TestClassifyLoadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown pair", checkpoint.ErrUnknownLanguagePair, ErrUnknownLanguagePair},
		{"canceled", context.Canceled, context.Canceled},
		{"tokenizer", tokenizer.ErrInvalidModel, ErrTokenizerFailed},
		{"missing file", os.ErrNotExist, ErrModelNotFound},
		{"other", errors.New("bad graph"), ErrInvalidModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyLoadError(tt.err), tt.want)
		})
	}
}

func writeModelDir(t *testing.T, settings string) string {
	t.Helper()
	root := t.TempDir()
	cpDir := filepath.Join(root, "en__fr")
	require.NoError(t, os.MkdirAll(cpDir, 0o755))

	spm := &tokenizer.Model{Pieces: []tokenizer.Piece{
		{Piece: "<unk>", Type: tokenizer.Unknown},
		{Piece: "<s>", Type: tokenizer.Control},
		{Piece: "</s>", Type: tokenizer.Control},
		{Piece: "▁hello", Score: -1, Type: tokenizer.Normal},
	}}
	require.NoError(t, os.WriteFile(filepath.Join(cpDir, "model.spm"), spm.Marshal(), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(cpDir, checkpoint.MetadataFile), []byte("weights: model.onnx\n"), 0o600))

	conf := settings + "models:\n  en__fr: en__fr\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, checkpoint.ConfigFile), []byte(conf), 0o600))
	return root
}

func TestOpen(t *testing.T) {
	root := writeModelDir(t, "settings:\n  tuning_max_epochs: 2\n")

	dec, err := Open(root)
	require.NoError(t, err)
	defer func() { _ = dec.Close() }()

	assert.Equal(t, []string{"en__fr"}, dec.Pairs())
	assert.Equal(t, 2, dec.tuner.Options().MaxEpochs)

	// The weights file is absent, so the first request fails to load it.
	_, err = dec.Translate(context.Background(), "en", "fr", []string{"hello"})
	require.ErrorIs(t, err, ErrModelNotFound)
}

func TestOpenExplicitTuningWins(t *testing.T) {
	root := writeModelDir(t, "settings:\n  tuning_max_epochs: 2\n")
	opts := tuning.DefaultOptions()
	opts.MaxEpochs = 7

	dec, err := Open(root, WithTuningOptions(opts))
	require.NoError(t, err)
	assert.Equal(t, 7, dec.tuner.Options().MaxEpochs)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrModelNotFound)

	_, err = Open(t.TempDir())
	require.ErrorIs(t, err, ErrModelNotFound, "directory without model.yaml")

	root := writeModelDir(t, "settings:\n  beam_width: 3\n")
	_, err = Open(root)
	require.ErrorIs(t, err, ErrInvalidTuningOption)
}

func TestOpenPool(t *testing.T) {
	root := writeModelDir(t, "")

	pool, err := OpenPool(context.Background(), root, WithPoolSize(3))
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()
	assert.Equal(t, 3, pool.Size())

	dec, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(dec)
	assert.Equal(t, []string{"en__fr"}, dec.store.Loaded())
}

func TestOpenPoolPreloadFailure(t *testing.T) {
	root := writeModelDir(t, "")
	require.NoError(t, os.Remove(filepath.Join(root, "en__fr", "model.spm")))

	_, err := OpenPool(context.Background(), root, WithPoolSize(2))
	require.ErrorIs(t, err, ErrModelNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = OpenPool(ctx, writeModelDir(t, ""))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecoderPreload(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.dec.Preload(context.Background()))
	assert.Equal(t, []string{"en__fr", "en__it"}, f.dec.store.Loaded())
	assert.Zero(t, f.model.Loads)
}

func BenchmarkTranslate(b *testing.B) {
	dict := mmttest.NewDictionary(testWords, nil, extendedSize)
	src := checkpoint.NewMemorySource(&checkpoint.Checkpoint{Source: "en", Target: "fr", Dictionary: dict,
		Weights: mmttest.Weights(extendedSize, 0)})
	dec := New(checkpoint.NewStore(src), mmttest.NewModel(dict))
	segments := []string{"hello world", "good morning", "hello"}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dec.Translate(ctx, "en", "fr", segments); err != nil {
			b.Fatal(err)
		}
	}
}
