package mmt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamesainslie/go-mmt/align"
	"github.com/jamesainslie/go-mmt/batch"
	"github.com/jamesainslie/go-mmt/checkpoint"
	"github.com/jamesainslie/go-mmt/model"
	"github.com/jamesainslie/go-mmt/tokenizer"
	"github.com/jamesainslie/go-mmt/tuning"
)

// Decoder translates with one shared model. It serves one request at a time.
type Decoder struct {
	mu sync.Mutex

	store    *checkpoint.Store
	session  *checkpoint.Session
	tuner    *tuning.Controller
	generate model.GenerateConfig
	seed     int64
	logger   *slog.Logger
}

// New creates a Decoder that owns m and reads checkpoints from store.
// The store may be shared between decoders; the model may not.
func New(store *checkpoint.Store, m model.Model, opts ...Option) *Decoder {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tuneOpts := tuning.DefaultOptions()
	if cfg.tuning != nil {
		tuneOpts = *cfg.tuning
	}

	return &Decoder{
		store:    store,
		session:  checkpoint.NewSession(m),
		tuner:    tuning.NewController(tuneOpts, cfg.logger),
		generate: cfg.generate,
		seed:     cfg.seed,
		logger:   cfg.logger,
	}
}

type timings struct {
	reset  time.Duration
	tune   time.Duration
	decode time.Duration
}

func observe(stage string, start time.Time) time.Duration {
	elapsed := time.Since(start)
	stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	return elapsed
}

// Translate translates segments from sourceLang to targetLang. The result has
// one Translation per segment, in order. An empty segment list yields an
// empty result.
func (d *Decoder) Translate(ctx context.Context, sourceLang, targetLang string, segments []string, opts ...TranslateOption) ([]Translation, error) {
	var req request
	for _, opt := range opts {
		opt(&req)
	}
	if req.forced != nil && len(req.forced) != len(segments) {
		return nil, fmt.Errorf("%w: %d segments but %d forced translations",
			ErrInvalidRequest, len(segments), len(req.forced))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	mode := "decode"
	if req.forced != nil {
		mode = "force_decode"
	}
	pair := checkpoint.PairName(sourceLang, targetLang)
	requestID := uuid.NewString()
	logger := d.logger.With(slog.String("request_id", requestID), slog.String("pair", pair))

	ctx, span := tracer.Start(ctx, "mmt.Translate",
		trace.WithAttributes(
			attribute.String("mmt.request_id", requestID),
			attribute.String("mmt.pair", pair),
			attribute.String("mmt.mode", mode),
			attribute.Int("mmt.segments", len(segments)),
			attribute.Int("mmt.suggestions", len(req.suggestions)),
		),
	)
	defer span.End()

	out, t, err := d.translate(ctx, logger, sourceLang, targetLang, segments, req)
	if err != nil {
		requestsTotal.WithLabelValues(mode, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("translation failed", slog.String("error", err.Error()))
		return nil, err
	}

	requestsTotal.WithLabelValues(mode, "ok").Inc()
	segmentsTotal.WithLabelValues(pair).Add(float64(len(segments)))
	span.SetStatus(codes.Ok, "")
	logger.Info("translation complete",
		slog.String("mode", mode),
		slog.Int("segments", len(segments)),
		slog.Duration("reset_time", t.reset),
		slog.Duration("tune_time", t.tune),
		slog.Duration("decode_time", t.decode))
	return out, nil
}

func (d *Decoder) translate(ctx context.Context, logger *slog.Logger, sourceLang, targetLang string, segments []string, req request) ([]Translation, timings, error) {
	var t timings

	start := time.Now()
	cp, err := d.reset(ctx, sourceLang, targetLang)
	t.reset = observe("reset", start)
	if err != nil {
		return nil, t, err
	}

	if len(req.suggestions) > 0 {
		start = time.Now()
		err := d.tune(ctx, logger, cp, targetLang, req)
		t.tune = observe("tune", start)
		if err != nil {
			return nil, t, err
		}
	}

	if d.session.Current() != cp {
		return nil, t, fmt.Errorf("%w: want %s, loaded %v", ErrStaleModel, cp.Name, d.session.Current())
	}

	start = time.Now()
	var out []Translation
	if req.forced != nil {
		out, err = d.forceDecode(ctx, cp, targetLang, segments, req.forced)
	} else {
		out, err = d.decode(ctx, cp, sourceLang, targetLang, segments)
	}
	t.decode = observe("decode", start)
	return out, t, err
}

// reset selects the checkpoint and restores its weights if needed.
func (d *Decoder) reset(ctx context.Context, sourceLang, targetLang string) (*checkpoint.Checkpoint, error) {
	cp, err := d.store.Get(ctx, sourceLang, targetLang)
	if err != nil {
		return nil, classifyLoadError(err)
	}
	if _, err := d.store.LoadInto(ctx, d.session, cp); err != nil {
		return nil, classifyLoadError(err)
	}
	return cp, nil
}

func classifyLoadError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownLanguagePair),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, tokenizer.ErrInvalidModel):
		return fmt.Errorf("%w: %w", ErrTokenizerFailed, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrModelNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
}

func prefixLang(cp *checkpoint.Checkpoint, targetLang string) string {
	if !cp.MultilingualTarget {
		return ""
	}
	return checkpoint.NormalizeLang(targetLang)
}

// suggestionTag returns the tag of a suggestion's own target language,
// falling back to the request's target when the suggestion names none.
func suggestionTag(cp *checkpoint.Checkpoint, requestLang, lang string) (int32, error) {
	if lang == "" {
		lang = requestLang
	}
	lang = checkpoint.NormalizeLang(lang)
	tag, ok := cp.Dictionary.LanguageTag(lang)
	if !ok {
		return 0, fmt.Errorf("%w: %s", batch.ErrUnknownLanguageTag, lang)
	}
	return tag, nil
}

func (d *Decoder) tune(ctx context.Context, logger *slog.Logger, cp *checkpoint.Checkpoint, targetLang string, req request) error {
	epochs, lr := d.tuner.Resolve(req.suggestions, req.epochs, req.learningRate)
	if epochs <= 0 || lr <= 0 {
		logger.Debug("tuning skipped", slog.Int("epochs", epochs), slog.Float64("learning_rate", lr))
		return nil
	}

	m := d.session.Model()
	trainer, ok := m.(model.Trainer)
	if !ok {
		logger.Warn("model does not support tuning, suggestions ignored",
			slog.Int("suggestions", len(req.suggestions)))
		return nil
	}

	job := tuning.Job{
		Trainer:      trainer,
		Dictionary:   cp.Dictionary,
		MaxPositions: m.MaxPositions(),
		Suggestions:  req.suggestions,
		Epochs:       epochs,
		LearningRate: lr,
		Seed:         d.seed,
		MarkStale:    d.session.MarkStale,
	}
	if cp.MultilingualTarget {
		job.LanguageTag = func(lang string) (int32, error) {
			return suggestionTag(cp, targetLang, lang)
		}
	}

	ctx, span := tracer.Start(ctx, "mmt.Tune",
		trace.WithAttributes(
			attribute.Int("mmt.tuning.epochs", epochs),
			attribute.Float64("mmt.tuning.learning_rate", lr),
		),
	)
	defer span.End()

	res, err := d.tuner.Tune(ctx, job)
	tuningSteps.WithLabelValues("ok").Add(float64(res.Steps))
	tuningSteps.WithLabelValues("skipped").Add(float64(res.Skipped))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("tuning: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (d *Decoder) decode(ctx context.Context, cp *checkpoint.Checkpoint, sourceLang, targetLang string, segments []string) ([]Translation, error) {
	m := d.session.Model()
	dict := cp.Dictionary

	opts := []batch.Option{batch.WithMaxPositions(m.MaxPositions())}
	if lang := prefixLang(cp, targetLang); lang != "" {
		opts = append(opts, batch.WithPrefix(lang))
	}
	enc, err := batch.Encode(dict, segments, opts...)
	if err != nil {
		return nil, err
	}

	cfg := d.generate
	cfg.MaxLenB = cp.DecodeLength(sourceLang, targetLang, enc.MaxLength)

	hypos, err := m.Generate(ctx, enc.Batch, cfg)
	if err != nil {
		return nil, fmt.Errorf("generating: %w", err)
	}
	if len(hypos) < len(segments) {
		return nil, fmt.Errorf("generating: %d results for %d segments", len(hypos), len(segments))
	}

	out := make([]Translation, len(segments))
	for i, segment := range segments {
		if len(hypos[i]) == 0 {
			return nil, fmt.Errorf("generating: no hypothesis for segment %d", i)
		}
		best := hypos[i][0]

		text := dict.DecodeIDs(best.Tokens)
		tokens, attn := wordRows(dict, best.Tokens, best.Attention)
		attn = lastColumns(attn, enc.Lengths[i])

		a := align.Make(enc.Indexes[i], dict.WordIndexes(tokens), attn, enc.Prefixed)
		out[i] = Translation{
			Text:      text,
			Alignment: align.Clean(a, segment, text),
			Score:     confidence(best.Score),
			HasScore:  true,
		}
	}
	return out, nil
}

// confidence maps a log-probability score into (0, 1].
func confidence(logScore float64) float64 {
	return max(min(math.Exp(logScore), 1), math.SmallestNonzeroFloat64)
}

func (d *Decoder) forceDecode(ctx context.Context, cp *checkpoint.Checkpoint, targetLang string, segments, forced []string) ([]Translation, error) {
	m := d.session.Model()

	pair, err := batch.EncodePair(cp.Dictionary, segments, forced, prefixLang(cp, targetLang),
		batch.WithMaxPositions(m.MaxPositions()))
	if err != nil {
		return nil, err
	}

	attns, err := m.Forward(ctx, pair.Source.Batch, pair.Target.Batch)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if len(attns) < len(segments) {
		return nil, fmt.Errorf("forward: %d results for %d segments", len(attns), len(segments))
	}

	out := make([]Translation, len(segments))
	for i, segment := range segments {
		// Both batches are left padded: real rows and columns are at the end.
		attn := lastColumns(lastRows(attns[i], pair.Target.Lengths[i]), pair.Source.Lengths[i])

		a := align.Make(pair.Source.Indexes[i], pair.Target.Indexes[i], attn, pair.Source.Prefixed)
		out[i] = Translation{
			Text:      forced[i],
			Alignment: align.Clean(a, segment, forced[i]),
		}
	}
	return out, nil
}

// wordRows drops the tokens that carry no word, and their attention rows.
func wordRows(dict model.Dictionary, tokens []int32, attn model.Attention) ([]int32, model.Attention) {
	keptTokens := make([]int32, 0, len(tokens))
	keptRows := make(model.Attention, 0, len(attn))
	for j, tok := range tokens {
		if len(dict.WordIndexes([]int32{tok})) == 0 {
			continue
		}
		keptTokens = append(keptTokens, tok)
		if j < len(attn) {
			keptRows = append(keptRows, attn[j])
		}
	}
	return keptTokens, keptRows
}

func lastRows(attn model.Attention, n int) model.Attention {
	if n >= len(attn) || n < 0 {
		return attn
	}
	return attn[len(attn)-n:]
}

func lastColumns(attn model.Attention, n int) model.Attention {
	out := make(model.Attention, len(attn))
	for i, row := range attn {
		if n < len(row) && n >= 0 {
			row = row[len(row)-n:]
		}
		out[i] = row
	}
	return out
}

// Warmup loads the first configured checkpoint and runs a one-step
// generation on the placeholder batch.
func (d *Decoder) Warmup(ctx context.Context) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pairs := d.store.Pairs()
	if len(pairs) == 0 {
		return 0, fmt.Errorf("%w: no language pairs configured", ErrInvalidModel)
	}
	source, target, err := checkpoint.ParsePairName(pairs[0])
	if err != nil {
		return 0, err
	}

	start := time.Now()
	cp, err := d.reset(ctx, source, target)
	if err != nil {
		return 0, err
	}

	enc, err := batch.Encode(cp.Dictionary, nil)
	if err != nil {
		return 0, err
	}
	cfg := d.generate
	cfg.MaxLenA, cfg.MaxLenB = 0, 1

	if _, err := d.session.Model().Generate(ctx, enc.Batch, cfg); err != nil {
		return 0, fmt.Errorf("warmup: %w", err)
	}

	elapsed := time.Since(start)
	d.logger.Info("decoder warm", slog.String("pair", cp.Name), slog.Duration("elapsed", elapsed))
	return elapsed, nil
}

// Preload reads every configured checkpoint into the store without writing
// weights into the model.
func (d *Decoder) Preload(ctx context.Context) error {
	start := time.Now()
	if err := d.store.Preload(ctx); err != nil {
		return classifyLoadError(err)
	}
	d.logger.Info("checkpoints preloaded",
		slog.Int("pairs", len(d.store.Loaded())),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Pairs lists the configured language pairs.
func (d *Decoder) Pairs() []string {
	return d.store.Pairs()
}

// Close releases the model when it holds resources.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.session.Model().(io.Closer); ok {
		return c.Close()
	}
	return nil
}
