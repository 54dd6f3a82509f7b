package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jamesainslie/go-mmt/model"
)

// Opener opens a Stepper for a weights file.
type Opener func(path string) (Stepper, error)

// OpenSession is the default Opener.
func OpenSession(path string) (Stepper, error) {
	return NewSession(path)
}

// Model is a model.Model backed by an exported ONNX graph. Weights are baked
// into the graph file, so loading a checkpoint opens a new session. The graph
// is never updated in place, so Model is not a model.Trainer.
type Model struct {
	mu      sync.Mutex
	stepper Stepper
	path    string

	open         Opener
	normalizer   model.Normalizer
	maxPositions int
	eos          int32
	pad          int32
	unk          int32
	active       func() model.Dictionary
	logger       *slog.Logger
}

var _ model.Model = (*Model)(nil)

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithOpener replaces how sessions are opened.
func WithOpener(open Opener) ModelOption {
	return func(m *Model) {
		if open != nil {
			m.open = open
		}
	}
}

// WithMaxPositions sets the longest sequence the graph accepts (default: 1024).
func WithMaxPositions(n int) ModelOption {
	return func(m *Model) {
		if n > 0 {
			m.maxPositions = n
		}
	}
}

// WithSpecialIDs sets the EOS, padding and unknown ids of the graph's
// vocabulary (default: 2, 1, 3).
func WithSpecialIDs(eos, pad, unk int32) ModelOption {
	return func(m *Model) {
		m.eos, m.pad, m.unk = eos, pad, unk
	}
}

// WithActiveDictionary takes the special ids from the dictionary returned by
// active, when it returns one, instead of the fixed ids of WithSpecialIDs.
func WithActiveDictionary(active func() model.Dictionary) ModelOption {
	return func(m *Model) {
		m.active = active
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) ModelOption {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewModel creates a Model with no weights loaded.
func NewModel(opts ...ModelOption) *Model {
	m := &Model{
		open:         OpenSession,
		normalizer:   model.LogSoftmax{},
		maxPositions: 1024,
		eos:          2,
		pad:          1,
		unk:          3,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadWeights opens the graph at w.Path, replacing the current session.
// The session is kept when the path is unchanged.
func (m *Model) LoadWeights(ctx context.Context, w model.Weights) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.Path == "" {
		return errors.New("inference: weights have no path")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stepper != nil && m.path == w.Path {
		return nil
	}

	next, err := m.open(w.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", w.Path, err)
	}
	if m.stepper != nil {
		if err := m.stepper.Close(); err != nil {
			m.logger.Warn("closing previous session", slog.String("path", m.path), slog.String("error", err.Error()))
		}
	}
	m.stepper, m.path = next, w.Path
	return nil
}

func (m *Model) current() (Stepper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepper == nil {
		return nil, errors.New("inference: no weights loaded")
	}
	return m.stepper, nil
}

// UseDictionary is WithActiveDictionary for an existing Model.
func (m *Model) UseDictionary(active func() model.Dictionary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

func (m *Model) specials() (eos, pad, unk int32) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != nil {
		if dict := active(); dict != nil {
			return dict.EOSID(), dict.PadID(), dict.UnkID()
		}
	}
	return m.eos, m.pad, m.unk
}

// MaxPositions returns the longest sequence the graph accepts.
func (m *Model) MaxPositions() int { return m.maxPositions }

// Normalizer returns the function turning logits into log-probabilities.
func (m *Model) Normalizer() model.Normalizer { return m.normalizer }

// UseNormalizer replaces the normalizer; vocabulary masking installs its own.
func (m *Model) UseNormalizer(n model.Normalizer) { m.normalizer = n }

// Generate runs beam search over every row of src.
func (m *Model) Generate(ctx context.Context, src model.Batch, cfg model.GenerateConfig) ([][]model.Hypothesis, error) {
	stepper, err := m.current()
	if err != nil {
		return nil, err
	}

	eos, pad, unk := m.specials()
	out := make([][]model.Hypothesis, src.Rows())
	for row := range src.Tokens {
		s := &beamSearch{
			stepper:    stepper,
			normalizer: m.normalizer,
			cfg:        cfg,
			eos:        eos,
			pad:        pad,
			unk:        unk,
		}
		hyps, err := s.run(ctx, src.Tokens[row], src.Lengths[row])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		out[row] = hyps
	}
	return out, nil
}

// Forward runs one forced pass with tgt as decoder input.
func (m *Model) Forward(ctx context.Context, src, tgt model.Batch) ([]model.Attention, error) {
	stepper, err := m.current()
	if err != nil {
		return nil, err
	}

	res, err := stepper.Step(ctx, StepInput{
		Source:        toInt64(src.Tokens),
		SourceLengths: lengths64(src.Lengths),
		PrevOutput:    toInt64(tgt.Tokens),
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Attention, src.Rows())
	for row := range out {
		attn := make(model.Attention, res.TgtLen)
		for t := range attn {
			attn[t] = append([]float32(nil), res.AttentionAt(row, t)...)
		}
		out[row] = attn
	}
	return out, nil
}

// Close releases the current session.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepper == nil {
		return nil
	}
	err := m.stepper.Close()
	m.stepper, m.path = nil, ""
	return err
}

func toInt64(rows [][]int32) [][]int64 {
	out := make([][]int64, len(rows))
	for i, r := range rows {
		out[i] = make([]int64, len(r))
		for j, v := range r {
			out[i][j] = int64(v)
		}
	}
	return out
}

func lengths64(lengths []int) []int64 {
	out := make([]int64, len(lengths))
	for i, n := range lengths {
		out[i] = int64(n)
	}
	return out
}
