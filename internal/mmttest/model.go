package mmttest

import (
	"context"
	"math"
	"slices"

	"github.com/jamesainslie/go-mmt/model"
)

// BiasTensor is the only parameter of Model.
const BiasTensor = "bias"

// Model is an echo model: the best hypothesis of every row repeats the source
// tokens (language tags dropped) and attends diagonally. Scores come from the
// installed normalizer applied to the bias tensor, so tuning and vocabulary
// masking are observable.
type Model struct {
	dict         *Dictionary
	bias         []float32
	normalizer   model.Normalizer
	maxPositions int

	Loads       int
	Steps       int
	Generations int
	Forwards    int

	// LogProbWidths records the length of every normalized row.
	LogProbWidths []int

	// Trained records every batch passed to TrainStep.
	Trained []model.TrainingBatch

	// FailStep, when set, is returned from the n-th TrainStep call (1-based).
	FailStep    int
	FailStepErr error
}

var (
	_ model.Model   = (*Model)(nil)
	_ model.Trainer = (*Model)(nil)
)

// NewModel creates an echo model over dict.
func NewModel(dict *Dictionary) *Model {
	return &Model{
		dict:         dict,
		normalizer:   model.LogSoftmax{},
		maxPositions: 1024,
	}
}

// Weights returns a snapshot whose bias tensor has size entries set to value.
func Weights(size int, value float32) model.Weights {
	bias := make([]float32, size)
	for i := range bias {
		bias[i] = value
	}
	return model.Weights{Tensors: map[string][]float32{BiasTensor: bias}}
}

// Bias returns a copy of the current bias tensor.
func (m *Model) Bias() []float32 { return slices.Clone(m.bias) }

func (m *Model) LoadWeights(_ context.Context, w model.Weights) error {
	m.bias = slices.Clone(w.Tensors[BiasTensor])
	if len(m.bias) == 0 {
		m.bias = make([]float32, m.dict.ExtendedSize())
	}
	m.Loads++
	return nil
}

func (m *Model) MaxPositions() int                { return m.maxPositions }
func (m *Model) Normalizer() model.Normalizer     { return m.normalizer }
func (m *Model) UseNormalizer(n model.Normalizer) { m.normalizer = n }

// SetMaxPositions changes the value reported by MaxPositions.
func (m *Model) SetMaxPositions(n int) { m.maxPositions = n }

func realTokens(b model.Batch, row int) []int32 {
	tokens := b.Tokens[row]
	return tokens[len(tokens)-b.Lengths[row]:]
}

func (m *Model) Generate(ctx context.Context, src model.Batch, cfg model.GenerateConfig) ([][]model.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Generations++

	out := make([][]model.Hypothesis, src.Rows())
	for row := range src.Tokens {
		source := realTokens(src, row)

		offset := 0
		if len(source) > 0 && m.dict.IsTag(source[0]) {
			offset = 1
		}
		tokens := slices.Clone(source[offset:])
		if n := cfg.MaxLen(len(source)); len(tokens) > n {
			tokens = append(tokens[:n-1], EOSID)
		}

		var score float64
		attn := make(model.Attention, len(tokens))
		for j, tok := range tokens {
			logits := make([]float32, len(m.bias))
			copy(logits, m.bias)
			if int(tok) < len(logits) {
				logits[tok] += 10
			}
			lp := m.normalizer.LogProbs(logits)
			m.LogProbWidths = append(m.LogProbWidths, len(lp))
			if int(tok) < len(lp) {
				score += float64(lp[tok])
			} else {
				score = math.Inf(-1)
			}

			attn[j] = make([]float32, len(source))
			attn[j][min(j+offset, len(source)-1)] = 1
		}
		if cfg.NormalizeScores && len(tokens) > 0 {
			score /= math.Pow(float64(len(tokens)), cfg.LenPenalty)
		}

		out[row] = []model.Hypothesis{{Tokens: tokens, Score: score, Attention: attn}}
	}
	return out, nil
}

func (m *Model) Forward(ctx context.Context, src, tgt model.Batch) ([]model.Attention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Forwards++

	srcWidth, tgtWidth := src.Width(), tgt.Width()
	out := make([]model.Attention, src.Rows())
	for row := range src.Tokens {
		source := realTokens(src, row)
		offset := 0
		if len(source) > 0 && m.dict.IsTag(source[0]) {
			offset = 1
		}
		srcLen, tgtLen := src.Lengths[row], tgt.Lengths[row]

		attn := make(model.Attention, tgtWidth)
		for r := range attn {
			attn[r] = make([]float32, srcWidth)
		}
		for r := 0; r < tgtLen; r++ {
			col := srcWidth - srcLen + min(r+offset, srcLen-1)
			attn[tgtWidth-tgtLen+r][col] = 1
		}
		out[row] = attn
	}
	return out, nil
}

func (m *Model) TrainStep(ctx context.Context, batch model.TrainingBatch, lr float64, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Steps++
	m.Trained = append(m.Trained, batch)
	if m.FailStep > 0 && m.Steps == m.FailStep {
		return m.FailStepErr
	}
	for _, row := range batch.Target.Tokens {
		for _, tok := range row {
			if tok == PadID || int(tok) >= len(m.bias) {
				continue
			}
			m.bias[tok] += float32(lr * 1e4)
		}
	}
	return nil
}
