// Package model declares the collaborators the decoder drives: the sequence
// model, its probability normalizer and the subword dictionary.
package model

import (
	"context"
	"errors"
)

var (
	// ErrOutOfMemory is returned by a Trainer when a batch does not fit on the device.
	// The batch is skipped.
	ErrOutOfMemory = errors.New("model: out of memory")

	// ErrGradientOverflow is returned by a Trainer when the optimizer step overflowed.
	ErrGradientOverflow = errors.New("model: gradient overflow")
)

// Weights is a loadable snapshot of model parameters.
// Backends that bake weights into a file use Path; in-memory backends use Tensors.
type Weights struct {
	Path    string
	Tensors map[string][]float32
}

// Batch is a left-padded token matrix.
type Batch struct {
	Tokens  [][]int32
	Lengths []int
}

// Rows returns the number of rows in the batch.
func (b Batch) Rows() int { return len(b.Tokens) }

// Width returns the padded row length.
func (b Batch) Width() int {
	if len(b.Tokens) == 0 {
		return 0
	}
	return len(b.Tokens[0])
}

// Attention is a [target][source] weight matrix.
type Attention [][]float32

// Hypothesis is one beam-search result.
type Hypothesis struct {
	Tokens    []int32 // ends with EOS
	Score     float64 // normalized log score
	Attention Attention
}

// TrainingBatch is one fine-tuning minibatch. Source is left padded, Target is
// right padded and PrevOutput is Target shifted right behind EOS.
type TrainingBatch struct {
	Source     Batch
	Target     Batch
	PrevOutput Batch
}

// Normalizer turns one row of logits into log-probabilities.
type Normalizer interface {
	LogProbs(logits []float32) []float32
}

// Model is a sequence-to-sequence model with attention.
type Model interface {
	// LoadWeights overwrites the model parameters in place.
	LoadWeights(ctx context.Context, w Weights) error

	// Generate runs beam search and returns the n-best list of every row, best first.
	Generate(ctx context.Context, src Batch, cfg GenerateConfig) ([][]Hypothesis, error)

	// Forward runs one forced pass over tgt and returns the attention of every row,
	// shaped [tgt.Width()][src.Width()].
	Forward(ctx context.Context, src, tgt Batch) ([]Attention, error)

	// MaxPositions is the longest sequence the model accepts.
	MaxPositions() int

	// Normalizer returns the normalizer used at every generation step.
	Normalizer() Normalizer

	// UseNormalizer replaces the normalizer used at every generation step.
	UseNormalizer(n Normalizer)
}

// Trainer is implemented by models that support gradient updates.
//
//	if tr, ok := m.(model.Trainer); ok {
//	    err := tr.TrainStep(ctx, batch, lr, seed)
//	}
type Trainer interface {
	TrainStep(ctx context.Context, batch TrainingBatch, learningRate float64, seed int64) error
}

// Dictionary converts between text and token ids.
type Dictionary interface {
	EncodeIDs(text string) []int32
	DecodeIDs(ids []int32) string

	// WordIndexes returns, for every non-special id, the index of the word it belongs to.
	WordIndexes(ids []int32) []int

	PadID() int32
	EOSID() int32
	UnkID() int32

	// LanguageTag returns the id of the tag token that selects lang as target.
	LanguageTag(lang string) (int32, bool)

	// OriginalSize is the true vocabulary length.
	OriginalSize() int

	// ExtendedSize is the vocabulary length of the shared model, >= OriginalSize.
	ExtendedSize() int
}
