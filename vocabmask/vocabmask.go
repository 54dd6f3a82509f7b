// Package vocabmask lets checkpoints with different vocabulary sizes share one
// model instance.
//
// The shared model is sized for the largest vocabulary. Logits past the active
// checkpoint's true vocabulary are dropped before normalization, the same way a
// padding id is absent from the softmax, and the result is padded back out with
// negative infinity so beam search can never select those ids while tensor
// shapes stay the same for every checkpoint.
package vocabmask

import (
	"math"

	"github.com/jamesainslie/go-mmt/model"
)

// ActiveFunc returns the dictionary of the checkpoint currently loaded in the
// model, or nil when none is loaded.
type ActiveFunc func() model.Dictionary

// Normalizer masks the extended vocabulary in front of another normalizer.
type Normalizer struct {
	inner  model.Normalizer
	active ActiveFunc
}

var _ model.Normalizer = (*Normalizer)(nil)

// New wraps inner. When active is nil or returns nil, Normalizer is a pass-through.
func New(inner model.Normalizer, active ActiveFunc) *Normalizer {
	if inner == nil {
		inner = model.LogSoftmax{}
	}
	return &Normalizer{inner: inner, active: active}
}

// LogProbs implements model.Normalizer. The result always has ExtendedSize
// entries and entries from OriginalSize on are exactly -Inf.
func (n *Normalizer) LogProbs(logits []float32) []float32 {
	var dict model.Dictionary
	if n.active != nil {
		dict = n.active()
	}
	if dict == nil {
		return n.inner.LogProbs(logits)
	}

	original := dict.OriginalSize()
	extended := dict.ExtendedSize()
	if extended < original {
		extended = original
	}
	if original > len(logits) {
		original = len(logits)
	}

	logProbs := n.inner.LogProbs(logits[:original])

	out := make([]float32, extended)
	copy(out, logProbs[:original])
	negInf := float32(math.Inf(-1))
	for i := original; i < extended; i++ {
		out[i] = negInf
	}
	return out
}

// Inner returns the wrapped normalizer.
func (n *Normalizer) Inner() model.Normalizer { return n.inner }
