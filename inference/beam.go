package inference

import (
	"context"
	"math"
	"slices"

	"github.com/jamesainslie/go-mmt/model"
)

type hypothesis struct {
	tokens []int32
	score  float64 // sum of log-probabilities
	attn   model.Attention
}

type candidate struct {
	parent int
	token  int32
	score  float64
}

// beamSearch decodes one source row. Every step re-runs the decoder over the
// whole prefix of every live hypothesis. The last step allows only EOS, so
// every surviving hypothesis is finished by the length limit.
type beamSearch struct {
	stepper    Stepper
	normalizer model.Normalizer
	cfg        model.GenerateConfig
	eos        int32
	pad        int32
	unk        int32
}

func (b *beamSearch) run(ctx context.Context, srcRow []int32, srcLen int) ([]model.Hypothesis, error) {
	beam := max(b.cfg.BeamSize, 1)
	maxLen := b.cfg.MaxLen(srcLen)

	src := make([]int64, len(srcRow))
	for i, v := range srcRow {
		src[i] = int64(v)
	}
	width := len(srcRow)

	live := []hypothesis{{}}
	var finished []hypothesis

	for step := 0; step < maxLen && len(live) > 0 && len(finished) < beam; step++ {
		in := StepInput{
			Source:        make([][]int64, len(live)),
			SourceLengths: make([]int64, len(live)),
			PrevOutput:    make([][]int64, len(live)),
		}
		for i, h := range live {
			prev := make([]int64, 0, len(h.tokens)+1)
			prev = append(prev, int64(b.eos))
			for _, tok := range h.tokens {
				prev = append(prev, int64(tok))
			}
			in.Source[i] = src
			in.SourceLengths[i] = int64(srcLen)
			in.PrevOutput[i] = prev
		}

		out, err := b.stepper.Step(ctx, in)
		if err != nil {
			return nil, err
		}

		var top []candidate
		for i, h := range live {
			lp := b.logProbs(out.LogitsAt(i, step), step, maxLen)
			for tok, p := range lp {
				if math.IsInf(float64(p), -1) || math.IsNaN(float64(p)) {
					continue
				}
				top = pushCandidate(top, candidate{parent: i, token: int32(tok), score: h.score + float64(p)}, 2*beam)
			}
		}

		var next []hypothesis
		for _, c := range top {
			parent := live[c.parent]
			attnRow := trimRow(out.AttentionAt(c.parent, step), width, srcLen)

			h := hypothesis{
				tokens: append(slices.Clone(parent.tokens), c.token),
				score:  c.score,
				attn:   append(slices.Clone(parent.attn), attnRow),
			}
			if c.token == b.eos {
				if len(finished) < beam {
					finished = append(finished, h)
				}
				continue
			}
			if len(next) < beam {
				next = append(next, h)
			}
		}
		live = next
	}

	out := make([]model.Hypothesis, len(finished))
	for i, h := range finished {
		out[i] = model.Hypothesis{
			Tokens:    h.tokens,
			Score:     b.normalize(h),
			Attention: h.attn,
		}
	}
	slices.SortStableFunc(out, func(x, y model.Hypothesis) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return 0
	})
	return out, nil
}

// logProbs applies temperature, the installed normalizer and the step constraints.
func (b *beamSearch) logProbs(logits []float32, step, maxLen int) []float32 {
	scaled := logits
	if t := b.cfg.Temperature; t > 0 && t != 1 {
		scaled = make([]float32, len(logits))
		for i, v := range logits {
			scaled[i] = v / float32(t)
		}
	}

	lp := slices.Clone(b.normalizer.LogProbs(scaled))
	negInf := float32(math.Inf(-1))

	if int(b.pad) >= 0 && int(b.pad) < len(lp) {
		lp[b.pad] = negInf
	}
	if int(b.unk) >= 0 && int(b.unk) < len(lp) {
		lp[b.unk] -= float32(b.cfg.UnkPenalty)
	}
	if int(b.eos) < len(lp) {
		switch {
		case step < b.cfg.MinLen && step < maxLen-1:
			lp[b.eos] = negInf
		case step == maxLen-1:
			eos := lp[b.eos]
			for i := range lp {
				lp[i] = negInf
			}
			lp[b.eos] = eos
		}
	}
	return lp
}

func (b *beamSearch) normalize(h hypothesis) float64 {
	if !b.cfg.NormalizeScores || len(h.tokens) == 0 {
		return h.score
	}
	return h.score / math.Pow(float64(len(h.tokens)), b.cfg.LenPenalty)
}

// pushCandidate keeps the k best candidates sorted by descending score.
func pushCandidate(top []candidate, c candidate, k int) []candidate {
	if len(top) == k && c.score <= top[k-1].score {
		return top
	}
	i, _ := slices.BinarySearchFunc(top, c, func(x, target candidate) int {
		if x.score >= target.score {
			return -1
		}
		return 1
	})
	top = slices.Insert(top, i, c)
	if len(top) > k {
		top = top[:k]
	}
	return top
}

// trimRow keeps the last srcLen columns of a left-padded attention row.
func trimRow(row []float32, width, srcLen int) []float32 {
	if srcLen > width || srcLen <= 0 {
		srcLen = width
	}
	return append([]float32(nil), row[len(row)-srcLen:]...)
}
