package model

import "math"

// LogSoftmax is the plain log-softmax normalizer.
type LogSoftmax struct{}

// LogProbs implements Normalizer.
func (LogSoftmax) LogProbs(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}
	if math.IsInf(maxLogit, -1) {
		for i := range out {
			out[i] = float32(math.Inf(-1))
		}
		return out
	}

	var sum float64
	for _, l := range logits {
		sum += math.Exp(float64(l) - maxLogit)
	}
	logSum := maxLogit + math.Log(sum)

	for i, l := range logits {
		out[i] = float32(float64(l) - logSum)
	}
	return out
}
