package model

// GenerateConfig configures beam search. It is chosen once when the decoder
// is built; only MaxLenB changes per request.
type GenerateConfig struct {
	BeamSize        int
	MaxLenA         float64
	MaxLenB         int
	MinLen          int
	NormalizeScores bool
	LenPenalty      float64
	UnkPenalty      float64
	Temperature     float64
}

// DefaultGenerateConfig returns the configuration used by the decoder.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		BeamSize:        5,
		MaxLenA:         0,
		MaxLenB:         1,
		MinLen:          1,
		NormalizeScores: true,
		LenPenalty:      1,
		UnkPenalty:      0,
		Temperature:     1,
	}
}

// MaxLen returns the output length bound for a source of srcLen tokens.
func (c GenerateConfig) MaxLen(srcLen int) int {
	n := int(c.MaxLenA*float64(srcLen)) + c.MaxLenB
	if n < 1 {
		n = 1
	}
	return n
}
