// Package checkpoint loads and caches per-language-pair model checkpoints and
// tracks which one is loaded in the shared model.
package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jamesainslie/go-mmt/model"
)

var (
	// ErrUnknownLanguagePair indicates no checkpoint is configured for a pair.
	ErrUnknownLanguagePair = errors.New("checkpoint: unknown language pair")

	// ErrInvalidPairName indicates a pair name that is not "source__target".
	ErrInvalidPairName = errors.New("checkpoint: invalid pair name")
)

const pairSeparator = "__"

// Checkpoint is a loadable snapshot of model weights plus its vocabulary and
// decoding heuristics. Checkpoints are compared by pointer.
type Checkpoint struct {
	Name   string
	Source string
	Target string

	Weights    model.Weights
	Dictionary model.Dictionary

	// MultilingualTarget is set when the model serves several target languages
	// and rows must carry a target language tag.
	MultilingualTarget bool

	// Length bounds the output length. Lengths overrides it per pair name.
	Length  LengthModel
	Lengths map[string]LengthModel
}

// DecodeLength returns the maximum output length for an input of inputLen tokens.
func (c *Checkpoint) DecodeLength(sourceLang, targetLang string, inputLen int) int {
	if lm, ok := c.Lengths[PairName(sourceLang, targetLang)]; ok {
		return lm.MaxLength(inputLen)
	}
	return c.Length.MaxLength(inputLen)
}

func (c *Checkpoint) String() string { return c.Name }

// LengthModel estimates the output length from the input length with
// target/source length statistics. A zero LengthModel has no statistics.
type LengthModel struct {
	Ratio  float64 `yaml:"ratio"`
	Stddev float64 `yaml:"stddev"`
}

// MaxLength is monotonic in inputLen.
func (lm LengthModel) MaxLength(inputLen int) int {
	inputLen = max(inputLen, 0)
	if lm.Ratio <= 0 {
		return max(50, 2*inputLen)
	}
	n := float64(inputLen)
	est := math.Ceil(n*lm.Ratio + 3*math.Abs(lm.Stddev)*math.Sqrt(n))
	return max(10, int(est))
}

// NormalizeLang canonicalises a language code: "en-us" becomes "en-US",
// codes without a region are lower-cased.
func NormalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if base, region, ok := strings.Cut(lang, "-"); ok {
		return strings.ToLower(base) + "-" + strings.ToUpper(region)
	}
	return strings.ToLower(lang)
}

// PairName returns the checkpoint name of a language pair.
func PairName(sourceLang, targetLang string) string {
	return NormalizeLang(sourceLang) + pairSeparator + NormalizeLang(targetLang)
}

// ParsePairName splits a "source__target" name and normalizes both languages.
func ParsePairName(name string) (source, target string, err error) {
	source, target, ok := strings.Cut(name, pairSeparator)
	if !ok || source == "" || target == "" || strings.Contains(target, pairSeparator) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPairName, name)
	}
	return NormalizeLang(source), NormalizeLang(target), nil
}
