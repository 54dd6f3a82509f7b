// Package batch turns text segments into left-padded token matrices.
package batch

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/go-mmt/model"
)

// ErrUnknownLanguageTag indicates the dictionary has no tag for the prefix language.
var ErrUnknownLanguageTag = errors.New("batch: unknown language tag")

// Encoded is a padded batch plus the per-row maps needed to align attention
// back to words.
type Encoded struct {
	model.Batch

	// Indexes[i][k] is the word index of the k-th real token of row i.
	// Language tags and EOS have no entry.
	Indexes [][]int

	MaxLength int

	// Prefixed is true when every row starts with a language tag.
	Prefixed bool
}

// Option configures Encode.
type Option func(*config)

type config struct {
	prefixLang   string
	rotate       bool
	maxPositions int
}

// WithPrefix prepends the tag of lang to every row.
func WithPrefix(lang string) Option {
	return func(c *config) {
		c.prefixLang = lang
	}
}

// WithRotatedLastToken moves the last token of every row to the front.
// Used for forced-decode targets.
func WithRotatedLastToken() Option {
	return func(c *config) {
		c.rotate = true
	}
}

// WithMaxPositions truncates rows longer than n tokens, keeping EOS last.
func WithMaxPositions(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPositions = n
		}
	}
}

// Encode tokenizes segments into a batch. An empty segment list yields a
// single row holding only EOS so downstream shapes are never empty.
func Encode(dict model.Dictionary, segments []string, opts ...Option) (*Encoded, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		tag       int32
		hasPrefix = cfg.prefixLang != ""
	)
	if hasPrefix {
		var ok bool
		tag, ok = dict.LanguageTag(cfg.prefixLang)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLanguageTag, cfg.prefixLang)
		}
	}

	if len(segments) == 0 {
		return &Encoded{
			Batch: model.Batch{
				Tokens:  [][]int32{{dict.EOSID()}},
				Lengths: []int{1},
			},
			Indexes:   [][]int{{}},
			MaxLength: 1,
		}, nil
	}

	rows := make([][]int32, len(segments))
	indexes := make([][]int, len(segments))
	lengths := make([]int, len(segments))
	maxLength := 0

	for i, segment := range segments {
		ids := dict.EncodeIDs(segment)

		limit := cfg.maxPositions - 1
		if hasPrefix {
			limit--
		}
		if cfg.maxPositions > 0 && len(ids) > limit {
			ids = ids[:max(limit, 0)]
		}

		row := make([]int32, 0, len(ids)+2)
		if hasPrefix {
			row = append(row, tag)
		}
		row = append(row, ids...)
		row = append(row, dict.EOSID())

		indexes[i] = dict.WordIndexes(ids)
		if cfg.rotate {
			row = Rotate(row)
		}

		rows[i] = row
		lengths[i] = len(row)
		maxLength = max(maxLength, len(row))
	}

	pad := dict.PadID()
	for i, row := range rows {
		rows[i] = leftPad(row, maxLength, pad)
	}

	return &Encoded{
		Batch: model.Batch{
			Tokens:  rows,
			Lengths: lengths,
		},
		Indexes:   indexes,
		MaxLength: maxLength,
		Prefixed:  hasPrefix,
	}, nil
}

// Pair is a forced-decode batch: sources with their target translations.
type Pair struct {
	Source *Encoded
	Target *Encoded
}

// EncodePair builds the source and rotated target batches for forced decoding.
// prefixLang may be empty.
func EncodePair(dict model.Dictionary, segments, translations []string, prefixLang string, opts ...Option) (*Pair, error) {
	if len(segments) != len(translations) {
		return nil, fmt.Errorf("batch: %d segments but %d translations", len(segments), len(translations))
	}

	srcOpts := opts
	if prefixLang != "" {
		srcOpts = append(srcOpts[:len(srcOpts):len(srcOpts)], WithPrefix(prefixLang))
	}
	src, err := Encode(dict, segments, srcOpts...)
	if err != nil {
		return nil, fmt.Errorf("encoding segments: %w", err)
	}

	tgtOpts := append(opts[:len(opts):len(opts)], WithRotatedLastToken())
	tgt, err := Encode(dict, translations, tgtOpts...)
	if err != nil {
		return nil, fmt.Errorf("encoding translations: %w", err)
	}

	return &Pair{Source: src, Target: tgt}, nil
}

// Rotate returns a copy of tokens with the last element moved to the front:
// [a b c eos] becomes [eos a b c].
func Rotate(tokens []int32) []int32 {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]int32, 0, len(tokens))
	out = append(out, tokens[len(tokens)-1])
	return append(out, tokens[:len(tokens)-1]...)
}

func leftPad(row []int32, width int, pad int32) []int32 {
	if len(row) >= width {
		return row
	}
	out := make([]int32, width)
	n := width - len(row)
	for i := 0; i < n; i++ {
		out[i] = pad
	}
	copy(out[n:], row)
	return out
}
