// Package align converts decoder attention into word alignments.
package align

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidPair indicates a malformed "s-t" alignment pair.
var ErrInvalidPair = errors.New("align: invalid pair")

// Pair links a source word to a target word.
type Pair struct {
	Source int
	Target int
}

// Alignment is a sparse list of word pairs ordered by source, then target.
type Alignment []Pair

// Make builds a hard alignment from attention shaped [target][source].
//
// For every target token the source token with maximal weight wins. Source
// columns follow the encoded row: an optional language tag, the tokens listed
// by srcIndexes, then EOS. The tag and EOS columns never win.
func Make(srcIndexes, tgtIndexes []int, attention [][]float32, hasPrefix bool) Alignment {
	offset := 0
	if hasPrefix {
		offset = 1
	}

	seen := make(map[Pair]struct{})
	var out Alignment

	for j, tgtWord := range tgtIndexes {
		if j >= len(attention) {
			break
		}
		row := attention[j]

		best := -1
		var bestWeight float32
		for k := range srcIndexes {
			col := k + offset
			if col >= len(row) {
				break
			}
			if best < 0 || row[col] > bestWeight {
				best, bestWeight = k, row[col]
			}
		}
		if best < 0 {
			continue
		}

		p := Pair{Source: srcIndexes[best], Target: tgtWord}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	sortPairs(out)
	return out
}

// Clean drops pairs that point outside the words of segment or translation.
func Clean(a Alignment, segment, translation string) Alignment {
	srcWords := len(strings.Fields(segment))
	tgtWords := len(strings.Fields(translation))

	out := make(Alignment, 0, len(a))
	for _, p := range a {
		if p.Source < 0 || p.Target < 0 || p.Source >= srcWords || p.Target >= tgtWords {
			continue
		}
		out = append(out, p)
	}
	return out
}

// String renders the alignment in Pharaoh notation: "0-0 1-2".
func (a Alignment) String() string {
	parts := make([]string, len(a))
	for i, p := range a {
		parts[i] = strconv.Itoa(p.Source) + "-" + strconv.Itoa(p.Target)
	}
	return strings.Join(parts, " ")
}

// Parse reads Pharaoh notation. Sure/possible markers are not supported.
func Parse(s string) (Alignment, error) {
	fields := strings.Fields(s)
	out := make(Alignment, 0, len(fields))
	for _, f := range fields {
		src, tgt, ok := strings.Cut(f, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, f)
		}
		s, err := strconv.Atoi(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, f)
		}
		t, err := strconv.Atoi(tgt)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, f)
		}
		out = append(out, Pair{Source: s, Target: t})
	}
	sortPairs(out)
	return out, nil
}

func sortPairs(a Alignment) {
	slices.SortFunc(a, func(x, y Pair) int {
		if x.Source != y.Source {
			return x.Source - y.Source
		}
		return x.Target - y.Target
	})
}
