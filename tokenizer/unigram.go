package tokenizer

import "strings"

const negInf = -1e9

// EncodeIDs returns the token IDs for the input text.
func (t *Tokenizer) EncodeIDs(text string) []int32 {
	tokens := t.Encode(text)
	ids := make([]int32, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.ID
	}
	return ids
}

// Encode tokenizes text using Viterbi algorithm, returning tokens with offsets.
func (t *Tokenizer) Encode(text string) []TokenInfo {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	n := len(runes)

	// best[i] = best log probability to tokenize runes[0:i]
	best := make([]float64, n+1)
	parent := make([]int, n+1)
	tokenAt := make([]string, n+1)

	for i := 1; i <= n; i++ {
		best[i] = negInf
		parent[i] = -1
	}

	for i := 1; i <= n; i++ {
		maxLen := min(t.maxTokenLen, i)

		for length := 1; length <= maxLen; length++ {
			j := i - length
			substr := string(runes[j:i])

			score, exists := t.scores[substr]
			if !exists {
				continue
			}

			candidate := best[j] + float64(score)
			if candidate > best[i] {
				best[i] = candidate
				parent[i] = j
				tokenAt[i] = substr
			}
		}

		// No piece ends here: consume one rune as unknown.
		if best[i] == negInf {
			best[i] = best[i-1] + float64(t.unkScore)
			parent[i] = i - 1
			tokenAt[i] = string(runes[i-1 : i])
		}
	}

	var tokens []TokenInfo
	pos := n
	for pos > 0 {
		start := parent[pos]
		tokenStr := tokenAt[pos]

		id, ok := t.pieces[tokenStr]
		if !ok {
			id = t.unkID
		}

		tokens = append(tokens, TokenInfo{
			ID:    id,
			Text:  tokenStr,
			Start: start,
			End:   pos,
		})
		pos = start
	}

	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}

	return tokens
}

// DecodeIDs joins the pieces of ids back into text. Special ids are dropped.
func (t *Tokenizer) DecodeIDs(ids []int32) string {
	var b strings.Builder
	for _, id := range ids {
		if t.special(id) {
			continue
		}
		b.WriteString(t.idToPiece[id])
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), string(sentencePieceSpace), " "))
}

// WordIndexes maps every non-special id to the index of the word it belongs
// to. A word starts at every piece carrying the ▁ prefix.
func (t *Tokenizer) WordIndexes(ids []int32) []int {
	var (
		idx  []int
		word = -1
	)
	for _, id := range ids {
		if t.special(id) {
			continue
		}
		if word < 0 || strings.HasPrefix(t.idToPiece[id], string(sentencePieceSpace)) {
			word++
		}
		idx = append(idx, word)
	}
	return idx
}
