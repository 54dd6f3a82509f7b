package tokenizer

import (
	"strings"
	"unicode"
)

const sentencePieceSpace = '▁' // U+2581 LOWER ONE EIGHTH BLOCK

// normalize prepares text for tokenization:
//   - adds the dummy prefix
//   - replaces spaces with ▁
//   - collapses whitespace runs and trims both ends
func normalize(text string) string {
	if text == "" {
		return ""
	}

	var builder strings.Builder
	needSpace := true // dummy prefix before the first non-space

	for _, r := range text {
		if unicode.IsSpace(r) {
			if builder.Len() > 0 {
				needSpace = true
			}
			continue
		}
		if needSpace {
			builder.WriteRune(sentencePieceSpace)
			needSpace = false
		}
		builder.WriteRune(r)
	}

	return builder.String()
}
