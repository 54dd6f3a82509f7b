package tokenizer

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/go-mmt/model"
)

// Tokenizer implements SentencePiece Unigram tokenization over the piece
// indices of the model: token id n is piece n.
//
// When the model has no <pad> piece, padding uses the id one past the last
// piece and OriginalSize grows by one to cover it.
type Tokenizer struct {
	pieces    map[string]int32   // token string -> piece index
	scores    map[string]float32 // token string -> log probability
	idToPiece []string
	types     []PieceType

	bosID int32
	padID int32
	eosID int32
	unkID int32

	size        int
	extended    int
	maxTokenLen int
	unkScore    float32
}

// unknownPenalty is subtracted from the lowest piece score to score unknown runes.
const unknownPenalty = 10

var _ model.Dictionary = (*Tokenizer)(nil)

// TokenInfo represents a token with its position in the normalized text.
type TokenInfo struct {
	ID    int32
	Text  string
	Start int // rune offset
	End   int // rune offset
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithExtendedSize sets the vocabulary length of the model the dictionary is
// paired with. Values below the true size are ignored.
func WithExtendedSize(n int) Option {
	return func(t *Tokenizer) { t.extended = n }
}

// New loads a tokenizer from a SentencePiece .model file.
func New(modelPath string, opts ...Option) (*Tokenizer, error) {
	m, err := LoadModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	return NewFromModel(m, opts...), nil
}

// NewFromModel builds a tokenizer from an already parsed model.
func NewFromModel(m *Model, opts ...Option) *Tokenizer {
	t := &Tokenizer{
		pieces:    make(map[string]int32, len(m.Pieces)),
		scores:    make(map[string]float32, len(m.Pieces)),
		idToPiece: make([]string, len(m.Pieces)),
		types:     make([]PieceType, len(m.Pieces)),
		bosID:     -1,
		padID:     -1,
		eosID:     -1,
		unkID:     -1,
	}

	for i, piece := range m.Pieces {
		id := int32(i)
		t.pieces[piece.Piece] = id
		t.idToPiece[i] = piece.Piece
		t.types[i] = piece.Type

		switch {
		case piece.Type == Unknown:
			t.unkID = id
		case piece.Piece == "<s>":
			t.bosID = id
		case piece.Piece == "</s>":
			t.eosID = id
		case piece.Piece == "<pad>":
			t.padID = id
		}

		// Control and unknown pieces never match input text.
		if piece.Type == Normal || piece.Type == UserDefined {
			t.scores[piece.Piece] = piece.Score
			t.unkScore = min(t.unkScore, piece.Score)
			if n := len([]rune(piece.Piece)); n > t.maxTokenLen {
				t.maxTokenLen = n
			}
		}
	}

	t.unkScore -= unknownPenalty

	t.size = len(m.Pieces)
	if t.padID < 0 {
		t.padID = int32(t.size)
		t.size++
	}

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// VocabSize returns the number of ids the tokenizer can produce, padding included.
func (t *Tokenizer) VocabSize() int { return t.size }

// OriginalSize is the same as VocabSize.
func (t *Tokenizer) OriginalSize() int { return t.size }

// ExtendedSize returns the vocabulary length of the paired model.
func (t *Tokenizer) ExtendedSize() int { return max(t.extended, t.size) }

// BOSID returns the beginning-of-sentence token ID.
func (t *Tokenizer) BOSID() int32 { return t.bosID }

// PadID returns the padding token ID.
func (t *Tokenizer) PadID() int32 { return t.padID }

// EOSID returns the end-of-sentence token ID.
func (t *Tokenizer) EOSID() int32 { return t.eosID }

// UnkID returns the unknown token ID.
func (t *Tokenizer) UnkID() int32 { return t.unkID }

// LanguageTag returns the id of the __lang__ piece.
func (t *Tokenizer) LanguageTag(lang string) (int32, bool) {
	id, ok := t.pieces["__"+lang+"__"]
	return id, ok
}

func isTag(piece string) bool {
	return len(piece) > 4 && strings.HasPrefix(piece, "__") && strings.HasSuffix(piece, "__")
}

// special reports whether id carries no text: padding, control pieces,
// language tags and ids past the vocabulary.
func (t *Tokenizer) special(id int32) bool {
	if id < 0 || int(id) >= len(t.idToPiece) || id == t.padID {
		return true
	}
	return t.types[id] == Control || isTag(t.idToPiece[id])
}
