package tokenizer

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidModel indicates a SentencePiece model file that cannot be parsed.
var ErrInvalidModel = errors.New("tokenizer: invalid model")

// PieceType mirrors the SentencePiece piece type enum.
type PieceType int32

const (
	Normal      PieceType = 1
	Unknown     PieceType = 2
	Control     PieceType = 3
	UserDefined PieceType = 4
	Unused      PieceType = 5
	Byte        PieceType = 6
)

// Piece represents a vocabulary piece from the model.
type Piece struct {
	Piece string
	Score float32
	Type  PieceType
}

// Model represents a loaded SentencePiece model.
type Model struct {
	Pieces []Piece
}

// ModelProto field numbers. Only the vocabulary is read; trainer and
// normalizer specs are skipped.
const (
	fieldPieces protowire.Number = 1

	fieldPiece protowire.Number = 1
	fieldScore protowire.Number = 2
	fieldType  protowire.Number = 3
)

// LoadModel loads a SentencePiece model from a .model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes a serialized ModelProto.
func ParseModel(data []byte) (*Model, error) {
	m := &Model{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldPieces && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidModel, protowire.ParseError(n))
			}
			p, err := parsePiece(v)
			if err != nil {
				return nil, err
			}
			m.Pieces = append(m.Pieces, p)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidModel, protowire.ParseError(n))
		}
		data = data[n:]
	}

	if len(m.Pieces) == 0 {
		return nil, fmt.Errorf("%w: no pieces", ErrInvalidModel)
	}
	return m, nil
}

func parsePiece(data []byte) (Piece, error) {
	p := Piece{Type: Normal}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("%w: piece: %v", ErrInvalidModel, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldPiece && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return p, fmt.Errorf("%w: piece: %v", ErrInvalidModel, protowire.ParseError(n))
			}
			p.Piece = v
			data = data[n:]
		case num == fieldScore && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return p, fmt.Errorf("%w: score: %v", ErrInvalidModel, protowire.ParseError(n))
			}
			p.Score = math.Float32frombits(v)
			data = data[n:]
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return p, fmt.Errorf("%w: type: %v", ErrInvalidModel, protowire.ParseError(n))
			}
			p.Type = PieceType(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return p, fmt.Errorf("%w: piece: %v", ErrInvalidModel, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return p, nil
}

// Marshal serializes the vocabulary as a ModelProto.
func (m *Model) Marshal() []byte {
	var out []byte
	for _, p := range m.Pieces {
		var piece []byte
		piece = protowire.AppendTag(piece, fieldPiece, protowire.BytesType)
		piece = protowire.AppendString(piece, p.Piece)
		piece = protowire.AppendTag(piece, fieldScore, protowire.Fixed32Type)
		piece = protowire.AppendFixed32(piece, math.Float32bits(p.Score))
		if p.Type != Normal {
			piece = protowire.AppendTag(piece, fieldType, protowire.VarintType)
			piece = protowire.AppendVarint(piece, uint64(p.Type))
		}

		out = protowire.AppendTag(out, fieldPieces, protowire.BytesType)
		out = protowire.AppendBytes(out, piece)
	}
	return out
}
