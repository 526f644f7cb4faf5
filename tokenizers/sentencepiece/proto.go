package sentencepiece

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the SentencePiece ModelProto (sentencepiece_model.proto) read here.
const (
	modelPiecesField protowire.Number = 1

	pieceTextField  protowire.Number = 1
	pieceScoreField protowire.Number = 2
	pieceTypeField  protowire.Number = 3
)

// PieceType mirrors ModelProto.SentencePiece.Type.
type PieceType int32

const (
	PieceNormal      PieceType = 1
	PieceUnknown     PieceType = 2
	PieceControl     PieceType = 3
	PieceUserDefined PieceType = 4
	PieceUnused      PieceType = 5
	PieceByte        PieceType = 6
)

// Piece is one entry of the model vocabulary. Its id is its position in the vocabulary.
type Piece struct {
	Text  string
	Score float32
	Type  PieceType
}

// parsePieceTable reads the vocabulary out of a serialized ModelProto, skipping every other field.
func parsePieceTable(data []byte) ([]Piece, error) {
	var pieces []Piece
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid model proto tag")
		}
		data = data[n:]
		if num == modelPiecesField && typ == protowire.BytesType {
			msg, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.Wrapf(protowire.ParseError(m), "invalid piece #%d", len(pieces))
			}
			piece, err := parsePiece(msg)
			if err != nil {
				return nil, errors.WithMessagef(err, "piece #%d", len(pieces))
			}
			pieces = append(pieces, piece)
			data = data[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return nil, errors.Wrapf(protowire.ParseError(m), "invalid model proto field %d", num)
		}
		data = data[m:]
	}
	if len(pieces) == 0 {
		return nil, errors.New("model proto has no pieces")
	}
	return pieces, nil
}

func parsePiece(data []byte) (Piece, error) {
	piece := Piece{Type: PieceNormal}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return piece, errors.Wrap(protowire.ParseError(n), "invalid tag")
		}
		data = data[n:]
		switch {
		case num == pieceTextField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return piece, errors.Wrap(protowire.ParseError(m), "invalid piece text")
			}
			piece.Text = string(v)
			n = m
		case num == pieceScoreField && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return piece, errors.Wrap(protowire.ParseError(m), "invalid piece score")
			}
			piece.Score = math.Float32frombits(v)
			n = m
		case num == pieceTypeField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return piece, errors.Wrap(protowire.ParseError(m), "invalid piece type")
			}
			piece.Type = PieceType(int32(v))
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return piece, errors.Wrapf(protowire.ParseError(n), "invalid field %d", num)
			}
		}
		data = data[n:]
	}
	return piece, nil
}
