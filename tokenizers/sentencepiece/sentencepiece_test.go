package sentencepiece

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// modelPath returns the path to a real SentencePiece model, skipping the test if there is none.
//
// It uses $BIGBIRD_SPM_MODEL if set, otherwise it walks up from the package directory looking for
// testdata/spiece.model.
func modelPath(t *testing.T) string {
	t.Helper()
	if path := os.Getenv("BIGBIRD_SPM_MODEL"); path != "" {
		return path
	}
	dir, err := filepath.Abs(".")
	require.NoError(t, err)
	for {
		candidate := filepath.Join(dir, "testdata", "spiece.model")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Skip("no sentencepiece model found (set $BIGBIRD_SPM_MODEL); skipping")
	return ""
}

// appendPiece appends a ModelProto.SentencePiece entry to a serialized ModelProto.
func appendPiece(b []byte, text string, score float32, typ PieceType) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, pieceTextField, protowire.BytesType)
	msg = protowire.AppendString(msg, text)
	msg = protowire.AppendTag(msg, pieceScoreField, protowire.Fixed32Type)
	msg = protowire.AppendFixed32(msg, math.Float32bits(score))
	if typ != PieceNormal {
		msg = protowire.AppendTag(msg, pieceTypeField, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(typ))
	}
	b = protowire.AppendTag(b, modelPiecesField, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func TestParsePieceTable(t *testing.T) {
	var proto []byte
	proto = appendPiece(proto, "<pad>", 0, PieceControl)
	proto = appendPiece(proto, "</s>", 0, PieceControl)
	// An unrelated field (trainer_spec) in between must be skipped.
	proto = protowire.AppendTag(proto, 2, protowire.BytesType)
	proto = protowire.AppendBytes(proto, []byte{0x18, 0x02})
	proto = appendPiece(proto, "<unk>", 0, PieceUnknown)
	proto = appendPiece(proto, "▁hello", -1.5, PieceNormal)

	pieces, err := parsePieceTable(proto)
	require.NoError(t, err)
	require.Len(t, pieces, 4)
	assert.Equal(t, Piece{Text: "<pad>", Type: PieceControl}, pieces[0])
	assert.Equal(t, PieceUnknown, pieces[2].Type)
	assert.Equal(t, Piece{Text: "▁hello", Score: -1.5, Type: PieceNormal}, pieces[3])
}

func TestParsePieceTable_Invalid(t *testing.T) {
	_, err := parsePieceTable([]byte("not a model proto"))
	assert.Error(t, err)

	// Valid proto, but without pieces.
	var proto []byte
	proto = protowire.AppendTag(proto, 2, protowire.BytesType)
	proto = protowire.AppendBytes(proto, nil)
	_, err = parsePieceTable(proto)
	assert.Error(t, err)

	// Truncated piece message.
	proto = appendPiece(nil, "▁hello", 0, PieceNormal)
	_, err = parsePieceTable(proto[:len(proto)-2])
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/spiece.model", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelLoad)

	empty := filepath.Join(t.TempDir(), "empty.model")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Load(empty, nil)
	assert.ErrorIs(t, err, ErrModelLoad)

	corrupt := filepath.Join(t.TempDir(), "corrupt.model")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not a proto"), 0o644))
	_, err = Load(corrupt, nil)
	assert.ErrorIs(t, err, ErrModelLoad)

	_, err = LoadFromBytes(nil, nil)
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestLocatePiece(t *testing.T) {
	text := "hello  world"
	span, pos := locatePiece(text, "▁hello", 0)
	assert.Equal(t, api.TokenSpan{Start: 0, End: 5}, span)
	assert.Equal(t, 5, pos)

	span, pos = locatePiece(text, "▁wor", pos)
	assert.Equal(t, api.TokenSpan{Start: 7, End: 10}, span)
	span, pos = locatePiece(text, "ld", pos)
	assert.Equal(t, api.TokenSpan{Start: 10, End: 12}, span)
	assert.Equal(t, len(text), pos)

	// A lone word boundary spans the skipped space.
	span, _ = locatePiece("a b", "▁", 1)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 2}, span)

	// Byte-fallback pieces cover a single byte.
	span, pos = locatePiece("日本", "<0xE6>", 0)
	assert.Equal(t, api.TokenSpan{Start: 0, End: 1}, span)
	assert.Equal(t, 1, pos)

	// Pieces not found in the text advance by their length, bounded by the text.
	span, pos = locatePiece("abc", "xyzw", 1)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, span)
	assert.Equal(t, 3, pos)
}

// newTestModel builds a Model with only the vocabulary tables, enough for the lookups.
func newTestModel(pieces []Piece) *Model {
	m := &Model{pieces: pieces, ids: make(map[string]int), unkID: -1}
	for id, p := range pieces {
		m.ids[p.Text] = id
		if p.Type == PieceUnknown && m.unkID < 0 {
			m.unkID = id
		}
	}
	return m
}

func TestLookups(t *testing.T) {
	m := newTestModel([]Piece{
		{Text: "<pad>", Type: PieceControl},
		{Text: "</s>", Type: PieceControl},
		{Text: "<unk>", Type: PieceUnknown},
		{Text: "▁hello", Type: PieceNormal},
	})
	assert.Equal(t, 4, m.PieceSize())
	assert.Equal(t, 3, m.PieceToID("▁hello"))
	assert.Equal(t, 2, m.PieceToID("never-seen"))
	assert.Equal(t, "</s>", m.IDToPiece(1))
	assert.Equal(t, "", m.IDToPiece(4))
	assert.Equal(t, "", m.IDToPiece(-1))

	pieces := m.Pieces()
	pieces[0].Text = "changed"
	assert.Equal(t, "<pad>", m.IDToPiece(0), "Pieces must return a copy")
}

// Field numbers of the ModelProto sub-messages written by newTestProto.
const (
	trainerSpecField    protowire.Number = 2
	normalizerSpecField protowire.Number = 3

	trainerModelTypeField    protowire.Number = 3
	trainerByteFallbackField protowire.Number = 35
	bpeModelType                              = 2

	normalizerAddDummyPrefixField         protowire.Number = 3
	normalizerRemoveExtraWhitespacesField protowire.Number = 4
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// newTestProto returns a serialized BPE ModelProto with byte fallback: pieces followed by the 256 byte
// pieces. Without the normalizer spec, the proto is malformed for the engine.
func newTestProto(pieces []Piece, withNormalizerSpec bool) []byte {
	var proto []byte
	for _, p := range pieces {
		proto = appendPiece(proto, p.Text, p.Score, p.Type)
	}
	for b := range 256 {
		proto = appendPiece(proto, fmt.Sprintf("<0x%02X>", b), 0, PieceByte)
	}

	var trainer []byte
	trainer = appendVarintField(trainer, trainerModelTypeField, bpeModelType)
	trainer = appendVarintField(trainer, trainerByteFallbackField, 1)
	proto = protowire.AppendTag(proto, trainerSpecField, protowire.BytesType)
	proto = protowire.AppendBytes(proto, trainer)

	if withNormalizerSpec {
		var normalizer []byte
		normalizer = appendVarintField(normalizer, normalizerAddDummyPrefixField, 0)
		normalizer = appendVarintField(normalizer, normalizerRemoveExtraWhitespacesField, 0)
		proto = protowire.AppendTag(proto, normalizerSpecField, protowire.BytesType)
		proto = protowire.AppendBytes(proto, normalizer)
	}
	return proto
}

var testPieces = []Piece{
	{Text: "<unk>", Type: PieceUnknown},
	{Text: "<pad>", Type: PieceControl},
	{Text: "</s>", Type: PieceControl},
	{Text: "▁hello", Score: -1, Type: PieceNormal},
	{Text: "▁world", Score: -2, Type: PieceNormal},
	{Text: "hello", Score: -3, Type: PieceNormal},
}

func newLoadedTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := LoadFromBytes(newTestProto(testPieces, true), nil)
	require.NoError(t, err)
	return m
}

func TestLoadFromBytes(t *testing.T) {
	m := newLoadedTestModel(t)
	assert.Equal(t, len(testPieces)+256, m.PieceSize())
	assert.Equal(t, 3, m.PieceToID("▁hello"))
	assert.Equal(t, 0, m.PieceToID("never-seen"))
	assert.Equal(t, "<0x41>", m.IDToPiece(len(testPieces)+0x41))

	id, err := m.SpecialTokenID(api.TokUnknown)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	id, err = m.SpecialTokenID(api.TokPad)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	// Engine options are only kept.
	options := map[string]any{"enable_sampling": true}
	m, err = LoadFromBytes(newTestProto(testPieces, true), options)
	require.NoError(t, err)
	assert.Equal(t, options, m.Options())
}

func TestLoadFromBytes_MalformedForEngine(t *testing.T) {
	proto := newTestProto(testPieces, false)
	var err error
	require.NotPanics(t, func() { _, err = LoadFromBytes(proto, nil) })
	assert.ErrorIs(t, err, ErrModelLoad)

	path := filepath.Join(t.TempDir(), "spiece.model")
	require.NoError(t, os.WriteFile(path, proto, 0o644))
	require.NotPanics(t, func() { _, err = Load(path, nil) })
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestDecodePieces(t *testing.T) {
	m := newLoadedTestModel(t)
	tests := []struct {
		name   string
		pieces []string
		want   string
	}{
		{"empty", nil, ""},
		{"words", []string{"▁hello", "▁world"}, "hello world"},
		{"no leading boundary", []string{"hello", "▁world"}, "hello world"},
		{"control pieces skipped", []string{"▁hello", "</s>", "<pad>"}, "hello"},
		{"bytes", []string{"▁hello", "<0xE4>", "<0xB8>", "<0x96>"}, "hello世"},
		{"invalid bytes", []string{"▁hello", "<0xFF>", "<0xFE>"}, "hello\uFFFD\uFFFD"},
		{"unknown surface kept", []string{"▁foo", "bar"}, "foobar"},
		{"unknown between known", []string{"▁hello", "▁foo", "▁world"}, "hello foo world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.DecodePieces(tt.pieces))
		})
	}

	// Pieces in the vocabulary decode as their ids do.
	pieces := []string{"▁hello", "<0xE4>", "<0xB8>", "<0x96>", "</s>", "▁world", "<0xFF>"}
	ids := make([]int, len(pieces))
	for i, piece := range pieces {
		ids[i] = m.PieceToID(piece)
	}
	assert.Equal(t, strings.TrimPrefix(m.Decode(ids), " "), m.DecodePieces(pieces))
}

// TestRealModel exercises the eliben/go-sentencepiece backed paths with a real model.
func TestRealModel(t *testing.T) {
	m, err := Load(modelPath(t), map[string]any{"enable_sampling": false})
	require.NoError(t, err)
	assert.Equal(t, false, m.Options()["enable_sampling"])
	assert.Greater(t, m.PieceSize(), 0)

	inputs := []string{
		"hello",
		"hello world",
		"The quick brown fox jumps over the lazy dog.",
		"Multiple  spaces   here",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			ids := m.Encode(input)
			result := m.EncodeWithSpans(input)
			assert.Equal(t, ids, result.IDs)
			require.Len(t, result.Spans, len(result.IDs))
			for i, span := range result.Spans {
				assert.GreaterOrEqual(t, span.Start, 0, "token %d", i)
				assert.LessOrEqual(t, span.Start, span.End, "token %d", i)
				assert.LessOrEqual(t, span.End, len(input), "token %d", i)
			}

			pieces := m.Tokenize(input)
			require.Len(t, pieces, len(ids))
			for i, piece := range pieces {
				assert.Equal(t, ids[i], m.PieceToID(piece))
				assert.Equal(t, piece, m.IDToPiece(ids[i]))
			}
			assert.Equal(t, m.Decode(ids), m.DecodePieces(pieces))
		})
	}

	result := m.EncodeWithSpans("")
	assert.Empty(t, result.IDs)
	assert.Empty(t, result.Spans)

	unk, err := m.SpecialTokenID(api.TokUnknown)
	require.NoError(t, err)
	assert.Equal(t, unk, m.PieceToID("this piece is not in any vocabulary"))
	_, err = m.SpecialTokenID(api.TokMask)
	assert.Error(t, err)
}
