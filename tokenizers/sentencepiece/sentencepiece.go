// Package sentencepiece wraps a SentencePiece model (github.com/eliben/go-sentencepiece) as the segmentation
// engine of the tokenizers: text to pieces and ids, and the piece/id lookups of the model vocabulary.
package sentencepiece

import (
	"bytes"
	"os"
	"slices"
	"strings"

	"github.com/edsrzf/mmap-go"
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WordBoundary is the metaspace (U+2581) SentencePiece uses in place of the space before a word.
const WordBoundary = "▁"

// ErrModelLoad is returned (wrapped) when a model resource is missing, unreadable or malformed.
var ErrModelLoad = errors.New("failed to load sentencepiece model")

// Model implements api.TokenizerWithSpans based on a SentencePiece model proto (the "tokenizer.model" or
// "spiece.model" files).
//
// It is read-only after loading, and safe for concurrent use.
type Model struct {
	proc *esentencepiece.Processor
	Info *esentencepiece.ModelInfo

	pieces  []Piece
	ids     map[string]int
	unkID   int
	options map[string]any
}

// Compile time assert that sentencepiece.Model implements api.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Model{}

// Load memory-maps the model proto in path and loads it.
//
// The options are engine-specific parameters, kept unmodified and available with Model.Options. They are
// not applied: the engine takes no options.
func Load(path string, options map[string]any) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "opening %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "stat %q: %v", path, err)
	}
	if info.Size() == 0 {
		return nil, errors.Wrapf(ErrModelLoad, "model file %q is empty", path)
	}
	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "mmap %q: %v", path, err)
	}
	// Everything needed is copied out of the mapping while loading.
	defer func() {
		if err := mapped.Unmap(); err != nil {
			klog.Warningf("failed to unmap sentencepiece model %q: %v", path, err)
		}
	}()
	model, err := LoadFromBytes(mapped, options)
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %q", path)
	}
	return model, nil
}

// LoadFromBytes loads a model from the serialized model proto.
func LoadFromBytes(data []byte, options map[string]any) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrModelLoad, "empty model proto")
	}
	pieces, err := parsePieceTable(data)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%v", err)
	}
	proc, err := newProcessor(data)
	if err != nil {
		return nil, err
	}
	m := &Model{
		proc:    proc,
		Info:    proc.ModelInfo(),
		pieces:  pieces,
		ids:     make(map[string]int, len(pieces)),
		unkID:   -1,
		options: options,
	}
	for id, piece := range pieces {
		if _, found := m.ids[piece.Text]; !found {
			m.ids[piece.Text] = id
		}
		if piece.Type == PieceUnknown && m.unkID < 0 {
			m.unkID = id
		}
	}
	if m.unkID < 0 {
		m.unkID = m.Info.UnknownID
	}
	klog.V(1).Infof("loaded sentencepiece model with %d pieces (unk=%d, eos=%d)",
		len(pieces), m.unkID, m.Info.EndOfSentenceID)
	return m, nil
}

// newProcessor creates the engine for the model proto. The engine panics on some malformed protos
// (e.g. a missing normalizer spec), which is reported as ErrModelLoad.
func newProcessor(data []byte) (proc *esentencepiece.Processor, err error) {
	defer func() {
		if r := recover(); r != nil {
			proc, err = nil, errors.Wrapf(ErrModelLoad, "sentencepiece processor rejected the model: %v", r)
		}
	}()
	proc, err = esentencepiece.NewProcessor(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "can't create sentencepiece processor: %v", err)
	}
	return proc, nil
}

// Options returns the engine options given at load time.
// eliben's Processor takes no options: they are kept for callers, and never reach the engine.
func (m *Model) Options() map[string]any {
	return m.options
}

// PieceSize returns the number of pieces in the model vocabulary.
func (m *Model) PieceSize() int {
	return len(m.pieces)
}

// Pieces returns a copy of the model vocabulary, indexed by id.
func (m *Model) Pieces() []Piece {
	return slices.Clone(m.pieces)
}

// PieceToID returns the id of piece, or the unknown id if the piece is not in the vocabulary.
func (m *Model) PieceToID(piece string) int {
	if id, found := m.ids[piece]; found {
		return id
	}
	return m.unkID
}

// IDToPiece returns the piece for id, or "" if id is out of the vocabulary range.
func (m *Model) IDToPiece(id int) string {
	if id < 0 || id >= len(m.pieces) {
		return ""
	}
	return m.pieces[id].Text
}

// Encode returns the text encoded into a sequence of ids.
func (m *Model) Encode(text string) []int {
	tokens := m.proc.Encode(text)
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids
}

// Tokenize returns the text segmented into pieces.
func (m *Model) Tokenize(text string) []string {
	tokens := m.proc.Encode(text)
	pieces := make([]string, len(tokens))
	for i, t := range tokens {
		pieces[i] = t.Text
	}
	return pieces
}

// EncodeWithSpans returns the text encoded into a sequence of ids along with their byte spans.
// It implements api.TokenizerWithSpans.
func (m *Model) EncodeWithSpans(text string) api.EncodingResult {
	tokens := m.proc.Encode(text)
	result := api.EncodingResult{
		IDs:   make([]int, len(tokens)),
		Spans: make([]api.TokenSpan, len(tokens)),
	}
	pos := 0
	for i, tok := range tokens {
		result.IDs[i] = tok.ID
		result.Spans[i], pos = locatePiece(text, tok.Text, pos)
	}
	return result
}

// locatePiece matches piece against text, starting at byte pos, and returns its span and the position
// right after it.
func locatePiece(text, piece string, pos int) (api.TokenSpan, int) {
	surface, boundary := strings.CutPrefix(piece, WordBoundary)
	if boundary {
		for pos < len(text) && isASCIISpace(text[pos]) {
			pos++
		}
	}
	if surface == "" {
		// The piece is only the word boundary: it spans the space just skipped, if any.
		if boundary && pos > 0 {
			return api.TokenSpan{Start: pos - 1, End: pos}, pos
		}
		return api.TokenSpan{Start: pos, End: pos}, pos
	}
	if isBytePiece(surface) {
		end := min(pos+1, len(text))
		return api.TokenSpan{Start: pos, End: end}, end
	}
	if idx := strings.Index(text[pos:], surface); idx >= 0 {
		start := pos + idx
		return api.TokenSpan{Start: start, End: start + len(surface)}, start + len(surface)
	}
	end := min(pos+len(surface), len(text))
	return api.TokenSpan{Start: pos, End: end}, end
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// isBytePiece reports whether piece is a byte-fallback piece, like "<0xE3>".
func isBytePiece(piece string) bool {
	return len(piece) == 6 && strings.HasPrefix(piece, "<0x") && piece[5] == '>'
}

// Decode returns the text from a sequence of ids.
func (m *Model) Decode(ids []int) string {
	return m.proc.Decode(ids)
}

// DecodePieces joins a sequence of pieces into text, the way Decode does for their ids: word boundaries
// become spaces (the one leading the text is dropped), byte-fallback pieces are reassembled into UTF-8
// and control pieces are skipped. Pieces not in the vocabulary are kept as they are.
func (m *Model) DecodePieces(pieces []string) string {
	var sb strings.Builder
	ids := make([]int, 0, len(pieces))
	for _, piece := range pieces {
		if id, found := m.ids[piece]; found {
			ids = append(ids, id)
			continue
		}
		if len(ids) > 0 {
			sb.WriteString(m.proc.Decode(ids))
			ids = ids[:0]
		}
		sb.WriteString(strings.ReplaceAll(piece, WordBoundary, " "))
	}
	if len(ids) > 0 {
		sb.WriteString(m.proc.Decode(ids))
	}
	return strings.TrimPrefix(sb.String(), " ")
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
func (m *Model) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return m.unkID, nil
	case api.TokPad:
		return m.Info.PadID, nil
	case api.TokBeginningOfSentence:
		return m.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return m.Info.EndOfSentenceID, nil
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}
