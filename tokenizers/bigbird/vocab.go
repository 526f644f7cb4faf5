package bigbird

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/pkg/errors"
)

// Model is the segmentation model behind a Vocabulary: the piece/id lookups of its vocabulary and the
// rule to join pieces back into text. sentencepiece.Model implements it.
type Model interface {
	// PieceSize is the number of pieces of the model, the base vocabulary size.
	PieceSize() int
	// PieceToID returns the id of piece, or the model's unknown id.
	PieceToID(piece string) int
	IDToPiece(id int) string
	DecodePieces(pieces []string) string
}

var (
	// ErrLabelParse is returned (wrapped) for malformed "<extra_id_{k}>" labels.
	ErrLabelParse = errors.New("malformed extra id label")

	// ErrExtraIDOutOfRange is returned (wrapped), in strict mode only, for extra indices outside
	// [0, extraCount).
	ErrExtraIDOutOfRange = errors.New("extra id out of range")
)

// ExtraIDPrefix starts every extra id label.
const ExtraIDPrefix = "<extra_id_"

var extraIDPattern = regexp.MustCompile(`^<extra_id_(\d+)>`)

// ExtraIDLabel returns the label of the extra index k: "<extra_id_{k}>".
func ExtraIDLabel(k int) string {
	return fmt.Sprintf("%s%d>", ExtraIDPrefix, k)
}

// Vocabulary is the authority on piece/id conversion and vocabulary size.
//
// Ids [0, BaseSize()) are the pieces of the model. The extraCount ids above them are reserved for
// "<extra_id_{k}>" labels, addressed from the top: index k is id Size()-1-k.
//
// It is read-only after creation, and safe for concurrent use if the model lookups are.
type Vocabulary struct {
	model      Model
	extraCount int
	strict     bool
	special    *api.SpecialTokenRegistry
}

// NewVocabulary creates a Vocabulary over model with extraCount reserved ids.
// The special tokens registry is used by Decode, and may be populated after the Vocabulary is created.
func NewVocabulary(model Model, extraCount int, special *api.SpecialTokenRegistry) *Vocabulary {
	if special == nil {
		special = api.NewSpecialTokenRegistry()
	}
	return &Vocabulary{model: model, extraCount: extraCount, special: special}
}

// WithStrictExtraIDs makes conversions of extra ids outside [0, ExtraCount()) fail with ErrExtraIDOutOfRange,
// instead of producing out-of-range ids and labels. It returns itself, to allow cascading calls.
func (v *Vocabulary) WithStrictExtraIDs(strict bool) *Vocabulary {
	v.strict = strict
	return v
}

// BaseSize returns the number of pieces of the model.
func (v *Vocabulary) BaseSize() int {
	return v.model.PieceSize()
}

// ExtraCount returns the number of reserved extra ids.
func (v *Vocabulary) ExtraCount() int {
	return v.extraCount
}

// Size returns the total vocabulary size, extra ids included. Embedding tables should have this size.
func (v *Vocabulary) Size() int {
	return v.model.PieceSize() + v.extraCount
}

// IsExtraID returns whether id falls in the reserved extra range.
func (v *Vocabulary) IsExtraID(id int) bool {
	return id >= v.BaseSize() && id < v.Size()
}

// PieceToID converts a piece to its id.
//
// Extra labels "<extra_id_{k}>" map to Size()-1-k. The index k is not checked against ExtraCount()
// unless in strict mode. Labels starting with "<extra_id_" without a number fail with ErrLabelParse.
// Any other piece is looked up in the model, which returns its unknown id for pieces it doesn't know.
func (v *Vocabulary) PieceToID(piece string) (int, error) {
	if !strings.HasPrefix(piece, ExtraIDPrefix) {
		return v.model.PieceToID(piece), nil
	}
	match := extraIDPattern.FindStringSubmatch(piece)
	if match == nil {
		return 0, errors.Wrapf(ErrLabelParse, "%q", piece)
	}
	k, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, errors.Wrapf(ErrLabelParse, "%q: %v", piece, err)
	}
	if v.strict && k >= v.extraCount {
		return 0, errors.Wrapf(ErrExtraIDOutOfRange, "%q: index %d, only %d extra ids", piece, k, v.extraCount)
	}
	return v.Size() - 1 - k, nil
}

// IDToPiece converts an id to its piece.
//
// Ids below BaseSize() are looked up in the model, the others are converted to extra labels
// "<extra_id_{Size()-1-id}>". Ids >= Size() yield a negative index, unless in strict mode, where they fail
// with ErrExtraIDOutOfRange.
func (v *Vocabulary) IDToPiece(id int) (string, error) {
	if id < v.BaseSize() {
		return v.model.IDToPiece(id), nil
	}
	if v.strict && id >= v.Size() {
		return "", errors.Wrapf(ErrExtraIDOutOfRange, "id %d, vocabulary size is %d", id, v.Size())
	}
	return ExtraIDLabel(v.Size() - 1 - id), nil
}

// PiecesToIDs converts each piece with PieceToID.
func (v *Vocabulary) PiecesToIDs(pieces []string) ([]int, error) {
	ids := make([]int, len(pieces))
	for i, piece := range pieces {
		id, err := v.PieceToID(piece)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// IDsToPieces converts each id with IDToPiece. If skipSpecial, ids of special tokens are dropped.
func (v *Vocabulary) IDsToPieces(ids []int, skipSpecial bool) ([]string, error) {
	pieces := make([]string, 0, len(ids))
	for _, id := range ids {
		if skipSpecial && v.special.IsSpecialID(id) {
			continue
		}
		piece, err := v.IDToPiece(id)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, piece)
	}
	return pieces, nil
}

// Decode joins pieces into text.
//
// Runs of ordinary pieces are joined by the model (which removes the word boundary markers).
// Special tokens are copied verbatim, separated by spaces from the surrounding text. The result is trimmed.
func (v *Vocabulary) Decode(pieces []string) string {
	var sb strings.Builder
	var pending []string
	for _, piece := range pieces {
		if !v.special.IsSpecial(piece) {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			sb.WriteString(v.model.DecodePieces(pending))
			pending = pending[:0]
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(piece)
		sb.WriteByte(' ')
	}
	if len(pending) > 0 {
		sb.WriteString(v.model.DecodePieces(pending))
	}
	return strings.TrimSpace(sb.String())
}

// DecodeIDs converts ids to pieces and joins them with Decode.
func (v *Vocabulary) DecodeIDs(ids []int, skipSpecial bool) (string, error) {
	pieces, err := v.IDsToPieces(ids, skipSpecial)
	if err != nil {
		return "", err
	}
	return v.Decode(pieces), nil
}

// GetVocab returns the full piece to id mapping, extra labels included.
func (v *Vocabulary) GetVocab() map[string]int {
	vocab := make(map[string]int, v.Size())
	for id := range v.BaseSize() {
		vocab[v.model.IDToPiece(id)] = id
	}
	for k := range v.extraCount {
		vocab[ExtraIDLabel(k)] = v.Size() - 1 - k
	}
	return vocab
}
