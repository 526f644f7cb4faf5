package encoding

import (
	"slices"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/pkg/errors"
)

// SpecialTokensBuilder is the model-specific part of the encoding: where the special tokens go, and the
// arrays derived from it.
//
// For all methods, a nil second sequence means a single-sequence input.
type SpecialTokensBuilder interface {
	BuildInputIDs(ids0, ids1 []int) []int
	BuildTypeIDs(ids0, ids1 []int) []int
	BuildOffsetMapping(spans0, spans1 []api.TokenSpan) []api.TokenSpan
	BuildSpecialTokensMask(ids0, ids1 []int, alreadyTagged bool) []int
}

// Segmenter converts text to token ids, with the spans of each token in the text.
type Segmenter interface {
	EncodeWithSpans(text string) api.EncodingResult
}

// Encoding is the model input for one text or text pair. All the slices set are of the same length.
// Slices not requested in the Options are left nil.
type Encoding struct {
	InputIDs          []int
	TypeIDs           []int
	PositionIDs       []int
	AttentionMask     []int
	SpecialTokensMask []int
	Offsets           []api.TokenSpan

	// Length of InputIDs before padding. Only set with Options.ReturnLength.
	Length int

	// OverflowingTokens removed by truncation, including Options.Stride tokens of context.
	// Only set with Options.ReturnOverflowingTokens.
	OverflowingTokens  []int
	NumTruncatedTokens int
}

// Len returns the number of tokens in the encoding, padding included.
func (e *Encoding) Len() int {
	return len(e.InputIDs)
}

// Encoder encodes texts, delegating the segmentation to a Segmenter and the special tokens to a
// SpecialTokensBuilder. It's safe for concurrent use if both are.
type Encoder struct {
	segmenter      Segmenter
	builder        SpecialTokensBuilder
	padID          int
	modelMaxLength int
}

// NewEncoder creates an Encoder. padID is the id used for padding.
func NewEncoder(segmenter Segmenter, builder SpecialTokensBuilder, padID int) *Encoder {
	return &Encoder{segmenter: segmenter, builder: builder, padID: padID}
}

// WithModelMaxLength sets the length used when Options.MaxLength is not given, and padding to max length
// or truncation is requested. 0 (the default) means no limit. It returns itself, to allow cascading calls.
func (e *Encoder) WithModelMaxLength(maxLength int) *Encoder {
	e.modelMaxLength = maxLength
	return e
}

// segment is one input sequence, with the spans of its tokens.
type segment struct {
	ids   []int
	spans []api.TokenSpan
}

func (e *Encoder) segment(text string) *segment {
	result := e.segmenter.EncodeWithSpans(text)
	s := &segment{ids: result.IDs, spans: result.Spans}
	if s.ids == nil {
		s.ids = []int{}
	}
	if len(s.spans) != len(s.ids) {
		s.spans = make([]api.TokenSpan, len(s.ids))
	}
	return s
}

// Encode encodes a single text.
func (e *Encoder) Encode(text string, opts Options) (*Encoding, error) {
	return e.encode(e.segment(text), nil, Resolve(opts, LegacyOptions{}))
}

// EncodePair encodes a text pair.
func (e *Encoder) EncodePair(text, pair string, opts Options) (*Encoding, error) {
	return e.encode(e.segment(text), e.segment(pair), Resolve(opts, LegacyOptions{}))
}

// EncodeIDs encodes already segmented ids. ids1 may be nil, for a single sequence.
// Offsets are all set to the sentinel span.
func (e *Encoder) EncodeIDs(ids0, ids1 []int, opts Options) (*Encoding, error) {
	first := &segment{ids: slices.Clone(ids0), spans: make([]api.TokenSpan, len(ids0))}
	if first.ids == nil {
		first.ids = []int{}
	}
	var second *segment
	if ids1 != nil {
		second = &segment{ids: slices.Clone(ids1), spans: make([]api.TokenSpan, len(ids1))}
	}
	return e.encode(first, second, Resolve(opts, LegacyOptions{}))
}

// NumSpecialTokensToAdd returns how many special tokens the builder adds to a single sequence, or to a pair.
func (e *Encoder) NumSpecialTokensToAdd(pair bool) int {
	if pair {
		return len(e.builder.BuildInputIDs([]int{}, []int{}))
	}
	return len(e.builder.BuildInputIDs([]int{}, nil))
}

// maxLength returns the effective maximum length, or 0 if unlimited.
func (e *Encoder) maxLength(opts Options) int {
	if opts.MaxLength > 0 {
		return opts.MaxLength
	}
	return e.modelMaxLength
}

func (e *Encoder) encode(first, second *segment, opts Options) (*Encoding, error) {
	addSpecial := *opts.AddSpecialTokens
	enc := &Encoding{}

	if maxLength := e.maxLength(opts); maxLength > 0 && opts.Truncation != TruncateDoNotTruncate {
		total := len(first.ids)
		if second != nil {
			total += len(second.ids)
		}
		if addSpecial {
			total += e.NumSpecialTokensToAdd(second != nil)
		}
		if total > maxLength {
			overflow, err := truncate(first, second, total-maxLength, opts.Truncation, opts.Stride)
			if err != nil {
				return nil, err
			}
			enc.OverflowingTokens = overflow
			enc.NumTruncatedTokens = total - maxLength
		}
	}

	var ids1 []int
	var spans1 []api.TokenSpan
	if second != nil {
		ids1, spans1 = second.ids, second.spans
		if spans1 == nil {
			spans1 = []api.TokenSpan{}
		}
	}
	if addSpecial {
		enc.InputIDs = e.builder.BuildInputIDs(first.ids, ids1)
		enc.TypeIDs = e.builder.BuildTypeIDs(first.ids, ids1)
		enc.SpecialTokensMask = e.builder.BuildSpecialTokensMask(first.ids, ids1, false)
		enc.Offsets = e.builder.BuildOffsetMapping(first.spans, spans1)
	} else {
		enc.InputIDs = concat(first.ids, ids1)
		enc.TypeIDs = make([]int, len(enc.InputIDs))
		for i := len(first.ids); i < len(enc.InputIDs); i++ {
			enc.TypeIDs[i] = 1
		}
		enc.SpecialTokensMask = e.builder.BuildSpecialTokensMask(enc.InputIDs, nil, true)
		enc.Offsets = concat(first.spans, spans1)
	}
	e.realign(enc, concat(first.ids, ids1), concat(first.spans, spans1))

	length := len(enc.InputIDs)
	enc.AttentionMask = make([]int, length)
	enc.PositionIDs = make([]int, length)
	for i := range length {
		enc.AttentionMask[i] = 1
		enc.PositionIDs[i] = i
	}
	if opts.ReturnLength {
		enc.Length = length
	}
	if opts.Padding == PadMaxLength {
		if maxLength := e.maxLength(opts); maxLength > 0 {
			e.pad(enc, maxLength)
		}
	}
	filter(enc, opts)
	return enc, nil
}

// realign keeps the derived arrays aligned with InputIDs when the builder left fewer special tokens than
// it would for plain sequences, e.g. when a sequence already ends with the end-of-sequence marker.
func (e *Encoder) realign(enc *Encoding, ids []int, spans []api.TokenSpan) {
	length := len(enc.InputIDs)
	if len(enc.SpecialTokensMask) != length {
		enc.SpecialTokensMask = e.builder.BuildSpecialTokensMask(enc.InputIDs, nil, true)
	}
	if len(enc.TypeIDs) != length {
		typeIDs := make([]int, length)
		copy(typeIDs, enc.TypeIDs)
		enc.TypeIDs = typeIDs
	}
	if len(enc.Offsets) != length {
		// Walk the original tokens through InputIDs: tokens that don't match were inserted.
		offsets := make([]api.TokenSpan, length)
		j := 0
		for i, id := range enc.InputIDs {
			if j < len(ids) && ids[j] == id {
				offsets[i] = spans[j]
				j++
				continue
			}
			offsets[i] = api.SentinelSpan
		}
		enc.Offsets = offsets
	}
}

// pad pads enc on the right up to length. Encodings already as long are left untouched.
func (e *Encoder) pad(enc *Encoding, length int) {
	diff := length - len(enc.InputIDs)
	if diff <= 0 {
		return
	}
	for range diff {
		enc.InputIDs = append(enc.InputIDs, e.padID)
		enc.TypeIDs = append(enc.TypeIDs, 0)
		enc.PositionIDs = append(enc.PositionIDs, 0)
		enc.AttentionMask = append(enc.AttentionMask, 0)
		enc.SpecialTokensMask = append(enc.SpecialTokensMask, 1)
		enc.Offsets = append(enc.Offsets, api.SentinelSpan)
	}
}

// filter drops the arrays that were not requested.
func filter(enc *Encoding, opts Options) {
	if !opts.ReturnTypeIDs {
		enc.TypeIDs = nil
	}
	if !opts.ReturnPositionIDs {
		enc.PositionIDs = nil
	}
	if !opts.ReturnAttentionMask {
		enc.AttentionMask = nil
	}
	if !opts.ReturnSpecialTokensMask {
		enc.SpecialTokensMask = nil
	}
	if !opts.ReturnOffsetsMapping {
		enc.Offsets = nil
	}
	if !opts.ReturnOverflowingTokens {
		enc.OverflowingTokens = nil
		enc.NumTruncatedTokens = 0
	}
}

// truncate removes numToRemove tokens from the segments, following strategy. It returns the overflowing
// tokens of the truncated segment, with stride tokens of context, for the "only_*" strategies.
func truncate(first, second *segment, numToRemove int, strategy TruncationStrategy, stride int) ([]int, error) {
	switch strategy {
	case TruncateLongestFirst:
		available := len(first.ids)
		if second != nil {
			available += len(second.ids)
		}
		if available < numToRemove {
			return nil, errors.Errorf("cannot truncate %d tokens: the sequences only have %d tokens", numToRemove, available)
		}
		for range numToRemove {
			if second == nil || len(first.ids) > len(second.ids) {
				first.trimTail(1)
			} else {
				second.trimTail(1)
			}
		}
		return nil, nil

	case TruncateOnlyFirst, TruncateOnlySecond:
		target := first
		if strategy == TruncateOnlySecond {
			if second == nil {
				return nil, errors.Errorf("truncation strategy %q requires a pair of sequences", strategy)
			}
			target = second
		}
		if len(target.ids) < numToRemove {
			return nil, errors.Errorf("truncation strategy %q cannot remove %d tokens from a sequence of %d tokens",
				strategy, numToRemove, len(target.ids))
		}
		window := min(len(target.ids), stride+numToRemove)
		overflow := slices.Clone(target.ids[len(target.ids)-window:])
		target.trimTail(numToRemove)
		return overflow, nil

	default:
		return nil, errors.Errorf("unknown truncation strategy %q", strategy)
	}
}

func (s *segment) trimTail(n int) {
	s.ids = s.ids[:len(s.ids)-n]
	s.spans = s.spans[:len(s.spans)-n]
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
