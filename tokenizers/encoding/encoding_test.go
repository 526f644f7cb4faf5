package encoding

import (
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPadID = 0
	testEOSID = 1
	testUnkID = 2
)

// wordSegmenter splits on whitespace, with a tiny fixed vocabulary.
type wordSegmenter struct{}

var testVocab = map[string]int{"</s>": testEOSID, "hello": 5, "world": 6, "foo": 7, "bar": 8}

func (wordSegmenter) EncodeWithSpans(text string) api.EncodingResult {
	var result api.EncodingResult
	pos := 0
	for _, word := range strings.Fields(text) {
		start := pos + strings.Index(text[pos:], word)
		pos = start + len(word)
		id, found := testVocab[word]
		if !found {
			id = testUnkID
		}
		result.IDs = append(result.IDs, id)
		result.Spans = append(result.Spans, api.TokenSpan{Start: start, End: pos})
	}
	return result
}

// eosBuilder appends an end-of-sequence id to each sequence, unless it's already there.
type eosBuilder struct{}

func (eosBuilder) ensure(ids []int) []int {
	if len(ids) > 0 && ids[len(ids)-1] == testEOSID {
		return ids
	}
	return append(slices.Clone(ids), testEOSID)
}

func (b eosBuilder) BuildInputIDs(ids0, ids1 []int) []int {
	if ids1 == nil {
		return b.ensure(ids0)
	}
	return append(b.ensure(ids0), b.ensure(ids1)...)
}

func (b eosBuilder) BuildTypeIDs(ids0, ids1 []int) []int {
	return make([]int, len(b.BuildInputIDs(ids0, ids1)))
}

func (eosBuilder) BuildOffsetMapping(spans0, spans1 []api.TokenSpan) []api.TokenSpan {
	out := append(slices.Clone(spans0), api.SentinelSpan)
	if spans1 == nil {
		return out
	}
	return append(append(out, spans1...), api.SentinelSpan)
}

func (eosBuilder) BuildSpecialTokensMask(ids0, ids1 []int, alreadyTagged bool) []int {
	if alreadyTagged {
		return GenericSpecialTokensMask(ids0, ids1, []int{testPadID, testEOSID, testUnkID})
	}
	mask := append(make([]int, len(ids0)), 1)
	if ids1 == nil {
		return mask
	}
	return append(append(mask, make([]int, len(ids1))...), 1)
}

func newTestEncoder() *Encoder {
	return NewEncoder(wordSegmenter{}, eosBuilder{}, testPadID)
}

func allOutputs() Options {
	return Options{
		ReturnPositionIDs:       true,
		ReturnTypeIDs:           true,
		ReturnAttentionMask:     true,
		ReturnLength:            true,
		ReturnOverflowingTokens: true,
		ReturnSpecialTokensMask: true,
		ReturnOffsetsMapping:    true,
	}
}

func TestResolve(t *testing.T) {
	yes, no := true, false
	seqLen := 128

	opts := Resolve(Options{}, LegacyOptions{})
	assert.Equal(t, PadDoNotPad, opts.Padding)
	assert.Equal(t, TruncateLongestFirst, opts.Truncation)
	assert.Equal(t, 0, opts.MaxLength)
	require.NotNil(t, opts.AddSpecialTokens)
	assert.True(t, *opts.AddSpecialTokens)

	opts = Resolve(Options{}, LegacyOptions{PadToMaxSeqLen: &yes})
	assert.Equal(t, PadMaxLength, opts.Padding)

	opts = Resolve(Options{}, LegacyOptions{PadToMaxSeqLen: &no})
	assert.Equal(t, PadDoNotPad, opts.Padding)

	opts = Resolve(Options{Padding: PadLongest}, LegacyOptions{PadToMaxSeqLen: &yes})
	assert.Equal(t, PadLongest, opts.Padding, "explicit padding wins over the legacy alias")

	opts = Resolve(Options{}, LegacyOptions{MaxSeqLen: &seqLen})
	assert.Equal(t, 128, opts.MaxLength)

	opts = Resolve(Options{MaxLength: 64}, LegacyOptions{MaxSeqLen: &seqLen})
	assert.Equal(t, 64, opts.MaxLength)

	opts = Resolve(Options{Truncation: TruncateOnlyFirst}, LegacyOptions{TruncationStrategy: TruncateLongestFirst})
	assert.Equal(t, TruncateOnlyFirst, opts.Truncation, "the default legacy strategy doesn't override")

	opts = Resolve(Options{Truncation: TruncateOnlyFirst}, LegacyOptions{TruncationStrategy: TruncateOnlySecond})
	assert.Equal(t, TruncateOnlySecond, opts.Truncation)

	// Resolving twice changes nothing.
	once := Resolve(Options{MaxLength: 8}, LegacyOptions{PadToMaxSeqLen: &yes})
	assert.Equal(t, once, Resolve(once, LegacyOptions{}))
}

func TestEncode(t *testing.T) {
	enc, err := newTestEncoder().Encode("hello world", allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 1}, enc.InputIDs)
	assert.Equal(t, []int{0, 0, 0}, enc.TypeIDs)
	assert.Equal(t, []int{0, 1, 2}, enc.PositionIDs)
	assert.Equal(t, []int{1, 1, 1}, enc.AttentionMask)
	assert.Equal(t, []int{0, 0, 1}, enc.SpecialTokensMask)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}, {Start: 0, End: 0}}, enc.Offsets)
	assert.Equal(t, 3, enc.Length)
	assert.Empty(t, enc.OverflowingTokens)

	// Default options only return the attention mask.
	enc, err = newTestEncoder().Encode("hello world", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 1}, enc.InputIDs)
	assert.Equal(t, []int{1, 1, 1}, enc.AttentionMask)
	assert.Nil(t, enc.TypeIDs)
	assert.Nil(t, enc.SpecialTokensMask)
	assert.Nil(t, enc.Offsets)
	assert.Zero(t, enc.Length)
}

func TestEncodePair(t *testing.T) {
	enc, err := newTestEncoder().EncodePair("hello world", "foo", allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 1, 7, 1}, enc.InputIDs)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, enc.TypeIDs)
	assert.Equal(t, []int{0, 0, 1, 0, 1}, enc.SpecialTokensMask)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}, {Start: 0, End: 0}, {Start: 0, End: 3}, {Start: 0, End: 0}}, enc.Offsets)

	// An empty pair still gets its own end-of-sequence marker.
	enc, err = newTestEncoder().EncodePair("hello", "", allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 1}, enc.InputIDs)
	assert.Equal(t, []int{0, 1, 1}, enc.SpecialTokensMask)
}

func TestEncode_AlreadyTerminated(t *testing.T) {
	enc, err := newTestEncoder().Encode("hello </s>", allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1}, enc.InputIDs)
	assert.Equal(t, []int{0, 1}, enc.SpecialTokensMask)
	assert.Equal(t, []int{0, 0}, enc.TypeIDs)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 10}}, enc.Offsets)
	assert.Len(t, enc.AttentionMask, 2)
}

func TestEncode_WithoutSpecialTokens(t *testing.T) {
	no := false
	opts := allOutputs()
	opts.AddSpecialTokens = &no
	enc, err := newTestEncoder().EncodePair("hello world", "foo", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, enc.InputIDs)
	assert.Equal(t, []int{0, 0, 1}, enc.TypeIDs)
	assert.Equal(t, []int{0, 0, 0}, enc.SpecialTokensMask)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}, {Start: 0, End: 3}}, enc.Offsets)
}

func TestEncode_Truncation(t *testing.T) {
	t.Run("longest_first", func(t *testing.T) {
		opts := allOutputs()
		opts.MaxLength = 4
		enc, err := newTestEncoder().EncodePair("hello world foo", "bar", opts)
		require.NoError(t, err)
		assert.Equal(t, []int{5, 1, 8, 1}, enc.InputIDs)
		assert.Equal(t, []api.TokenSpan{{Start: 0, End: 5}, {Start: 0, End: 0}, {Start: 0, End: 3}, {Start: 0, End: 0}}, enc.Offsets)
		assert.Equal(t, 2, enc.NumTruncatedTokens)
	})

	t.Run("only_first with stride", func(t *testing.T) {
		opts := allOutputs()
		opts.MaxLength = 3
		opts.Stride = 1
		opts.Truncation = TruncateOnlyFirst
		enc, err := newTestEncoder().Encode("hello world foo bar", opts)
		require.NoError(t, err)
		assert.Equal(t, []int{5, 6, 1}, enc.InputIDs)
		assert.Equal(t, []int{6, 7, 8}, enc.OverflowingTokens)
		assert.Equal(t, 2, enc.NumTruncatedTokens)
	})

	t.Run("only_second", func(t *testing.T) {
		opts := allOutputs()
		opts.MaxLength = 4
		opts.Truncation = TruncateOnlySecond
		enc, err := newTestEncoder().EncodePair("hello", "world foo bar", opts)
		require.NoError(t, err)
		assert.Equal(t, []int{5, 1, 6, 1}, enc.InputIDs)
		assert.Equal(t, []int{7, 8}, enc.OverflowingTokens)

		_, err = newTestEncoder().Encode("hello world foo bar", opts)
		assert.Error(t, err, "only_second needs a pair")
	})

	t.Run("too short to truncate", func(t *testing.T) {
		opts := allOutputs()
		opts.MaxLength = 2
		opts.Truncation = TruncateOnlySecond
		_, err := newTestEncoder().EncodePair("hello world", "foo", opts)
		assert.Error(t, err)
	})

	t.Run("do_not_truncate", func(t *testing.T) {
		opts := allOutputs()
		opts.MaxLength = 2
		opts.Truncation = TruncateDoNotTruncate
		enc, err := newTestEncoder().Encode("hello world foo", opts)
		require.NoError(t, err)
		assert.Len(t, enc.InputIDs, 4)
	})

	t.Run("model max length", func(t *testing.T) {
		enc, err := newTestEncoder().WithModelMaxLength(2).Encode("hello world foo", allOutputs())
		require.NoError(t, err)
		assert.Equal(t, []int{5, 1}, enc.InputIDs)
	})
}

func TestEncode_Padding(t *testing.T) {
	opts := allOutputs()
	opts.MaxLength = 6
	opts.Padding = PadMaxLength
	enc, err := newTestEncoder().Encode("hello", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 0, 0, 0, 0}, enc.InputIDs)
	assert.Equal(t, []int{1, 1, 0, 0, 0, 0}, enc.AttentionMask)
	assert.Equal(t, []int{0, 1, 1, 1, 1, 1}, enc.SpecialTokensMask)
	assert.Equal(t, []int{0, 1, 0, 0, 0, 0}, enc.PositionIDs)
	assert.Len(t, enc.Offsets, 6)
	assert.Equal(t, 2, enc.Length, "length is measured before padding")

	// Padding "longest" is a no-op for a single encoding.
	opts.Padding = PadLongest
	enc, err = newTestEncoder().Encode("hello", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1}, enc.InputIDs)
}

func TestEncodeIDs(t *testing.T) {
	e := newTestEncoder()
	enc, err := e.EncodeIDs([]int{5, 6}, []int{7}, allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 1, 7, 1}, enc.InputIDs)
	assert.Equal(t, []api.TokenSpan{{}, {}, {}, {}, {}}, enc.Offsets)

	enc, err = e.EncodeIDs(nil, nil, allOutputs())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, enc.InputIDs)

	assert.Equal(t, 1, e.NumSpecialTokensToAdd(false))
	assert.Equal(t, 2, e.NumSpecialTokensToAdd(true))
}

func TestEncodeBatch(t *testing.T) {
	opts := allOutputs()
	opts.Padding = PadLongest
	batch, err := newTestEncoder().EncodeBatch([]string{"hello", "hello world foo"}, nil, opts)
	require.NoError(t, err)
	require.Len(t, batch.Encodings, 2)
	assert.Equal(t, []int{5, 1, 0, 0}, batch.Encodings[0].InputIDs)
	assert.Equal(t, []int{1, 1, 0, 0}, batch.Encodings[0].AttentionMask)
	assert.Equal(t, []int{5, 6, 7, 1}, batch.Encodings[1].InputIDs)
	assert.Equal(t, 2, batch.Encodings[0].Length)

	ts, err := batch.Tensors()
	require.NoError(t, err)
	require.Contains(t, ts, "input_ids")
	assert.Equal(t, []int{2, 4}, ts["input_ids"].Shape().Dimensions)
	assert.Equal(t, [][]int32{{5, 1, 0, 0}, {5, 6, 7, 1}}, ts["input_ids"].Value())
	assert.Contains(t, ts, "attention_mask")
	assert.Contains(t, ts, "token_type_ids")

	// Pairs.
	batch, err = newTestEncoder().EncodeBatch([]string{"hello", "foo"}, []string{"world", "bar bar"}, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 1, 6, 1, 0}, batch.Encodings[0].InputIDs)
	assert.Equal(t, []int{7, 1, 8, 8, 1}, batch.Encodings[1].InputIDs)

	_, err = newTestEncoder().EncodeBatch([]string{"a", "b"}, []string{"c"}, opts)
	assert.Error(t, err)
}

func TestBatchTensors_Unpadded(t *testing.T) {
	batch, err := newTestEncoder().EncodeBatch([]string{"hello", "hello world"}, nil, DefaultOptions())
	require.NoError(t, err)
	_, err = batch.Tensors()
	assert.Error(t, err)

	_, err = (&Batch{}).Tensors()
	assert.Error(t, err)

	// Only the requested arrays are converted.
	batch, err = newTestEncoder().EncodeBatch([]string{"hello", "world"}, nil, DefaultOptions())
	require.NoError(t, err)
	ts, err := batch.Tensors()
	require.NoError(t, err)
	assert.Contains(t, ts, "input_ids")
	assert.Contains(t, ts, "attention_mask")
	assert.NotContains(t, ts, "token_type_ids")
}

func TestGenericSpecialTokensMask(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 1}, GenericSpecialTokensMask([]int{5, 1}, []int{6, 0}, []int{0, 1}))
	assert.Equal(t, []int{}, GenericSpecialTokensMask(nil, nil, []int{1}))
}
