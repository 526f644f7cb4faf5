package encoding

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch of encodings, as returned by Encoder.EncodeBatch.
type Batch struct {
	Encodings []*Encoding
}

// EncodeBatch encodes texts, or text pairs if pairs is not nil, in which case it must have the same
// length as texts.
//
// With PadLongest the encodings are padded to the longest one in the batch.
func (e *Encoder) EncodeBatch(texts []string, pairs []string, opts Options) (*Batch, error) {
	if pairs != nil && len(pairs) != len(texts) {
		return nil, errors.Errorf("batch has %d texts but %d pairs", len(texts), len(pairs))
	}
	opts = Resolve(opts, LegacyOptions{})

	// Padding needs all the arrays, they are filtered after padding.
	inner := opts
	inner.Padding = PadDoNotPad
	inner.ReturnTypeIDs, inner.ReturnPositionIDs, inner.ReturnAttentionMask = true, true, true
	inner.ReturnSpecialTokensMask, inner.ReturnOffsetsMapping = true, true

	batch := &Batch{Encodings: make([]*Encoding, len(texts))}
	longest := 0
	for i, text := range texts {
		var second *segment
		if pairs != nil {
			second = e.segment(pairs[i])
		}
		enc, err := e.encode(e.segment(text), second, inner)
		if err != nil {
			return nil, errors.WithMessagef(err, "while encoding batch element #%d", i)
		}
		longest = max(longest, enc.Len())
		batch.Encodings[i] = enc
	}

	padTo := 0
	switch opts.Padding {
	case PadLongest:
		padTo = longest
	case PadMaxLength:
		padTo = e.maxLength(opts)
	}
	for _, enc := range batch.Encodings {
		if padTo > 0 {
			e.pad(enc, padTo)
		}
		filter(enc, opts)
	}
	return batch, nil
}

// Tensors converts the batch to int32 tensors shaped [batchSize, sequenceLength], keyed by the usual model
// input names ("input_ids", "token_type_ids", "position_ids", "attention_mask", "special_tokens_mask").
// Only arrays present in every encoding are converted.
//
// The encodings must all have the same length, so they should be padded.
func (b *Batch) Tensors() (map[string]*tensors.Tensor, error) {
	if len(b.Encodings) == 0 {
		return nil, errors.New("empty batch")
	}
	seqLen := b.Encodings[0].Len()
	for i, enc := range b.Encodings {
		if enc.Len() != seqLen {
			return nil, errors.Errorf("batch element #%d has length %d, but element #0 has length %d: pad the batch first",
				i, enc.Len(), seqLen)
		}
	}
	fields := map[string]func(*Encoding) []int{
		"input_ids":           func(e *Encoding) []int { return e.InputIDs },
		"token_type_ids":      func(e *Encoding) []int { return e.TypeIDs },
		"position_ids":        func(e *Encoding) []int { return e.PositionIDs },
		"attention_mask":      func(e *Encoding) []int { return e.AttentionMask },
		"special_tokens_mask": func(e *Encoding) []int { return e.SpecialTokensMask },
	}
	result := make(map[string]*tensors.Tensor, len(fields))
fieldsLoop:
	for name, get := range fields {
		flat := make([]int32, 0, len(b.Encodings)*seqLen)
		for _, enc := range b.Encodings {
			values := get(enc)
			if len(values) != seqLen {
				continue fieldsLoop
			}
			for _, v := range values {
				flat = append(flat, int32(v))
			}
		}
		result[name] = tensors.FromFlatDataAndDimensions(flat, len(b.Encodings), seqLen)
	}
	return result, nil
}
