// Package encoding implements the model-independent part of encoding texts for a transformer: truncation,
// padding, attention masks and position ids, for single texts, text pairs and batches.
//
// The model-specific placement of special tokens is delegated to a SpecialTokensBuilder.
package encoding

// PaddingStrategy selects how encodings are padded.
type PaddingStrategy string

const (
	// PadDoNotPad leaves the encodings with their natural length.
	PadDoNotPad PaddingStrategy = "do_not_pad"
	// PadLongest pads to the longest encoding of the batch.
	PadLongest PaddingStrategy = "longest"
	// PadMaxLength pads to Options.MaxLength.
	PadMaxLength PaddingStrategy = "max_length"
)

// TruncationStrategy selects which sequence of a pair is truncated to fit Options.MaxLength.
type TruncationStrategy string

const (
	TruncateLongestFirst  TruncationStrategy = "longest_first"
	TruncateOnlyFirst     TruncationStrategy = "only_first"
	TruncateOnlySecond    TruncationStrategy = "only_second"
	TruncateDoNotTruncate TruncationStrategy = "do_not_truncate"
)

// Options for Encoder.Encode. The zero value of Padding and Truncation means "not given".
type Options struct {
	// MaxLength of the encoding, special tokens included. 0 means unset.
	MaxLength int
	// Stride is the number of overlapping tokens kept in the overflowing tokens, when truncating.
	Stride int

	Padding    PaddingStrategy
	Truncation TruncationStrategy

	// AddSpecialTokens defaults to true when the options go through Resolve.
	AddSpecialTokens *bool

	ReturnPositionIDs       bool
	ReturnTypeIDs           bool
	ReturnAttentionMask     bool
	ReturnLength            bool
	ReturnOverflowingTokens bool
	ReturnSpecialTokensMask bool
	ReturnOffsetsMapping    bool
}

// DefaultOptions returns the defaults of the tokenizer call: attention mask on, everything else off.
func DefaultOptions() Options {
	return Options{ReturnAttentionMask: true}
}

// LegacyOptions holds older spellings of some options. They only apply where the corresponding
// Options field was not given; see Resolve.
type LegacyOptions struct {
	// PadToMaxSeqLen maps to Padding: true is PadMaxLength, false is PadDoNotPad.
	PadToMaxSeqLen *bool
	// MaxSeqLen maps to MaxLength.
	MaxSeqLen *int
	// TruncationStrategy overrides Truncation, unless it is TruncateLongestFirst.
	TruncationStrategy TruncationStrategy
}

// Resolve applies the legacy options and the defaults to opts, once, with the precedence
// explicit value > legacy alias > default.
func Resolve(opts Options, legacy LegacyOptions) Options {
	if opts.Padding == "" {
		switch {
		case legacy.PadToMaxSeqLen != nil && *legacy.PadToMaxSeqLen:
			opts.Padding = PadMaxLength
		default:
			opts.Padding = PadDoNotPad
		}
	}
	if opts.MaxLength == 0 && legacy.MaxSeqLen != nil {
		opts.MaxLength = *legacy.MaxSeqLen
	}
	if legacy.TruncationStrategy != "" && legacy.TruncationStrategy != TruncateLongestFirst {
		opts.Truncation = legacy.TruncationStrategy
	}
	if opts.Truncation == "" {
		opts.Truncation = TruncateLongestFirst
	}
	if opts.AddSpecialTokens == nil {
		addSpecial := true
		opts.AddSpecialTokens = &addSpecial
	}
	return opts
}
