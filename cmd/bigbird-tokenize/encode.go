package main

import (
	"github.com/gomlx/go-bigbird-tokenizer/internal/config"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/encoding"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// legacyFlags are the older spellings of some encoding options. They are only forwarded when set.
type legacyFlags struct {
	padToMaxSeqLen     bool
	maxSeqLen          int
	truncationStrategy string
}

func (f *legacyFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.padToMaxSeqLen, "pad-to-max-seq-len", false, "Legacy: pad to the maximum length (see --encoding-padding)")
	fs.IntVar(&f.maxSeqLen, "max-seq-len", 0, "Legacy: maximum length (see --encoding-max-length)")
	fs.StringVar(&f.truncationStrategy, "truncation-strategy", string(encoding.TruncateLongestFirst),
		"Legacy: truncation strategy (see --encoding-truncation)")
}

func (f *legacyFlags) options(fs *pflag.FlagSet) encoding.LegacyOptions {
	var legacy encoding.LegacyOptions
	if fs.Changed("pad-to-max-seq-len") {
		padToMaxSeqLen := f.padToMaxSeqLen
		legacy.PadToMaxSeqLen = &padToMaxSeqLen
	}
	if fs.Changed("max-seq-len") {
		maxSeqLen := f.maxSeqLen
		legacy.MaxSeqLen = &maxSeqLen
	}
	if fs.Changed("truncation-strategy") {
		legacy.TruncationStrategy = encoding.TruncationStrategy(f.truncationStrategy)
	}
	return legacy
}

// encodingOptions converts the configuration to encoding options, with every output requested.
func encodingOptions(cfg config.EncodingConfig) encoding.Options {
	addSpecialTokens := cfg.AddSpecialTokens
	return encoding.Options{
		MaxLength:               cfg.MaxLength,
		Stride:                  cfg.Stride,
		Padding:                 encoding.PaddingStrategy(cfg.Padding),
		Truncation:              encoding.TruncationStrategy(cfg.Truncation),
		AddSpecialTokens:        &addSpecialTokens,
		ReturnPositionIDs:       true,
		ReturnTypeIDs:           true,
		ReturnAttentionMask:     true,
		ReturnLength:            true,
		ReturnOverflowingTokens: true,
		ReturnSpecialTokensMask: true,
		ReturnOffsetsMapping:    true,
	}
}

func newEncodeCmd() *cobra.Command {
	var (
		pair   string
		legacy legacyFlags
	)

	cmd := &cobra.Command{
		Use:   "encode TEXT",
		Short: "Encode a text, or a text pair, into model inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			var textPair *string
			if cmd.Flags().Changed("pair") {
				textPair = &pair
			}
			enc, err := tok.EncodeText(args[0], textPair, encodingOptions(cfg.Encoding), legacy.options(cmd.Flags()))
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), cfg.Output).encoding(tok, enc)
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "Second text of a text pair")
	legacy.register(cmd.Flags())

	return cmd
}
