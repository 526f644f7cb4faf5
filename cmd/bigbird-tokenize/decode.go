package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/go-bigbird-tokenizer/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// parseIDs parses token ids, given as separate arguments or comma separated.
func parseIDs(args []string) ([]int, error) {
	var ids []int
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.Atoi(field)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid token id %q", field)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func newDecodeCmd() *cobra.Command {
	var skipSpecialTokens bool

	cmd := &cobra.Command{
		Use:   "decode ID...",
		Short: "Decode token ids back to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			cfg, tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			text, err := tok.DecodeIDs(ids, skipSpecialTokens)
			if err != nil {
				return err
			}
			if cfg.Output.Format == config.FormatJSON {
				return newRenderer(cmd.OutOrStdout(), cfg.Output).json(map[string]string{"text": text})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}

	cmd.Flags().BoolVar(&skipSpecialTokens, "skip-special-tokens", false, "Drop special tokens from the text")

	return cmd
}
