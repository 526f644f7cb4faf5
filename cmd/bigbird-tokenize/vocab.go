package main

import (
	"strconv"

	"github.com/gomlx/go-bigbird-tokenizer/internal/config"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/bigbird"
	"github.com/spf13/cobra"
)

type vocabSummary struct {
	BaseSize      int            `json:"base_size"`
	ExtraIDs      int            `json:"extra_ids"`
	Size          int            `json:"size"`
	SpecialTokens map[string]int `json:"special_tokens"`
}

type vocabLookup struct {
	Query string `json:"query"`
	ID    int    `json:"id"`
	Piece string `json:"piece"`
	Error string `json:"error,omitempty"`
}

// lookup converts each query, as an id if it's a number, or as a piece otherwise.
func lookup(vocab *bigbird.Vocabulary, queries []string) []vocabLookup {
	results := make([]vocabLookup, len(queries))
	for i, query := range queries {
		result := vocabLookup{Query: query}
		if id, err := strconv.Atoi(query); err == nil {
			result.ID = id
			result.Piece, err = vocab.IDToPiece(id)
			if err != nil {
				result.Error = err.Error()
			}
		} else {
			result.Piece = query
			result.ID, err = vocab.PieceToID(query)
			if err != nil {
				result.Error = err.Error()
			}
		}
		results[i] = result
	}
	return results
}

func newVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab [PIECE|ID]...",
		Short: "Show the vocabulary sizes and special tokens, or convert pieces and ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout(), cfg.Output)
			vocab := tok.Vocabulary()

			if len(args) > 0 {
				results := lookup(vocab, args)
				if cfg.Output.Format == config.FormatJSON {
					return r.json(results)
				}
				rows := make([][]string, len(results))
				for i, result := range results {
					rows[i] = []string{result.Query, strconv.Itoa(result.ID), result.Piece, result.Error}
				}
				return r.table([]string{"query", "id", "piece", "error"}, rows,
					func(row int) bool { return tok.SpecialTokens().IsSpecialID(results[row].ID) })
			}

			summary := vocabSummary{
				BaseSize:      vocab.BaseSize(),
				ExtraIDs:      vocab.ExtraCount(),
				Size:          vocab.Size(),
				SpecialTokens: make(map[string]int),
			}
			special := tok.SpecialTokens()
			tokens, ids := special.AllTokens(), special.AllIDs()
			for i, token := range tokens {
				summary.SpecialTokens[token] = ids[i]
			}
			if cfg.Output.Format == config.FormatJSON {
				return r.json(summary)
			}
			rows := [][]string{
				{"base size", strconv.Itoa(summary.BaseSize)},
				{"extra ids", strconv.Itoa(summary.ExtraIDs)},
				{"size", strconv.Itoa(summary.Size)},
			}
			for i, token := range tokens {
				rows = append(rows, []string{"special " + token, strconv.Itoa(ids[i])})
			}
			return r.table([]string{"", "value"}, rows, func(row int) bool { return row >= 3 })
		},
	}
	return cmd
}
