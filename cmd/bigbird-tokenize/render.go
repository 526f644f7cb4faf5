package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/go-bigbird-tokenizer/internal/config"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/bigbird"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/encoding"
	"github.com/pkg/errors"
)

type styles struct {
	header, cell, special, footer lipgloss.Style
}

func newStyles(color bool) styles {
	cell := lipgloss.NewStyle().Padding(0, 1)
	if !color {
		return styles{header: cell.Bold(true), cell: cell, special: cell, footer: lipgloss.NewStyle()}
	}
	return styles{
		header:  cell.Bold(true).Foreground(lipgloss.Color("12")),
		cell:    cell,
		special: cell.Foreground(lipgloss.Color("205")),
		footer:  lipgloss.NewStyle().Faint(true),
	}
}

// renderer writes the results of the commands, as tables or as JSON.
type renderer struct {
	out    io.Writer
	format string
	styles styles
}

func newRenderer(out io.Writer, cfg config.OutputConfig) *renderer {
	return &renderer{out: out, format: cfg.Format, styles: newStyles(cfg.Color)}
}

func (r *renderer) json(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to write JSON")
}

func (r *renderer) table(headers []string, rows [][]string, highlight func(row int) bool) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return r.styles.header
			case highlight != nil && highlight(row):
				return r.styles.special
			}
			return r.styles.cell
		})
	_, err := fmt.Fprintln(r.out, t.Render())
	return errors.Wrap(err, "failed to write table")
}

func (r *renderer) footer(format string, args ...any) error {
	_, err := fmt.Fprintln(r.out, r.styles.footer.Render(fmt.Sprintf(format, args...)))
	return errors.Wrap(err, "failed to write output")
}

type encodingJSON struct {
	Pieces             []string `json:"pieces"`
	InputIDs           []int    `json:"input_ids"`
	TypeIDs            []int    `json:"token_type_ids,omitempty"`
	PositionIDs        []int    `json:"position_ids,omitempty"`
	AttentionMask      []int    `json:"attention_mask,omitempty"`
	SpecialTokensMask  []int    `json:"special_tokens_mask,omitempty"`
	Offsets            [][2]int `json:"offset_mapping,omitempty"`
	Length             int      `json:"length"`
	OverflowingTokens  []int    `json:"overflowing_tokens,omitempty"`
	NumTruncatedTokens int      `json:"num_truncated_tokens,omitempty"`
}

// pieces returns the piece of each id, or "?" for ids outside a strict vocabulary.
func pieces(tok *bigbird.Tokenizer, ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		piece, err := tok.Vocabulary().IDToPiece(id)
		if err != nil {
			piece = "?"
		}
		out[i] = piece
	}
	return out
}

// at returns values[i], or 0 if values is too short.
func at(values []int, i int) int {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func (r *renderer) encoding(tok *bigbird.Tokenizer, enc *encoding.Encoding) error {
	tokens := pieces(tok, enc.InputIDs)
	if r.format == config.FormatJSON {
		out := encodingJSON{
			Pieces:             tokens,
			InputIDs:           enc.InputIDs,
			TypeIDs:            enc.TypeIDs,
			PositionIDs:        enc.PositionIDs,
			AttentionMask:      enc.AttentionMask,
			SpecialTokensMask:  enc.SpecialTokensMask,
			Length:             enc.Length,
			OverflowingTokens:  enc.OverflowingTokens,
			NumTruncatedTokens: enc.NumTruncatedTokens,
		}
		for _, span := range enc.Offsets {
			out.Offsets = append(out.Offsets, [2]int{span.Start, span.End})
		}
		return r.json(out)
	}

	rows := make([][]string, len(enc.InputIDs))
	for i, id := range enc.InputIDs {
		offset := ""
		if i < len(enc.Offsets) {
			offset = fmt.Sprintf("%d:%d", enc.Offsets[i].Start, enc.Offsets[i].End)
		}
		rows[i] = []string{
			strconv.Itoa(i), tokens[i], strconv.Itoa(id),
			strconv.Itoa(at(enc.TypeIDs, i)), strconv.Itoa(at(enc.AttentionMask, i)),
			strconv.Itoa(at(enc.SpecialTokensMask, i)), offset,
		}
	}
	err := r.table([]string{"#", "piece", "id", "type", "attention", "special", "offset"}, rows,
		func(row int) bool { return at(enc.SpecialTokensMask, row) == 1 })
	if err != nil {
		return err
	}
	return r.footer("%d tokens (%d before padding), %d truncated", enc.Len(), enc.Length, enc.NumTruncatedTokens)
}
