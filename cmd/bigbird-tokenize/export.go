package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/encoding"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// exportRow is one encoded text in the exported parquet file.
type exportRow struct {
	Text              string  `parquet:"text"`
	Pair              string  `parquet:"pair,optional"`
	InputIDs          []int32 `parquet:"input_ids,list"`
	TokenTypeIDs      []int32 `parquet:"token_type_ids,list"`
	AttentionMask     []int32 `parquet:"attention_mask,list"`
	SpecialTokensMask []int32 `parquet:"special_tokens_mask,list"`
	Length            int32   `parquet:"length"`
}

func toInt32(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

// readLines returns the non-empty lines of the file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	return lines, nil
}

// exportRows converts a batch, encoded with all the arrays, to parquet rows.
func exportRows(texts, pairs []string, batch *encoding.Batch) []exportRow {
	rows := make([]exportRow, len(batch.Encodings))
	for i, enc := range batch.Encodings {
		rows[i] = exportRow{
			Text:              texts[i],
			InputIDs:          toInt32(enc.InputIDs),
			TokenTypeIDs:      toInt32(enc.TypeIDs),
			AttentionMask:     toInt32(enc.AttentionMask),
			SpecialTokensMask: toInt32(enc.SpecialTokensMask),
			Length:            int32(enc.Length),
		}
		if pairs != nil {
			rows[i].Pair = pairs[i]
		}
	}
	return rows
}

// logShapes logs the shapes of the batch tensors, when the batch is padded to a common length.
func logShapes(batch *encoding.Batch) {
	if !klog.V(1).Enabled() {
		return
	}
	ts, err := batch.Tensors()
	if err != nil {
		klog.V(1).Infof("batch not converted to tensors: %v", err)
		return
	}
	for name, t := range ts {
		klog.V(1).Infof("%s: %s", name, t.Shape())
	}
}

func newExportCmd() *cobra.Command {
	var inputPath, pairsPath, outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Encode a text file, one text per line, into a parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			texts, err := readLines(inputPath)
			if err != nil {
				return err
			}
			var pairs []string
			if pairsPath != "" {
				pairs, err = readLines(pairsPath)
				if err != nil {
					return err
				}
			}
			batch, err := tok.EncodeBatch(texts, pairs, encodingOptions(cfg.Encoding), encoding.LegacyOptions{})
			if err != nil {
				return err
			}
			logShapes(batch)
			if err := parquet.WriteFile(outputPath, exportRows(texts, pairs, batch)); err != nil {
				return errors.Wrapf(err, "failed to write %q", outputPath)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d encodings to %s\n", len(texts), outputPath)
			return err
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Text file, one text per line")
	cmd.Flags().StringVar(&pairsPath, "pairs", "", "Optional text file with the second text of each pair, one per line")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output parquet file")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
