// bigbird-tokenize encodes and decodes text with a BigBird SentencePiece tokenizer, and exports encoded
// datasets to parquet.
package main

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

func main() {
	err := NewRootCmd().Execute()
	klog.Flush()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
