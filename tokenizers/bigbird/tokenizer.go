// Package bigbird implements the BigBird tokenizer: a SentencePiece model, extended with a block of
// reserved "<extra_id_{k}>" ids at the top of its vocabulary, that terminates every sequence with the
// end-of-sequence marker "</s>".
//
// Tokenizer is the entry point. It composes the pieces of the package, which can also be used on their own:
//
//   - Vocabulary: piece/id conversion, vocabulary size and decoding.
//   - Assembler: placement of the end-of-sequence markers, and the arrays aligned with it.
//   - encoding.Encoder: truncation, padding and the other model inputs.
package bigbird

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/encoding"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/normalize"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultModelMaxLength is the maximum sequence length of the pretrained BigBird models.
const DefaultModelMaxLength = 4096

// MaxModelInputSizes lists the maximum sequence length of known pretrained tokenizers, by name.
// It is looked up with the "name_or_path" of the tokenizer configuration, in full or its last element.
var MaxModelInputSizes = map[string]int{
	"bigbird-base-uncased":         DefaultModelMaxLength,
	"google/bigbird-roberta-base":  DefaultModelMaxLength,
	"google/bigbird-roberta-large": DefaultModelMaxLength,
}

// ModelFileNames are the names the SentencePiece model is searched for by LoadDir, in order.
var ModelFileNames = []string{"sentencepiece_gpt2.model", "spiece.model", "tokenizer.model"}

// ConfigFileName is the tokenizer configuration file read by LoadDir, if present.
const ConfigFileName = "tokenizer_config.json"

// SegmentationModel is the Model that also segments text. sentencepiece.Model implements it.
type SegmentationModel interface {
	Model
	EncodeWithSpans(text string) api.EncodingResult
}

// Tokenizer for BigBird models.
//
// It is read-only after creation, and safe for concurrent use, except for WithDiagnostics which should be
// called before use.
type Tokenizer struct {
	config     *api.Config
	model      SegmentationModel
	special    *api.SpecialTokenRegistry
	vocab      *Vocabulary
	assembler  *Assembler
	normalizer *normalize.Normalizer
	encoder    *encoding.Encoder

	// splitTokens are the special tokens matched verbatim in the text, longest first.
	splitTokens []string
	hasPad      bool
}

// Compile time assert that Tokenizer implements api.TokenizerWithSpans interface.
var _ api.TokenizerWithSpans = &Tokenizer{}

// New creates a Tokenizer from the SentencePiece model file in modelPath.
// If config is nil, api.DefaultConfig is used.
func New(config *api.Config, modelPath string) (*Tokenizer, error) {
	config = orDefault(config)
	model, err := sentencepiece.Load(modelPath, config.EngineOptions)
	if err != nil {
		return nil, err
	}
	return NewWithModel(config, model)
}

// NewFromBytes creates a Tokenizer from a serialized SentencePiece model.
// If config is nil, api.DefaultConfig is used.
func NewFromBytes(config *api.Config, data []byte) (*Tokenizer, error) {
	config = orDefault(config)
	model, err := sentencepiece.LoadFromBytes(data, config.EngineOptions)
	if err != nil {
		return nil, err
	}
	return NewWithModel(config, model)
}

// LoadDir creates a Tokenizer from a directory with a tokenizer_config.json (optional) and one of the
// ModelFileNames. See ResolveDir.
func LoadDir(dir string) (*Tokenizer, error) {
	config, modelPath, err := ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	return New(config, modelPath)
}

// ResolveDir reads the tokenizer_config.json in dir, if present, and finds the first of the
// ModelFileNames in dir. It allows the configuration to be changed before calling New.
func ResolveDir(dir string) (config *api.Config, modelPath string, err error) {
	config = api.DefaultConfig()
	configPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		config, err = api.ParseConfigFile(configPath)
		if err != nil {
			return nil, "", err
		}
	}
	for _, name := range ModelFileNames {
		modelPath = filepath.Join(dir, name)
		if _, err := os.Stat(modelPath); err == nil {
			return config, modelPath, nil
		}
	}
	return nil, "", errors.Wrapf(sentencepiece.ErrModelLoad, "no model file (%s) in %q",
		strings.Join(ModelFileNames, ", "), dir)
}

func orDefault(config *api.Config) *api.Config {
	if config == nil {
		return api.DefaultConfig()
	}
	return config
}

// NewWithModel creates a Tokenizer for an already loaded model.
// If config is nil, api.DefaultConfig is used.
//
// The special tokens of the configuration are resolved to ids with the Vocabulary, so the extra labels
// ("<extra_id_{k}>") can be used as special tokens. The end-of-sequence token is required.
func NewWithModel(config *api.Config, model SegmentationModel) (*Tokenizer, error) {
	config = orDefault(config)
	if config.ExtraIDs < 0 {
		return nil, errors.Errorf("invalid number of extra ids %d: it must be >= 0", config.ExtraIDs)
	}
	t := &Tokenizer{
		config:  config,
		model:   model,
		special: api.NewSpecialTokenRegistry(),
	}
	t.vocab = NewVocabulary(model, config.ExtraIDs, t.special).WithStrictExtraIDs(config.StrictExtraIDs)

	roles := config.RoleTokens()
	for _, role := range api.SpecialTokenValues() {
		token, found := roles[role]
		if !found {
			continue
		}
		id, err := t.vocab.PieceToID(token)
		if err != nil {
			return nil, errors.WithMessagef(err, "special token %s", role)
		}
		t.special.SetRole(role, token, id)
	}
	for _, value := range config.AdditionalSpecialTokens {
		token := string(value)
		if token == "" {
			continue
		}
		id, err := t.vocab.PieceToID(token)
		if err != nil {
			return nil, errors.WithMessagef(err, "additional special token %q", token)
		}
		t.special.AddAdditional(token, id)
	}

	var err error
	t.assembler, err = NewAssembler(t.special, nil)
	if err != nil {
		return nil, err
	}
	t.splitTokens = t.special.AllTokens()
	slices.SortStableFunc(t.splitTokens, func(a, b string) int { return len(b) - len(a) })

	t.normalizer = normalize.New(normalize.Options{
		Lowercase:   config.DoLowerCase,
		RemoveSpace: config.RemoveSpace,
		KeepAccents: config.KeepAccents,
	})

	padID, err := t.special.ID(api.TokPad)
	t.hasPad = err == nil
	t.encoder = encoding.NewEncoder(t, t.assembler, padID).WithModelMaxLength(modelMaxLength(config))
	klog.V(1).Infof("bigbird tokenizer: %d base pieces, %d extra ids, %d special tokens",
		t.vocab.BaseSize(), t.vocab.ExtraCount(), len(t.splitTokens))
	return t, nil
}

// modelMaxLength returns the configured maximum length, or the one of a known pretrained model.
func modelMaxLength(config *api.Config) int {
	if maxLength := config.MaxLength(); maxLength > 0 {
		return maxLength
	}
	if name := config.NameOrPath; name != "" {
		if maxLength, found := MaxModelInputSizes[name]; found {
			return maxLength
		}
		if maxLength, found := MaxModelInputSizes[path.Base(name)]; found {
			return maxLength
		}
	}
	return DefaultModelMaxLength
}

// WithDiagnostics sets where the diagnostics (e.g. api.DiagEOSAlreadyPresent) are emitted.
// The default is api.KlogDiagnostics. It returns itself, to allow cascading calls.
func (t *Tokenizer) WithDiagnostics(diag api.Diagnostics) *Tokenizer {
	if diag == nil {
		diag = api.KlogDiagnostics{}
	}
	t.assembler.diag = diag
	return t
}

// Config returns the configuration used to create the tokenizer.
func (t *Tokenizer) Config() *api.Config { return t.config }

// Vocabulary returns the piece/id conversion authority of the tokenizer.
func (t *Tokenizer) Vocabulary() *Vocabulary { return t.vocab }

// Assembler returns the special tokens assembler of the tokenizer.
func (t *Tokenizer) Assembler() *Assembler { return t.assembler }

// SpecialTokens returns the registry of special tokens.
func (t *Tokenizer) SpecialTokens() *api.SpecialTokenRegistry { return t.special }

// Encoder returns the encoding.Encoder configured with the tokenizer's segmentation and special tokens.
func (t *Tokenizer) Encoder() *encoding.Encoder { return t.encoder }

// VocabSize returns the total vocabulary size, extra ids included.
func (t *Tokenizer) VocabSize() int { return t.vocab.Size() }

// GetVocab returns the full piece to id mapping, extra labels included.
func (t *Tokenizer) GetVocab() map[string]int { return t.vocab.GetVocab() }

// Normalize applies the configured text normalization.
func (t *Tokenizer) Normalize(text string) string {
	return t.normalizer.Normalize(text)
}

// fragment of the normalized text: either a verbatim special token, or text to segment with the model.
type fragment struct {
	text    string
	start   int
	special bool
}

// splitOnSpecialTokens cuts text at the occurrences of special tokens, longest match first.
// Whitespace around the special tokens is dropped.
func (t *Tokenizer) splitOnSpecialTokens(text string) []fragment {
	var fragments []fragment
	addText := func(start, end int) {
		if len(fragments) > 0 && fragments[len(fragments)-1].special {
			for start < end && isSpace(text[start]) {
				start++
			}
		}
		for end > start && isSpace(text[end-1]) && end < len(text) {
			end--
		}
		if start < end {
			fragments = append(fragments, fragment{text: text[start:end], start: start})
		}
	}
	start := 0
	for pos := 0; pos < len(text); {
		var matched string
		for _, token := range t.splitTokens {
			if strings.HasPrefix(text[pos:], token) {
				matched = token
				break
			}
		}
		if matched == "" {
			pos++
			continue
		}
		addText(start, pos)
		fragments = append(fragments, fragment{text: matched, start: pos, special: true})
		pos += len(matched)
		start = pos
	}
	addText(start, len(text))
	return fragments
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// EncodeWithSpans normalizes and segments text, returning the ids and their byte spans in text.
// Special tokens found verbatim in the text are kept whole. No end-of-sequence marker is added.
func (t *Tokenizer) EncodeWithSpans(text string) api.EncodingResult {
	normalized, alignment := t.normalizer.NormalizeWithAlignment(text)
	var result api.EncodingResult
	addSpan := func(start, end int) {
		start, end = alignment.Span(start, end)
		result.Spans = append(result.Spans, api.TokenSpan{Start: start, End: end})
	}
	for _, frag := range t.splitOnSpecialTokens(normalized) {
		if frag.special {
			id, _ := t.special.TokenID(frag.text)
			result.IDs = append(result.IDs, id)
			addSpan(frag.start, frag.start+len(frag.text))
			continue
		}
		segmented := t.model.EncodeWithSpans(frag.text)
		result.IDs = append(result.IDs, segmented.IDs...)
		for _, span := range segmented.Spans {
			addSpan(span.Start+frag.start, span.End+frag.start)
		}
	}
	return result
}

// Encode returns the ids of text, without the end-of-sequence marker. See EncodeText for the model inputs.
func (t *Tokenizer) Encode(text string) []int {
	return t.EncodeWithSpans(text).IDs
}

// Tokenize returns the pieces of text, without the end-of-sequence marker.
func (t *Tokenizer) Tokenize(text string) []string {
	ids := t.Encode(text)
	pieces, err := t.vocab.IDsToPieces(ids, false)
	if err != nil {
		klog.Warningf("bigbird tokenizer: %v", err)
		return nil
	}
	return pieces
}

// Decode returns the text for ids, special tokens included.
// With strict extra ids, ids outside the vocabulary yield an empty string, and a warning is logged:
// use DecodeIDs to get the error.
func (t *Tokenizer) Decode(ids []int) string {
	text, err := t.vocab.DecodeIDs(ids, false)
	if err != nil {
		klog.Warningf("bigbird tokenizer: %v", err)
		return ""
	}
	return text
}

// DecodeIDs returns the text for ids, optionally skipping the special tokens.
func (t *Tokenizer) DecodeIDs(ids []int, skipSpecial bool) (string, error) {
	return t.vocab.DecodeIDs(ids, skipSpecial)
}

// ConvertTokensToIDs converts pieces (or extra labels) to ids.
func (t *Tokenizer) ConvertTokensToIDs(pieces []string) ([]int, error) {
	return t.vocab.PiecesToIDs(pieces)
}

// ConvertIDsToTokens converts ids to pieces (or extra labels).
func (t *Tokenizer) ConvertIDsToTokens(ids []int, skipSpecial bool) ([]string, error) {
	return t.vocab.IDsToPieces(ids, skipSpecial)
}

// ConvertTokensToString joins pieces into text. See Vocabulary.Decode.
func (t *Tokenizer) ConvertTokensToString(pieces []string) string {
	return t.vocab.Decode(pieces)
}

// SpecialTokenID returns the id of the special token, or an error if it's not configured.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	return t.special.ID(token)
}

// resolve merges the options once and checks them against the tokenizer.
func (t *Tokenizer) resolve(opts encoding.Options, legacy encoding.LegacyOptions) (encoding.Options, error) {
	opts = encoding.Resolve(opts, legacy)
	if opts.Padding != encoding.PadDoNotPad && !t.hasPad {
		return opts, errors.Errorf("padding %q requested, but the tokenizer has no pad token", opts.Padding)
	}
	return opts, nil
}

// EncodeText returns the model inputs for text, or for the pair (text, *pair) if pair is not nil.
//
// The options in opts take precedence over the legacy ones. See encoding.Resolve.
func (t *Tokenizer) EncodeText(text string, pair *string, opts encoding.Options, legacy encoding.LegacyOptions) (*encoding.Encoding, error) {
	opts, err := t.resolve(opts, legacy)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return t.encoder.Encode(text, opts)
	}
	return t.encoder.EncodePair(text, *pair, opts)
}

// EncodeBatch returns the model inputs for each text, or for each pair (texts[i], pairs[i]) if pairs
// is not nil.
func (t *Tokenizer) EncodeBatch(texts, pairs []string, opts encoding.Options, legacy encoding.LegacyOptions) (*encoding.Batch, error) {
	opts, err := t.resolve(opts, legacy)
	if err != nil {
		return nil, err
	}
	return t.encoder.EncodeBatch(texts, pairs, opts)
}
