package api

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// DefaultExtraIDs is the default number of reserved "<extra_id_{k}>" ids appended to the vocabulary.
const DefaultExtraIDs = 100

// Config struct to hold HuggingFace's tokenizer_config.json contents.
// There is no formal schema for this file, but these are some common fields that may be of use.
// Specific tokenizer classes are free to implement additional features as they see fit.
//
// The extra field ConfigFile holds the path to the file with the full config.
type Config struct {
	ConfigFile     string `json:"-"`
	TokenizerClass string `json:"tokenizer_class"`

	// NameOrPath is the pretrained name (or directory) the configuration was saved from.
	NameOrPath string `json:"name_or_path"`

	// Normalization hints, applied by the normalize package and not by the vocabulary itself.
	DoLowerCase bool `json:"do_lower_case"`
	RemoveSpace bool `json:"remove_space"`
	KeepAccents bool `json:"keep_accents"`

	BosToken  TokenValue `json:"bos_token"`
	EosToken  TokenValue `json:"eos_token"`
	UnkToken  TokenValue `json:"unk_token"`
	PadToken  TokenValue `json:"pad_token"`
	SepToken  TokenValue `json:"sep_token"`
	ClsToken  TokenValue `json:"cls_token"`
	MaskToken TokenValue `json:"mask_token"`

	AdditionalSpecialTokens []TokenValue `json:"additional_special_tokens"`

	// ExtraIDs is the size of the reserved block of ids at the top of the vocabulary.
	ExtraIDs int `json:"extra_ids"`

	// StrictExtraIDs makes label/id conversion of extra ids fail when the index is outside [0, ExtraIDs).
	StrictExtraIDs bool `json:"strict_extra_ids"`

	// ModelMaxLength is a float, since HuggingFace uses 1e30 for "no limit". See MaxLength.
	ModelMaxLength float64 `json:"model_max_length"`

	// EngineOptions are passed through, unmodified, to the segmentation engine.
	EngineOptions map[string]any `json:"sp_model_kwargs"`
}

// DefaultConfig returns the configuration of the "bigbird-base-uncased" tokenizer.
func DefaultConfig() *Config {
	return &Config{
		TokenizerClass: "BigBirdTokenizer",
		RemoveSpace:    true,
		KeepAccents:    true,
		EosToken:       "</s>",
		UnkToken:       "<unk>",
		PadToken:       "<pad>",
		ExtraIDs:       DefaultExtraIDs,
	}
}

// ParseConfigFile reads a tokenizer_config.json file, and overlays it on top of DefaultConfig.
func ParseConfigFile(filePath string) (*Config, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer config file %q", filePath)
	}
	config, err := ParseConfigContent(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing %q", filePath)
	}
	config.ConfigFile = filePath
	return config, nil
}

// ParseConfigContent parses the contents of a tokenizer_config.json file, and overlays it on top of DefaultConfig.
func ParseConfigContent(content []byte) (*Config, error) {
	config := DefaultConfig()
	if err := json.Unmarshal(content, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer config")
	}
	if config.ExtraIDs < 0 {
		return nil, errors.Errorf("invalid extra_ids %d: it must be >= 0", config.ExtraIDs)
	}
	return config, nil
}

// maxSensibleLength bounds ModelMaxLength: larger values are placeholders for "no limit".
const maxSensibleLength = 1 << 30

// MaxLength returns ModelMaxLength as an int, or 0 if it is unset or a "no limit" placeholder.
func (c *Config) MaxLength() int {
	if c.ModelMaxLength <= 0 || c.ModelMaxLength > maxSensibleLength {
		return 0
	}
	return int(c.ModelMaxLength)
}

// TokenValue is a special token string in a tokenizer_config.json.
//
// HuggingFace serializes those either as plain strings or as an AddedToken object
// (`{"content": "</s>", "lstrip": false, ...}`); both are accepted.
type TokenValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *TokenValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var added struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &added); err != nil {
			return errors.Wrapf(err, "invalid added token %s", data)
		}
		*v = TokenValue(added.Content)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrapf(err, "invalid token %s", data)
	}
	*v = TokenValue(s)
	return nil
}

// String implements fmt.Stringer.
func (v TokenValue) String() string { return string(v) }

// RoleTokens returns the configured special token string for each role. Roles without a token are omitted.
func (c *Config) RoleTokens() map[SpecialToken]string {
	roles := map[SpecialToken]TokenValue{
		TokBeginningOfSentence: c.BosToken,
		TokEndOfSentence:       c.EosToken,
		TokUnknown:             c.UnkToken,
		TokPad:                 c.PadToken,
		TokSeparator:           c.SepToken,
		TokClassification:      c.ClsToken,
		TokMask:                c.MaskToken,
	}
	tokens := make(map[SpecialToken]string, len(roles))
	for role, value := range roles {
		if value != "" {
			tokens[role] = string(value)
		}
	}
	return tokens
}
