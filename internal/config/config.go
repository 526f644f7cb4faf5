// Package config holds the configuration of the bigbird-tokenize command line, layered with viper:
// defaults < config file < BIGBIRD_* environment variables < flags.
package config

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Encoding EncodingConfig `mapstructure:"encoding"`
	Output   OutputConfig   `mapstructure:"output"`
}

// PathsConfig locates the tokenizer. ModelPath, if set, takes precedence over ModelDir.
type PathsConfig struct {
	ModelDir        string `mapstructure:"model_dir"`
	ModelPath       string `mapstructure:"model_path"`
	TokenizerConfig string `mapstructure:"tokenizer_config"`
}

// EncodingConfig holds the defaults of the encoding options. Empty Padding and Truncation mean "not given",
// so the legacy options of the encode command can still apply.
type EncodingConfig struct {
	MaxLength        int    `mapstructure:"max_length"`
	Stride           int    `mapstructure:"stride"`
	Padding          string `mapstructure:"padding"`
	Truncation       string `mapstructure:"truncation"`
	AddSpecialTokens bool   `mapstructure:"add_special_tokens"`
	StrictExtraIDs   bool   `mapstructure:"strict_extra_ids"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: ".",
		},
		Encoding: EncodingConfig{
			AddSpecialTokens: true,
		},
		Output: OutputConfig{
			Format: FormatTable,
			Color:  true,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory with the tokenizer model and tokenizer_config.json")
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Path to the SentencePiece model (overrides --paths-model-dir)")
	fs.String("paths-tokenizer-config", defaults.Paths.TokenizerConfig, "Path to tokenizer_config.json, used with --paths-model-path")
	fs.Int("encoding-max-length", defaults.Encoding.MaxLength, "Maximum length of the encodings, special tokens included (0: model maximum)")
	fs.Int("encoding-stride", defaults.Encoding.Stride, "Overlapping tokens kept in the overflowing tokens")
	fs.String("encoding-padding", defaults.Encoding.Padding, "Padding strategy: do_not_pad, longest or max_length (default do_not_pad)")
	fs.String("encoding-truncation", defaults.Encoding.Truncation, "Truncation strategy: longest_first, only_first, only_second or do_not_truncate (default longest_first)")
	fs.Bool("encoding-add-special-tokens", defaults.Encoding.AddSpecialTokens, "Terminate sequences with the end-of-sequence token")
	fs.Bool("encoding-strict-extra-ids", defaults.Encoding.StrictExtraIDs, "Fail on extra ids outside the reserved block")
	fs.String("output-format", defaults.Output.Format, "Output format: table or json")
	fs.Bool("output-color", defaults.Output.Color, "Colorize table output")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("BIGBIRD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
	} else {
		v.SetConfigName("bigbird-tokenize")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, errors.Wrap(err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Accepted strategies; "" means not given.
var (
	paddingValues    = []string{"", "do_not_pad", "longest", "max_length"}
	truncationValues = []string{"", "longest_first", "only_first", "only_second", "do_not_truncate"}
)

// Validate checks the values that can't be checked by the flag parser.
func (c Config) Validate() error {
	switch c.Output.Format {
	case FormatTable, FormatJSON:
	default:
		return errors.Errorf("invalid output format %q: valid values are %q and %q", c.Output.Format, FormatTable, FormatJSON)
	}
	if !slices.Contains(paddingValues, c.Encoding.Padding) {
		return errors.Errorf("invalid padding %q: valid values are %q", c.Encoding.Padding, paddingValues[1:])
	}
	if !slices.Contains(truncationValues, c.Encoding.Truncation) {
		return errors.Errorf("invalid truncation %q: valid values are %q", c.Encoding.Truncation, truncationValues[1:])
	}
	if c.Encoding.MaxLength < 0 {
		return errors.Errorf("invalid max length %d", c.Encoding.MaxLength)
	}
	if c.Encoding.Stride < 0 {
		return errors.Errorf("invalid stride %d", c.Encoding.Stride)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.tokenizer_config", c.Paths.TokenizerConfig)
	v.SetDefault("encoding.max_length", c.Encoding.MaxLength)
	v.SetDefault("encoding.stride", c.Encoding.Stride)
	v.SetDefault("encoding.padding", c.Encoding.Padding)
	v.SetDefault("encoding.truncation", c.Encoding.Truncation)
	v.SetDefault("encoding.add_special_tokens", c.Encoding.AddSpecialTokens)
	v.SetDefault("encoding.strict_extra_ids", c.Encoding.StrictExtraIDs)
	v.SetDefault("output.format", c.Output.Format)
	v.SetDefault("output.color", c.Output.Color)
}

// flagKeys maps each flag to its configuration key.
var flagKeys = map[string]string{
	"paths-model-dir":             "paths.model_dir",
	"paths-model-path":            "paths.model_path",
	"paths-tokenizer-config":      "paths.tokenizer_config",
	"encoding-max-length":         "encoding.max_length",
	"encoding-stride":             "encoding.stride",
	"encoding-padding":            "encoding.padding",
	"encoding-truncation":         "encoding.truncation",
	"encoding-add-special-tokens": "encoding.add_special_tokens",
	"encoding-strict-extra-ids":   "encoding.strict_extra_ids",
	"output-format":               "output.format",
	"output-color":                "output.color",
}

// bindFlags binds the flags to their nested keys, so that flags, config file and environment all
// address the same key. Flags not registered in fs are skipped.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.Wrapf(err, "bind flag --%s", name)
		}
	}
	return nil
}
