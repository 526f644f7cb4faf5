package main

import (
	"flag"

	"github.com/gomlx/go-bigbird-tokenizer/internal/config"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/bigbird"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	cfgFile   string
	activeCfg config.Config
	cfgLoaded bool
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "bigbird-tokenize",
		Short:         "BigBird tokenizer command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			cfgLoaded = true
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	// klog's flags (-v, -logtostderr, ...) control the diagnostics.
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newVocabCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

func requireConfig() (config.Config, error) {
	if !cfgLoaded {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

// openTokenizer loads the tokenizer configured in cfg. Tests replace it.
var openTokenizer = func(cfg config.Config) (*bigbird.Tokenizer, error) {
	var (
		tokConfig *api.Config
		modelPath = cfg.Paths.ModelPath
		err       error
	)
	if modelPath != "" {
		tokConfig = api.DefaultConfig()
		if cfg.Paths.TokenizerConfig != "" {
			tokConfig, err = api.ParseConfigFile(cfg.Paths.TokenizerConfig)
			if err != nil {
				return nil, err
			}
		}
	} else {
		tokConfig, modelPath, err = bigbird.ResolveDir(cfg.Paths.ModelDir)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Encoding.StrictExtraIDs {
		tokConfig.StrictExtraIDs = true
	}
	klog.V(1).Infof("loading tokenizer model %q", modelPath)
	return bigbird.New(tokConfig, modelPath)
}

// loadTokenizer returns the active configuration and the tokenizer it configures.
func loadTokenizer() (config.Config, *bigbird.Tokenizer, error) {
	cfg, err := requireConfig()
	if err != nil {
		return cfg, nil, err
	}
	tok, err := openTokenizer(cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, tok, nil
}
