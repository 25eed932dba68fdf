// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-dissect/internal/config"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/bridge"
	"firestige.xyz/otus-dissect/pkg/wire"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "otus-dissect",
	Short: "Otus dissect - out-of-process protocol dissector plugin",
	Long: `Otus dissect serves protocol classifiers, parsers and decoders to a capture
engine over a pair of pipes. The engine invokes callbacks (register, define,
classify, parse, free, decode) and the plugin answers with engine operations
such as registering parsers, tagging sessions and adding field values.

Built-in classifiers:
  - sample: length-prefixed TLV protocol with an obfuscated body
  - sip:    SIP over UDP, with dialog tracking`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(classifiersCmd)
}

// loadConfig loads the configuration and installs its logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func bridgeOptions(cfg *config.Config) bridge.Options {
	return bridge.Options{
		Limits:     wire.Limits{MaxBlob: cfg.Channel.MaxBlobBytes},
		BufferSize: cfg.Channel.BufferSize,
		Enabled:    cfg.Classifiers.Enabled,
		RenderHTML: cfg.Decode.RenderHTML,
	}
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
