package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-dissect/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file and print the effective configuration,
defaults and environment overrides included.

Examples:
  otus-dissect validate -c dissect.yml
  DISSECT_SIP_DIALOG_TTL=1m otus-dissect validate`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	data, err := config.Dump(cfg)
	if err != nil {
		exitWithError("failed to render config", err)
	}
	fmt.Println("VALID")
	os.Stdout.Write(data)
}
