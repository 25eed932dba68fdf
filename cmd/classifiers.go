package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

var classifiersCmd = &cobra.Command{
	Use:   "classifiers",
	Short: "List built-in classifiers",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			exitWithError("failed to load config", err)
		}
		e := plugin.NewEngine(nil, plugin.WithEnabled(cfg.Classifiers.Enabled))
		for _, name := range plugin.ListClassifiers() {
			state := "disabled"
			if e.Enabled(name) {
				state = "enabled"
			}
			fmt.Printf("%-10s %s\n", name, state)
		}
	},
}
