// Package main is the entry point for the Otus dissector plugin.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/otus-dissect/cmd"
	_ "firestige.xyz/otus-dissect/plugins"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
