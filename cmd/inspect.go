package cmd

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-dissect/internal/capture"
)

var inspectDump bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <capture.cbor>",
	Short: "List the records of a channel capture",
	Long: `
List the records of a channel capture written by "serve" with capture enabled.

Examples:
  otus-dissect inspect /tmp/dissect/capture-<id>.cbor
  otus-dissect inspect --dump /tmp/dissect/capture-<id>.cbor
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		records, err := capture.ReadFile(args[0])
		for _, r := range records {
			fmt.Printf("%6d %s %-3s %d bytes\n", r.Seq, r.TS.Format(time.RFC3339Nano), r.Dir, len(r.Data))
			if inspectDump {
				fmt.Print(hex.Dump(r.Data))
			}
		}
		fmt.Printf("in: %d bytes, out: %d bytes\n",
			len(capture.Stream(records, capture.DirIn)),
			len(capture.Stream(records, capture.DirOut)))
		if err != nil {
			exitWithError("capture is damaged", err)
		}
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectDump, "dump", false, "hex dump every record")
}
