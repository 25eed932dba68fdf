package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/otus-dissect/internal/host"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/plugin"
)

var (
	replayInput   string
	replayPlugin  string
	replayDecoder string
	replayOutput  string
	replayFlush   time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a capture file through the dissector",
	Long: `
Replay a pcap or pcapng file through the dissector with an emulated host and
print what the classifiers reported for every session as YAML.

By default the built-in classifiers run in this process. With --plugin the
given executable is started as a separate plugin process on fds 3 and 4.

Examples:
  otus-dissect replay -r call.pcap                          # Report to stdout
  otus-dissect replay -r call.pcapng -d default -o out.yml  # Include decoded views
  otus-dissect replay -r call.pcap --plugin ./otus-dissect -- serve
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runReplay(cmd, args); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "read", "r", "", "capture file to replay (required)")
	replayCmd.Flags().StringVar(&replayPlugin, "plugin", "", "plugin executable; built-in classifiers when empty")
	replayCmd.Flags().StringVarP(&replayDecoder, "decoder", "d", "", "decoder for session views (overrides replay.decoder)")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "report file (overrides replay.report, stdout when empty)")
	replayCmd.Flags().DurationVar(&replayFlush, "flush-timeout", 0, "TCP gap flush timeout (overrides replay.flush_timeout)")
	replayCmd.MarkFlagRequired("read")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := host.ReplayOptions{Decoder: cfg.Replay.Decoder, FlushTimeout: cfg.Replay.FlushTimeout}
	if cmd.Flags().Changed("decoder") {
		opts.Decoder = replayDecoder
	}
	if cmd.Flags().Changed("flush-timeout") {
		opts.FlushTimeout = replayFlush
	}
	output := cfg.Replay.Report
	if replayOutput != "" {
		output = replayOutput
	}

	hopts := host.Options{
		Limits:     bridgeOptions(cfg).Limits,
		BufferSize: cfg.Channel.BufferSize,
	}
	var em *host.Emulator
	if replayPlugin != "" {
		em, err = host.Spawn(context.Background(), hopts, replayPlugin, args...)
	} else {
		em, err = host.StartInProcess(hopts, bridgeOptions(cfg), func(e *plugin.Engine) error {
			return plugin.Load(e, cfg.ClassifierOptions())
		})
	}
	if err != nil {
		return err
	}

	f, err := os.Open(replayInput)
	if err != nil {
		_ = em.Shutdown()
		return err
	}
	defer f.Close()

	report, err := em.Replay(f, opts)
	if shutErr := em.Shutdown(); err == nil {
		err = shutErr
	}
	if err != nil {
		return err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"packets":  report.Packets,
		"sessions": len(report.Sessions),
	}).Info("replay finished")

	var w io.Writer = os.Stdout
	if output != "" {
		out, err := os.Create(output)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	return report.WriteYAML(w)
}
