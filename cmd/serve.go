package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"firestige.xyz/otus-dissect/internal/capture"
	"firestige.xyz/otus-dissect/internal/log"
	"firestige.xyz/otus-dissect/pkg/bridge"
	"firestige.xyz/otus-dissect/pkg/plugin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve dissector callbacks on the host channel",
	Long: `
Serve dissector callbacks until the host closes the channel. Callbacks are
read from channel.in_fd (3 by default) and operations written to
channel.out_fd (4 by default).

When capture.dir is set, or the variable named by capture.env holds a
directory, both directions are recorded to a CBOR file there.

Examples:
  otus-dissect serve                       # Serve on fds 3/4 with defaults
  otus-dissect serve -c dissect.yml        # Serve with a configuration file
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			exitWithError("serve failed", err)
		}
	},
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := log.GetLogger()

	in, err := openFD(cfg.Channel.InFD, "dissect-in")
	if err != nil {
		return fmt.Errorf("callback channel: %w", err)
	}
	defer in.Close()
	out, err := openFD(cfg.Channel.OutFD, "dissect-out")
	if err != nil {
		return fmt.Errorf("operation channel: %w", err)
	}
	defer out.Close()

	var r io.Reader = in
	var w io.Writer = out
	if dir := capture.ResolveDir(cfg.Capture.Dir, cfg.Capture.Env); dir != "" {
		rec, err := capture.Create(dir)
		if err != nil {
			logger.WithError(err).Warn("channel capture disabled")
		} else {
			defer rec.Close()
			logger.WithField("path", rec.Path()).Info("capturing channel traffic")
			r = rec.TeeReader(in)
			w = rec.TeeWriter(out)
		}
	}

	b := bridge.New(r, w, bridgeOptions(cfg))
	if err := plugin.Load(b.Engine, cfg.ClassifierOptions()); err != nil {
		b.ReportFatal(err)
		return err
	}
	if err := b.Run(); err != nil {
		b.ReportFatal(err)
		return err
	}
	return nil
}

// openFD wraps an inherited descriptor after checking that it is open.
func openFD(fd int, name string) (*os.File, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("fd %d is not open: %w", fd, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
