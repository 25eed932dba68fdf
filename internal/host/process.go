package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"firestige.xyz/otus-dissect/pkg/bridge"
	"firestige.xyz/otus-dissect/pkg/plugin"
)

// StartInProcess runs a bridge on its own goroutine, connected to a new
// emulator through in-memory pipes. setup installs classifiers on the
// bridge's engine before it starts serving.
func StartInProcess(opts Options, bopts bridge.Options, setup func(*plugin.Engine) error) (*Emulator, error) {
	toPluginR, toPluginW := io.Pipe()
	fromPluginR, fromPluginW := io.Pipe()

	b := bridge.New(toPluginR, fromPluginW, bopts)
	if setup != nil {
		if err := setup(b.Engine); err != nil {
			return nil, err
		}
	}

	done := make(chan error, 1)
	go func() {
		err := b.Run()
		if err != nil {
			b.ReportFatal(err)
		}
		// Unblock the emulator whichever side stopped first.
		fromPluginW.Close()
		toPluginR.Close()
		done <- err
	}()

	em := New(fromPluginR, toPluginW, opts)
	em.closer = toPluginW
	em.wait = func() error {
		fromPluginR.Close()
		return <-done
	}
	return em, nil
}

// Spawn starts a plugin executable with the callback stream on fd 3 and the
// plugin's outbound stream on fd 4.
func Spawn(ctx context.Context, opts Options, path string, args ...string) (*Emulator, error) {
	toPluginR, toPluginW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create plugin pipe: %w", err)
	}
	fromPluginR, fromPluginW, err := os.Pipe()
	if err != nil {
		toPluginR.Close()
		toPluginW.Close()
		return nil, fmt.Errorf("create plugin pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.ExtraFiles = []*os.File{toPluginR, fromPluginW}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{toPluginR, toPluginW, fromPluginR, fromPluginW} {
			f.Close()
		}
		return nil, fmt.Errorf("start plugin %s: %w", path, err)
	}
	// The child holds its own copies.
	toPluginR.Close()
	fromPluginW.Close()

	em := New(fromPluginR, toPluginW, opts)
	em.closer = toPluginW
	em.wait = func() error {
		err := cmd.Wait()
		fromPluginR.Close()
		if err != nil {
			return fmt.Errorf("plugin %s: %w", path, err)
		}
		return nil
	}
	em.logger.WithFields(map[string]any{"plugin": path, "pid": cmd.Process.Pid}).Debug("plugin started")
	return em, nil
}
