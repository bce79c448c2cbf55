package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/bridge"
	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/registry"
	"github.com/nmdm/nmdm/internal/observability"
	"github.com/nmdm/nmdm/internal/output"
)

var (
	ptyUnit         int64
	ptyRate         int64
	ptyEmulateSpeed bool
	ptyLinkDir      string
	ptyFormat       string
)

// ptyOverrides turns explicitly set flags into a runtime config layer.
func ptyOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("rate") {
		overrides["link"] = map[string]any{"default_rate": ptyRate}
	}
	if cmd.Flags().Changed("emulate-speed") {
		overrides["bridge"] = map[string]any{"emulate_speed": ptyEmulateSpeed}
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}

// linkPorts creates <dir>/<name> symlinks pointing at the pty devices and
// returns a function that removes them.
func linkPorts(dir string, entry *registry.Entry, br *bridge.Bridge) (func(), error) {
	var created []string
	cleanup := func() {
		for _, path := range created {
			_ = os.Remove(path)
		}
	}
	for _, side := range []core.Side{core.SideA, core.SideB} {
		path := filepath.Join(dir, entry.Name(side))
		if err := os.Symlink(br.Path(side), path); err != nil {
			cleanup()
			return nil, fmt.Errorf("link %s: %w", path, err)
		}
		created = append(created, path)
	}
	return cleanup, nil
}

func printPorts(w io.Writer, entry *registry.Entry, br *bridge.Bridge) {
	for _, side := range []core.Side{core.SideA, core.SideB} {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", entry.Name(side), br.Path(side))
	}
}

var ptyCmd = &cobra.Command{
	Use:   "pty",
	Short: "Bridge a pair to two pseudo-terminals",
	Long: `Create one pair and expose both ports as pseudo-terminals.

The device paths are printed as "<port>\t<path>", one per line. Serial programs
opened on the two paths talk to each other through the emulated link. With
--emulate-speed the baud rate each program sets on its terminal paces the
bytes it sends.

The bridge runs until interrupted, then prints the pair's final counters.`,
	Example: `  nmdm pty
  nmdm pty --unit 3 --rate 9600
  nmdm pty --emulate-speed --link-dir /tmp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := output.ParseFormat(ptyFormat)
		if err != nil {
			return withExitCode(foundry.ExitConfigInvalid, "Invalid output format", err)
		}
		cfg, err := loadConfig(ctx, ptyOverrides(cmd))
		if err != nil {
			return err
		}
		logger := observability.Logger()

		reg := registry.New(registryOptions(cfg, logger, nil))
		defer func() { _ = reg.Shutdown(true) }()

		var entry *registry.Entry
		if ptyUnit >= 0 {
			entry, err = reg.Create(uint64(ptyUnit))
		} else {
			entry, err = reg.CreateNext()
		}
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Failed to create pair", err)
		}

		br, err := bridge.Open(entry.Pair, bridgeOptions(cfg, logger))
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Failed to open pseudo-terminals", err)
		}
		defer func() { _ = br.Close() }()

		if ptyLinkDir != "" {
			unlink, err := linkPorts(ptyLinkDir, entry, br)
			if err != nil {
				return withExitCode(foundry.ExitFailure, "Failed to link port names", err)
			}
			defer unlink()
		}

		printPorts(cmd.OutOrStdout(), entry, br)
		logger.Info("Bridge running",
			zap.Uint64("unit", entry.Unit),
			zap.String("a", br.Path(core.SideA)),
			zap.String("b", br.Path(core.SideB)),
			zap.Bool("emulate_speed", cfg.Bridge.EmulateSpeed))

		done := make(chan struct{})
		signals.OnShutdown(func(ctx context.Context) error {
			close(done)
			return nil
		})
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := signals.Listen(ctx); err != nil {
				errChan <- err
			}
		}()

		select {
		case <-done:
		case <-ctx.Done():
		case <-entry.Pair.Done():
		case err := <-errChan:
			return withExitCode(foundry.ExitFailure, "Signal handler error", err)
		}

		rendered, err := output.NewFormatter(format).FormatPairs([]core.PairStats{entry.Stats()})
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Failed to render pair stats", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ptyCmd)

	ptyCmd.Flags().Int64Var(&ptyUnit, "unit", -1, "unit number for the pair (default: lowest free unit)")
	ptyCmd.Flags().Int64Var(&ptyRate, "rate", 0, "line rate in bits per second for both ports (overrides link.default_rate)")
	ptyCmd.Flags().BoolVar(&ptyEmulateSpeed, "emulate-speed", false, "pace each port at its terminal baud rate (overrides bridge.emulate_speed)")
	ptyCmd.Flags().StringVar(&ptyLinkDir, "link-dir", "", "directory in which to create nmdm<N>A/B symlinks to the devices")
	ptyCmd.Flags().StringVar(&ptyFormat, "format", "table", "format for the final stats: table, json, yaml, markdown")
}
