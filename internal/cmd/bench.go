package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/observability"
	"github.com/nmdm/nmdm/internal/output"
)

var (
	benchBaud    int64
	benchFraming string
	benchTick    time.Duration
	benchTicks   int
	benchBytes   int
	benchFormat  string
	benchStrict  bool
	benchPerTick bool
)

// benchOptions combines the bench flags with the configured link defaults.
// A zero tick falls back to link.tick.
func benchOptions(cfg *config.Config, baud int64, framing string, tick time.Duration, ticks, size int) (bench.Options, error) {
	line, err := core.ParseFraming(framing)
	if err != nil {
		return bench.Options{}, err
	}
	line.Baud = baud
	if err := line.Validate(); err != nil {
		return bench.Options{}, err
	}
	if tick <= 0 {
		tick = cfg.Link.Tick
	}
	return bench.Options{
		Line:       line,
		Tick:       tick,
		Ticks:      ticks,
		Bytes:      size,
		BufferSize: cfg.Link.BufferSize,
		BurstTicks: cfg.Link.BurstTicks,
	}, nil
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure rate emulation on a simulated clock",
	Long: `Drive a rate-limited pair for a number of timer ticks and compare the bytes
delivered with the line rate.

The clock is simulated, so the run is deterministic and finishes immediately
regardless of the tick interval. The expected count is
floor(ticks * baud * tick / bits-per-char), capped at the payload size.`,
	Example: `  nmdm bench --baud 9600 --framing 8N1
  nmdm bench --baud 300 --framing 7E2 --ticks 1000 --format json
  nmdm bench --baud 115200 --tick 1ms --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, err := output.ParseFormat(benchFormat)
		if err != nil {
			return withExitCode(foundry.ExitConfigInvalid, "Invalid output format", err)
		}
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		opts, err := benchOptions(cfg, benchBaud, benchFraming, benchTick, benchTicks, benchBytes)
		if err != nil {
			return withExitCode(foundry.ExitConfigInvalid, "Invalid line parameters", err)
		}

		observability.Logger().Debug("Running bench",
			zap.String("line", opts.Line.String()),
			zap.Duration("tick", opts.Tick),
			zap.Int("ticks", opts.Ticks),
			zap.Int("bytes", opts.Bytes))

		report, err := bench.Run(ctx, opts)
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Bench run failed", err)
		}
		if !benchPerTick {
			report.PerTick = nil
		}

		rendered, err := output.NewFormatter(format).FormatBench(report)
		if err != nil {
			return withExitCode(foundry.ExitFailure, "Failed to render report", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), rendered)

		if benchStrict && !report.Exact() {
			return withExitCode(foundry.ExitFailure, "Delivered bytes differ from the line rate",
				fmt.Errorf("delivered %d, expected %d", report.Delivered, report.Expected))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int64Var(&benchBaud, "baud", 9600, "line rate in bits per second (0 is unlimited)")
	benchCmd.Flags().StringVar(&benchFraming, "framing", "8N1", "character framing as <data bits><N|E|O><stop bits>")
	benchCmd.Flags().DurationVar(&benchTick, "tick", 0, "timer interval (default: link.tick)")
	benchCmd.Flags().IntVar(&benchTicks, "ticks", 100, "number of timer ticks to simulate")
	benchCmd.Flags().IntVar(&benchBytes, "bytes", 64*1024, "payload size in bytes")
	benchCmd.Flags().StringVar(&benchFormat, "format", "table", "output format: table, json, yaml, markdown")
	benchCmd.Flags().BoolVar(&benchStrict, "strict", false, "exit non-zero unless delivery matches the line rate exactly")
	benchCmd.Flags().BoolVar(&benchPerTick, "per-tick", false, "include per-tick delivery counts in json and yaml output")
}
