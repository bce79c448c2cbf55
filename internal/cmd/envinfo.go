package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/appid"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, effective configuration and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := appid.Get()

		log.Info("=== " + identity.BinaryName + " environment ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Env Prefix: " + identity.Prefix())
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := config.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath() + " (not present, using defaults)"
		}
		log.Info("Configuration:")
		log.Info("  Config File:    " + configFile)
		log.Info(fmt.Sprintf("  Listen:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Workers:        %d", cfg.Workers))
		log.Info("")

		log.Info("Link:")
		log.Info(fmt.Sprintf("  Buffer Size:    %d bytes", cfg.Link.BufferSize), zap.Int("buffer_size", cfg.Link.BufferSize))
		log.Info("  Tick:           "+cfg.Link.Tick.String(), zap.Duration("tick", cfg.Link.Tick))
		log.Info(fmt.Sprintf("  Burst Ticks:    %d", cfg.Link.BurstTicks))
		if cfg.Link.DefaultRate > 0 {
			log.Info(fmt.Sprintf("  Default Rate:   %d bit/s", cfg.Link.DefaultRate))
		} else {
			log.Info("  Default Rate:   unlimited")
		}
		log.Info("")

		log.Info("Registry:")
		log.Info(fmt.Sprintf("  Max Pairs:      %d", cfg.Registry.MaxPairs))
		log.Info(fmt.Sprintf("  Clone On Open:  %t", cfg.Registry.CloneOnOpen))
		log.Info(fmt.Sprintf("  Hangup Discard: %t", cfg.Registry.DiscardOnHangup))
		log.Info("")

		log.Info("Bridge:")
		log.Info("  Termios Poll:   " + cfg.Bridge.TermiosPoll.String())
		log.Info(fmt.Sprintf("  Emulate Speed:  %t", cfg.Bridge.EmulateSpeed))
		log.Info(fmt.Sprintf("  Read Chunk:     %d bytes", cfg.Bridge.ReadChunk))
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
