package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nmdm/nmdm/internal/appid"
	"github.com/nmdm/nmdm/internal/bench"
	"github.com/nmdm/nmdm/internal/bridge"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core"
	"github.com/nmdm/nmdm/internal/core/link"
	apperrors "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/observability"
)

// checkPTY opens and closes a bridge on a throwaway pair.
func checkPTY(cfg *config.Config) (string, error) {
	pair := link.NewPair(link.Options{BufferSize: cfg.Link.BufferSize, Tick: cfg.Link.Tick, Label: "doctor"})
	defer func() { _ = pair.Close(true) }()

	opts := bridgeOptions(cfg, nil)
	opts.TermiosPoll = -1
	br, err := bridge.Open(pair, opts)
	if err != nil {
		return "", err
	}
	path := br.Path(core.SideA)
	return path, br.Close()
}

// checkRateEmulation runs a short bench whose expected count is exact.
func checkRateEmulation(ctx context.Context) (*bench.Report, error) {
	return bench.Run(ctx, bench.Options{
		Line:  core.LineParams{Baud: 800, DataBits: 6, Parity: core.ParityNone, StopBits: 1},
		Tick:  100 * time.Millisecond,
		Ticks: 10,
		Bytes: 1024,
	})
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := appid.Get()
		log.Info("=== " + identity.BinaryName + " doctor ===")
		log.Info("")
		log.Info("Running diagnostic checks...")
		log.Info("")

		allChecks := true
		totalChecks := 7

		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			log.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			log.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", totalChecks, version.Gofulmen, version.Crucible),
				zap.String("gofulmen_version", version.Gofulmen),
				zap.String("crucible_version", version.Crucible))
		} else {
			log.Error(fmt.Sprintf("[2/%d] Checking Gofulmen/Crucible... ❌ version metadata unavailable", totalChecks))
			ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", apperrors.NewInternalError("crucible version unavailable"))
		}

		configPath := config.DefaultConfigPath()
		if configPath == "" {
			log.Error(fmt.Sprintf("[3/%d] Checking config directory... ❌ Cannot resolve config directory", totalChecks))
			ExitWithCode(log, foundry.ExitFileNotFound, "Cannot resolve config directory", apperrors.NewInternalError("config directory not resolved"))
		}
		log.Info(fmt.Sprintf("[3/%d] Checking config directory... ✅ %s", totalChecks, filepath.Dir(configPath)), zap.String("config_dir", filepath.Dir(configPath)))

		cfg, cfgErr := config.Load(ctx)
		if cfgErr != nil {
			log.Warn(fmt.Sprintf("[4/%d] Checking configuration... ⚠️  invalid", totalChecks), zap.Error(cfgErr))
			allChecks = false
		} else if used := config.ConfigFileUsed(); used != "" {
			log.Info(fmt.Sprintf("[4/%d] Checking configuration... ✅ %s", totalChecks, used))
		} else {
			log.Info(fmt.Sprintf("[4/%d] Checking configuration... ✅ defaults (run '%s doctor init' to create a file)", totalChecks, identity.BinaryName))
		}

		log.Info(fmt.Sprintf("[5/%d] Checking environment... ✅ %s/%s", totalChecks, runtime.GOOS, runtime.GOARCH),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		if cfgErr == nil {
			if path, err := checkPTY(cfg); err != nil {
				log.Warn(fmt.Sprintf("[6/%d] Checking pseudo-terminals... ⚠️  unavailable ('%s pty' will not work)", totalChecks, identity.BinaryName), zap.Error(err))
				allChecks = false
			} else {
				log.Info(fmt.Sprintf("[6/%d] Checking pseudo-terminals... ✅ %s", totalChecks, path))
			}
		} else {
			log.Warn(fmt.Sprintf("[6/%d] Checking pseudo-terminals... ⚠️  skipped (config not loaded)", totalChecks))
		}

		if report, err := checkRateEmulation(ctx); err != nil {
			log.Error(fmt.Sprintf("[7/%d] Checking rate emulation... ❌ %v", totalChecks, err))
			allChecks = false
		} else if !report.Exact() {
			log.Error(fmt.Sprintf("[7/%d] Checking rate emulation... ❌ delivered %d, expected %d", totalChecks, report.Delivered, report.Expected))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[7/%d] Checking rate emulation... ✅ %d bytes at %s", totalChecks, report.Delivered, report.Line.String()))
		}

		log.Info("")
		if allChecks {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", identity.BinaryName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("")
		log.Info("=== End Diagnostics ===")
	},
}

var doctorInitForce bool

// defaultConfigYAML renders the built-in defaults as a config file.
func defaultConfigYAML() ([]byte, error) {
	v := viper.New()
	config.SetDefaults(v)
	body, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("# %s config - created by '%s doctor init'\n", appid.Get().BinaryName, appid.Get().BinaryName)
	return append([]byte(header), body...), nil
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the built-in defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return withExitCode(foundry.ExitFileNotFound, "Config path not resolved", nil)
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		body, err := defaultConfigYAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, body, 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		used := config.ConfigFileUsed()
		if used == "" {
			observability.CLILogger.Info("No config file found; built-in defaults apply",
				zap.String("expected_path", config.DefaultConfigPath()))
			return nil
		}
		if _, err := loadConfig(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", used))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			observability.CLILogger.Warn("Config path not resolved; nothing to reset")
			return nil
		}
		if err := os.Remove(configPath); err == nil {
			observability.CLILogger.Info("Config removed", zap.String("path", configPath))
		} else if os.IsNotExist(err) {
			observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
		} else {
			return fmt.Errorf("remove config file: %w", err)
		}
		return nil
	},
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorValidateCmd)
	doctorCmd.AddCommand(doctorResetCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite an existing config file")
}
