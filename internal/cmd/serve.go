package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmdm/nmdm/internal/appid"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core/registry"
	errwrap "github.com/nmdm/nmdm/internal/errors"
	"github.com/nmdm/nmdm/internal/metrics"
	"github.com/nmdm/nmdm/internal/observability"
	"github.com/nmdm/nmdm/internal/server"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// serveOverrides turns explicitly set flags into a runtime config layer.
func serveOverrides(cmd *cobra.Command) map[string]any {
	server := map[string]any{}
	if cmd.Flags().Changed("host") {
		server["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		server["port"] = serverPort
	}
	if len(server) == 0 {
		return nil
	}
	return map[string]any{"server": server}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the null-modem registry with its HTTP control plane",
	Long: `Run the pair registry and expose it over HTTP.

Pairs are created with POST /v1/pairs (or on first use of a port name when
registry.clone_on_open is set) and driven through /v1/ports/{name}.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload logging level from the config file

On shutdown the HTTP server is drained and every pair is torn down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			return err
		}

		identity := appid.Get()
		namespace := identity.TelemetryNamespace()
		observability.InitLogging(identity.BinaryName, cfg.Logging.Profile, cfg.Logging.Level, verbose, namespace)
		logger := observability.Logger()

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return withExitCode(foundry.ExitFailure, "Metrics initialization failed", err)
			}
		}

		reg := registry.New(registryOptions(cfg, logger, metrics.LinkObserver{}))
		srv := server.New(*cfg, reg)
		if cfg.Metrics.Enabled {
			srv.Health().RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt)

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("addr", srv.Addr()),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.Int("workers", reg.Executor().Workers()),
			zap.Int("max_pairs", cfg.Registry.MaxPairs),
			zap.Duration("tick", cfg.Link.Tick))

		// Shutdown handlers run last-registered first.
		signals.OnShutdown(func(ctx context.Context) error {
			metrics.SetServerUptime(time.Since(startedAt))
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter stop returned error", zap.Error(err))
			}
			if observability.ServerLogger != nil {
				_ = observability.ServerLogger.Sync()
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			if err := reg.Shutdown(true); err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "registry shutdown failed")
			}
			logger.Info("Registry shut down")
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return errwrap.Wrap(ctx, errwrap.CodeInternal, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			reloaded, err := config.Load(ctx, serveOverrides(cmd))
			if err != nil {
				logger.Error("Failed to reload config", zap.Error(err))
				return err
			}
			logger.Info("Configuration reloaded",
				zap.String("file", config.ConfigFileUsed()),
				zap.String("level", reloaded.Logging.Level))
			observability.InitLogging(identity.BinaryName, reloaded.Logging.Profile, reloaded.Logging.Level, verbose, namespace)
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
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
				return
			}
			errChan <- nil
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			_ = reg.Shutdown(true)
			return withExitCode(foundry.ExitFailure, "Server error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
