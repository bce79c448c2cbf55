package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/nmdm/nmdm/internal/bridge"
	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
)

// loadConfig loads the layered configuration, tagging failures with the
// config-invalid exit code.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, withExitCode(foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}
	return cfg, nil
}

// registryOptions maps configuration onto registry and link options.
func registryOptions(cfg *config.Config, logger link.Logger, observer registry.Observer) registry.Options {
	return registry.Options{
		MaxPairs:        cfg.Registry.MaxPairs,
		CloneOnOpen:     cfg.Registry.CloneOnOpen,
		DiscardOnHangup: cfg.Registry.DiscardOnHangup,
		DefaultRate:     cfg.Link.DefaultRate,
		Workers:         cfg.Workers,
		Link: link.Options{
			BufferSize: cfg.Link.BufferSize,
			Tick:       cfg.Link.Tick,
			BurstTicks: cfg.Link.BurstTicks,
		},
		Logger:   logger,
		Observer: observer,
	}
}

// bridgeOptions maps configuration onto pty bridge options.
func bridgeOptions(cfg *config.Config, logger link.Logger) bridge.Options {
	return bridge.Options{
		TermiosPoll:  cfg.Bridge.TermiosPoll,
		EmulateSpeed: cfg.Bridge.EmulateSpeed,
		ReadChunk:    cfg.Bridge.ReadChunk,
		Logger:       logger,
	}
}
