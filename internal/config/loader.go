// Package config provides centralized configuration management for nmdm.
// Configuration is layered with viper:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: user config file (--config or the XDG config directory)
// Layer 3: environment variables (gofulmen/config env specs) and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/nmdm/nmdm/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex

	configFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile selects an explicit config file, as given by --config.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration from defaults, the user config file, environment
// variables and the given runtime overrides, in increasing precedence.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	for _, layer := range append([]map[string]any{envOverrides}, runtimeOverrides...) {
		if len(layer) == 0 {
			continue
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return nil
	}

	path := DefaultConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// ConfigFileUsed returns the file Load reads, or "" when none applies.
func ConfigFileUsed() string {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit != "" {
		return explicit
	}
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Link defaults: hz=100 timer, 4 KiB queues
	v.SetDefault("link.buffer_size", 4096)
	v.SetDefault("link.tick", "10ms")
	v.SetDefault("link.burst_ticks", 2)
	v.SetDefault("link.default_rate", 0)

	// Registry defaults
	v.SetDefault("registry.max_pairs", 256)
	v.SetDefault("registry.clone_on_open", true)
	v.SetDefault("registry.discard_on_hangup", false)

	// Bridge defaults
	v.SetDefault("bridge.termios_poll", "250ms")
	v.SetDefault("bridge.emulate_speed", false)
	v.SetDefault("bridge.read_chunk", 1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Worker defaults
	v.SetDefault("workers", 2)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Validate rejects settings the link layer cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Link.BufferSize <= 0:
		return fmt.Errorf("link.buffer_size must be positive: %d", c.Link.BufferSize)
	case c.Link.Tick <= 0:
		return fmt.Errorf("link.tick must be positive: %s", c.Link.Tick)
	case c.Link.BurstTicks <= 0:
		return fmt.Errorf("link.burst_ticks must be positive: %d", c.Link.BurstTicks)
	case c.Link.DefaultRate < 0:
		return fmt.Errorf("link.default_rate must not be negative: %d", c.Link.DefaultRate)
	case c.Registry.MaxPairs < 0:
		return fmt.Errorf("registry.max_pairs must not be negative: %d", c.Registry.MaxPairs)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive: %d", c.Workers)
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := appid.Get().Prefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Link config
		{Name: prefix + "LINK_BUFFER_SIZE", Path: []string{"link", "buffer_size"}, Type: EnvInt},
		{Name: prefix + "LINK_TICK", Path: []string{"link", "tick"}, Type: EnvString},
		{Name: prefix + "LINK_BURST_TICKS", Path: []string{"link", "burst_ticks"}, Type: EnvInt},
		{Name: prefix + "LINK_DEFAULT_RATE", Path: []string{"link", "default_rate"}, Type: EnvInt},

		// Registry config
		{Name: prefix + "MAX_PAIRS", Path: []string{"registry", "max_pairs"}, Type: EnvInt},
		{Name: prefix + "CLONE_ON_OPEN", Path: []string{"registry", "clone_on_open"}, Type: EnvBool},
		{Name: prefix + "DISCARD_ON_HANGUP", Path: []string{"registry", "discard_on_hangup"}, Type: EnvBool},

		// Bridge config
		{Name: prefix + "BRIDGE_TERMIOS_POLL", Path: []string{"bridge", "termios_poll"}, Type: EnvString},
		{Name: prefix + "BRIDGE_EMULATE_SPEED", Path: []string{"bridge", "emulate_speed"}, Type: EnvBool},
		{Name: prefix + "BRIDGE_READ_CHUNK", Path: []string{"bridge", "read_chunk"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Get().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
