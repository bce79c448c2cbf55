package config

import "time"

// Config represents the complete application configuration. Values are
// layered: built-in defaults, then the user config file, then environment
// variables, then runtime overrides.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Link     LinkConfig     `mapstructure:"link"`
	Registry RegistryConfig `mapstructure:"registry"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`

	// Workers is the number of goroutines running transfer tasks.
	Workers int `mapstructure:"workers"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LinkConfig sets the defaults applied to every pair.
type LinkConfig struct {
	// BufferSize is the capacity of each input and output queue in bytes.
	BufferSize int `mapstructure:"buffer_size"`
	// Tick is the quota replenishment interval.
	Tick time.Duration `mapstructure:"tick"`
	// BurstTicks bounds how many ticks of credit an idle endpoint keeps.
	BurstTicks int `mapstructure:"burst_ticks"`
	// DefaultRate in bits per second; zero leaves new pairs unlimited.
	DefaultRate int64 `mapstructure:"default_rate"`
}

// RegistryConfig controls pair creation.
type RegistryConfig struct {
	MaxPairs        int  `mapstructure:"max_pairs"`
	CloneOnOpen     bool `mapstructure:"clone_on_open"`
	DiscardOnHangup bool `mapstructure:"discard_on_hangup"`
}

// BridgeConfig controls pty bridging.
type BridgeConfig struct {
	TermiosPoll  time.Duration `mapstructure:"termios_poll"`
	EmulateSpeed bool          `mapstructure:"emulate_speed"`
	ReadChunk    int           `mapstructure:"read_chunk"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
