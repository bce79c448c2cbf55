// Package appid holds the application identity used for help text, config
// discovery, environment variable prefixes and telemetry namespaces.
package appid

import "strings"

// Identity describes the application to the rest of the binary.
type Identity struct {
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
	Vendor      string
}

var identity = Identity{
	BinaryName:  "nmdm",
	ConfigName:  "nmdm",
	EnvPrefix:   "NMDM_",
	Description: "Null-modem emulator with rate-limited linked serial endpoints",
	Vendor:      "nmdm",
}

// Get returns the application identity.
func Get() Identity {
	return identity
}

// TelemetryNamespace returns the metric prefix derived from the binary name.
func (i Identity) TelemetryNamespace() string {
	ns := strings.ToLower(strings.TrimSpace(i.BinaryName))
	if ns == "" {
		return "app"
	}
	return strings.ReplaceAll(ns, "-", "_")
}

// Prefix returns EnvPrefix with a trailing underscore.
func (i Identity) Prefix() string {
	if i.EnvPrefix == "" || strings.HasSuffix(i.EnvPrefix, "_") {
		return i.EnvPrefix
	}
	return i.EnvPrefix + "_"
}
