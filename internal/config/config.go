// Package config loads runtime configuration for the AccessMate client.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
package config

import "time"

// Config holds the installation-level knobs of the client. Per-user
// preferences live in the settings store instead; this is only what must be
// known before anyone is logged in.
type Config struct {
	// DataDir overrides the platform-default data directory when non-empty.
	DataDir string

	// RelayAddr is the base URL of the cloud relay, e.g.
	// "https://relay.accessmate.app". Empty disables cloud sync.
	RelayAddr string

	// RelayToken authenticates this installation against the relay.
	RelayToken string

	SessionTTL        time.Duration
	DrainTimeout      time.Duration
	DeviceTrust       bool
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = ""
	c.RelayAddr = ""
	c.RelayToken = ""
	c.SessionTTL = 24 * time.Hour
	c.DrainTimeout = 5 * time.Second
	c.DeviceTrust = true
	c.MaxFailedAttempts = 3
	c.LockoutDuration = 300 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags. Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
