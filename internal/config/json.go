package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/accessmate/accessmate/internal/flagx"
	"github.com/accessmate/accessmate/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be written either as strings like "5s" or
// as integer nanoseconds.
type JsonConfig struct {
	DataDir           string         `json:"data_dir"`
	RelayAddr         string         `json:"relay_addr"`
	RelayToken        string         `json:"relay_token"`
	SessionTTL        timex.Duration `json:"session_ttl"`
	DrainTimeout      timex.Duration `json:"drain_timeout"`
	DeviceTrust       *bool          `json:"device_trust"`
	MaxFailedAttempts int            `json:"max_failed_attempts"`
	LockoutDuration   timex.Duration `json:"lockout_duration"`
}

// parseJson overlays cfg with values from the JSON file named by -c or
// -config. No file selected means no overlay. Absent fields keep their
// earlier values; read or unmarshal errors panic, matching the startup
// contract that a named config file must be usable.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.RelayAddr != "" {
		cfg.RelayAddr = jc.RelayAddr
	}
	if jc.RelayToken != "" {
		cfg.RelayToken = jc.RelayToken
	}
	if jc.SessionTTL.Duration > 0 {
		cfg.SessionTTL = time.Duration(jc.SessionTTL.Duration)
	}
	if jc.DrainTimeout.Duration > 0 {
		cfg.DrainTimeout = time.Duration(jc.DrainTimeout.Duration)
	}
	if jc.DeviceTrust != nil {
		cfg.DeviceTrust = *jc.DeviceTrust
	}
	if jc.MaxFailedAttempts > 0 {
		cfg.MaxFailedAttempts = jc.MaxFailedAttempts
	}
	if jc.LockoutDuration.Duration > 0 {
		cfg.LockoutDuration = time.Duration(jc.LockoutDuration.Duration)
	}
}
