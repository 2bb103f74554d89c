package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Empty(t, c.DataDir)
	assert.Empty(t, c.RelayAddr)
	assert.Equal(t, 24*time.Hour, c.SessionTTL)
	assert.Equal(t, 5*time.Second, c.DrainTimeout)
	assert.True(t, c.DeviceTrust)
	assert.Equal(t, 3, c.MaxFailedAttempts)
	assert.Equal(t, 300*time.Second, c.LockoutDuration)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.DeviceTrust)
}
