package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "racelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.Listener.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Controller.StartAckTimeout)
	assert.Equal(t, 700*time.Millisecond, cfg.Master.PeerAckTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Master.ReplyDelay)
	assert.Equal(t, 20.0, cfg.Sensor.Threshold)
	assert.Equal(t, 10, cfg.Sensor.BufferSize)
	assert.True(t, cfg.Secondary.StopAbortsWait)
	assert.Equal(t, 6400*time.Millisecond, cfg.DistanceBudget())
	assert.Greater(t, cfg.Controller.ResponseTimeout, cfg.DistanceBudget())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
sensor:
  threshold_cm: 35
  sample_interval: 50ms
secondary:
  stop_aborts_wait: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 35.0, cfg.Sensor.Threshold)
	assert.Equal(t, 50*time.Millisecond, cfg.Sensor.SampleInterval)
	assert.False(t, cfg.Secondary.StopAbortsWait)
	// untouched keys keep their defaults
	assert.Equal(t, 10, cfg.Sensor.BufferSize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "sensor:\n  buffer_size: 12\n")
	t.Setenv("RACELINK_SENSOR_BUFFER_SIZE", "16")
	t.Setenv("RACELINK_MASTER_REPLY_DELAY", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Sensor.BufferSize)
	assert.Equal(t, time.Second, cfg.Master.ReplyDelay)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "sensor:\n  treshold_cm: 10\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.Listener.PollInterval = 0 }},
		{"negative ack timeout", func(c *Config) { c.Controller.StartAckTimeout = -time.Second }},
		{"tiny buffer", func(c *Config) { c.Sensor.BufferSize = 1 }},
		{"zero threshold", func(c *Config) { c.Sensor.Threshold = 0 }},
		{"no ranging samples", func(c *Config) { c.Ranging.Samples = 0 }},
		{"distance override out of range", func(c *Config) { c.Controller.DistanceOverride = 120 }},
		{"response shorter than relay", func(c *Config) { c.Controller.ResponseTimeout = 5 * time.Second }},
		{"ranging outgrows response", func(c *Config) { c.Ranging.Samples = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Controller.DistanceOverride = 42

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "distance_override: 42")

	loaded, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
