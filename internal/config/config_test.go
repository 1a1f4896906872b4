package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 1024, cfg.Dispatch.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.DeliveryTimeout)
	assert.True(t, cfg.Sinks.Log)
	assert.False(t, cfg.Sinks.Kafka)

	tr := cfg.Tracker
	assert.Equal(t, 5*time.Minute, tr.Session.IdleTimeout)
	assert.Equal(t, 30*time.Second, tr.Session.ActivityThrottle)
	assert.True(t, tr.Frustration.RageClick.Enabled)
	assert.Equal(t, 3, tr.Frustration.RageClick.MinClicks)
	assert.Equal(t, int64(1000), tr.Frustration.RageClick.TimeWindowMs)
	assert.Equal(t, 50, tr.Frustration.RageClick.RadiusPx)
	assert.Equal(t, int64(5000), tr.Frustration.RageClick.CooldownMs)
	assert.True(t, tr.Frustration.RapidClick.Enabled)
	assert.Equal(t, 5, tr.Frustration.RapidClick.MinClicks)
	assert.Equal(t, int64(2000), tr.Frustration.RapidClick.TimeWindowMs)
	assert.Equal(t, 600.0, tr.Performance.TTFBThresholdMs)
	assert.Equal(t, 2500.0, tr.Performance.LCPThresholdMs)
	assert.Equal(t, 0.25, tr.Performance.CLSThreshold)
	assert.Equal(t, 5, tr.Performance.LongTaskCountTrigger)
}

func TestLoadExpandsEnvAndKeepsOverrides(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")

	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	content := `
redis:
  addr: ${TEST_REDIS_ADDR}
sinks:
  redis: true
tracker:
  session:
    idle_timeout: 2m
  frustration:
    rage_click:
      enabled: false
      min_clicks: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Sinks.Redis)
	assert.False(t, cfg.Sinks.Log, "explicit sink selection disables the log fallback")
	assert.Equal(t, 2*time.Minute, cfg.Tracker.Session.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Tracker.Session.ActivityThrottle)
	assert.False(t, cfg.Tracker.Frustration.RageClick.Enabled)
	assert.Equal(t, 4, cfg.Tracker.Frustration.RageClick.MinClicks)
	assert.Equal(t, int64(1000), cfg.Tracker.Frustration.RageClick.TimeWindowMs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
