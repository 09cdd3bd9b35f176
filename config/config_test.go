package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, zapcore.InfoLevel, cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 512*time.Millisecond, cfg.Core.PollTimeout)
	assert.Equal(t, 300*time.Second, cfg.Core.DefaultTimeout)
	assert.Equal(t, 16, cfg.Core.SweepRetries)
	assert.Equal(t, 64, cfg.Core.EachBatch)
	assert.Equal(t, ":3000", cfg.Listen.Address)
	assert.Equal(t, 1024, cfg.Poller.Backlog)
	assert.True(t, cfg.Poller.NoDelay)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: console
core:
  workers: 4
  default_timeout: 45s
listen:
  address: 127.0.0.1:4000
  timeout: 10s
metrics:
  enabled: true
  address: 127.0.0.1:9200
`)
	t.Setenv("EVCORE_CORE_WORKERS", "8")
	t.Setenv("EVCORE_POLLER_REUSE_PORT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Core.Workers)
	assert.Equal(t, 45*time.Second, cfg.Core.DefaultTimeout)
	assert.Equal(t, "127.0.0.1:4000", cfg.Listen.Address)
	assert.Equal(t, 10*time.Second, cfg.Listen.Timeout)
	assert.True(t, cfg.Poller.ReusePort)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Address)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: xml
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Format")

	path = writeConfig(t, `
core:
  sweep_retries: -1
`)
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(LoggingConfig{Level: zapcore.WarnLevel, Format: "json", Output: path})
	require.NoError(t, err)
	log.Info("dropped")
	log.Warn("kept")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}
