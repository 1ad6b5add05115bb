package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmarket/marketplace"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmarket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsRequireSecret(t *testing.T) {
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master_secret")
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
log:
  level: debug
  format: console
security:
  master_secret: file-secret
  kdf_iterations: 150000
messaging:
  max_queue_depth: 50
marketplace:
  strategy: least_loaded
  heartbeat_timeout: 2m
  overload_threshold: 0.8
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "file-secret", cfg.Security.MasterSecret)
	assert.Equal(t, 150000, cfg.Security.KDFIterations)
	assert.Equal(t, 50, cfg.Messaging.MaxQueueDepth)
	assert.Equal(t, marketplace.StrategyLeastLoaded, cfg.Marketplace.Strategy)
	assert.Equal(t, 2*time.Minute, cfg.Marketplace.HeartbeatTimeout)
	assert.Equal(t, 0.8, cfg.Marketplace.OverloadThreshold)

	// Untouched sections keep their defaults.
	assert.Equal(t, "agentmarket", cfg.Metrics.Namespace)
	assert.Equal(t, time.Second, cfg.Marketplace.SchedulerInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
security:
  master_secret: file-secret
`)
	t.Setenv("AGENTMARKET_SECURITY_MASTER_SECRET", "env-secret")
	t.Setenv("AGENTMARKET_MARKETPLACE_STRATEGY", "round_robin")
	t.Setenv("AGENTMARKET_MARKETPLACE_HEARTBEAT_TIMEOUT", "90s")
	t.Setenv("AGENTMARKET_METRICS_ENABLED", "false")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Security.MasterSecret)
	assert.Equal(t, marketplace.StrategyRoundRobin, cfg.Marketplace.Strategy)
	assert.Equal(t, 90*time.Second, cfg.Marketplace.HeartbeatTimeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AGENTMARKET_SECURITY_MASTER_SECRET", "env-secret")

	cfg, err := NewLoader().WithConfigPath("/nonexistent/agentmarket.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Security.MasterSecret)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"unknown backend",
			"security:\n  master_secret: s\nmessaging:\n  queue_backend: kafka\n",
			"queue_backend",
		},
		{
			"redis without addr",
			"security:\n  master_secret: s\nmessaging:\n  queue_backend: redis\n  redis:\n    addr: \"\"\n",
			"redis.addr",
		},
		{
			"unknown strategy",
			"security:\n  master_secret: s\nmarketplace:\n  strategy: fastest_first\n",
			"strategy",
		},
		{
			"overload threshold out of range",
			"security:\n  master_secret: s\nmarketplace:\n  overload_threshold: 1.5\n",
			"overload_threshold",
		},
		{
			"kdf iterations below floor",
			"security:\n  master_secret: s\n  kdf_iterations: 1000\n",
			"kdf_iterations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			_, err := NewLoader().WithConfigPath(path).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CustomValidator(t *testing.T) {
	t.Setenv("AGENTMARKET_SECURITY_MASTER_SECRET", "env-secret")

	called := false
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestBuildLogger(t *testing.T) {
	logger, err := (&LogConfig{Level: "debug", Format: "console"}).BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = (&LogConfig{Level: "loud"}).BuildLogger()
	assert.Error(t, err)
}
