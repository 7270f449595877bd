package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BATCHCTL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8787, cfg.DashboardPort)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.False(t, cfg.SkipTest)
	assert.Equal(t, "claude", cfg.AgentPath)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("BATCHCTL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("BATCHCTL_MAX_WORKERS", "9")
	t.Setenv("BATCHCTL_MAX_RETRIES", "0")
	t.Setenv("BATCHCTL_SKIP_TEST", "true")
	t.Setenv("BATCHCTL_AGENT_PATH", "/opt/bin/claude")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxWorkers)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.True(t, cfg.SkipTest)
	assert.Equal(t, "/opt/bin/claude", cfg.AgentPath)
}

func TestLoadYAMLOverlayThenEnvStillWins(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("max_workers: 7\ndashboard_port: 9001\n"), 0644))
	t.Setenv("BATCHCTL_CONFIG", yamlPath)
	t.Setenv("BATCHCTL_MAX_WORKERS", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.DashboardPort, "yaml-only field must apply")
	assert.Equal(t, 20, cfg.MaxWorkers, "env var must win over yaml")
}

func TestEnsureStorageDirCreatesParent(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{StoragePath: filepath.Join(dir, "nested", "batchctl.db")}
	require.NoError(t, cfg.EnsureStorageDir())

	info, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
