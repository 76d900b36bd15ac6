package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAuthorityConfigDefaults(t *testing.T) {
	cfg, err := LoadAuthorityConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.ListenAddr)
	assert.Equal(t, 300, cfg.NodeTimeoutSeconds)
	assert.Equal(t, 60, cfg.SweepIntervalSeconds)
	assert.Equal(t, "./data/nodes.json", cfg.NodePersistPath)
}

func TestLoadAuthorityConfigYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adminToken: secret-token\nnodeTimeoutSeconds: 42\n"), 0o644))

	cfg, err := LoadAuthorityConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.AdminToken)
	assert.Equal(t, 42, cfg.NodeTimeoutSeconds)
	assert.Equal(t, ":8100", cfg.ListenAddr, "unset fields keep their envconfig default")
}

func TestLoadAuthorityConfigMissingYAMLIsTolerated(t *testing.T) {
	cfg, err := LoadAuthorityConfig("/nonexistent/path/authority.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.ListenAddr)
}

func TestLoadAgentConfigDefaults(t *testing.T) {
	cfg, err := LoadAgentConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8100", cfg.ServerURL)
	assert.Equal(t, 120, cfg.HeartbeatIntervalSeconds)
	assert.Equal(t, 72, cfg.GracePeriodHours)
}
