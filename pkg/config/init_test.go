package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)
	assert.True(t, ConfigExists())

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	for _, section := range []string{
		"# DittoVFS Configuration File",
		"logging:",
		"backends:",
		"sandboxes:",
		"staging:",
		"archive:",
		"metrics:",
	} {
		assert.Contains(t, string(content), section)
	}

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(content, &parsed), "generated config must be valid YAML")
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = InitConfig(true)
	assert.NoError(t, err)
}

func TestInitConfigToPath_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, InitConfigToPath(path, false))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := GetDefaultConfig()
	assert.Equal(t, def.Logging, cfg.Logging)
	assert.Equal(t, def.Sandboxes, cfg.Sandboxes)
	assert.Equal(t, def.Staging.Retention, cfg.Staging.Retention)
	assert.Equal(t, *def.Staging.GCProbability, *cfg.Staging.GCProbability)
	assert.Equal(t, def.Archive, cfg.Archive)
	assert.Equal(t, def.Backends[DefaultBackendName].Local["path"], cfg.Backends[DefaultBackendName].Local["path"])
}
