package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"

backends:
  scratch:
    type: memory

sandboxes:
  - name: alice
    backend: scratch
    prefix: /users/alice
    strict_paths: true

staging:
  retention: 2h
  gc_probability: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)

	require.Contains(t, cfg.Backends, "scratch")
	assert.Equal(t, "memory", cfg.Backends["scratch"].Type)

	require.Len(t, cfg.Sandboxes, 1)
	assert.Equal(t, SandboxConfig{Name: "alice", Backend: "scratch", Prefix: "/users/alice", StrictPaths: true}, cfg.Sandboxes[0])

	assert.Equal(t, 2*time.Hour, cfg.Staging.Retention)
	require.NotNil(t, cfg.Staging.GCProbability)
	assert.Zero(t, *cfg.Staging.GCProbability, "an explicit 0 disables GC")
	assert.Equal(t, "deflate", cfg.Archive.Compression)
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path that does not exist keeps the user's real config out of the test
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	require.Contains(t, cfg.Backends, DefaultBackendName)
	assert.Equal(t, "local", cfg.Backends[DefaultBackendName].Type)
	require.Len(t, cfg.Sandboxes, 1)
	assert.Equal(t, DefaultSandboxName, cfg.Sandboxes[0].Name)
	assert.Equal(t, "/", cfg.Sandboxes[0].Prefix)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
backends:
  disk:
    type: floppy
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
archive:
  compression: store
`)

	t.Setenv("DITTOVFS_LOGGING_LEVEL", "WARN")
	t.Setenv("DITTOVFS_ARCHIVE_COMPRESSION", "zstd")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "zstd", cfg.Archive.Compression)
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "dittovfs", "config.yaml"), GetDefaultConfigPath())
	assert.Equal(t, filepath.Join(dir, "dittovfs"), GetConfigDir())
	assert.False(t, ConfigExists())
}

func TestGetConfigDir_HomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".config", "dittovfs"), GetConfigDir())
}
