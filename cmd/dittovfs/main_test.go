package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	content := fmt.Sprintf(`
logging:
  level: ERROR
  output: stderr
backends:
  disk:
    type: local
    local:
      path: %s
sandboxes:
  - name: alice
    backend: disk
    prefix: /users/alice
staging:
  dir: %s
  gc_probability: 0
archive:
  compression: deflate
`, filepath.Join(dir, "data"), filepath.Join(dir, "staging"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes one CLI invocation the way main does.
func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	a := &app{}
	root := a.rootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", configPath, "--actor", "alice"}, args...))

	err := root.ExecuteContext(context.Background())
	if teardownErr := a.teardown(); err == nil {
		err = teardownErr
	}
	return out.String(), err
}

func TestCLI_FileLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0644))

	out, err := run(t, cfg, "mkdir", "/", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs")

	out, err = run(t, cfg, "put", local, "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/notes.txt")

	out, err = run(t, cfg, "put", local, "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/notes (1).txt")

	out, err = run(t, cfg, "cat", "/docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = run(t, cfg, "ls", "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/notes.txt")
	assert.Contains(t, out, "5 B")

	_, err = run(t, cfg, "mv", "/docs/notes (1).txt", "/moved.txt")
	require.NoError(t, err)

	_, err = run(t, cfg, "rm", "/docs")
	require.NoError(t, err)

	out, err = run(t, cfg, "ls", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "moved.txt"`)
	assert.NotContains(t, out, `"name": "docs"`)
}

func TestCLI_ZipAndUnzip(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, cfg, "mkdir", "/", "src")
	require.NoError(t, err)
	_, err = run(t, cfg, "touch", "/src", "a.txt")
	require.NoError(t, err)

	out, err := run(t, cfg, "zip", "/", "bundle.zip", "/src")
	require.NoError(t, err)
	assert.Contains(t, out, "/bundle.zip")

	_, err = run(t, cfg, "mkdir", "/", "out")
	require.NoError(t, err)

	out, err = run(t, cfg, "unzip", "/bundle.zip", "/out")
	require.NoError(t, err)
	assert.Contains(t, out, "/out/src/a.txt")

	out, err = run(t, cfg, "clean-staging", "--older-than", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned=")
}

func TestCLI_Chmod(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, cfg, "touch", "/", "f.txt")
	require.NoError(t, err)

	out, err := run(t, cfg, "chmod", "600", "/f.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "0600\t/f.txt\tok")

	_, err = run(t, cfg, "chmod", "999", "/f.txt")
	require.Error(t, err)
	assert.True(t, vfs.IsValidation(err))
	assert.Equal(t, 2, exitCode(err))
}

func TestCLI_Errors(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, cfg, "cat", "/missing.txt")
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))

	_, err = run(t, cfg, "cat", "/")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))

	_, err = run(t, cfg, "--sandbox", "nobody", "ls")
	assert.Error(t, err)
}

func TestCLI_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	out, err := run(t, path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, path, "init")
	assert.Error(t, err, "existing file requires --force")

	_, err = run(t, path, "init", "--force")
	assert.NoError(t, err)
}
