package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	backendtesting "github.com/marmos91/dittovfs/pkg/backend/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(context.Background(), LocalBackendConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return b
}

func TestLocalBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			return newTestBackend(t)
		},
	}
	suite.Run(t)
}

func TestLocalBackend_RequiresPath(t *testing.T) {
	_, err := NewLocalBackend(context.Background(), LocalBackendConfig{})
	assert.Error(t, err)
}

func TestLocalBackend_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")

	b, err := NewLocalBackend(context.Background(), LocalBackendConfig{Path: root})
	require.NoError(t, err)

	info, err := os.Stat(b.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalBackend_StaysBelowRoot(t *testing.T) {
	ctx := context.Background()
	outer := t.TempDir()
	root := filepath.Join(outer, "root")

	b, err := NewLocalBackend(ctx, LocalBackendConfig{Path: root})
	require.NoError(t, err)

	_, err = b.WriteStream(ctx, "/../../escape.txt", strings.NewReader("nope"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outer, "escape.txt"))
	assert.True(t, os.IsNotExist(err), "write must not leave the root")

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}

func TestLocalBackend_DeleteRootKeepsRoot(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.WriteStream(ctx, "/a/b.txt", strings.NewReader("b"))
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "/"))

	objects, err := b.List(ctx, "/", true)
	require.NoError(t, err)
	assert.Empty(t, objects)

	_, err = os.Stat(b.Root())
	assert.NoError(t, err)
}

func TestLocalBackend_RefusesSymlinks(t *testing.T) {
	ctx := context.Background()
	outer := t.TempDir()
	root := filepath.Join(outer, "root")

	b, err := NewLocalBackend(ctx, LocalBackendConfig{Path: root})
	require.NoError(t, err)

	secretDir := filepath.Join(outer, "secret")
	require.NoError(t, os.MkdirAll(secretDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(secretDir, "key.txt"), []byte("secret"), 0o600))

	_, err = b.WriteStream(ctx, "/plain.txt", strings.NewReader("plain"))
	require.NoError(t, err)
	require.NoError(t, os.Symlink(filepath.Join(secretDir, "key.txt"), filepath.Join(root, "file-link")))
	require.NoError(t, os.Symlink(secretDir, filepath.Join(root, "dir-link")))

	t.Run("FileLink", func(t *testing.T) {
		_, err := b.Stat(ctx, "/file-link")
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		_, err = b.ReadStream(ctx, "/file-link")
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		err = b.SetPermissions(ctx, "/file-link", 0o777)
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		info, err := os.Stat(filepath.Join(secretDir, "key.txt"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("DirectoryLinkInPath", func(t *testing.T) {
		_, err := b.ReadStream(ctx, "/dir-link/key.txt")
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		_, err = b.WriteStream(ctx, "/dir-link/new.txt", strings.NewReader("x"))
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		_, err = b.List(ctx, "/dir-link", false)
		assert.ErrorIs(t, err, backend.ErrNotSupported)

		_, err = os.Stat(filepath.Join(secretDir, "new.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("ListingsOmitLinks", func(t *testing.T) {
		for _, recursive := range []bool{false, true} {
			objects, err := b.List(ctx, "/", recursive)
			require.NoError(t, err)
			require.Len(t, objects, 1)
			assert.Equal(t, "/plain.txt", objects[0].Path)
		}
	})

	t.Run("ErrorsHideDiskRoot", func(t *testing.T) {
		_, err := b.ReadStream(ctx, "/dir-link/key.txt")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), outer)
	})
}

func TestLocalBackend_PermissionErrorsHideDiskRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.WriteStream(ctx, "/d/sub/a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	sub := filepath.Join(b.Root(), "d", "sub")
	require.NoError(t, os.Chmod(sub, 0))
	t.Cleanup(func() { _ = os.Chmod(sub, 0o755) })

	_, err = b.List(ctx, "/d/sub", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.NotContains(t, err.Error(), b.Root())
	assert.Contains(t, err.Error(), "/d/sub")
}
