package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	backendtesting "github.com/marmos91/dittovfs/pkg/backend/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			b, err := NewMemoryBackend(context.Background(), MemoryBackendConfig{})
			require.NoError(t, err)
			return b
		},
	}
	suite.Run(t)
}

func TestMemoryBackend_ConfiguredModes(t *testing.T) {
	ctx := context.Background()

	b, err := NewMemoryBackend(ctx, MemoryBackendConfig{DirMode: 0700, FileMode: 0600})
	require.NoError(t, err)

	_, err = b.WriteStream(ctx, "/private/secret.txt", strings.NewReader("s3cr3t"))
	require.NoError(t, err)

	mode, err := b.Permissions(ctx, "/private")
	require.NoError(t, err)
	assert.Equal(t, 0700, mode)

	mode, err = b.Permissions(ctx, "/private/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, 0600, mode)
}

func TestMemoryBackend_CreateDirThroughFile(t *testing.T) {
	ctx := context.Background()

	b, err := NewMemoryBackend(ctx, MemoryBackendConfig{})
	require.NoError(t, err)

	_, err = b.WriteStream(ctx, "/a/file", strings.NewReader(""))
	require.NoError(t, err)

	err = b.CreateDir(ctx, "/a/file/sub")
	assert.ErrorIs(t, err, backend.ErrNotDirectory)
}

func TestMemoryBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryBackend(ctx, MemoryBackendConfig{})
	assert.ErrorIs(t, err, context.Canceled)
}
