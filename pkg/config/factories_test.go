package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeBackend(t *testing.T, b backend.Backend) {
	t.Helper()
	if c, ok := b.(backend.Closer); ok {
		t.Cleanup(func() { _ = c.Close() })
	}
}

func TestCreateBackend_Local(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "data")

	b, err := CreateBackend(ctx, "disk", BackendConfig{
		Type:  "local",
		Local: map[string]any{"path": root, "dir_mode": 0750},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, b.CreateDir(ctx, "/docs"))
	obj, err := b.Stat(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, backend.TypeDir, obj.Type)

	pb, ok := b.(backend.PermissionBackend)
	require.True(t, ok, "local backend keeps permission bits")
	mode, err := pb.Permissions(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, 0750, mode)
}

func TestCreateBackend_LocalMissingPath(t *testing.T) {
	_, err := CreateBackend(context.Background(), "disk", BackendConfig{Type: "local"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCreateBackend_Memory(t *testing.T) {
	ctx := context.Background()

	b, err := CreateBackend(ctx, "mem", BackendConfig{
		Type:   "memory",
		Memory: map[string]any{"file_mode": "384"},
	}, nil)
	require.NoError(t, err)

	require.NoError(t, b.CreateDir(ctx, "/a"))
	ok, err := b.Has(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateBackend_BadgerInMemory(t *testing.T) {
	ctx := context.Background()

	b, err := CreateBackend(ctx, "kv", BackendConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true, "chunk_size": 1024},
	}, nil)
	require.NoError(t, err)
	closeBackend(t, b)

	require.NoError(t, b.CreateDir(ctx, "/x"))
}

func TestCreateBackend_BadgerRequiresPath(t *testing.T) {
	_, err := CreateBackend(context.Background(), "kv", BackendConfig{Type: "badger"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path is required")
}

func TestCreateBackend_S3RequiresBucketAndRegion(t *testing.T) {
	ctx := context.Background()

	_, err := CreateBackend(ctx, "cloud", BackendConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")

	_, err = CreateBackend(ctx, "cloud", BackendConfig{Type: "s3", S3: map[string]any{"bucket": "b"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region is required")
}

func TestCreateBackend_InvalidOptions(t *testing.T) {
	_, err := CreateBackend(context.Background(), "cloud", BackendConfig{
		Type: "s3",
		S3:   map[string]any{"bucket": "b", "region": "r", "max_backoff": "soon"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode S3 backend config")
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(context.Background(), "x", BackendConfig{Type: "tape"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestCreateBackend_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateBackend(ctx, "mem", BackendConfig{Type: "memory"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCreateStagingAndArchiveEngine(t *testing.T) {
	ctx := context.Background()

	cfg := validConfig()
	cfg.Staging.Dir = t.TempDir()
	cfg.Archive.Compression = "zstd"
	cfg.Archive.Level = 3

	st, err := CreateStaging(ctx, cfg.Staging)
	require.NoError(t, err)
	assert.Equal(t, cfg.Staging.Dir, st.Dir())

	reg, err := InitializeRegistry(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	fs, err := reg.Filesystem("alice", "alice")
	require.NoError(t, err)

	engine, err := CreateArchiveEngine(fs, st, cfg.Archive, nil)
	require.NoError(t, err)

	_, err = fs.CreateFile(ctx, "/", "a.txt")
	require.NoError(t, err)

	a, err := engine.CreateArchive(ctx)
	require.NoError(t, err)
	require.NoError(t, a.AddFileFromStorage(ctx, "/a.txt"))
	change, err := a.Store(ctx, "/", "bundle.zip")
	require.NoError(t, err)
	assert.Equal(t, "/bundle.zip", change.Path)
}

func TestCreateArchiveEngine_InvalidCompression(t *testing.T) {
	_, err := CreateArchiveEngine(nil, nil, ArchiveConfig{Compression: "lzma"}, archive.Metrics(nil))
	assert.Error(t, err)
}
