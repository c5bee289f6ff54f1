package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) backend.Backend {
	t.Helper()
	b, err := memory.NewMemoryBackend(context.Background(), memory.MemoryBackendConfig{})
	require.NoError(t, err)
	return b
}

type closingBackend struct {
	backend.Backend
	closed bool
	err    error
}

func (c *closingBackend) Close() error {
	c.closed = true
	return c.err
}

func TestRegisterBackend(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterBackend("mem", newMemory(t)))
	assert.Error(t, r.RegisterBackend("mem", newMemory(t)))
	assert.Error(t, r.RegisterBackend("", newMemory(t)))
	assert.Error(t, r.RegisterBackend("nil", nil))

	assert.Equal(t, 1, r.CountBackends())
	assert.Equal(t, []string{"mem"}, r.ListBackends())

	_, err := r.GetBackend("missing")
	assert.Error(t, err)
}

func TestAddSandbox(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	b := newMemory(t)
	require.NoError(t, r.RegisterBackend("mem", b))

	require.NoError(t, r.AddSandbox(ctx, &SandboxConfig{Name: "alice", Backend: "mem", Prefix: "/users/alice"}))
	require.NoError(t, r.AddSandbox(ctx, &SandboxConfig{Name: "bob", Backend: "mem", Prefix: "/users/bob", StrictPaths: true}))

	assert.Error(t, r.AddSandbox(ctx, &SandboxConfig{Name: "alice", Backend: "mem"}))
	assert.Error(t, r.AddSandbox(ctx, &SandboxConfig{Name: "carol", Backend: "nope"}))
	assert.Error(t, r.AddSandbox(ctx, &SandboxConfig{Backend: "mem"}))
	assert.Error(t, r.AddSandbox(ctx, &SandboxConfig{Name: "eve", Backend: "mem", Prefix: "/users/../etc"}))

	assert.Equal(t, []string{"alice", "bob"}, r.ListSandboxes())
	assert.Equal(t, []string{"alice", "bob"}, r.ListSandboxesUsingBackend("mem"))
	assert.Equal(t, 2, r.CountSandboxes())

	sb, err := r.GetSandbox("bob")
	require.NoError(t, err)
	assert.True(t, sb.StrictPaths)
	assert.True(t, sb.Permissions)

	ok, err := b.Has(ctx, "/users/alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.RemoveSandbox("bob"))
	assert.Error(t, r.RemoveSandbox("bob"))
	_, err = r.Filesystem("bob", "x")
	assert.Error(t, err)
}

func TestFilesystem_IsolatesSandboxes(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.RegisterBackend("mem", newMemory(t)))
	require.NoError(t, r.AddSandbox(ctx, &SandboxConfig{Name: "alice", Backend: "mem", Prefix: "/users/alice"}))
	require.NoError(t, r.AddSandbox(ctx, &SandboxConfig{Name: "bob", Backend: "mem", Prefix: "/users/bob"}))

	alice, err := r.Filesystem("alice", "alice@example.com")
	require.NoError(t, err)
	bob, err := r.Filesystem("bob", "bob@example.com")
	require.NoError(t, err)

	c, err := alice.Store(ctx, "/", "diary.txt", strings.NewReader("secret"), false)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", c.Actor)

	ok, err := bob.Exists(ctx, "/diary.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	l, err := bob.GetDirectoryCollection(ctx, "/../alice", false)
	require.NoError(t, err)
	assert.Equal(t, "/", l.Location)
	assert.Empty(t, l.Entries)
}

func TestClose(t *testing.T) {
	r := NewRegistry()
	plain := newMemory(t)
	good := &closingBackend{Backend: newMemory(t)}
	bad := &closingBackend{Backend: newMemory(t), err: errors.New("flush failed")}

	require.NoError(t, r.RegisterBackend("plain", plain))
	require.NoError(t, r.RegisterBackend("good", good))
	require.NoError(t, r.RegisterBackend("bad", bad))

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}
