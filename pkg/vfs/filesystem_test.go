package vfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

func newBackend(t *testing.T) *memory.MemoryBackend {
	t.Helper()
	b, err := memory.NewMemoryBackend(context.Background(), memory.MemoryBackendConfig{})
	require.NoError(t, err)
	return b
}

func newFS(t *testing.T, cfg Config) (*Filesystem, *memory.MemoryBackend) {
	t.Helper()
	b := newBackend(t)
	fs, err := New(context.Background(), b, cfg)
	require.NoError(t, err)
	return fs, b
}

func store(t *testing.T, fs *Filesystem, dir, name, content string) Change {
	t.Helper()
	c, err := fs.Store(context.Background(), dir, name, strings.NewReader(content), false)
	require.NoError(t, err)
	return c
}

func read(t *testing.T, fs *Filesystem, p string) string {
	t.Helper()
	s, err := fs.ReadStream(context.Background(), p)
	require.NoError(t, err)
	defer s.Close()
	data, err := io.ReadAll(s)
	require.NoError(t, err)
	return string(data)
}

func names(l *DirectoryListing) []string {
	var out []string
	for _, e := range l.Entries {
		out = append(out, e.Name)
	}
	return out
}

func countBack(l *DirectoryListing) int {
	n := 0
	for _, e := range l.Entries {
		if e.Type == TypeBack {
			n++
		}
	}
	return n
}

// plainBackend hides the permission capability of the wrapped backend.
type plainBackend struct {
	backend.Backend
}

// ============================================================================
// Construction
// ============================================================================

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresBackend", func(t *testing.T) {
		_, err := New(ctx, nil, Config{})
		assert.True(t, IsValidation(err))
	})

	t.Run("CreatesPrefix", func(t *testing.T) {
		b := newBackend(t)
		_, err := New(ctx, b, Config{Prefix: "/users/alice"})
		require.NoError(t, err)

		obj, err := b.Stat(ctx, "/users/alice")
		require.NoError(t, err)
		assert.True(t, obj.IsDir())
	})

	t.Run("RejectsTraversalPrefix", func(t *testing.T) {
		_, err := New(ctx, newBackend(t), Config{Prefix: "/users/../etc"})
		assert.True(t, IsValidation(err))
	})

	t.Run("WithActorSharesSandbox", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/sb", Actor: "alice"})
		bob := fs.WithActor("bob")

		assert.Equal(t, "alice", fs.Actor())
		assert.Equal(t, "bob", bob.Actor())

		c := store(t, bob, "/", "a.txt", "x")
		assert.Equal(t, "bob", c.Actor)
		assert.Equal(t, "x", read(t, fs, "/a.txt"))
	})
}

// ============================================================================
// Path Safety
// ============================================================================

func TestPathTraversal(t *testing.T) {
	ctx := context.Background()

	t.Run("NormalizedToRoot", func(t *testing.T) {
		fs, b := newFS(t, Config{Prefix: "/sandbox"})
		store(t, fs, "/", "inside.txt", "in")
		_, err := b.WriteStream(ctx, "/etc/passwd", strings.NewReader("root"))
		require.NoError(t, err)

		root, err := fs.GetDirectoryCollection(ctx, "/", false)
		require.NoError(t, err)

		escaped, err := fs.GetDirectoryCollection(ctx, "/a/../../etc", false)
		require.NoError(t, err)

		assert.Equal(t, root.Location, escaped.Location)
		assert.Equal(t, names(root), names(escaped))
		assert.Equal(t, []string{"inside.txt"}, names(escaped))
	})

	t.Run("BackslashTraversal", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/sandbox"})
		store(t, fs, "/", "inside.txt", "in")

		l, err := fs.GetDirectoryCollection(ctx, "..\\..\\etc", false)
		require.NoError(t, err)
		assert.Equal(t, "/", l.Location)
	})

	t.Run("StrictRejects", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/sandbox", StrictPaths: true})

		_, err := fs.GetDirectoryCollection(ctx, "/a/../../etc", false)
		assert.True(t, IsPathTraversal(err))

		_, err = fs.Store(ctx, "/../", "x.txt", strings.NewReader("x"), false)
		assert.True(t, IsPathTraversal(err))
	})

	t.Run("DotSegmentsFolded", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/sandbox"})
		store(t, fs, "/docs", "a.txt", "a")

		assert.Equal(t, "a", read(t, fs, "./docs//./a.txt"))
	})

	t.Run("ErrorsHidePrefix", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/secret/root"})

		_, err := fs.ReadStream(ctx, "/missing.txt")
		require.Error(t, err)
		assert.True(t, IsStorage(err))
		assert.ErrorIs(t, err, backend.ErrNotFound)
		assert.NotContains(t, err.Error(), "/secret/root")
		assert.Contains(t, err.Error(), "/missing.txt")
	})

	t.Run("NamesWithSeparatorsRejected", func(t *testing.T) {
		fs, _ := newFS(t, Config{})

		for _, name := range []string{"", "  ", ".", "..", "a/b", "a\\b"} {
			_, err := fs.CreateFile(ctx, "/", name)
			assert.True(t, IsValidation(err), "name %q", name)
		}
	})
}

// ============================================================================
// Creation
// ============================================================================

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("FileUpcount", func(t *testing.T) {
		fs, _ := newFS(t, Config{Actor: "alice"})

		c1, err := fs.CreateFile(ctx, "/", "report.txt")
		require.NoError(t, err)
		c2, err := fs.CreateFile(ctx, "/", "report.txt")
		require.NoError(t, err)
		c3, err := fs.CreateFile(ctx, "/", "report.txt")
		require.NoError(t, err)

		assert.Equal(t, "report.txt", c1.Name)
		assert.Equal(t, "report (1).txt", c2.Name)
		assert.Equal(t, "report (2).txt", c3.Name)
		assert.Equal(t, Change{Op: OpCreate, Path: "/report (2).txt", Name: "report (2).txt", Type: TypeFile, Actor: "alice"}, c3)
	})

	t.Run("DirUpcountWithoutExtension", func(t *testing.T) {
		fs, _ := newFS(t, Config{})

		var got []string
		for i := 0; i < 3; i++ {
			c, err := fs.CreateDir(ctx, "/", "notes")
			require.NoError(t, err)
			got = append(got, c.Name)
		}
		assert.Equal(t, []string{"notes", "notes (1)", "notes (2)"}, got)
	})

	t.Run("ByType", func(t *testing.T) {
		fs, _ := newFS(t, Config{})

		c, err := fs.Create(ctx, TypeDir, "/", "photos")
		require.NoError(t, err)
		assert.Equal(t, TypeDir, c.Type)

		c, err = fs.Create(ctx, TypeFile, "/photos", "a.png")
		require.NoError(t, err)
		assert.Equal(t, "/photos/a.png", c.Path)

		_, err = fs.Create(ctx, TypeBack, "/", "x")
		assert.True(t, IsValidation(err))
	})

	t.Run("PathsAreSandboxRelative", func(t *testing.T) {
		fs, b := newFS(t, Config{Prefix: "/home/alice"})

		c, err := fs.CreateDir(ctx, "/", "docs")
		require.NoError(t, err)
		assert.Equal(t, "/docs", c.Path)

		ok, err := b.Has(ctx, "/home/alice/docs")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

// ============================================================================
// Copy, Move, Rename
// ============================================================================

func TestCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("FileIntoSameDirUpcounts", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "hello")

		c, err := fs.CopyFile(ctx, "/a.txt", "/")
		require.NoError(t, err)
		assert.Equal(t, "/a (1).txt", c.Path)
		assert.Equal(t, "/a.txt", c.From)
		assert.Equal(t, "hello", read(t, fs, "/a (1).txt"))
	})

	t.Run("FileRejectsDirectory", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		_, err := fs.CreateDir(ctx, "/", "d")
		require.NoError(t, err)

		_, err = fs.CopyFile(ctx, "/d", "/")
		assert.True(t, IsTypeMismatch(err))
	})

	t.Run("DirRecursive", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/src", "a.txt", "A")
		store(t, fs, "/src/sub", "b.txt", "B")
		_, err := fs.CreateDir(ctx, "/", "dst")
		require.NoError(t, err)

		c, err := fs.CopyDir(ctx, "/src", "/dst")
		require.NoError(t, err)
		assert.Equal(t, "/dst/src", c.Path)

		assert.Equal(t, "A", read(t, fs, "/dst/src/a.txt"))
		assert.Equal(t, "B", read(t, fs, "/dst/src/sub/b.txt"))
		assert.Equal(t, "A", read(t, fs, "/src/a.txt"))
	})

	t.Run("EmptyDirCreatesDestination", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		_, err := fs.CreateDir(ctx, "/", "empty")
		require.NoError(t, err)
		_, err = fs.CreateDir(ctx, "/", "dst")
		require.NoError(t, err)

		_, err = fs.CopyDir(ctx, "/empty", "/dst")
		require.NoError(t, err)

		e, err := fs.Stat(ctx, "/dst/empty")
		require.NoError(t, err)
		assert.Equal(t, TypeDir, e.Type)

		l, err := fs.GetDirectoryCollection(ctx, "/dst/empty", true)
		require.NoError(t, err)
		assert.Empty(t, l.Entries)
	})

	t.Run("DirIntoItself", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/src", "a.txt", "A")

		_, err := fs.CopyDir(ctx, "/src", "/src")
		assert.True(t, IsValidation(err))
	})
}

func TestMoveAndRename(t *testing.T) {
	ctx := context.Background()

	t.Run("Move", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/in", "a.txt", "A")

		c, err := fs.Move(ctx, "/in/a.txt", "/out/a.txt")
		require.NoError(t, err)
		assert.Equal(t, OpMove, c.Op)
		assert.Equal(t, "/out/a.txt", c.Path)
		assert.Equal(t, "/in/a.txt", c.From)

		ok, err := fs.Exists(ctx, "/in/a.txt")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "A", read(t, fs, "/out/a.txt"))
	})

	t.Run("MoveUpcountsTakenTarget", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "old")
		store(t, fs, "/in", "a.txt", "new")

		c, err := fs.Move(ctx, "/in/a.txt", "/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "/a (1).txt", c.Path)
		assert.Equal(t, "old", read(t, fs, "/a.txt"))
	})

	t.Run("MoveDirIntoItself", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/d", "a.txt", "A")

		_, err := fs.Move(ctx, "/d", "/d/sub/d")
		assert.True(t, IsValidation(err))
	})

	t.Run("RenameDirectory", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/photos/2024", "a.png", "png")

		c, err := fs.Rename(ctx, "/photos", "2024", "archive")
		require.NoError(t, err)
		assert.Equal(t, TypeDir, c.Type)
		assert.Equal(t, "/photos/archive", c.Path)
		assert.Equal(t, "png", read(t, fs, "/photos/archive/a.png"))
	})

	t.Run("RenameRejectsPaths", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "A")

		_, err := fs.Rename(ctx, "/", "a.txt", "../b.txt")
		assert.True(t, IsValidation(err))
	})
}

// ============================================================================
// Deletion
// ============================================================================

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("File", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "A")

		c, err := fs.DeleteFile(ctx, "/a.txt")
		require.NoError(t, err)
		assert.Equal(t, OpDelete, c.Op)

		ok, err := fs.Exists(ctx, "/a.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DirRecursive", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/d/e", "a.txt", "A")

		_, err := fs.DeleteDir(ctx, "/d")
		require.NoError(t, err)

		ok, err := fs.Exists(ctx, "/d")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/d", "a.txt", "A")

		_, err := fs.DeleteFile(ctx, "/d")
		assert.True(t, IsTypeMismatch(err))

		_, err = fs.DeleteDir(ctx, "/d/a.txt")
		assert.True(t, IsTypeMismatch(err))
	})

	t.Run("RootRefused", func(t *testing.T) {
		fs, _ := newFS(t, Config{Prefix: "/sb"})

		_, err := fs.DeleteDir(ctx, "/")
		assert.True(t, IsValidation(err))

		_, err = fs.DeleteDir(ctx, "/x/../..")
		assert.True(t, IsValidation(err))
	})

	t.Run("Missing", func(t *testing.T) {
		fs, _ := newFS(t, Config{})

		_, err := fs.DeleteFile(ctx, "/nope")
		assert.True(t, IsStorage(err))
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})
}

// ============================================================================
// Content
// ============================================================================

func TestStoreAndReadStream(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		payload := strings.Repeat("0123456789", 100_000)

		c := store(t, fs, "/big", "data.bin", payload)
		assert.Equal(t, OpStore, c.Op)

		s, err := fs.ReadStream(ctx, "/big/data.bin")
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, "data.bin", s.Name)
		assert.Equal(t, int64(len(payload)), s.Size)

		data, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("UpcountWithoutOverwrite", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "one")

		c := store(t, fs, "/", "a.txt", "two")
		assert.Equal(t, "a (1).txt", c.Name)
		assert.Equal(t, "one", read(t, fs, "/a.txt"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/", "a.txt", "one")

		c, err := fs.Store(ctx, "/", "a.txt", strings.NewReader("two"), true)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", c.Name)
		assert.Equal(t, "two", read(t, fs, "/a.txt"))
	})

	t.Run("OverwriteNeverReplacesDirectory", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		store(t, fs, "/a", "keep.txt", "k")

		c, err := fs.Store(ctx, "/", "a", strings.NewReader("file"), true)
		require.NoError(t, err)
		assert.Equal(t, "a (1)", c.Name)
		assert.Equal(t, "k", read(t, fs, "/a/keep.txt"))
	})

	t.Run("ReadDirectoryIsTypeMismatch", func(t *testing.T) {
		fs, _ := newFS(t, Config{})
		_, err := fs.CreateDir(ctx, "/", "d")
		require.NoError(t, err)

		_, err = fs.ReadStream(ctx, "/d")
		assert.True(t, IsTypeMismatch(err))
	})
}

// ============================================================================
// Listing
// ============================================================================

func TestGetDirectoryCollection(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Filesystem {
		fs, _ := newFS(t, Config{Prefix: "/sb"})
		store(t, fs, "/docs", "b.txt", "b")
		store(t, fs, "/docs", "a.txt", "a")
		_, err := fs.CreateDir(ctx, "/docs", "sub")
		require.NoError(t, err)
		store(t, fs, "/docs/sub", "c.txt", "c")
		return fs
	}

	t.Run("BackEntryOutsideRoot", func(t *testing.T) {
		fs := setup(t)

		l, err := fs.GetDirectoryCollection(ctx, "/docs", false)
		require.NoError(t, err)
		assert.Equal(t, "/docs", l.Location)
		assert.Equal(t, 1, countBack(l))

		back := l.Entries[0]
		assert.Equal(t, TypeBack, back.Type)
		assert.Equal(t, "/", back.Path)

		l, err = fs.GetDirectoryCollection(ctx, "/docs/sub", false)
		require.NoError(t, err)
		assert.Equal(t, 1, countBack(l))
		assert.Equal(t, "/docs", l.Entries[0].Path)
	})

	t.Run("NoBackEntryAtRoot", func(t *testing.T) {
		fs := setup(t)

		l, err := fs.GetDirectoryCollection(ctx, "/", false)
		require.NoError(t, err)
		assert.Equal(t, 0, countBack(l))
	})

	t.Run("NoBackEntryWhenRecursive", func(t *testing.T) {
		fs := setup(t)

		l, err := fs.GetDirectoryCollection(ctx, "/docs", true)
		require.NoError(t, err)
		assert.Equal(t, 0, countBack(l))
		assert.Len(t, l.Entries, 4)
	})

	t.Run("OrderAndPaths", func(t *testing.T) {
		fs := setup(t)

		l, err := fs.GetDirectoryCollection(ctx, "/docs", false)
		require.NoError(t, err)

		require.Len(t, l.Entries, 4)
		assert.Equal(t, TypeBack, l.Entries[0].Type)
		assert.Equal(t, TypeDir, l.Entries[1].Type)
		assert.Equal(t, "/docs/sub", l.Entries[1].Path)
		assert.Equal(t, TypeFile, l.Entries[2].Type)
		assert.Equal(t, TypeFile, l.Entries[3].Type)

		for _, e := range l.Entries {
			assert.NotContains(t, e.Path, "/sb")
		}
	})

	t.Run("PermissionsReported", func(t *testing.T) {
		fs := setup(t)

		l, err := fs.GetDirectoryCollection(ctx, "/docs", false)
		require.NoError(t, err)
		for _, e := range l.Dirs() {
			assert.GreaterOrEqual(t, e.Permissions, 0)
		}
	})

	t.Run("OnFile", func(t *testing.T) {
		fs := setup(t)

		_, err := fs.GetDirectoryCollection(ctx, "/docs/a.txt", false)
		assert.True(t, IsTypeMismatch(err))
	})

	t.Run("Cancelled", func(t *testing.T) {
		fs := setup(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := fs.GetDirectoryCollection(cctx, "/docs", false)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConcurrentCreateGetsDistinctNames(t *testing.T) {
	ctx := context.Background()
	fs, _ := newFS(t, Config{})

	const n = 16
	results := make(chan string, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			c, err := fs.CreateFile(ctx, "/", "same.txt")
			if err != nil {
				errs <- err
				return
			}
			results <- c.Name
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			t.Fatal(err)
		case name := <-results:
			assert.False(t, seen[name], "duplicate name %q", name)
			seen[name] = true
		}
	}
}
