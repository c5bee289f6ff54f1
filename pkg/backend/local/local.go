package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// LocalBackend implements backend.PermissionBackend on the local disk.
//
// Every backend path is mapped below a fixed root directory:
//
//	root:     /srv/dittovfs
//	backend:  /users/alice/report.txt
//	disk:     /srv/dittovfs/users/alice/report.txt
//
// Backend paths are cleaned before being joined, so ".." can never climb
// above root. Symbolic links below root are never followed: listings omit
// them and operations whose path crosses one fail with
// backend.ErrNotSupported.
//
// Thread Safety:
// Safe for concurrent use; the operating system provides the only
// synchronization.
type LocalBackend struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// LocalBackendConfig configures a LocalBackend.
type LocalBackendConfig struct {
	// Path is the directory acting as backend root (required)
	Path string

	// DirMode is used for directories created by the backend (default: 0755)
	DirMode os.FileMode

	// FileMode is used for files created by the backend (default: 0644)
	FileMode os.FileMode
}

// NewLocalBackend creates a backend rooted at cfg.Path, creating the
// directory if needed.
//
// Parameters:
//   - ctx: Context for cancellation (checked before touching the disk)
//   - cfg: Backend configuration
//
// Returns:
//   - *LocalBackend: Initialized backend
//   - error: Returns error if the root cannot be created or context is cancelled
func NewLocalBackend(ctx context.Context, cfg LocalBackendConfig) (*LocalBackend, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration and create the root
	// ========================================================================

	if cfg.Path == "" {
		return nil, fmt.Errorf("local backend: path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backend root: %w", err)
	}

	if err := os.MkdirAll(root, cfg.DirMode.Perm()); err != nil {
		return nil, fmt.Errorf("failed to create backend root: %w", err)
	}

	return &LocalBackend{
		root:     root,
		dirMode:  cfg.DirMode.Perm(),
		fileMode: cfg.FileMode.Perm(),
	}, nil
}

// Root returns the absolute on-disk root of the backend.
func (l *LocalBackend) Root() string {
	return l.root
}

// diskPath maps a backend path to its on-disk location.
func (l *LocalBackend) diskPath(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(backend.Clean(p)))
}

// resolve maps p to its on-disk location, refusing paths that cross a
// symbolic link below root. Components that do not exist yet are accepted.
func (l *LocalBackend) resolve(op, p string) (string, error) {
	full := l.diskPath(p)

	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == "." {
		return full, nil
	}

	cur := l.root
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, seg)

		fi, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return "", backend.FromOSError(op, p, err)
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%s %s: symbolic link: %w", op, p, backend.ErrNotSupported)
		}
	}
	return full, nil
}

// backendPath maps an on-disk location below root back to a backend path.
func (l *LocalBackend) backendPath(disk string) string {
	rel, err := filepath.Rel(l.root, disk)
	if err != nil || rel == "." {
		return "/"
	}
	return backend.Clean(filepath.ToSlash(rel))
}

// ============================================================================
// Reading
// ============================================================================

// List returns the children (or all descendants) of dir.
//
// Recursive listings are gathered concurrently with fastwalk and sorted by
// path afterwards, which keeps parents ahead of their children.
func (l *LocalBackend) List(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir = backend.Clean(dir)
	full, err := l.resolve("list", dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, backend.FromOSError("list", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w", dir, backend.ErrNotDirectory)
	}

	if !recursive {
		entries, err := os.ReadDir(full)
		if err != nil {
			return nil, backend.FromOSError("list", dir, err)
		}

		objects := make([]backend.Object, 0, len(entries))
		for _, e := range entries {
			if e.Type()&fs.ModeSymlink != 0 {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				// Entry vanished between ReadDir and Info
				continue
			}
			objects = append(objects, toObject(path.Join(dir, e.Name()), fi))
		}
		return objects, nil
	}

	var (
		mu      sync.Mutex
		objects []backend.Object
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, full, func(p string, d fs.DirEntry, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			return err
		}
		if p == full || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		obj := toObject(l.backendPath(p), fi)

		mu.Lock()
		objects = append(objects, obj)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, backend.FromOSError("list", dir, err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Path < objects[j].Path
	})

	return objects, nil
}

// Has reports whether p exists.
func (l *LocalBackend) Has(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	full, err := l.resolve("has", p)
	if err != nil {
		return false, err
	}

	_, err = os.Lstat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, backend.FromOSError("has", p, err)
}

// Stat returns the object describing p.
func (l *LocalBackend) Stat(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}

	p = backend.Clean(p)

	full, err := l.resolve("stat", p)
	if err != nil {
		return backend.Object{}, err
	}

	info, err := os.Lstat(full)
	if err != nil {
		return backend.Object{}, backend.FromOSError("stat", p, err)
	}
	return toObject(p, info), nil
}

// ReadStream opens the file p for reading.
func (l *LocalBackend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p = backend.Clean(p)
	full, err := l.resolve("read", p)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(full)
	if err != nil {
		return nil, backend.FromOSError("read", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read %s: %w", p, backend.ErrIsDirectory)
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, backend.FromOSError("read", p, err)
	}
	return f, nil
}

// ============================================================================
// Writing
// ============================================================================

// CreateDir creates p and its missing parents.
func (l *LocalBackend) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)
	full, err := l.resolve("mkdir", p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(full, l.dirMode); err != nil {
		return backend.FromOSError("mkdir", p, err)
	}
	return nil
}

// WriteStream replaces the content of p with r.
//
// Content is written to a sibling temporary file and renamed into place so
// readers never observe a half-written file.
func (l *LocalBackend) WriteStream(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p = backend.Clean(p)
	full, err := l.resolve("write", p)
	if err != nil {
		return 0, err
	}

	mode := l.fileMode
	if info, err := os.Lstat(full); err == nil {
		if info.IsDir() {
			return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
		}
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(full), l.dirMode); err != nil {
		return 0, backend.FromOSError("write", p, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".dittovfs-*")
	if err != nil {
		return 0, backend.FromOSError("write", p, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, backend.FromOSError("write", p, err)
	}

	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return n, backend.FromOSError("write", p, err)
	}

	if err := os.Rename(tmp.Name(), full); err != nil {
		return n, backend.FromOSError("write", p, err)
	}

	return n, nil
}

// Delete removes p and, for directories, everything below it.
func (l *LocalBackend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)
	full, err := l.resolve("delete", p)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(full); err != nil {
		return backend.FromOSError("delete", p, err)
	}

	if p == "/" {
		// Never remove the root itself, only its content
		entries, err := os.ReadDir(full)
		if err != nil {
			return backend.FromOSError("delete", p, err)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(full, e.Name())); err != nil {
				return backend.FromOSError("delete", p, err)
			}
		}
		return nil
	}

	if err := os.RemoveAll(full); err != nil {
		return backend.FromOSError("delete", p, err)
	}
	return nil
}

// Copy duplicates the file src at dst.
func (l *LocalBackend) Copy(ctx context.Context, src, dst string) error {
	in, err := l.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = l.WriteStream(ctx, dst, in)
	return err
}

// Rename moves a file or a directory subtree.
func (l *LocalBackend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to = backend.Clean(from), backend.Clean(to)
	fullFrom, err := l.resolve("rename", from)
	if err != nil {
		return err
	}
	fullTo, err := l.resolve("rename", to)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(fullFrom); err != nil {
		return backend.FromOSError("rename", from, err)
	}

	if err := os.MkdirAll(filepath.Dir(fullTo), l.dirMode); err != nil {
		return backend.FromOSError("rename", to, err)
	}

	if err := os.Rename(fullFrom, fullTo); err != nil {
		return backend.FromOSError("rename", from, err)
	}
	return nil
}

// ============================================================================
// Permissions
// ============================================================================

// Permissions returns the permission bits of p.
func (l *LocalBackend) Permissions(ctx context.Context, p string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	full, err := l.resolve("permissions", p)
	if err != nil {
		return -1, err
	}

	info, err := os.Lstat(full)
	if err != nil {
		return -1, backend.FromOSError("permissions", p, err)
	}
	return int(info.Mode().Perm()), nil
}

// SetPermissions changes the permission bits of p.
func (l *LocalBackend) SetPermissions(ctx context.Context, p string, mode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := l.resolve("chmod", p)
	if err != nil {
		return err
	}

	if err := os.Chmod(full, os.FileMode(mode).Perm()); err != nil {
		return backend.FromOSError("chmod", p, err)
	}
	return nil
}

func toObject(p string, fi os.FileInfo) backend.Object {
	obj := backend.Object{
		Path:    p,
		Type:    backend.TypeFile,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
	if fi.IsDir() {
		obj.Type = backend.TypeDir
		obj.Size = 0
	}
	return obj
}
