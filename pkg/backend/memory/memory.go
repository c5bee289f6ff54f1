package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/spf13/afero"
)

// MemoryBackend implements backend.PermissionBackend on top of an afero
// in-memory filesystem.
//
// It is designed for:
//   - Testing and development
//   - Ephemeral sandboxes whose content does not need to survive a restart
//
// Characteristics:
//   - Volatile: data is lost when the process exits
//   - Keeps unix permission bits and modification times
//   - Thread-safe: afero.MemMapFs guards its own map; tree-wide renames are
//     additionally serialized by mu
type MemoryBackend struct {
	fs       afero.Fs
	dirMode  os.FileMode
	fileMode os.FileMode

	// mu serializes operations that touch a whole subtree (Rename of a
	// directory) so they do not interleave with each other.
	mu sync.Mutex
}

// MemoryBackendConfig contains the optional settings of the memory backend.
type MemoryBackendConfig struct {
	// DirMode is applied to directories created by the backend (default: 0755)
	DirMode os.FileMode

	// FileMode is applied to files created by the backend (default: 0644)
	FileMode os.FileMode
}

// NewMemoryBackend creates an empty in-memory backend.
//
// Parameters:
//   - ctx: Context for cancellation (checked before initialization)
//   - cfg: Optional modes; zero values select the defaults
//
// Returns:
//   - *MemoryBackend: Initialized backend containing only "/"
//   - error: Only returns error if context is cancelled
func NewMemoryBackend(ctx context.Context, cfg MemoryBackendConfig) (*MemoryBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	return &MemoryBackend{
		fs:       afero.NewMemMapFs(),
		dirMode:  cfg.DirMode.Perm(),
		fileMode: cfg.FileMode.Perm(),
	}, nil
}

// ============================================================================
// Reading
// ============================================================================

// List returns the children (or all descendants) of dir.
func (m *MemoryBackend) List(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir = backend.Clean(dir)

	info, err := m.fs.Stat(dir)
	if err != nil {
		return nil, backend.FromOSError("list", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w", dir, backend.ErrNotDirectory)
	}

	if !recursive {
		infos, err := afero.ReadDir(m.fs, dir)
		if err != nil {
			return nil, backend.FromOSError("list", dir, err)
		}

		objects := make([]backend.Object, 0, len(infos))
		for _, fi := range infos {
			objects = append(objects, toObject(path.Join(dir, fi.Name()), fi))
		}
		return objects, nil
	}

	var objects []backend.Object
	err = afero.Walk(m.fs, dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p = backend.Clean(p)
		if p == dir {
			return nil
		}
		objects = append(objects, toObject(p, fi))
		return nil
	})
	if err != nil {
		return nil, backend.FromOSError("list", dir, err)
	}

	return objects, nil
}

// Has reports whether p exists.
func (m *MemoryBackend) Has(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ok, err := afero.Exists(m.fs, backend.Clean(p))
	if err != nil {
		return false, backend.FromOSError("has", p, err)
	}
	return ok, nil
}

// Stat returns the object describing p.
func (m *MemoryBackend) Stat(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}

	p = backend.Clean(p)

	info, err := m.fs.Stat(p)
	if err != nil {
		return backend.Object{}, backend.FromOSError("stat", p, err)
	}
	return toObject(p, info), nil
}

// ReadStream opens the file p for reading.
func (m *MemoryBackend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p = backend.Clean(p)

	info, err := m.fs.Stat(p)
	if err != nil {
		return nil, backend.FromOSError("read", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read %s: %w", p, backend.ErrIsDirectory)
	}

	f, err := m.fs.Open(p)
	if err != nil {
		return nil, backend.FromOSError("read", p, err)
	}
	return f, nil
}

// ============================================================================
// Writing
// ============================================================================

// CreateDir creates p and its missing parents.
func (m *MemoryBackend) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.ensureDir(backend.Clean(p))
}

// WriteStream replaces the content of p with r.
func (m *MemoryBackend) WriteStream(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p = backend.Clean(p)
	if p == "/" {
		return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
	}

	if info, err := m.fs.Stat(p); err == nil && info.IsDir() {
		return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
	}

	if err := m.ensureDir(path.Dir(p)); err != nil {
		return 0, err
	}

	f, err := m.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, m.fileMode)
	if err != nil {
		return 0, backend.FromOSError("write", p, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p, err)
	}

	return n, nil
}

// Delete removes p and, for directories, everything below it.
func (m *MemoryBackend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	if _, err := m.fs.Stat(p); err != nil {
		return backend.FromOSError("delete", p, err)
	}

	if err := m.fs.RemoveAll(p); err != nil {
		return backend.FromOSError("delete", p, err)
	}

	if p == "/" {
		return m.fs.MkdirAll("/", m.dirMode)
	}
	return nil
}

// Copy duplicates the file src at dst.
func (m *MemoryBackend) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, dst = backend.Clean(src), backend.Clean(dst)

	in, err := m.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = m.WriteStream(ctx, dst, in)
	return err
}

// Rename moves a file or a directory subtree.
func (m *MemoryBackend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to = backend.Clean(from), backend.Clean(to)

	info, err := m.fs.Stat(from)
	if err != nil {
		return backend.FromOSError("rename", from, err)
	}

	if err := m.ensureDir(path.Dir(to)); err != nil {
		return err
	}

	if !info.IsDir() {
		if err := m.fs.Rename(from, to); err != nil {
			return backend.FromOSError("rename", from, err)
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.moveTree(from, to)
}

// moveTree relocates a directory subtree entry by entry. MemMapFs only
// renames the single map key of a directory, leaving children behind.
func (m *MemoryBackend) moveTree(from, to string) error {
	var dirs []string

	err := afero.Walk(m.fs, from, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		target := path.Join(to, backend.Rel(from, p))

		if fi.IsDir() {
			dirs = append(dirs, p)
			if err := m.fs.MkdirAll(target, fi.Mode().Perm()); err != nil {
				return err
			}
			return m.fs.Chmod(target, fi.Mode().Perm())
		}

		return m.fs.Rename(p, target)
	})
	if err != nil {
		return backend.FromOSError("rename", from, err)
	}

	if err := m.fs.RemoveAll(from); err != nil {
		return backend.FromOSError("rename", from, err)
	}
	return nil
}

// ensureDir creates p and its parents, refusing to descend through files.
// MkdirAll on MemMapFs silently succeeds when a path component is a file.
func (m *MemoryBackend) ensureDir(p string) error {
	if p == "/" {
		return nil
	}

	info, err := m.fs.Stat(p)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("mkdir %s: %w", p, backend.ErrNotDirectory)
		}
		return nil
	}

	if err := m.ensureDir(path.Dir(p)); err != nil {
		return err
	}

	if err := m.fs.Mkdir(p, m.dirMode); err != nil && !os.IsExist(err) {
		return backend.FromOSError("mkdir", p, err)
	}
	return nil
}

// ============================================================================
// Permissions
// ============================================================================

// Permissions returns the permission bits of p.
func (m *MemoryBackend) Permissions(ctx context.Context, p string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	info, err := m.fs.Stat(backend.Clean(p))
	if err != nil {
		return -1, backend.FromOSError("permissions", p, err)
	}
	return int(info.Mode().Perm()), nil
}

// SetPermissions changes the permission bits of p.
func (m *MemoryBackend) SetPermissions(ctx context.Context, p string, mode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.fs.Chmod(backend.Clean(p), os.FileMode(mode).Perm()); err != nil {
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
