// Package backend defines the storage adapter contract that the virtual
// filesystem operates against.
//
// A backend exposes a single slash-separated tree rooted at "/". It knows
// nothing about sandboxes, upcounting or path traversal: those concerns live
// in pkg/vfs. Concrete implementations live in the sub-packages (local,
// memory, s3, badger).
package backend

import (
	"context"
	"io"
	"time"
)

// ============================================================================
// Object Model
// ============================================================================

// ObjectType distinguishes files from directories.
type ObjectType int

const (
	// TypeFile is a regular file with content.
	TypeFile ObjectType = iota

	// TypeDir is a directory (or a directory marker on object stores).
	TypeDir
)

func (t ObjectType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Object is the backend-native description of one item.
type Object struct {
	// Path is the absolute backend path ("/docs/report.txt").
	Path string

	// Type is file or directory.
	Type ObjectType

	// Size is the content length in bytes. Always 0 for directories.
	Size int64

	// ModTime is the last modification time. Zero when the backend
	// cannot report it.
	ModTime time.Time
}

// IsDir reports whether the object is a directory.
func (o Object) IsDir() bool {
	return o.Type == TypeDir
}

// ============================================================================
// Backend Interface
// ============================================================================

// Backend is the pluggable storage adapter.
//
// Path Semantics:
//   - All paths are absolute, slash-separated and already cleaned by the
//     caller. The root is "/".
//   - Implementations must never resolve a path outside their own root.
//
// Directory Semantics:
//   - CreateDir and WriteStream create any missing parent directories.
//   - CreateDir on an existing directory is a no-op.
//   - Delete removes a file or a whole directory subtree.
//
// Thread Safety:
// Implementations must be safe for concurrent use. No operation is atomic
// with respect to other operations; callers needing check-then-act
// semantics must coordinate themselves.
type Backend interface {
	// List returns the entries of dir. With recursive set, every descendant
	// is returned (parents before children). The directory itself is never
	// part of the result.
	//
	// Returns:
	//   - ErrNotFound if dir does not exist
	//   - ErrNotDirectory if dir is a file
	List(ctx context.Context, dir string, recursive bool) ([]Object, error)

	// Has reports whether p exists (file or directory).
	Has(ctx context.Context, p string) (bool, error)

	// Stat returns metadata (type, size, modification time) for p.
	//
	// Returns ErrNotFound if p does not exist.
	Stat(ctx context.Context, p string) (Object, error)

	// CreateDir creates the directory p and any missing parents.
	//
	// Returns ErrNotDirectory if p or one of its parents is a file.
	CreateDir(ctx context.Context, p string) error

	// Delete removes p. Directories are removed with their whole subtree.
	//
	// Returns ErrNotFound if p does not exist.
	Delete(ctx context.Context, p string) error

	// Copy duplicates the file src to dst, replacing dst if it is a file.
	//
	// Returns ErrNotFound if src does not exist and ErrIsDirectory if src
	// is a directory.
	Copy(ctx context.Context, src, dst string) error

	// Rename moves the file or directory from to to.
	//
	// Returns ErrNotFound if from does not exist.
	Rename(ctx context.Context, from, to string) error

	// ReadStream opens p for sequential reading. The caller must close the
	// returned reader.
	//
	// Returns ErrNotFound if p does not exist and ErrIsDirectory if p is a
	// directory.
	ReadStream(ctx context.Context, p string) (io.ReadCloser, error)

	// WriteStream stores everything read from r at p, replacing any
	// existing file. Returns the number of bytes written.
	//
	// Returns ErrIsDirectory if p is an existing directory.
	WriteStream(ctx context.Context, p string, r io.Reader) (int64, error)
}

// PermissionBackend is implemented by backends that keep unix permission
// bits (local disk, memory, badger). Object stores such as S3 do not.
//
// Callers discover the capability with a type assertion:
//
//	if pb, ok := b.(backend.PermissionBackend); ok {
//	    mode, err := pb.Permissions(ctx, "/docs")
//	}
type PermissionBackend interface {
	Backend

	// Permissions returns the permission bits of p (0..0777).
	Permissions(ctx context.Context, p string) (int, error)

	// SetPermissions replaces the permission bits of p with mode (0..0777).
	SetPermissions(ctx context.Context, p string, mode int) error
}

// Closer is implemented by backends holding resources (database handles,
// open files) that must be released on shutdown.
type Closer interface {
	Close() error
}
