// Package vfs implements a path-safe virtual filesystem over a pluggable
// storage backend.
//
// A Filesystem is bound to one sandbox: a fixed prefix inside the backend.
// Callers only ever see sandbox-relative paths ("/docs/report.txt"); the
// prefix is applied on the way in and stripped on the way out.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// Config configures a Filesystem. It is copied at construction and never
// changes afterwards.
type Config struct {
	// Prefix is the sandbox root inside the backend (default: "/").
	Prefix string

	// StrictPaths rejects paths containing ".." with a PathTraversal error
	// instead of resolving them to the sandbox root.
	StrictPaths bool

	// Actor is the already-authenticated identity performing operations.
	// It is only used for logging and Change records.
	Actor string

	// Metrics is optional; nil disables metrics collection.
	Metrics Metrics
}

// Filesystem is the sandboxed virtual filesystem.
//
// Thread Safety:
// A Filesystem is safe for concurrent use. Choosing a free name and
// creating the item happen under a per-directory lock shared by every
// Filesystem derived through WithActor. Other processes writing to the same
// backend are not coordinated with.
type Filesystem struct {
	backend backend.Backend
	prefix  string
	strict  bool
	actor   string
	metrics Metrics
	locks   *dirLocks
}

// New creates a Filesystem over b. The prefix directory is created if it
// does not exist.
//
// Parameters:
//   - ctx: Context for cancellation
//   - b: Storage backend
//   - cfg: Sandbox configuration
//
// Returns:
//   - *Filesystem: Sandbox ready for use
//   - error: Validation error for a nil backend, or backend errors while
//     creating the prefix
func New(ctx context.Context, b backend.Backend, cfg Config) (*Filesystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, validationError("new", "", "backend is required")
	}

	prefix := cfg.Prefix
	if strings.Contains("/"+strings.ReplaceAll(prefix, "\\", "/")+"/", "/../") {
		return nil, validationError("new", "", "prefix %q must not contain '..'", prefix)
	}
	prefix = backend.Clean(prefix)

	var m Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	f := &Filesystem{
		backend: b,
		prefix:  prefix,
		strict:  cfg.StrictPaths,
		actor:   cfg.Actor,
		metrics: m,
		locks:   &dirLocks{},
	}

	if prefix != "/" {
		if err := b.CreateDir(ctx, prefix); err != nil {
			return nil, fmt.Errorf("failed to create sandbox prefix: %w", err)
		}
	}

	return f, nil
}

// Actor returns the identity bound to this sandbox.
func (f *Filesystem) Actor() string {
	return f.actor
}

// WithActor returns a Filesystem for the same sandbox acting as actor.
func (f *Filesystem) WithActor(actor string) *Filesystem {
	c := *f
	c.actor = actor
	return &c
}

// ============================================================================
// Change Records
// ============================================================================

// ChangeOp names a mutating operation.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpCopy   ChangeOp = "copy"
	OpMove   ChangeOp = "move"
	OpRename ChangeOp = "rename"
	OpDelete ChangeOp = "delete"
	OpStore  ChangeOp = "store"
	OpChmod  ChangeOp = "chmod"
)

// Change describes the outcome of a mutating call with enough detail for
// the caller to fire its own notifications.
type Change struct {
	Op    ChangeOp  `json:"op"`
	Path  string    `json:"path"`
	Name  string    `json:"name"`
	Type  EntryType `json:"type"`
	Actor string    `json:"actor"`

	// From is the previous path of a moved, renamed or copied item.
	From string `json:"from,omitempty"`
}

func (f *Filesystem) change(op ChangeOp, full string, t EntryType) Change {
	rel := f.strip(full)
	return Change{Op: op, Path: rel, Name: path.Base(rel), Type: t, Actor: f.actor}
}

// ============================================================================
// Internal Helpers
// ============================================================================

// storageError wraps a backend failure, hiding the sandbox prefix.
func (f *Filesystem) storageError(op, full string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(KindStorage, op, f.strip(full), &scrubbed{err: err, msg: f.scrub(err.Error())})
}

// observe records the duration and outcome of op. It is deferred with a
// pointer to the named error result.
func (f *Filesystem) observe(op string, start time.Time, err *error) {
	f.metrics.ObserveOperation(op, time.Since(start), *err)
}

// stat returns the backend object at full.
func (f *Filesystem) stat(ctx context.Context, op, full string) (backend.Object, error) {
	obj, err := f.backend.Stat(ctx, full)
	if err != nil {
		return backend.Object{}, f.storageError(op, full, err)
	}
	return obj, nil
}

// freeName upcounts name until it is unused in dir.
func (f *Filesystem) freeName(ctx context.Context, op, dir, name string) (string, error) {
	for {
		candidate := path.Join(dir, name)
		exists, err := f.backend.Has(ctx, candidate)
		if err != nil {
			return "", f.storageError(op, candidate, err)
		}
		if !exists {
			return name, nil
		}
		name = UpcountName(name)
	}
}

func entryType(t backend.ObjectType) EntryType {
	if t == backend.TypeDir {
		return TypeDir
	}
	return TypeFile
}

// ============================================================================
// Creation
// ============================================================================

// Create makes a new item of type t named name inside parent. t must be
// TypeDir or TypeFile.
func (f *Filesystem) Create(ctx context.Context, t EntryType, parent, name string) (Change, error) {
	switch t {
	case TypeDir:
		return f.CreateDir(ctx, parent, name)
	case TypeFile:
		return f.CreateFile(ctx, parent, name)
	default:
		return Change{}, validationError("create", "", "invalid type %q", t)
	}
}

// CreateDir creates the directory name inside parent. If the name is taken
// it is upcounted ("photos" -> "photos (1)").
func (f *Filesystem) CreateDir(ctx context.Context, parent, name string) (change Change, err error) {
	const op = "create dir"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := validateName(op, name); err != nil {
		return Change{}, err
	}

	dir, err := f.resolve(op, parent)
	if err != nil {
		return Change{}, err
	}

	unlock := f.locks.lock(dir)
	defer unlock()

	name, err = f.freeName(ctx, op, dir, name)
	if err != nil {
		return Change{}, err
	}

	target := path.Join(dir, name)
	if err := f.backend.CreateDir(ctx, target); err != nil {
		return Change{}, f.storageError(op, target, err)
	}

	logger.Debug("vfs: created dir %s (actor=%s)", f.strip(target), f.actor)
	return f.change(OpCreate, target, TypeDir), nil
}

// CreateFile creates the empty file name inside parent, upcounting taken
// names.
func (f *Filesystem) CreateFile(ctx context.Context, parent, name string) (change Change, err error) {
	const op = "create file"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := validateName(op, name); err != nil {
		return Change{}, err
	}

	dir, err := f.resolve(op, parent)
	if err != nil {
		return Change{}, err
	}

	unlock := f.locks.lock(dir)
	defer unlock()

	name, err = f.freeName(ctx, op, dir, name)
	if err != nil {
		return Change{}, err
	}

	target := path.Join(dir, name)
	if _, err := f.backend.WriteStream(ctx, target, strings.NewReader("")); err != nil {
		return Change{}, f.storageError(op, target, err)
	}

	logger.Debug("vfs: created file %s (actor=%s)", f.strip(target), f.actor)
	return f.change(OpCreate, target, TypeFile), nil
}

// ============================================================================
// Copy, Move, Rename
// ============================================================================

// CopyFile copies the file source into destinationDir, keeping its name
// unless taken in the destination.
func (f *Filesystem) CopyFile(ctx context.Context, source, destinationDir string) (change Change, err error) {
	const op = "copy file"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	src, err := f.resolve(op, source)
	if err != nil {
		return Change{}, err
	}
	dst, err := f.resolve(op, destinationDir)
	if err != nil {
		return Change{}, err
	}

	obj, err := f.stat(ctx, op, src)
	if err != nil {
		return Change{}, err
	}
	if obj.IsDir() {
		return Change{}, NewError(KindTypeMismatch, op, f.strip(src), errors.New("source is a directory"))
	}

	unlock := f.locks.lock(dst)
	defer unlock()

	name, err := f.freeName(ctx, op, dst, path.Base(src))
	if err != nil {
		return Change{}, err
	}

	target := path.Join(dst, name)
	if err := f.backend.Copy(ctx, src, target); err != nil {
		return Change{}, f.storageError(op, target, err)
	}

	logger.Debug("vfs: copied %s -> %s (actor=%s)", f.strip(src), f.strip(target), f.actor)
	c := f.change(OpCopy, target, TypeFile)
	c.From = f.strip(src)
	return c, nil
}

// CopyDir recursively copies the directory source into destinationDir.
// An empty source still produces an (empty) destination directory.
func (f *Filesystem) CopyDir(ctx context.Context, source, destinationDir string) (change Change, err error) {
	const op = "copy dir"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	src, err := f.resolve(op, source)
	if err != nil {
		return Change{}, err
	}
	dst, err := f.resolve(op, destinationDir)
	if err != nil {
		return Change{}, err
	}

	// ========================================================================
	// Step 1: Validate source and destination
	// ========================================================================

	if src == f.prefix {
		return Change{}, validationError(op, "/", "cannot copy the sandbox root")
	}
	if backend.IsWithin(dst, src) {
		return Change{}, validationError(op, f.strip(dst), "destination is inside the source directory")
	}

	obj, err := f.stat(ctx, op, src)
	if err != nil {
		return Change{}, err
	}
	if !obj.IsDir() {
		return Change{}, NewError(KindTypeMismatch, op, f.strip(src), errors.New("source is not a directory"))
	}

	unlock := f.locks.lock(dst)
	defer unlock()

	name, err := f.freeName(ctx, op, dst, path.Base(src))
	if err != nil {
		return Change{}, err
	}
	target := path.Join(dst, name)

	// ========================================================================
	// Step 2: Recreate the tree below the destination
	// ========================================================================

	objects, err := f.backend.List(ctx, src, true)
	if err != nil {
		return Change{}, f.storageError(op, src, err)
	}

	if len(objects) == 0 {
		if err := f.backend.CreateDir(ctx, target); err != nil {
			return Change{}, f.storageError(op, target, err)
		}
	}

	for _, o := range objects {
		if err := ctx.Err(); err != nil {
			return Change{}, err
		}

		to := path.Join(target, backend.Rel(src, o.Path))
		if o.IsDir() {
			err = f.backend.CreateDir(ctx, to)
		} else {
			err = f.backend.Copy(ctx, o.Path, to)
		}
		if err != nil {
			return Change{}, f.storageError(op, to, err)
		}
	}

	logger.Debug("vfs: copied dir %s -> %s (%d items, actor=%s)", f.strip(src), f.strip(target), len(objects), f.actor)
	c := f.change(OpCopy, target, TypeDir)
	c.From = f.strip(src)
	return c, nil
}

// Move relocates from to the full path to. If to is taken, its name is
// upcounted.
func (f *Filesystem) Move(ctx context.Context, from, to string) (change Change, err error) {
	const op = "move"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	src, err := f.resolve(op, from)
	if err != nil {
		return Change{}, err
	}
	dst, err := f.resolve(op, to)
	if err != nil {
		return Change{}, err
	}

	return f.relocate(ctx, op, OpMove, src, dst)
}

// Rename renames from to to, both names inside destinationDir. A taken
// target name is upcounted.
func (f *Filesystem) Rename(ctx context.Context, destinationDir, from, to string) (change Change, err error) {
	const op = "rename"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := validateName(op, from); err != nil {
		return Change{}, err
	}
	if err := validateName(op, to); err != nil {
		return Change{}, err
	}

	dir, err := f.resolve(op, destinationDir)
	if err != nil {
		return Change{}, err
	}

	return f.relocate(ctx, op, OpRename, path.Join(dir, from), path.Join(dir, to))
}

// relocate renames src to a free variant of dst.
func (f *Filesystem) relocate(ctx context.Context, op string, kind ChangeOp, src, dst string) (Change, error) {
	if src == f.prefix || dst == f.prefix {
		return Change{}, validationError(op, f.strip(src), "cannot move the sandbox root")
	}
	if backend.IsWithin(dst, src) {
		return Change{}, validationError(op, f.strip(dst), "cannot move an item inside itself")
	}

	obj, err := f.stat(ctx, op, src)
	if err != nil {
		return Change{}, err
	}

	unlock := f.locks.lock(path.Dir(dst))
	defer unlock()

	name, err := f.freeName(ctx, op, path.Dir(dst), path.Base(dst))
	if err != nil {
		return Change{}, err
	}
	target := path.Join(path.Dir(dst), name)

	if err := f.backend.Rename(ctx, src, target); err != nil {
		return Change{}, f.storageError(op, src, err)
	}

	logger.Debug("vfs: %s %s -> %s (actor=%s)", op, f.strip(src), f.strip(target), f.actor)
	c := f.change(kind, target, entryType(obj.Type))
	c.From = f.strip(src)
	return c, nil
}

// ============================================================================
// Deletion
// ============================================================================

// DeleteDir removes the directory p and its content. Confirmation of this
// irreversible action is the caller's responsibility.
func (f *Filesystem) DeleteDir(ctx context.Context, p string) (Change, error) {
	return f.delete(ctx, "delete dir", p, TypeDir)
}

// DeleteFile removes the file p.
func (f *Filesystem) DeleteFile(ctx context.Context, p string) (Change, error) {
	return f.delete(ctx, "delete file", p, TypeFile)
}

func (f *Filesystem) delete(ctx context.Context, op, p string, want EntryType) (change Change, err error) {
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return Change{}, err
	}
	if target == f.prefix {
		return Change{}, validationError(op, "/", "cannot delete the sandbox root")
	}

	obj, err := f.stat(ctx, op, target)
	if err != nil {
		return Change{}, err
	}
	if got := entryType(obj.Type); got != want {
		return Change{}, NewError(KindTypeMismatch, op, f.strip(target), fmt.Errorf("is a %s", got))
	}

	if err := f.backend.Delete(ctx, target); err != nil {
		return Change{}, f.storageError(op, target, err)
	}

	logger.Debug("vfs: deleted %s %s (actor=%s)", want, f.strip(target), f.actor)
	return f.change(OpDelete, target, want), nil
}

// ============================================================================
// Content
// ============================================================================

// Store writes r as name inside dir. When the name is taken by a file,
// overwrite replaces it; otherwise the name is upcounted.
func (f *Filesystem) Store(ctx context.Context, dir, name string, r io.Reader, overwrite bool) (change Change, err error) {
	const op = "store"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return Change{}, err
	}
	if err := validateName(op, name); err != nil {
		return Change{}, err
	}

	parent, err := f.resolve(op, dir)
	if err != nil {
		return Change{}, err
	}

	target := path.Join(parent, name)

	unlock := f.locks.lock(parent)
	defer unlock()

	existing, statErr := f.backend.Stat(ctx, target)
	switch {
	case statErr == nil && overwrite && !existing.IsDir():
		if err := f.backend.Delete(ctx, target); err != nil {
			return Change{}, f.storageError(op, target, err)
		}
	case statErr == nil:
		name, err = f.freeName(ctx, op, parent, name)
		if err != nil {
			return Change{}, err
		}
		target = path.Join(parent, name)
	case !errors.Is(statErr, backend.ErrNotFound):
		return Change{}, f.storageError(op, target, statErr)
	}

	n, err := f.backend.WriteStream(ctx, target, r)
	if err != nil {
		return Change{}, f.storageError(op, target, err)
	}
	f.metrics.RecordBytes("write", n)

	logger.Debug("vfs: stored %s (%d bytes, actor=%s)", f.strip(target), n, f.actor)
	return f.change(OpStore, target, TypeFile), nil
}

// Stream is an open file returned by ReadStream. The caller must Close it.
type Stream struct {
	io.ReadCloser

	// Name is the base name of the file.
	Name string

	// Size is the content length at open time.
	Size int64
}

// ReadStream opens the file p. Directories fail with a TypeMismatch error.
func (f *Filesystem) ReadStream(ctx context.Context, p string) (stream *Stream, err error) {
	const op = "read"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return nil, err
	}

	obj, err := f.stat(ctx, op, target)
	if err != nil {
		return nil, err
	}
	if obj.IsDir() {
		return nil, NewError(KindTypeMismatch, op, f.strip(target), errors.New("cannot stream a directory"))
	}

	rc, err := f.backend.ReadStream(ctx, target)
	if err != nil {
		return nil, f.storageError(op, target, err)
	}

	return &Stream{
		ReadCloser: &countingReadCloser{ReadCloser: rc, metrics: f.metrics},
		Name:       path.Base(target),
		Size:       obj.Size,
	}, nil
}

// Exists reports whether p exists in the sandbox.
func (f *Filesystem) Exists(ctx context.Context, p string) (bool, error) {
	const op = "exists"

	if err := ctx.Err(); err != nil {
		return false, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return false, err
	}

	ok, err := f.backend.Has(ctx, target)
	if err != nil {
		return false, f.storageError(op, target, err)
	}
	return ok, nil
}

// Stat returns the entry describing p.
func (f *Filesystem) Stat(ctx context.Context, p string) (Entry, error) {
	const op = "stat"

	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	target, err := f.resolve(op, p)
	if err != nil {
		return Entry{}, err
	}

	obj, err := f.stat(ctx, op, target)
	if err != nil {
		return Entry{}, err
	}
	return f.entry(ctx, obj), nil
}

// ============================================================================
// Listing
// ============================================================================

// GetDirectoryCollection lists p. Non-recursive listings of anything but
// the sandbox root start with one synthetic TypeBack entry pointing at the
// parent directory. Every path in the result is sandbox-relative.
func (f *Filesystem) GetDirectoryCollection(ctx context.Context, p string, recursive bool) (listing *DirectoryListing, err error) {
	const op = "list"
	defer f.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := f.resolve(op, p)
	if err != nil {
		return nil, err
	}

	objects, err := f.backend.List(ctx, dir, recursive)
	if err != nil {
		if errors.Is(err, backend.ErrNotDirectory) {
			return nil, NewError(KindTypeMismatch, op, f.strip(dir), errors.New("not a directory"))
		}
		return nil, f.storageError(op, dir, err)
	}

	location := f.strip(dir)
	listing = &DirectoryListing{Location: location}

	if !recursive && dir != f.prefix {
		listing.add(Entry{
			Type:        TypeBack,
			Path:        path.Dir(location),
			Name:        "..",
			Permissions: -1,
		})
	}

	for _, o := range objects {
		listing.add(f.entry(ctx, o))
	}

	listing.sortEntries()
	return listing, nil
}

// entry converts a backend object into a sandbox-relative Entry.
func (f *Filesystem) entry(ctx context.Context, o backend.Object) Entry {
	rel := f.strip(o.Path)

	mode := -1
	if pb, ok := f.backend.(backend.PermissionBackend); ok {
		if m, err := pb.Permissions(ctx, o.Path); err == nil {
			mode = m
		}
	}

	return Entry{
		Type:         entryType(o.Type),
		Path:         rel,
		Name:         path.Base(rel),
		Size:         o.Size,
		ModifiedTime: o.ModTime,
		Permissions:  mode,
	}
}
