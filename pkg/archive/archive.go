package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// member is one planned archive entry.
type member struct {
	name     string
	dir      bool
	stagedID string
	modTime  time.Time
}

// Archive is an archive under construction. It is not safe for concurrent
// use. Every Archive must end with Store or Discard, which release its
// staged files.
type Archive struct {
	id      string
	engine  *Engine
	members []member
	seen    map[string]bool
	done    bool
}

// ID returns the unique id of the archive.
func (a *Archive) ID() string {
	return a.id
}

// Len returns the number of members added so far.
func (a *Archive) Len() int {
	return len(a.members)
}

func (a *Archive) containerID() string {
	return a.id + ".zip"
}

func (a *Archive) memberID() string {
	return a.id + "." + uuid.NewString()
}

// memberName maps a sandbox-relative path to a member name.
func memberName(p string, dir bool) string {
	name := strings.TrimPrefix(p, "/")
	if dir {
		name += "/"
	}
	return name
}

func (a *Archive) checkOpen(op string) error {
	if a.done {
		return vfs.NewError(vfs.KindValidation, op, "", errors.New("archive already finalized"))
	}
	return nil
}

// AddDirectoryFromStorage adds the directory p and everything below it.
// Directory entries are recreated as directory members; files go through
// AddFileFromStorage.
func (a *Archive) AddDirectoryFromStorage(ctx context.Context, p string) (err error) {
	const op = "archive add dir"
	defer a.engine.observe(op, time.Now(), &err)

	if err := a.checkOpen(op); err != nil {
		return err
	}

	listing, err := a.engine.fs.GetDirectoryCollection(ctx, p, true)
	if err != nil {
		return err
	}

	if listing.Location != "/" {
		a.addDir(listing.Location, time.Time{})
	}

	for _, e := range listing.Entries {
		switch e.Type {
		case vfs.TypeDir:
			a.addDir(e.Path, e.ModifiedTime)
		case vfs.TypeFile:
			if err := a.AddFileFromStorage(ctx, e.Path); err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *Archive) addDir(p string, modTime time.Time) {
	name := memberName(p, true)
	if a.seen[name] {
		return
	}
	a.seen[name] = true
	a.members = append(a.members, member{name: name, dir: true, modTime: modTime})
}

// AddFileFromStorage streams the file p into the staging area and records
// it as a member. Adding the same path twice keeps the first copy.
func (a *Archive) AddFileFromStorage(ctx context.Context, p string) (err error) {
	const op = "archive add file"
	defer a.engine.observe(op, time.Now(), &err)

	if err := a.checkOpen(op); err != nil {
		return err
	}

	entry, err := a.engine.fs.Stat(ctx, p)
	if err != nil {
		return err
	}

	name := memberName(entry.Path, false)
	if a.seen[name] {
		return nil
	}

	stream, err := a.engine.fs.ReadStream(ctx, p)
	if err != nil {
		return err
	}
	defer stream.Close()

	id := a.memberID()
	n, err := a.engine.staging.WriteStream(ctx, id, stream, false)
	if err != nil {
		_ = a.engine.staging.Remove(id)
		return vfs.NewError(vfs.KindArchive, op, entry.Path, err)
	}

	a.seen[name] = true
	a.members = append(a.members, member{name: name, stagedID: id, modTime: entry.ModifiedTime})
	a.engine.metrics.RecordBytes("stage", n)

	return nil
}

// Store finalizes the archive, writes it into destination as name (name
// conflicts are upcounted like any stored file) and purges every staged
// file belonging to the archive, whatever the outcome.
//
// Parameters:
//   - ctx: Context for cancellation
//   - destination: Sandbox directory receiving the archive
//   - name: File name of the archive
//
// Returns:
//   - vfs.Change: The stored archive file
//   - error: Archive errors while building the container, or vfs errors
//     while storing it
func (a *Archive) Store(ctx context.Context, destination, name string) (change vfs.Change, err error) {
	const op = "archive store"
	defer a.engine.observe(op, time.Now(), &err)

	if err := a.checkOpen(op); err != nil {
		return vfs.Change{}, err
	}
	a.done = true
	defer a.purge()

	if err := ctx.Err(); err != nil {
		return vfs.Change{}, err
	}

	// ========================================================================
	// Step 1: Write the container from the staged members
	// ========================================================================

	size, err := a.finalize(ctx)
	if err != nil {
		return vfs.Change{}, vfs.NewError(vfs.KindArchive, op, "", err)
	}

	// ========================================================================
	// Step 2: Stream the container into the sandbox
	// ========================================================================

	rc, err := a.engine.staging.ReadStream(ctx, a.containerID())
	if err != nil {
		return vfs.Change{}, vfs.NewError(vfs.KindArchive, op, "", err)
	}
	defer rc.Close()

	change, err = a.engine.fs.Store(ctx, destination, name, rc, false)
	if err != nil {
		return vfs.Change{}, err
	}

	a.engine.metrics.RecordMembers("create", len(a.members))
	logger.Debug("archive: stored %s (%d members, %d bytes)", change.Path, len(a.members), size)

	return change, nil
}

// finalize writes every member into the staged container and returns its
// size.
func (a *Archive) finalize(ctx context.Context) (int64, error) {
	p, err := a.engine.staging.Path(a.containerID())
	if err != nil {
		return 0, err
	}

	f, err := os.Create(p)
	if err != nil {
		return 0, fmt.Errorf("failed to create container: %w", err)
	}

	size, err := a.writeContainer(ctx, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close container: %w", closeErr)
	}
	if err != nil {
		return 0, err
	}
	return size, nil
}

// writeContainer writes every member to f and returns the container size.
// The caller owns f.
func (a *Archive) writeContainer(ctx context.Context, f *os.File) (int64, error) {
	w := zip.NewWriter(f)
	a.engine.registerCompressors(w)

	for _, m := range a.members {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := a.writeMember(w, m); err != nil {
			return 0, fmt.Errorf("member %s: %w", m.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish container: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (a *Archive) writeMember(w *zip.Writer, m member) error {
	hdr := &zip.FileHeader{Name: m.name, Modified: m.modTime}

	if m.dir {
		hdr.Method = zip.Store
		hdr.SetMode(os.ModeDir | 0755)
		_, err := w.CreateHeader(hdr)
		return err
	}

	hdr.Method = a.engine.compression.method()
	hdr.SetMode(0644)

	p, err := a.engine.staging.Path(m.stagedID)
	if err != nil {
		return err
	}
	src, err := os.Open(p)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := w.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// Discard abandons the archive and purges its staged files. Calling it on
// a stored archive is a no-op.
func (a *Archive) Discard() {
	if a.done {
		return
	}
	a.done = true
	a.purge()
}

// purge removes the container and every staged member.
func (a *Archive) purge() {
	ids := []string{a.containerID()}
	for _, m := range a.members {
		if m.stagedID != "" {
			ids = append(ids, m.stagedID)
		}
	}

	for _, id := range ids {
		if err := a.engine.staging.Remove(id); err != nil {
			logger.Warn("archive: failed to purge staged %s: %v", id, err)
		}
	}
}

// relPath converts a member name back into a clean relative path. ok is
// false for names that are absolute or climb out of the destination.
func relPath(name string) (rel string, dir bool, ok bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return "", false, false
	}
	if len(name) >= 2 && name[1] == ':' {
		return "", false, false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false, false
		}
	}

	dir = strings.HasSuffix(name, "/")
	return path.Clean(name), dir, true
}
