package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

const zipMIME = "application/zip"

// isZip reports whether m is zip or a zip-based format (docx, jar, ...).
func isZip(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}
	return false
}

// Uncompress extracts the archive file source into the directory
// destination.
//
// The archive is first copied into the staging area; that copy is removed
// on every exit path. Directory members are created when absent, file
// members are stored with the usual conflict resolution. The first failing
// member aborts the extraction; members already written stay in place.
//
// Parameters:
//   - ctx: Context for cancellation
//   - source: Sandbox path of the archive file
//   - destination: Sandbox directory receiving the members
//
// Returns:
//   - []vfs.Change: One change per created directory or stored file
//   - error: Archive errors for unreadable, non-zip or unsafe archives; vfs
//     errors while writing members
func (e *Engine) Uncompress(ctx context.Context, source, destination string) (changes []vfs.Change, err error) {
	const op = "uncompress"
	defer e.observe(op, time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	destination, err = e.destination(ctx, destination)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Copy the archive into staging
	// ========================================================================

	stream, err := e.fs.ReadStream(ctx, source)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString() + ".zip"
	defer func() {
		if rerr := e.staging.Remove(id); rerr != nil {
			logger.Warn("archive: failed to purge staged %s: %v", id, rerr)
		}
	}()

	_, err = e.staging.WriteStream(ctx, id, stream, false)
	stream.Close()
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}

	stagedPath, err := e.staging.Path(id)
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}

	// ========================================================================
	// Step 2: Open and vet the container
	// ========================================================================

	mime, err := mimetype.DetectFile(stagedPath)
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}
	if !isZip(mime) {
		return nil, vfs.NewError(vfs.KindArchive, op, source, fmt.Errorf("unsupported archive type %s", mime.String()))
	}

	f, err := os.Open(stagedPath)
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, vfs.NewError(vfs.KindArchive, op, source, err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	type planned struct {
		file *zip.File
		rel  string
		dir  bool
	}

	plan := make([]planned, 0, len(zr.File))
	for _, zf := range zr.File {
		rel, dir, ok := relPath(zf.Name)
		if !ok {
			return nil, vfs.NewError(vfs.KindArchive, op, source, fmt.Errorf("unsafe member name %q", zf.Name))
		}
		if rel == "." {
			continue
		}
		plan = append(plan, planned{file: zf, rel: rel, dir: dir || zf.FileInfo().IsDir()})
	}

	// ========================================================================
	// Step 3: Recreate members
	// ========================================================================

	for _, m := range plan {
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		var c vfs.Change
		var created bool
		if m.dir {
			c, created, err = e.extractDir(ctx, destination, m.rel)
		} else {
			c, err = e.extractFile(ctx, destination, m.rel, m.file)
			created = err == nil
		}
		if err != nil {
			return changes, err
		}
		if created {
			changes = append(changes, c)
		}
	}

	e.metrics.RecordMembers("extract", len(plan))
	logger.Debug("archive: extracted %d members from %s into %s", len(plan), source, destination)

	return changes, nil
}

// destination returns the canonical sandbox path of dir. A missing
// directory is kept as given; storing the first member creates it.
func (e *Engine) destination(ctx context.Context, dir string) (string, error) {
	entry, err := e.fs.Stat(ctx, dir)
	switch {
	case err == nil && entry.Type != vfs.TypeDir:
		return "", vfs.NewError(vfs.KindTypeMismatch, "uncompress", entry.Path, errors.New("destination is not a directory"))
	case err == nil:
		return entry.Path, nil
	case errors.Is(err, backend.ErrNotFound):
		return dir, nil
	default:
		return "", err
	}
}

// extractDir creates destination/rel unless it already exists.
func (e *Engine) extractDir(ctx context.Context, destination, rel string) (vfs.Change, bool, error) {
	target := path.Join(destination, rel)

	exists, err := e.fs.Exists(ctx, target)
	if err != nil {
		return vfs.Change{}, false, err
	}
	if exists {
		return vfs.Change{}, false, nil
	}

	c, err := e.fs.CreateDir(ctx, path.Dir(target), path.Base(target))
	if err != nil {
		return vfs.Change{}, false, err
	}
	return c, true, nil
}

// extractFile streams one member into destination/rel.
func (e *Engine) extractFile(ctx context.Context, destination, rel string, zf *zip.File) (vfs.Change, error) {
	rc, err := zf.Open()
	if err != nil {
		return vfs.Change{}, vfs.NewError(vfs.KindArchive, "uncompress", "", fmt.Errorf("member %s: %w", zf.Name, err))
	}
	defer rc.Close()

	tr := &trackingReader{r: rc}
	target := path.Join(destination, rel)

	c, err := e.fs.Store(ctx, path.Dir(target), path.Base(target), tr, false)
	if err != nil {
		if tr.err != nil {
			return vfs.Change{}, vfs.NewError(vfs.KindArchive, "uncompress", "", fmt.Errorf("member %s: %w", zf.Name, tr.err))
		}
		return vfs.Change{}, err
	}
	e.metrics.RecordBytes("extract", tr.n)
	return c, nil
}

// trackingReader remembers the first non-EOF read error so that corrupt
// member data can be told apart from backend write failures.
type trackingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
