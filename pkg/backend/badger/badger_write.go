package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// CreateDir creates p and its missing parents.
func (b *BadgerBackend) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return b.ensureDir(txn, p)
	})
}

// WriteStream stores r at p.
//
// Chunks are written under a fresh content id first; the node record is then
// switched to it in one transaction and the previous chunks are dropped.
// A failure midway leaves the old content intact.
func (b *BadgerBackend) WriteStream(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p = backend.Clean(p)
	if p == "/" {
		return 0, fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
	}

	// ========================================================================
	// Step 1: Upload chunks under a new content id
	// ========================================================================

	content := uuid.New().String()
	buf := make([]byte, b.chunkSize)

	var (
		size   int64
		chunks int
	)
	for {
		if err := ctx.Err(); err != nil {
			b.dropChunks(content, chunks)
			return size, err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			idx := chunks
			err := b.db.Update(func(txn *badgerdb.Txn) error {
				return txn.Set(chunkKey(content, idx), append([]byte(nil), buf[:n]...))
			})
			if err != nil {
				b.dropChunks(content, chunks)
				return size, fmt.Errorf("write %s: %w", p, err)
			}
			chunks++
			size += int64(n)
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			b.dropChunks(content, chunks)
			return size, fmt.Errorf("write %s: %w", p, readErr)
		}
	}

	// ========================================================================
	// Step 2: Switch the node record to the new content
	// ========================================================================

	var old *node
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		mode := b.fileMode

		existing, err := getNode(txn, p)
		switch {
		case err == nil:
			if existing.Type == backend.TypeDir {
				return fmt.Errorf("write %s: %w", p, backend.ErrIsDirectory)
			}
			mode = existing.Mode
			old = existing
		case !errors.Is(err, backend.ErrNotFound):
			return err
		}

		if err := b.ensureParents(txn, p); err != nil {
			return err
		}

		return putNode(txn, p, &node{
			Type:    backend.TypeFile,
			Size:    size,
			Mode:    mode,
			ModTime: time.Now(),
			Content: content,
			Chunks:  chunks,
		})
	})
	if err != nil {
		b.dropChunks(content, chunks)
		return size, err
	}

	// ========================================================================
	// Step 3: Drop the replaced content
	// ========================================================================

	if old != nil {
		b.dropChunks(old.Content, old.Chunks)
	}

	return size, nil
}

// dropChunks deletes the chunks of a content id. Failures only leak space.
func (b *BadgerBackend) dropChunks(content string, chunks int) {
	if content == "" {
		return
	}
	for idx := 0; idx < chunks; idx++ {
		i := idx
		_ = b.db.Update(func(txn *badgerdb.Txn) error {
			return txn.Delete(chunkKey(content, i))
		})
	}
}

// Delete removes p and everything below it.
func (b *BadgerBackend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	var dropped []*node
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, p)
		if err != nil {
			return fmt.Errorf("delete %w", err)
		}

		var keys []string
		err = walkNodes(txn, p, func(child string, cn *node) error {
			keys = append(keys, child)
			if cn.Type == backend.TypeFile {
				dropped = append(dropped, cn)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if p != "/" {
			keys = append(keys, p)
			if n.Type == backend.TypeFile {
				dropped = append(dropped, n)
			}
		}

		for _, k := range keys {
			if err := txn.Delete(nodeKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, n := range dropped {
		b.dropChunks(n.Content, n.Chunks)
	}
	return nil
}

// Copy duplicates the file src at dst.
func (b *BadgerBackend) Copy(ctx context.Context, src, dst string) error {
	in, err := b.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = b.WriteStream(ctx, dst, in)
	return err
}

// Rename moves a file or directory subtree by rewriting node keys. Content
// chunks are addressed by content id and stay where they are.
func (b *BadgerBackend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to = backend.Clean(from), backend.Clean(to)

	return b.db.Update(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, from)
		if err != nil {
			return fmt.Errorf("rename %w", err)
		}

		if err := b.ensureParents(txn, to); err != nil {
			return err
		}

		type move struct {
			from, to string
			n        *node
		}
		moves := []move{{from: from, to: to, n: n}}

		err = walkNodes(txn, from, func(p string, cn *node) error {
			moves = append(moves, move{from: p, to: path.Join(to, backend.Rel(from, p)), n: cn})
			return nil
		})
		if err != nil {
			return err
		}

		for _, m := range moves {
			if err := txn.Delete(nodeKey(m.from)); err != nil {
				return err
			}
		}
		for _, m := range moves {
			if err := putNode(txn, m.to, m.n); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Permissions
// ============================================================================

// Permissions returns the stored permission bits of p.
func (b *BadgerBackend) Permissions(ctx context.Context, p string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	p = backend.Clean(p)

	mode := -1
	err := b.db.View(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, p)
		if err != nil {
			return fmt.Errorf("permissions %w", err)
		}
		mode = n.Mode
		return nil
	})
	return mode, err
}

// SetPermissions stores new permission bits for p.
func (b *BadgerBackend) SetPermissions(ctx context.Context, p string, mode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p = backend.Clean(p)

	return b.db.Update(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, p)
		if err != nil {
			return fmt.Errorf("chmod %w", err)
		}
		n.Mode = mode & 0777
		return putNode(txn, p, n)
	})
}
