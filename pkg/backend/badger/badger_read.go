package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// List returns the children (or all descendants) of dir.
func (b *BadgerBackend) List(ctx context.Context, dir string, recursive bool) ([]backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir = backend.Clean(dir)

	var objects []backend.Object
	err := b.db.View(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, dir)
		if err != nil {
			return fmt.Errorf("list %w", err)
		}
		if n.Type != backend.TypeDir {
			return fmt.Errorf("list %s: %w", dir, backend.ErrNotDirectory)
		}

		return walkNodes(txn, dir, func(p string, n *node) error {
			if !recursive && strings.Contains(backend.Rel(dir, p), "/") {
				return nil
			}
			objects = append(objects, toObject(p, n))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// Has reports whether p exists.
func (b *BadgerBackend) Has(ctx context.Context, p string) (bool, error) {
	_, err := b.Stat(ctx, p)
	if errors.Is(err, backend.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns the object describing p.
func (b *BadgerBackend) Stat(ctx context.Context, p string) (backend.Object, error) {
	if err := ctx.Err(); err != nil {
		return backend.Object{}, err
	}

	p = backend.Clean(p)

	var obj backend.Object
	err := b.db.View(func(txn *badgerdb.Txn) error {
		n, err := getNode(txn, p)
		if err != nil {
			return fmt.Errorf("stat %w", err)
		}
		obj = toObject(p, n)
		return nil
	})
	return obj, err
}

// ReadStream returns a reader fetching one content chunk at a time.
func (b *BadgerBackend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p = backend.Clean(p)

	var n *node
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		n, err = getNode(txn, p)
		if err != nil {
			return fmt.Errorf("read %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n.Type == backend.TypeDir {
		return nil, fmt.Errorf("read %s: %w", p, backend.ErrIsDirectory)
	}

	return &chunkReader{db: b.db, content: n.Content, chunks: n.Chunks}, nil
}

// chunkReader streams the chunks of one content id in order.
type chunkReader struct {
	db      *badgerdb.DB
	content string
	chunks  int
	next    int
	buf     []byte
	closed  bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read on closed reader")
	}

	for len(r.buf) == 0 {
		if r.next >= r.chunks {
			return 0, io.EOF
		}

		err := r.db.View(func(txn *badgerdb.Txn) error {
			item, err := txn.Get(chunkKey(r.content, r.next))
			if err != nil {
				return err
			}
			r.buf, err = item.ValueCopy(nil)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("failed to read chunk %d: %w", r.next, err)
		}
		r.next++
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}
