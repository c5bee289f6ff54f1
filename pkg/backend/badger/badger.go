package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// Key Namespace:
//
//	n:<path>            JSON-encoded node record for every file and directory
//	b:<content>:<idx>   content chunk idx (zero-padded) of a file's content id
//
// Directory children are found with a prefix scan over "n:<dir>/". Content
// ids are UUIDs, so renames move node records only and never touch chunks.
const (
	prefixNode  = "n:"
	prefixChunk = "b:"

	defaultChunkSize = 1 << 20
)

// BadgerBackend implements backend.PermissionBackend on an embedded
// BadgerDB key-value store.
//
// It keeps the full tree (types, sizes, modification times and permission
// bits) in node records, and file content split in fixed-size chunks so
// reads and writes never hold more than one chunk in memory.
//
// Thread Safety:
// Safe for concurrent use. Every structural change runs inside a single
// BadgerDB transaction; content upload happens chunk by chunk before the
// node record is switched to the new content id.
type BadgerBackend struct {
	db        *badgerdb.DB
	chunkSize int
	dirMode   int
	fileMode  int
}

// BadgerBackendConfig configures a BadgerBackend.
type BadgerBackendConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	// Ignored when InMemory is set.
	DBPath string

	// InMemory keeps the whole database in RAM (tests, scratch sandboxes)
	InMemory bool

	// ChunkSize is the size of content chunks in bytes (default: 1MB)
	ChunkSize int

	// DirMode is the permission of directories created by the backend (default: 0755)
	DirMode os.FileMode

	// FileMode is the permission of files created by the backend (default: 0644)
	FileMode os.FileMode

	// BadgerOptions allows customization of BadgerDB behavior.
	// If nil, sensible defaults are used.
	BadgerOptions *badgerdb.Options
}

// node is the persisted record of one file or directory.
type node struct {
	Type    backend.ObjectType `json:"type"`
	Size    int64              `json:"size"`
	Mode    int                `json:"mode"`
	ModTime time.Time          `json:"mtime"`
	Content string             `json:"content,omitempty"`
	Chunks  int                `json:"chunks,omitempty"`
}

// NewBadgerBackend opens (or creates) a BadgerDB-backed tree.
//
// Parameters:
//   - ctx: Context for cancellation (checked before opening the database)
//   - cfg: Backend configuration
//
// Returns:
//   - *BadgerBackend: Backend with an initialized root directory
//   - error: Error if the database cannot be opened or context is cancelled
func NewBadgerBackend(ctx context.Context, cfg BadgerBackendConfig) (*BadgerBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	switch {
	case cfg.BadgerOptions != nil:
		opts = *cfg.BadgerOptions
	case cfg.InMemory:
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	default:
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger backend: db_path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.DBPath)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	b := &BadgerBackend{
		db:        db,
		chunkSize: cfg.ChunkSize,
		dirMode:   int(cfg.DirMode.Perm()),
		fileMode:  int(cfg.FileMode.Perm()),
	}

	// Ensure the root directory record exists
	err = db.Update(func(txn *badgerdb.Txn) error {
		_, err := getNode(txn, "/")
		if errors.Is(err, backend.ErrNotFound) {
			return putNode(txn, "/", &node{Type: backend.TypeDir, Mode: b.dirMode, ModTime: time.Now()})
		}
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize root: %w", err)
	}

	return b, nil
}

// Close releases the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// ============================================================================
// Keys and Records
// ============================================================================

func nodeKey(p string) []byte {
	return []byte(prefixNode + p)
}

// childPrefix is the scan prefix for every descendant of dir.
func childPrefix(dir string) []byte {
	if dir == "/" {
		return []byte(prefixNode + "/")
	}
	return []byte(prefixNode + dir + "/")
}

func chunkKey(content string, idx int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixChunk, content, idx))
}

func getNode(txn *badgerdb.Txn, p string) (*node, error) {
	item, err := txn.Get(nodeKey(p))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", p, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", p, err)
	}

	var n node
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", p, err)
	}
	return &n, nil
}

func putNode(txn *badgerdb.Txn, p string, n *node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", p, err)
	}
	return txn.Set(nodeKey(p), data)
}

// walkNodes calls fn for every descendant of dir in key order, which puts
// parents ahead of their children.
func walkNodes(txn *badgerdb.Txn, dir string, fn func(p string, n *node) error) error {
	prefix := childPrefix(dir)

	it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		p := strings.TrimPrefix(string(item.Key()), prefixNode)
		if p == dir {
			continue
		}

		var n node
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &n)
		}); err != nil {
			return fmt.Errorf("failed to decode node %s: %w", p, err)
		}

		if err := fn(p, &n); err != nil {
			return err
		}
	}

	return nil
}

// ensureParents creates missing directory records above p.
func (b *BadgerBackend) ensureParents(txn *badgerdb.Txn, p string) error {
	return b.ensureDir(txn, path.Dir(p))
}

// ensureDir creates the directory record p and its missing parents.
func (b *BadgerBackend) ensureDir(txn *badgerdb.Txn, p string) error {
	if p == "/" {
		return nil
	}

	n, err := getNode(txn, p)
	switch {
	case err == nil:
		if n.Type != backend.TypeDir {
			return fmt.Errorf("mkdir %s: %w", p, backend.ErrNotDirectory)
		}
		return nil
	case !errors.Is(err, backend.ErrNotFound):
		return err
	}

	if err := b.ensureDir(txn, path.Dir(p)); err != nil {
		return err
	}

	return putNode(txn, p, &node{Type: backend.TypeDir, Mode: b.dirMode, ModTime: time.Now()})
}

func toObject(p string, n *node) backend.Object {
	return backend.Object{
		Path:    p,
		Type:    n.Type,
		Size:    n.Size,
		ModTime: n.ModTime,
	}
}
