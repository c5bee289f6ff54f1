// Package staging provides the scratch area used while archives are built
// or extracted.
//
// Entries are flat files in a single directory, addressed by id. Ids are
// sanitized before touching the disk, so callers may derive them from user
// supplied names. Nothing in the staging directory is meant to outlive the
// operation that created it; interrupted operations leave orphans that the
// probabilistic garbage collection in New eventually reclaims.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/marmos91/dittovfs/internal/logger"
)

var (
	// ErrNotFound indicates no entry exists for the id.
	ErrNotFound = errors.New("staged entry not found")

	// ErrInvalidName indicates an id that sanitizes to nothing.
	ErrInvalidName = errors.New("invalid staging name")
)

const (
	DefaultGCProbability = 0.01
	DefaultRetention     = 24 * time.Hour
	DefaultMaxNameBytes  = 255
)

// DefaultDir returns the default staging directory under the system temp
// directory.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "dittovfs-staging")
}

// Config configures a Staging area.
type Config struct {
	// Dir is the staging directory (default: DefaultDir()).
	Dir string

	// GCProbability is the chance, in [0, 1], that New runs a cleanup pass.
	GCProbability float64

	// Retention is the age past which GC removes entries (default: 24h).
	Retention time.Duration

	// MaxNameBytes bounds sanitized ids (default: 255).
	MaxNameBytes int
}

// Staging is a directory of transient files addressed by id.
//
// Thread Safety:
// Safe for concurrent use as long as concurrent writers use distinct ids.
type Staging struct {
	dir       string
	retention time.Duration
	maxName   int
}

// New creates the staging directory if needed and, with probability
// cfg.GCProbability, removes entries older than cfg.Retention.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Staging configuration (zero values take defaults)
//
// Returns:
//   - *Staging: Ready staging area
//   - error: Invalid configuration or directory creation failure. GC failures
//     are logged, never returned.
func New(ctx context.Context, cfg Config) (*Staging, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxNameBytes == 0 {
		cfg.MaxNameBytes = DefaultMaxNameBytes
	}
	if cfg.GCProbability < 0 || cfg.GCProbability > 1 {
		return nil, fmt.Errorf("gc probability must be within [0, 1], got %v", cfg.GCProbability)
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	s := &Staging{
		dir:       cfg.Dir,
		retention: cfg.Retention,
		maxName:   cfg.MaxNameBytes,
	}

	if cfg.GCProbability > 0 && rand.Float64() < cfg.GCProbability {
		if _, err := s.Clean(ctx, s.retention); err != nil {
			logger.Warn("staging: gc failed: %v", err)
		}
	}

	return s, nil
}

// Dir returns the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Path returns the on-disk path of id, for APIs that take a file
// reference instead of a stream.
func (s *Staging) Path(id string) (string, error) {
	name := Sanitize(id, s.maxName)
	if name == "" {
		return "", fmt.Errorf("%q: %w", id, ErrInvalidName)
	}
	return filepath.Join(s.dir, name), nil
}

// Write stores data under id, replacing the entry unless appendMode is set.
func (s *Staging) Write(ctx context.Context, id string, data []byte, appendMode bool) error {
	_, err := s.WriteStream(ctx, id, bytes.NewReader(data), appendMode)
	return err
}

// WriteStream copies r into the entry id and returns the number of bytes
// written.
func (s *Staging) WriteStream(ctx context.Context, id string, r io.Reader, appendMode bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.Path(id)
	if err != nil {
		return 0, err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(p, flags, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to open staged entry: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write staged entry: %w", err)
	}
	return n, nil
}

// Read returns the full content of id.
func (s *Staging) Read(ctx context.Context, id string) ([]byte, error) {
	rc, err := s.ReadStream(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

// ReadStream opens id for reading. The caller must close the reader.
func (s *Staging) ReadStream(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.Path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open staged entry: %w", err)
	}
	return f, nil
}

// Exists reports whether id is staged.
func (s *Staging) Exists(id string) bool {
	p, err := s.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// FindAll returns the sorted ids of staged entries matching the glob
// pattern (doublestar syntax, matched against the id).
func (s *Staging) FindAll(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		ok, err := doublestar.Match(pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, e.Name())
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Remove deletes id. Removing a missing entry is not an error.
func (s *Staging) Remove(id string) error {
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove staged entry: %w", err)
	}
	return nil
}
