// Package archive builds and extracts zip archives using a vfs.Filesystem
// as the only source and sink of content.
//
// Member content never sits in memory as a whole: every file is streamed
// into the staging area first and copied into the container from disk when
// the archive is finalized, so peak memory is one copy buffer regardless of
// archive size.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/dittovfs/pkg/staging"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Compression selects how file members are compressed.
type Compression string

const (
	CompressionStore   Compression = "store"
	CompressionDeflate Compression = "deflate"
	CompressionZstd    Compression = "zstd"
)

// ParseCompression validates a configured compression name. The empty
// string means deflate.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "":
		return CompressionDeflate, nil
	case CompressionStore, CompressionDeflate, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// method returns the zip method id for c.
func (c Compression) method() uint16 {
	switch c {
	case CompressionStore:
		return zip.Store
	case CompressionZstd:
		return zstd.ZipMethodWinZip
	default:
		return zip.Deflate
	}
}

// Config configures an Engine.
type Config struct {
	// Compression for file members (default: deflate).
	Compression Compression

	// Level is the compressor level. 0 selects the compressor default.
	// Deflate accepts 1..9, zstd 1..22.
	Level int

	// Metrics is optional; nil disables metrics collection.
	Metrics Metrics
}

// Engine creates and extracts archives for one sandbox.
type Engine struct {
	fs          *vfs.Filesystem
	staging     *staging.Staging
	compression Compression
	level       int
	metrics     Metrics
}

// NewEngine creates an archive engine.
//
// Parameters:
//   - fs: Sandbox archives are read from and written to
//   - st: Staging area for the archive and its members
//   - cfg: Compression settings
//
// Returns:
//   - *Engine: Ready engine
//   - error: Missing collaborators or an unknown compression
func NewEngine(fs *vfs.Filesystem, st *staging.Staging, cfg Config) (*Engine, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if st == nil {
		return nil, fmt.Errorf("staging is required")
	}

	c, err := ParseCompression(string(cfg.Compression))
	if err != nil {
		return nil, err
	}

	switch {
	case c == CompressionDeflate && (cfg.Level < 0 || cfg.Level > 9):
		return nil, fmt.Errorf("deflate level must be within 0..9, got %d", cfg.Level)
	case c == CompressionZstd && (cfg.Level < 0 || cfg.Level > 22):
		return nil, fmt.Errorf("zstd level must be within 0..22, got %d", cfg.Level)
	}

	var m Metrics = noopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	return &Engine{
		fs:          fs,
		staging:     st,
		compression: c,
		level:       cfg.Level,
		metrics:     m,
	}, nil
}

// registerCompressors installs the configured compressor on w.
func (e *Engine) registerCompressors(w *zip.Writer) {
	switch e.compression {
	case CompressionDeflate:
		level := e.level
		if level == 0 {
			level = flate.DefaultCompression
		}
		w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, level)
		})
	case CompressionZstd:
		var opts []zstd.EOption
		if e.level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(e.level)))
		}
		w.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(opts...))
	}
}

// CreateArchive allocates a new, empty archive in the staging area.
func (e *Engine) CreateArchive(ctx context.Context) (*Archive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := &Archive{
		id:     uuid.NewString(),
		engine: e,
		seen:   make(map[string]bool),
	}

	// Reserve the container entry so GC and FindAll see the archive from
	// the start.
	if err := e.staging.Write(ctx, a.containerID(), nil, false); err != nil {
		return nil, vfs.NewError(vfs.KindArchive, "create archive", "", err)
	}

	return a, nil
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	e.metrics.ObserveOperation(op, time.Since(start), *err)
}
