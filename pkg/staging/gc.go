package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittovfs/internal/logger"
)

// CleanStats reports the result of a cleanup pass.
type CleanStats struct {
	StartTime    time.Time
	EndTime      time.Time
	Scanned      int
	Removed      int
	Failed       int
	BytesRemoved uint64
}

// Duration returns the duration of the pass.
func (s *CleanStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the pass.
func (s *CleanStats) Summary() string {
	return fmt.Sprintf("scanned=%d removed=%d failed=%d freed=%s duration=%s",
		s.Scanned, s.Removed, s.Failed, humanize.Bytes(s.BytesRemoved), s.Duration())
}

// Clean removes every entry whose modification time is older than
// olderThan. Newer entries are left untouched. Individual removal failures
// are counted and logged; the pass continues.
func (s *Staging) Clean(ctx context.Context, olderThan time.Duration) (*CleanStats, error) {
	stats := &CleanStats{StartTime: time.Now()}

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to read staging directory: %w", err)
	}

	cutoff := stats.StartTime.Add(-olderThan)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		stats.Scanned++

		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			stats.Failed++
			logger.Warn("staging: failed to remove %s: %v", e.Name(), err)
			continue
		}

		stats.Removed++
		if !info.IsDir() {
			stats.BytesRemoved += uint64(info.Size())
		}
	}

	stats.EndTime = time.Now()
	if stats.Removed > 0 || stats.Failed > 0 {
		logger.Info("staging: cleanup completed: %s", stats.Summary())
	} else {
		logger.Debug("staging: cleanup completed: %s", stats.Summary())
	}

	return stats, nil
}
