package config

import (
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/archive"
	backendS3 "github.com/marmos91/dittovfs/pkg/backend/s3"
	"github.com/marmos91/dittovfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// VFS produces per-sandbox filesystem metrics (nil if disabled)
	VFS *metrics.VFSMetrics

	// Archive is the archive engine collector (nil if disabled)
	Archive archive.Metrics

	// S3 is shared by every S3 backend (nil if disabled)
	S3 backendS3.S3Metrics

	textfile string
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates Prometheus-backed collectors for every component
//
// If metrics are disabled all collectors are nil, which makes each component
// fall back to its built-in no-op implementation.
//
// Collectors are created exactly once per process: they register with the
// global registry and a second registration would panic.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		VFS:      metrics.NewVFSMetrics(),
		Archive:  metrics.NewArchiveMetrics(),
		S3:       metrics.NewS3Metrics(),
		textfile: cfg.Metrics.Textfile,
	}
}

// Flush writes the registry to the configured textfile. It is a no-op when
// metrics are disabled or no textfile is configured.
func (m *MetricsResult) Flush() error {
	if m == nil || m.textfile == "" || !metrics.IsEnabled() {
		return nil
	}

	if err := metrics.WriteTextfile(m.textfile); err != nil {
		return err
	}

	logger.Debug("metrics written to %s", m.textfile)
	return nil
}
