package metrics

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// archiveMetrics is the Prometheus implementation of archive.Metrics.
type archiveMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	members           *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

// NewArchiveMetrics creates a Prometheus-backed archive.Metrics. Returns
// nil if metrics are not enabled.
func NewArchiveMetrics() archive.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newArchiveMetrics(GetRegistry())
}

func newArchiveMetrics(reg prometheus.Registerer) *archiveMetrics {
	return &archiveMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_archive_operations_total",
				Help: "Total number of archive operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittovfs_archive_operation_duration_seconds",
				Help:    "Duration of archive operations in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"operation"},
		),
		members: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittovfs_archive_members",
				Help:    "Number of members per created or extracted archive",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_archive_bytes_total",
				Help: "Total bytes staged or extracted by the archive engine",
			},
			[]string{"operation"},
		),
	}
}

func (m *archiveMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(op, status(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *archiveMetrics) RecordMembers(op string, n int) {
	m.members.WithLabelValues(op).Observe(float64(n))
}

func (m *archiveMetrics) RecordBytes(op string, n int64) {
	m.bytesTotal.WithLabelValues(op).Add(float64(n))
}
