package metrics

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VFSMetrics holds the filesystem metric families. Each sandbox gets its
// own view through ForSandbox.
type VFSMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	chmodTotal        *prometheus.CounterVec
	chmodFailures     *prometheus.CounterVec
}

// NewVFSMetrics creates the filesystem metric families on the global
// registry. Returns nil if metrics are not enabled.
func NewVFSMetrics() *VFSMetrics {
	if !IsEnabled() {
		return nil
	}
	return newVFSMetrics(GetRegistry())
}

func newVFSMetrics(reg prometheus.Registerer) *VFSMetrics {
	return &VFSMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_vfs_operations_total",
				Help: "Total number of filesystem operations by sandbox, operation and status",
			},
			[]string{"sandbox", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittovfs_vfs_operation_duration_seconds",
				Help:    "Duration of filesystem operations in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"sandbox", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_vfs_bytes_total",
				Help: "Total bytes streamed through the filesystem",
			},
			[]string{"sandbox", "direction"},
		),
		chmodTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_vfs_chmod_total",
				Help: "Total number of chmod calls by recursion scope",
			},
			[]string{"sandbox", "scope"},
		),
		chmodFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_vfs_chmod_item_failures_total",
				Help: "Total number of items a recursive chmod failed to change",
			},
			[]string{"sandbox"},
		),
	}
}

// ForSandbox returns the vfs.Metrics view labelled with sandbox. A nil
// receiver returns nil, which makes the filesystem use its no-op metrics.
func (m *VFSMetrics) ForSandbox(sandbox string) vfs.Metrics {
	if m == nil {
		return nil
	}
	return &sandboxMetrics{parent: m, sandbox: sandbox}
}

type sandboxMetrics struct {
	parent  *VFSMetrics
	sandbox string
}

func (s *sandboxMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	s.parent.operationsTotal.WithLabelValues(s.sandbox, op, status(err)).Inc()
	s.parent.operationDuration.WithLabelValues(s.sandbox, op).Observe(duration.Seconds())
}

func (s *sandboxMetrics) RecordBytes(direction string, n int64) {
	s.parent.bytesTotal.WithLabelValues(s.sandbox, direction).Add(float64(n))
}

func (s *sandboxMetrics) RecordChmod(scope vfs.Scope, failed int) {
	s.parent.chmodTotal.WithLabelValues(s.sandbox, string(scope)).Inc()
	if failed > 0 {
		s.parent.chmodFailures.WithLabelValues(s.sandbox).Add(float64(failed))
	}
}
