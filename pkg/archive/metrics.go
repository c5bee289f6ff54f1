package archive

import "time"

// Metrics receives archive instrumentation. The Prometheus implementation
// lives in pkg/metrics.
type Metrics interface {
	// ObserveOperation records the duration and outcome of one operation.
	ObserveOperation(op string, duration time.Duration, err error)

	// RecordMembers records the member count of a created or extracted
	// archive.
	RecordMembers(op string, n int)

	// RecordBytes records bytes staged or extracted.
	RecordBytes(op string, n int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordMembers(string, int)                     {}
func (noopMetrics) RecordBytes(string, int64)                     {}
