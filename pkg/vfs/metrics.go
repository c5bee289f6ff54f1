package vfs

import (
	"io"
	"time"
)

// Metrics receives filesystem instrumentation.
//
// Implementations live in pkg/metrics; the filesystem only depends on this
// interface so that it can run without Prometheus.
type Metrics interface {
	// ObserveOperation records the duration and outcome of one operation.
	ObserveOperation(op string, duration time.Duration, err error)

	// RecordBytes records bytes read or written ("read" / "write").
	RecordBytes(direction string, n int64)

	// RecordChmod records one chmod call and the number of failed items.
	RecordChmod(scope Scope, failed int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordChmod(Scope, int)                        {}

// countingReadCloser reports bytes read once the stream is closed.
type countingReadCloser struct {
	io.ReadCloser
	metrics Metrics
	n       int64
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	c.metrics.RecordBytes("read", c.n)
	return c.ReadCloser.Close()
}
