package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFSMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newVFSMetrics(reg)

	home := m.ForSandbox("home")
	home.ObserveOperation("store", 5*time.Millisecond, nil)
	home.ObserveOperation("store", time.Millisecond, errors.New("boom"))
	home.RecordBytes("write", 42)
	home.RecordChmod(vfs.ScopeFiles, 2)
	m.ForSandbox("shared").ObserveOperation("store", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("home", "store", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("home", "store", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("shared", "store", "success")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("home", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chmodTotal.WithLabelValues("home", "files")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chmodFailures.WithLabelValues("home")))
}

func TestVFSMetrics_NilIsNoop(t *testing.T) {
	var m *VFSMetrics
	assert.Nil(t, m.ForSandbox("home"))
}

func TestArchiveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newArchiveMetrics(reg)

	m.ObserveOperation("uncompress", time.Second, nil)
	m.RecordMembers("extract", 3)
	m.RecordBytes("stage", 10)
	m.RecordBytes("stage", 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("uncompress", "success")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("stage")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.members))
}

func TestS3Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newS3Metrics(reg)

	m.ObserveOperation("PutObject", 10*time.Millisecond, nil)
	m.RecordBytes("write", 1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "success")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("write")))
}

func TestGlobalRegistryAndTextfile(t *testing.T) {
	InitRegistry()
	InitRegistry()
	require.True(t, IsEnabled())

	NewVFSMetrics().ForSandbox("textfile").RecordBytes("read", 7)

	path := filepath.Join(t.TempDir(), "dittovfs.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dittovfs_vfs_bytes_total{direction="read",sandbox="textfile"} 7`)
}
