package testing

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustWrite stores data at p and fails the test if it errors.
func mustWrite(t *testing.T, b backend.Backend, p string, data []byte) {
	t.Helper()
	n, err := b.WriteStream(testContext(), p, bytes.NewReader(data))
	require.NoError(t, err, "WriteStream should succeed")
	require.Equal(t, int64(len(data)), n, "WriteStream should report bytes written")
}

// mustRead reads p fully and fails the test if it errors.
func mustRead(t *testing.T, b backend.Backend, p string) []byte {
	t.Helper()
	reader, err := b.ReadStream(testContext(), p)
	require.NoError(t, err, "ReadStream should succeed")
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err, "Reading stream should succeed")
	return data
}

// mustMkdir creates a directory and fails the test if it errors.
func mustMkdir(t *testing.T, b backend.Backend, p string) {
	t.Helper()
	require.NoError(t, b.CreateDir(testContext(), p), "CreateDir should succeed")
}

// mustList lists dir and returns the sorted paths.
func mustList(t *testing.T, b backend.Backend, dir string, recursive bool) []string {
	t.Helper()
	objects, err := b.List(testContext(), dir, recursive)
	require.NoError(t, err, "List should succeed")

	paths := make([]string, 0, len(objects))
	for _, o := range objects {
		paths = append(paths, o.Path)
	}
	sort.Strings(paths)
	return paths
}

// assertContent verifies the content stored at p.
func assertContent(t *testing.T, b backend.Backend, p string, expected []byte) {
	t.Helper()
	assert.Equal(t, expected, mustRead(t, b, p), "content of %s", p)
}

// assertExists verifies that p exists (or not).
func assertExists(t *testing.T, b backend.Backend, p string, expected bool) {
	t.Helper()
	ok, err := b.Has(testContext(), p)
	require.NoError(t, err, "Has should succeed")
	assert.Equal(t, expected, ok, "existence of %s", p)
}

// assertType verifies the object type of p.
func assertType(t *testing.T, b backend.Backend, p string, expected backend.ObjectType) {
	t.Helper()
	obj, err := b.Stat(testContext(), p)
	require.NoError(t, err, "Stat should succeed")
	assert.Equal(t, expected, obj.Type, "type of %s", p)
}
