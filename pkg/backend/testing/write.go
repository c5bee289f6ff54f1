package testing

import (
	"bytes"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes stream write, directory creation and delete tests.
func (suite *BackendTestSuite) RunWriteTests(t *testing.T) {
	t.Run("WriteStream_RoundTrip", suite.testWriteRoundTrip)
	t.Run("WriteStream_Empty", suite.testWriteEmpty)
	t.Run("WriteStream_Large", suite.testWriteLarge)
	t.Run("WriteStream_Overwrite", suite.testWriteOverwrite)
	t.Run("WriteStream_OnDirectory", suite.testWriteOnDirectory)
	t.Run("CreateDir_Nested", suite.testCreateDirNested)
	t.Run("CreateDir_Idempotent", suite.testCreateDirIdempotent)
	t.Run("Delete_File", suite.testDeleteFile)
	t.Run("Delete_Tree", suite.testDeleteTree)
	t.Run("Delete_NotFound", suite.testDeleteNotFound)
}

func (suite *BackendTestSuite) testWriteRoundTrip(t *testing.T) {
	b := suite.NewBackend(t)

	data := []byte("Hello, World!")
	mustWrite(t, b, "/hello.txt", data)

	assertContent(t, b, "/hello.txt", data)
}

func (suite *BackendTestSuite) testWriteEmpty(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/empty.txt", []byte{})

	assertContent(t, b, "/empty.txt", []byte{})
	assertType(t, b, "/empty.txt", backend.TypeFile)
}

func (suite *BackendTestSuite) testWriteLarge(t *testing.T) {
	b := suite.NewBackend(t)

	data := bytes.Repeat([]byte("0123456789abcdef"), 256*1024) // 4MB
	mustWrite(t, b, "/large.bin", data)

	got := mustRead(t, b, "/large.bin")
	require.Equal(t, len(data), len(got))
	assert.True(t, bytes.Equal(data, got), "large content must round trip")
}

func (suite *BackendTestSuite) testWriteOverwrite(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/f.txt", []byte("old data that is long"))
	mustWrite(t, b, "/f.txt", []byte("new"))

	assertContent(t, b, "/f.txt", []byte("new"))
}

func (suite *BackendTestSuite) testWriteOnDirectory(t *testing.T) {
	b := suite.NewBackend(t)

	mustMkdir(t, b, "/dir")

	_, err := b.WriteStream(testContext(), "/dir", bytes.NewReader([]byte("x")))
	AssertErrorIs(t, backend.ErrIsDirectory, err)
}

func (suite *BackendTestSuite) testCreateDirNested(t *testing.T) {
	b := suite.NewBackend(t)

	mustMkdir(t, b, "/a/b/c")

	assertType(t, b, "/a", backend.TypeDir)
	assertType(t, b, "/a/b", backend.TypeDir)
	assertType(t, b, "/a/b/c", backend.TypeDir)
	assert.Empty(t, mustList(t, b, "/a/b/c", false))
}

func (suite *BackendTestSuite) testCreateDirIdempotent(t *testing.T) {
	b := suite.NewBackend(t)

	mustMkdir(t, b, "/dir")
	mustWrite(t, b, "/dir/keep.txt", []byte("keep"))
	mustMkdir(t, b, "/dir")

	assertContent(t, b, "/dir/keep.txt", []byte("keep"))
}

func (suite *BackendTestSuite) testDeleteFile(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/dir/f.txt", []byte("x"))
	require.NoError(t, b.Delete(testContext(), "/dir/f.txt"))

	assertExists(t, b, "/dir/f.txt", false)
}

func (suite *BackendTestSuite) testDeleteTree(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/tree/a.txt", []byte("a"))
	mustWrite(t, b, "/tree/sub/b.txt", []byte("b"))
	mustWrite(t, b, "/treehouse.txt", []byte("sibling"))

	require.NoError(t, b.Delete(testContext(), "/tree"))

	assertExists(t, b, "/tree", false)
	assertExists(t, b, "/tree/sub/b.txt", false)
	assertContent(t, b, "/treehouse.txt", []byte("sibling"))
}

func (suite *BackendTestSuite) testDeleteNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	err := b.Delete(testContext(), "/missing")
	AssertErrorIs(t, backend.ErrNotFound, err)
}
