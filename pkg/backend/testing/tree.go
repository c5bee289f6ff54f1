package testing

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTreeTests executes copy and rename tests.
func (suite *BackendTestSuite) RunTreeTests(t *testing.T) {
	t.Run("Copy_File", suite.testCopyFile)
	t.Run("Copy_Directory", suite.testCopyDirectory)
	t.Run("Copy_NotFound", suite.testCopyNotFound)
	t.Run("Rename_File", suite.testRenameFile)
	t.Run("Rename_Directory", suite.testRenameDirectory)
	t.Run("Rename_NotFound", suite.testRenameNotFound)
}

func (suite *BackendTestSuite) testCopyFile(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/src.txt", []byte("payload"))
	require.NoError(t, b.Copy(testContext(), "/src.txt", "/copies/dst.txt"))

	assertContent(t, b, "/src.txt", []byte("payload"))
	assertContent(t, b, "/copies/dst.txt", []byte("payload"))
}

func (suite *BackendTestSuite) testCopyDirectory(t *testing.T) {
	b := suite.NewBackend(t)

	mustMkdir(t, b, "/dir")

	err := b.Copy(testContext(), "/dir", "/dir2")
	AssertErrorIs(t, backend.ErrIsDirectory, err)
}

func (suite *BackendTestSuite) testCopyNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	err := b.Copy(testContext(), "/missing", "/dst")
	AssertErrorIs(t, backend.ErrNotFound, err)
}

func (suite *BackendTestSuite) testRenameFile(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/old.txt", []byte("data"))
	require.NoError(t, b.Rename(testContext(), "/old.txt", "/moved/new.txt"))

	assertExists(t, b, "/old.txt", false)
	assertContent(t, b, "/moved/new.txt", []byte("data"))
}

func (suite *BackendTestSuite) testRenameDirectory(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/src/a.txt", []byte("a"))
	mustWrite(t, b, "/src/sub/b.txt", []byte("b"))
	mustMkdir(t, b, "/src/empty")

	require.NoError(t, b.Rename(testContext(), "/src", "/dst"))

	assertExists(t, b, "/src", false)
	assertContent(t, b, "/dst/a.txt", []byte("a"))
	assertContent(t, b, "/dst/sub/b.txt", []byte("b"))
	assertType(t, b, "/dst/empty", backend.TypeDir)
	assert.Equal(t, []string{"/dst/a.txt", "/dst/empty", "/dst/sub", "/dst/sub/b.txt"}, mustList(t, b, "/dst", true))
}

func (suite *BackendTestSuite) testRenameNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	err := b.Rename(testContext(), "/missing", "/dst")
	AssertErrorIs(t, backend.ErrNotFound, err)
}
