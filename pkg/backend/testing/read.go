package testing

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadTests executes listing, stat and stream read tests.
func (suite *BackendTestSuite) RunReadTests(t *testing.T) {
	t.Run("List_Root", suite.testListRoot)
	t.Run("List_NonRecursive", suite.testListNonRecursive)
	t.Run("List_Recursive", suite.testListRecursive)
	t.Run("List_NotFound", suite.testListNotFound)
	t.Run("List_File", suite.testListFile)
	t.Run("Stat_File", suite.testStatFile)
	t.Run("Stat_NotFound", suite.testStatNotFound)
	t.Run("ReadStream_NotFound", suite.testReadNotFound)
	t.Run("ReadStream_Directory", suite.testReadDirectory)
}

func (suite *BackendTestSuite) testListRoot(t *testing.T) {
	b := suite.NewBackend(t)

	assert.Empty(t, mustList(t, b, "/", false))
	assertExists(t, b, "/", true)
}

func (suite *BackendTestSuite) testListNonRecursive(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/docs/a.txt", []byte("a"))
	mustWrite(t, b, "/docs/sub/b.txt", []byte("b"))
	mustWrite(t, b, "/top.txt", []byte("top"))

	assert.Equal(t, []string{"/docs", "/top.txt"}, mustList(t, b, "/", false))
	assert.Equal(t, []string{"/docs/a.txt", "/docs/sub"}, mustList(t, b, "/docs", false))
}

func (suite *BackendTestSuite) testListRecursive(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/docs/a.txt", []byte("a"))
	mustWrite(t, b, "/docs/sub/b.txt", []byte("bb"))
	mustMkdir(t, b, "/docs/empty")

	objects, err := b.List(testContext(), "/docs", true)
	require.NoError(t, err)

	byPath := make(map[string]backend.Object)
	for i, o := range objects {
		byPath[o.Path] = o

		// Parents come before their children
		for _, earlier := range objects[i+1:] {
			assert.NotEqual(t, earlier.Path, parentOf(o.Path), "parent listed after child")
		}
	}

	require.Len(t, byPath, 4)
	assert.Equal(t, backend.TypeFile, byPath["/docs/a.txt"].Type)
	assert.Equal(t, int64(1), byPath["/docs/a.txt"].Size)
	assert.Equal(t, backend.TypeDir, byPath["/docs/sub"].Type)
	assert.Equal(t, int64(2), byPath["/docs/sub/b.txt"].Size)
	assert.Equal(t, backend.TypeDir, byPath["/docs/empty"].Type)
}

func (suite *BackendTestSuite) testListNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	_, err := b.List(testContext(), "/missing", false)
	AssertErrorIs(t, backend.ErrNotFound, err)
}

func (suite *BackendTestSuite) testListFile(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/file.txt", []byte("x"))

	_, err := b.List(testContext(), "/file.txt", false)
	AssertErrorIs(t, backend.ErrNotDirectory, err)
}

func (suite *BackendTestSuite) testStatFile(t *testing.T) {
	b := suite.NewBackend(t)

	mustWrite(t, b, "/dir/file.txt", []byte("hello"))

	obj, err := b.Stat(testContext(), "/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/dir/file.txt", obj.Path)
	assert.Equal(t, backend.TypeFile, obj.Type)
	assert.Equal(t, int64(5), obj.Size)

	assertType(t, b, "/dir", backend.TypeDir)
}

func (suite *BackendTestSuite) testStatNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	_, err := b.Stat(testContext(), "/nope")
	AssertErrorIs(t, backend.ErrNotFound, err)
	assertExists(t, b, "/nope", false)
}

func (suite *BackendTestSuite) testReadNotFound(t *testing.T) {
	b := suite.NewBackend(t)

	_, err := b.ReadStream(testContext(), "/nope.txt")
	AssertErrorIs(t, backend.ErrNotFound, err)
}

func (suite *BackendTestSuite) testReadDirectory(t *testing.T) {
	b := suite.NewBackend(t)

	mustMkdir(t, b, "/dir")

	_, err := b.ReadStream(testContext(), "/dir")
	AssertErrorIs(t, backend.ErrIsDirectory, err)
}

func parentOf(p string) string {
	for i := len(p) - 1; i > 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "/"
}
