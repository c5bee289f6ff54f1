package testing

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPermissionTests executes PermissionBackend tests. Backends without the
// capability skip them.
func (suite *BackendTestSuite) RunPermissionTests(t *testing.T) {
	t.Run("SetPermissions_File", suite.testSetPermissionsFile)
	t.Run("SetPermissions_Directory", suite.testSetPermissionsDirectory)
	t.Run("SetPermissions_NotFound", suite.testSetPermissionsNotFound)
	t.Run("Permissions_SurviveOverwrite", suite.testPermissionsSurviveOverwrite)
}

func (suite *BackendTestSuite) permissionBackend(t *testing.T) backend.PermissionBackend {
	b := suite.NewBackend(t)
	pb, ok := b.(backend.PermissionBackend)
	if !ok {
		t.Skip("Backend does not implement PermissionBackend")
	}
	return pb
}

func (suite *BackendTestSuite) testSetPermissionsFile(t *testing.T) {
	b := suite.permissionBackend(t)

	mustWrite(t, b, "/f.txt", []byte("x"))
	require.NoError(t, b.SetPermissions(testContext(), "/f.txt", 0600))

	mode, err := b.Permissions(testContext(), "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, 0600, mode)
}

func (suite *BackendTestSuite) testSetPermissionsDirectory(t *testing.T) {
	b := suite.permissionBackend(t)

	mustMkdir(t, b, "/dir")
	require.NoError(t, b.SetPermissions(testContext(), "/dir", 0750))

	mode, err := b.Permissions(testContext(), "/dir")
	require.NoError(t, err)
	assert.Equal(t, 0750, mode)
	assertType(t, b, "/dir", backend.TypeDir)
}

func (suite *BackendTestSuite) testSetPermissionsNotFound(t *testing.T) {
	b := suite.permissionBackend(t)

	err := b.SetPermissions(testContext(), "/missing", 0644)
	AssertErrorIs(t, backend.ErrNotFound, err)
}

func (suite *BackendTestSuite) testPermissionsSurviveOverwrite(t *testing.T) {
	b := suite.permissionBackend(t)

	mustWrite(t, b, "/f.txt", []byte("one"))
	require.NoError(t, b.SetPermissions(testContext(), "/f.txt", 0640))
	mustWrite(t, b, "/f.txt", []byte("two"))

	mode, err := b.Permissions(testContext(), "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, 0640, mode)
}
