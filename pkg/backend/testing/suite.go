// Package testing provides a reusable conformance suite for backend.Backend
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
)

// BackendTestSuite tests the backend.Backend contract, not implementation
// details, so every backend (local, memory, badger, s3) runs the same checks.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &testing.BackendTestSuite{
//	        NewBackend: func(t *testing.T) backend.Backend {
//	            return mybackend.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendTestSuite struct {
	// NewBackend creates a fresh, empty backend for each test. Cleanup
	// should be registered on t.
	NewBackend func(t *testing.T) backend.Backend
}

// Run executes all tests in the suite.
func (suite *BackendTestSuite) Run(t *testing.T) {
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("TreeOperations", suite.RunTreeTests)
	t.Run("Permissions", suite.RunPermissionTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
