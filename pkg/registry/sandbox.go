package registry

import "github.com/marmos91/dittovfs/pkg/vfs"

// Sandbox binds a name to a prefix inside a registered backend.
//
// Multiple sandboxes can reference the same backend.
type Sandbox struct {
	Name        string
	Backend     string // Name of the backend
	Prefix      string
	StrictPaths bool

	// Permissions reports whether the backend keeps unix permission bits.
	Permissions bool

	fs *vfs.Filesystem
}

// SandboxConfig contains all configuration needed to create a sandbox.
type SandboxConfig struct {
	Name        string
	Backend     string
	Prefix      string
	StrictPaths bool

	// Metrics is optional; nil disables metrics for this sandbox.
	Metrics vfs.Metrics
}
