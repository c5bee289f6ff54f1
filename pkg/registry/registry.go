package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Registry manages all named resources: storage backends and the sandboxes
// built on top of them. It provides thread-safe registration and lookup.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterBackend("local-disk", localBackend)
//	reg.AddSandbox(ctx, &SandboxConfig{Name: "alice", Backend: "local-disk", Prefix: "/users/alice"})
//
//	fs, _ := reg.Filesystem("alice", "alice@example.com")
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]backend.Backend
	sandboxes map[string]*Sandbox
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends:  make(map[string]backend.Backend),
		sandboxes: make(map[string]*Sandbox),
	}
}

// RegisterBackend adds a named backend to the registry.
// Returns an error if a backend with the same name already exists.
func (r *Registry) RegisterBackend(name string, b backend.Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil backend")
	}
	if name == "" {
		return fmt.Errorf("cannot register backend with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}

	r.backends[name] = b
	return nil
}

// AddSandbox creates and registers a new sandbox.
// This method:
//  1. Validates that the sandbox doesn't already exist
//  2. Validates that the referenced backend exists
//  3. Builds the sandbox filesystem, creating its prefix directory
//
// Returns an error if any of these steps fails.
func (r *Registry) AddSandbox(ctx context.Context, config *SandboxConfig) error {
	if config == nil || config.Name == "" {
		return fmt.Errorf("cannot add sandbox with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sandboxes[config.Name]; exists {
		return fmt.Errorf("sandbox %q already exists", config.Name)
	}

	b, exists := r.backends[config.Backend]
	if !exists {
		return fmt.Errorf("backend %q not found", config.Backend)
	}

	fs, err := vfs.New(ctx, b, vfs.Config{
		Prefix:      config.Prefix,
		StrictPaths: config.StrictPaths,
		Metrics:     config.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox %q: %w", config.Name, err)
	}

	_, permissions := b.(backend.PermissionBackend)

	r.sandboxes[config.Name] = &Sandbox{
		Name:        config.Name,
		Backend:     config.Backend,
		Prefix:      config.Prefix,
		StrictPaths: config.StrictPaths,
		Permissions: permissions,
		fs:          fs,
	}

	return nil
}

// RemoveSandbox removes a sandbox from the registry.
// Note: This does NOT close the underlying backend, as it may be used by
// other sandboxes.
func (r *Registry) RemoveSandbox(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sandboxes[name]; !exists {
		return fmt.Errorf("sandbox %q not found", name)
	}

	delete(r.sandboxes, name)
	return nil
}

// GetSandbox retrieves a sandbox by name.
func (r *Registry) GetSandbox(name string) (*Sandbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sb, exists := r.sandboxes[name]
	if !exists {
		return nil, fmt.Errorf("sandbox %q not found", name)
	}
	return sb, nil
}

// Filesystem returns the filesystem of the named sandbox acting as actor.
// Every filesystem handed out for a sandbox shares its conflict
// resolution locks.
func (r *Registry) Filesystem(name, actor string) (*vfs.Filesystem, error) {
	sb, err := r.GetSandbox(name)
	if err != nil {
		return nil, err
	}
	return sb.fs.WithActor(actor), nil
}

// GetBackend retrieves a backend by name.
func (r *Registry) GetBackend(name string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[name]
	if !exists {
		return nil, fmt.Errorf("backend %q not found", name)
	}
	return b, nil
}

// ListSandboxes returns all registered sandbox names, sorted.
func (r *Registry) ListSandboxes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sandboxes))
	for name := range r.sandboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListBackends returns all registered backend names, sorted.
func (r *Registry) ListBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListSandboxesUsingBackend returns all sandboxes that use the specified
// backend, sorted.
func (r *Registry) ListSandboxesUsingBackend(backendName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, sb := range r.sandboxes {
		if sb.Backend == backendName {
			names = append(names, sb.Name)
		}
	}
	sort.Strings(names)
	return names
}

// CountSandboxes returns the number of registered sandboxes.
func (r *Registry) CountSandboxes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sandboxes)
}

// CountBackends returns the number of registered backends.
func (r *Registry) CountBackends() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Close releases every backend implementing backend.Closer. All errors are
// collected and returned joined.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if c, ok := b.(backend.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
