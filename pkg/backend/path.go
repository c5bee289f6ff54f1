package backend

import (
	"path"
	"strings"
)

// Clean normalizes p into an absolute slash path. It is a safety net for
// backend implementations; traversal policy is enforced by pkg/vfs before
// any path reaches a backend.
func Clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// IsRoot reports whether p designates the backend root.
func IsRoot(p string) bool {
	return Clean(p) == "/"
}

// IsWithin reports whether p is dir itself or one of its descendants.
func IsWithin(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// Rel returns p relative to dir, without a leading slash. p must be within dir.
func Rel(dir, p string) string {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, dir), "/")
}
