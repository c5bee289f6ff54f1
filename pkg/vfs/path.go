package vfs

import (
	"path"
	"strings"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/backend"
)

// normalize turns a caller path into a clean sandbox-relative path.
//
// Any ".." segment makes the whole path resolve to the sandbox root, or,
// in strict mode, fails with a PathTraversal error. "." segments, repeated
// separators and backslashes are folded away.
func (f *Filesystem) normalize(op, p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")

	for _, seg := range strings.Split(p, "/") {
		if seg != ".." {
			continue
		}
		if f.strict {
			return "", NewError(KindPathTraversal, op, p, nil)
		}
		logger.Warn("vfs: %s: path %q contains '..', using sandbox root (actor=%s)", op, p, f.actor)
		return "/", nil
	}

	return path.Clean("/" + p), nil
}

// resolve normalizes p and applies the sandbox prefix.
func (f *Filesystem) resolve(op, p string) (string, error) {
	rel, err := f.normalize(op, p)
	if err != nil {
		return "", err
	}
	return f.full(rel), nil
}

// full joins a clean sandbox-relative path onto the prefix.
func (f *Filesystem) full(rel string) string {
	if f.prefix == "/" {
		return rel
	}
	return path.Join(f.prefix, rel)
}

// strip removes the sandbox prefix from a backend path.
func (f *Filesystem) strip(p string) string {
	p = backend.Clean(p)
	if f.prefix == "/" {
		return p
	}
	if p == f.prefix {
		return "/"
	}
	return "/" + backend.Rel(f.prefix, p)
}

// scrub removes every occurrence of the prefix from a message.
func (f *Filesystem) scrub(msg string) string {
	if f.prefix == "/" {
		return msg
	}
	msg = strings.ReplaceAll(msg, f.prefix+"/", "/")
	return strings.ReplaceAll(msg, f.prefix, "/")
}

// validateName rejects names that cannot designate a single item.
func validateName(op, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return validationError(op, "", "name must not be empty")
	case name == "." || name == "..":
		return validationError(op, "", "invalid name %q", name)
	case strings.ContainsAny(name, "/\\"):
		return validationError(op, "", "name %q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return validationError(op, "", "name must not contain NUL")
	}
	return nil
}
