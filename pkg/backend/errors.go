package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ============================================================================
// Standard Backend Errors
// ============================================================================

// Implementations wrap these with the offending path:
//
//	return fmt.Errorf("stat %s: %w", p, backend.ErrNotFound)
//
// Callers test with errors.Is.

var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the destination of a create-only operation
	// is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotDirectory indicates a directory operation was attempted on a
	// file (or through a file used as a parent).
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory indicates a file operation was attempted on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotSupported indicates the backend cannot perform the operation.
	ErrNotSupported = errors.New("operation not supported")
)

// FromOSError translates errors produced by os-like filesystems (os, afero)
// into the sentinels above.
//
// Other errors keep their cause, but the on-disk path carried by
// *fs.PathError and *os.LinkError is dropped: messages only name p.
func FromOSError(op, p string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, p, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s %s: %w", op, p, ErrAlreadyExists)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%s %s: %w", op, p, ErrNotDirectory)
	case errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("%s %s: %w", op, p, ErrIsDirectory)
	default:
		return fmt.Errorf("%s %s: %w", op, p, stripPath(err))
	}
}

// stripPath unwraps the error types that embed a host path.
func stripPath(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err
	}
	return err
}
