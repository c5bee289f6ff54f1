package vfs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the coarse category of a filesystem failure.
type ErrorKind int

const (
	// KindValidation is malformed input (empty name, invalid type tag,
	// out-of-range mode).
	KindValidation ErrorKind = iota + 1

	// KindStorage is a backend I/O failure. Never retried internally.
	KindStorage

	// KindTypeMismatch is a file operation on a directory or vice versa.
	KindTypeMismatch

	// KindArchive is a corrupt, unreadable or unsafe archive container.
	KindArchive

	// KindPermissionUnsupported means the backend keeps no permission bits.
	KindPermissionUnsupported

	// KindPathTraversal is a rejected ".." path (strict mode only).
	KindPathTraversal
)

// Sentinels matching every *Error of the corresponding kind:
//
//	if errors.Is(err, vfs.ErrTypeMismatch) { ... }
var (
	ErrValidation            = errors.New("validation error")
	ErrStorage               = errors.New("storage error")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrArchive               = errors.New("archive error")
	ErrPermissionUnsupported = errors.New("permissions not supported")
	ErrPathTraversal         = errors.New("path traversal rejected")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindStorage:
		return ErrStorage
	case KindTypeMismatch:
		return ErrTypeMismatch
	case KindArchive:
		return ErrArchive
	case KindPermissionUnsupported:
		return ErrPermissionUnsupported
	case KindPathTraversal:
		return ErrPathTraversal
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error is returned by every Filesystem and archive operation.
//
// Path is always sandbox-relative. Err, when set, is the underlying cause
// and stays reachable through errors.Is / errors.As (for example
// backend.ErrNotFound).
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewError builds an *Error. The archive engine uses it to report failures
// in the same taxonomy.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func validationError(op, path, format string, args ...any) *Error {
	return NewError(KindValidation, op, path, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool            { return errors.Is(err, ErrValidation) }
func IsStorage(err error) bool               { return errors.Is(err, ErrStorage) }
func IsTypeMismatch(err error) bool          { return errors.Is(err, ErrTypeMismatch) }
func IsArchive(err error) bool               { return errors.Is(err, ErrArchive) }
func IsPermissionUnsupported(err error) bool { return errors.Is(err, ErrPermissionUnsupported) }
func IsPathTraversal(err error) bool         { return errors.Is(err, ErrPathTraversal) }

// scrubbed hides the sandbox prefix from a backend error message while
// keeping the original error in the chain.
type scrubbed struct {
	err error
	msg string
}

func (s *scrubbed) Error() string { return s.msg }
func (s *scrubbed) Unwrap() error { return s.err }
