package vfs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/marmos91/dittovfs/pkg/backend"
	"github.com/stretchr/testify/assert"
)

func TestError_KindMatching(t *testing.T) {
	cause := fmt.Errorf("stat /x: %w", backend.ErrNotFound)
	err := NewError(KindStorage, "read", "/x", cause)

	assert.True(t, IsStorage(err))
	assert.False(t, IsValidation(err))
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, KindStorage, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := NewError(KindTypeMismatch, "read", "/docs", errors.New("cannot stream a directory"))
	assert.Equal(t, "read /docs: type mismatch: cannot stream a directory", err.Error())

	err = NewError(KindPathTraversal, "list", "", nil)
	assert.Equal(t, "list: path traversal rejected", err.Error())
}

func TestScrubbed_KeepsChain(t *testing.T) {
	s := &scrubbed{err: backend.ErrNotFound, msg: "gone"}
	assert.Equal(t, "gone", s.Error())
	assert.ErrorIs(t, s, backend.ErrNotFound)
}
