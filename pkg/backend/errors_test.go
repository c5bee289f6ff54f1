package backend

import (
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromOSError(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, FromOSError("stat", "/a", nil))
	})

	t.Run("Sentinels", func(t *testing.T) {
		cases := map[error]error{
			fs.ErrNotExist:  ErrNotFound,
			fs.ErrExist:     ErrAlreadyExists,
			syscall.ENOTDIR: ErrNotDirectory,
			syscall.EISDIR:  ErrIsDirectory,
		}
		for in, want := range cases {
			err := FromOSError("stat", "/a", &fs.PathError{Op: "stat", Path: "/srv/root/a", Err: in})
			assert.ErrorIs(t, err, want)
			assert.NotContains(t, err.Error(), "/srv/root")
		}
	})

	t.Run("PathErrorHidesHostPath", func(t *testing.T) {
		err := FromOSError("list", "/d/sub", &fs.PathError{Op: "open", Path: "/srv/root/d/sub", Err: syscall.EACCES})

		assert.ErrorIs(t, err, fs.ErrPermission)
		assert.NotContains(t, err.Error(), "/srv/root")
		assert.Contains(t, err.Error(), "list /d/sub")
	})

	t.Run("LinkErrorHidesHostPath", func(t *testing.T) {
		err := FromOSError("rename", "/a", &os.LinkError{Op: "rename", Old: "/srv/root/a", New: "/srv/root/b", Err: syscall.EXDEV})

		assert.ErrorIs(t, err, syscall.EXDEV)
		assert.NotContains(t, err.Error(), "/srv/root")
	})
}
