package vfs

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// dirLocks serializes name selection and creation per target directory.
// Directories hash onto a fixed set of stripes, so unrelated directories
// may occasionally share a lock.
type dirLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe for dir and returns its release function.
func (l *dirLocks) lock(dir string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dir))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
