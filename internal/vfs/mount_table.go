package vfs

import (
	"strings"
	"sync"

	"github.com/kestrel-os/kestrel/internal/kerrors"
)

// MountRecord binds an absolute path prefix to a mounted driver instance.
type MountRecord struct {
	TargetPath string
	Driver     Driver
	Magic      int
}

// MountTable holds the mounted filesystems, resolved by longest matching
// path prefix. Unlike the original's hash table scanned via ht_dump, this
// is a plain slice under a RWMutex — cheap at the table sizes this system
// ever reaches and it makes the snapshot-then-scan semantics explicit.
type MountTable struct {
	mu     sync.RWMutex
	mounts []*MountRecord
}

// NewMountTable returns an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{}
}

// Insert adds rec, failing if its TargetPath is already mounted.
func (t *MountTable) Insert(rec *MountRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.mounts {
		if m.TargetPath == rec.TargetPath {
			return kerrors.ErrExists
		}
	}
	t.mounts = append(t.mounts, rec)
	return nil
}

// Remove drops the mount at targetPath, if any.
func (t *MountTable) Remove(targetPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.mounts {
		if m.TargetPath == targetPath {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			return
		}
	}
}

// Resolve finds the mount record whose TargetPath is the longest prefix of
// path such that the next byte of path is '/' or end-of-string — unless the
// record's path is exactly "/", which matches unconditionally. It returns
// the portion of path local to that mount. The lock is released on every
// exit path (the original's vfs_get_mountpoint left it held on one).
func (t *MountTable) Resolve(path string) (*MountRecord, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *MountRecord
	bestLen := -1
	for _, m := range t.mounts {
		tp := m.TargetPath
		if !strings.HasPrefix(path, tp) {
			continue
		}
		boundaryOK := len(path) == len(tp) || path[len(tp)] == '/' || tp == "/"
		if boundaryOK && len(tp) > bestLen {
			best = m
			bestLen = len(tp)
		}
	}
	if best == nil {
		return nil, "", false
	}

	local := path
	if bestLen > 1 {
		local = path[bestLen:]
		if local == "" {
			local = "/"
		}
	}
	return best, local, true
}
