// Package fdtable is a minimal stand-in for the externalized, out-of-scope
// fd_create/file-descriptor-table machinery: it hands out small integer
// file descriptors and maps each one back to whatever internal index its
// owner (internal/vfs) associated it with. It carries no operation vector
// of its own — that indirection belongs to the VFS handle table one layer
// down — it exists purely so "the external fd" and "the VFS handle" stay
// two distinct index spaces, per the data model's separation of concerns.
package fdtable

import (
	"sync"

	"github.com/kestrel-os/kestrel/internal/kerrors"
)

// Table maps external file descriptors to an owner-defined internal index.
type Table struct {
	mu    sync.Mutex
	slots []int // internal index per fd; -1 marks a free slot
	free  []int
}

// New returns an empty descriptor table.
func New() *Table {
	return &Table{}
}

// Create allocates a new fd bound to internalIndex.
func (t *Table) Create(internalIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		fd := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[fd] = internalIndex
		return fd
	}
	fd := len(t.slots)
	t.slots = append(t.slots, internalIndex)
	return fd
}

// Lookup returns the internal index bound to fd.
func (t *Table) Lookup(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == -1 {
		return 0, kerrors.ErrBadFD
	}
	return t.slots[fd], nil
}

// Remove frees fd for reuse.
func (t *Table) Remove(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == -1 {
		return
	}
	t.slots[fd] = -1
	t.free = append(t.free, fd)
}
