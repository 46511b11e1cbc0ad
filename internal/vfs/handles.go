package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/kestrel-os/kestrel/internal/kerrors"
)

// Handle is one VFS-level open-file record: a driver and the internal fd it
// gave back. It is the Go analogue of vfs_handle_t.
type Handle struct {
	driver     Driver
	internalFD int
	refs       int32
}

// HandleTable is the reference-counted sparse vector of open Handles, the
// Go analogue of the dynarray_t used for vfs_handles.
type HandleTable struct {
	mu    sync.Mutex
	slots []*Handle
	free  []int
}

// NewHandleTable returns an empty handle table.
func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

// Install records a new handle and returns its index.
func (t *HandleTable) Install(driver Driver, internalFD int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := &Handle{driver: driver, internalFD: internalFD, refs: 1}
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx] = h
		return idx
	}
	idx := len(t.slots)
	t.slots = append(t.slots, h)
	return idx
}

// Acquire takes a reference on the handle at idx and returns a release
// function the caller must invoke exactly once. Every VFS dispatch
// operation follows this acquire → call → release template.
func (t *HandleTable) Acquire(idx int) (*Handle, func(), error) {
	t.mu.Lock()
	if idx < 0 || idx >= len(t.slots) || t.slots[idx] == nil {
		t.mu.Unlock()
		return nil, nil, kerrors.ErrBadFD
	}
	h := t.slots[idx]
	atomic.AddInt32(&h.refs, 1)
	t.mu.Unlock()

	release := func() {
		atomic.AddInt32(&h.refs, -1)
	}
	return h, release, nil
}

// remove drops the handle at idx, freeing its slot for reuse.
func (t *HandleTable) remove(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.slots) || t.slots[idx] == nil {
		return
	}
	t.slots[idx] = nil
	t.free = append(t.free, idx)
}
