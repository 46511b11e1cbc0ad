package vfs

import (
	"context"

	"github.com/kestrel-os/kestrel/internal/fdtable"
	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/klog"
)

// VFS wires the registry, mount table, handle table, and external fd table
// into the dispatch surface named in the external interfaces: open, close,
// read, write, lseek, fstat, dup, readdir, mount, sync.
type VFS struct {
	registry *Registry
	mounts   *MountTable
	handles  *HandleTable
	fds      *fdtable.Table
}

// New returns a VFS with empty registry, mount table, and handle table.
func New() *VFS {
	return &VFS{
		registry: NewRegistry(),
		mounts:   NewMountTable(),
		handles:  NewHandleTable(),
		fds:      fdtable.New(),
	}
}

// Registry exposes the driver registry so drivers can Install themselves.
func (v *VFS) Registry() *Registry { return v.registry }

// Mounts exposes the mount table, primarily for tests and introspection.
func (v *VFS) Mounts() *MountTable { return v.mounts }

// Mount looks up fsType in the registry, calls the driver's Mount, and
// records the mount. If the mount-table insert fails after a successful
// driver.Mount, it rolls the driver side back via Unmount — the original's
// documented leak on insert failure.
func (v *VFS) Mount(source, target, fsType string, flags uint32, data any) error {
	driver, ok := v.registry.Lookup(fsType)
	if !ok {
		return kerrors.ErrNotFound
	}

	magic, err := driver.Mount(source, flags, data)
	if err != nil {
		return err
	}

	rec := &MountRecord{TargetPath: target, Driver: driver, Magic: magic}
	if err := v.mounts.Insert(rec); err != nil {
		if uerr := driver.Unmount(magic); uerr != nil && !kerrors.Is(uerr, kerrors.ErrNoSys) {
			klog.Warnf(driver.Name(), "rollback unmount after failed mount insert: %v", uerr)
		}
		return err
	}

	klog.Logf("vfs", "mounted %q on %q, type %q", source, target, fsType)
	return nil
}

// Open resolves path against the mount table and installs a new VFS handle
// and external fd for the driver's internal fd.
func (v *VFS) Open(path string, mode int) (int, error) {
	rec, local, ok := v.mounts.Resolve(path)
	if !ok {
		return -1, kerrors.ErrNotFound
	}

	internalFD, err := rec.Driver.Open(local, mode, rec.Magic)
	if err != nil {
		return -1, err
	}

	handleIdx := v.handles.Install(rec.Driver, internalFD)
	fd := v.fds.Create(handleIdx)
	return fd, nil
}

func (v *VFS) acquire(fd int) (*Handle, func(), error) {
	handleIdx, err := v.fds.Lookup(fd)
	if err != nil {
		return nil, nil, err
	}
	return v.handles.Acquire(handleIdx)
}

// Read dispatches to the driver behind fd.
func (v *VFS) Read(fd int, buf []byte) (int, error) {
	h, release, err := v.acquire(fd)
	if err != nil {
		return -1, err
	}
	defer release()
	return h.driver.Read(h.internalFD, buf)
}

// Write dispatches to the driver behind fd.
func (v *VFS) Write(fd int, buf []byte) (int, error) {
	h, release, err := v.acquire(fd)
	if err != nil {
		return -1, err
	}
	defer release()
	return h.driver.Write(h.internalFD, buf)
}

// Lseek dispatches to the driver behind fd.
func (v *VFS) Lseek(fd int, offset int64, whence int) (int64, error) {
	h, release, err := v.acquire(fd)
	if err != nil {
		return -1, err
	}
	defer release()
	return h.driver.Lseek(h.internalFD, offset, whence)
}

// Fstat dispatches to the driver behind fd.
func (v *VFS) Fstat(fd int, st *Stat) error {
	h, release, err := v.acquire(fd)
	if err != nil {
		return err
	}
	defer release()
	return h.driver.Fstat(h.internalFD, st)
}

// Readdir dispatches to the driver behind fd.
func (v *VFS) Readdir(fd int) ([]DirEntry, error) {
	h, release, err := v.acquire(fd)
	if err != nil {
		return nil, err
	}
	defer release()
	return h.driver.Readdir(h.internalFD)
}

// Close dispatches the driver's Close and, only on success, removes the
// handle and fd entries. On driver failure the entry is retained.
func (v *VFS) Close(fd int) error {
	handleIdx, err := v.fds.Lookup(fd)
	if err != nil {
		return err
	}
	h, release, err := v.handles.Acquire(handleIdx)
	if err != nil {
		return err
	}
	err = h.driver.Close(h.internalFD)
	release()
	if err != nil {
		return err
	}
	v.handles.remove(handleIdx)
	v.fds.Remove(fd)
	return nil
}

// Dup asks the driver for a new internal fd and, only if that succeeds,
// installs a fresh handle and external fd for it.
func (v *VFS) Dup(fd int) (int, error) {
	h, release, err := v.acquire(fd)
	if err != nil {
		return -1, err
	}
	newInternalFD, err := h.driver.Dup(h.internalFD)
	driver := h.driver
	release()
	if err != nil {
		return -1, err
	}

	newHandleIdx := v.handles.Install(driver, newInternalFD)
	newFD := v.fds.Create(newHandleIdx)
	return newFD, nil
}

// Sync invokes every registered driver's Sync once.
func (v *VFS) Sync() error {
	return v.registry.SyncAll(context.Background())
}
