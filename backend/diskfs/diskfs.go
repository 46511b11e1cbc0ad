// Package diskfs is a real-disk-backed filesystem driver: Mount binds a
// mounted instance to a host directory, and every subsequent operation is a
// thin, error-translating wrapper around the matching os.* call. Grounded
// on backend/local/local.go's os-based I/O and its convention of
// translating os.IsNotExist/os.IsExist into the package's own sentinel
// errors rather than leaking raw *os.PathError values across the driver
// boundary.
package diskfs

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/klog"
	"github.com/kestrel-os/kestrel/internal/vfs"
)

// handle is one open file: the *os.File it was opened as. It does not
// record which mount it was opened under.
type handle struct {
	file *os.File
}

// mountPoint is one mounted root directory, identified by its magic.
type mountPoint struct {
	root string
}

// FS is a diskfs driver instance: one driver can back several mounted
// instances (several host directories), disambiguated by magic, the way a
// real filesystem driver is registered once but mounted many times.
type FS struct {
	mu     sync.Mutex
	mounts map[int]*mountPoint
	nextID int

	handlesMu sync.Mutex
	handles   []*handle
	freeFDs   []int
}

// New returns an empty diskfs driver with no mounted instances yet.
func New() *FS {
	return &FS{mounts: make(map[int]*mountPoint)}
}

// Register installs an FS into reg under name.
func Register(reg *vfs.Registry, name string) error {
	return reg.Install(name, New().OpSet())
}

// OpSet returns the driver operations for this FS instance.
func (f *FS) OpSet() vfs.OpSet {
	return vfs.OpSet{
		Mount:   f.mount,
		Unmount: f.unmount,
		Open:    f.open,
		Close:   f.close,
		Dup:     f.dup,
		Read:    f.read,
		Write:   f.write,
		Lseek:   f.lseek,
		Fstat:   f.fstat,
		Readdir: f.readdir,
		Sync:    f.sync,
	}
}

// translate maps an *os.PathError-flavored error onto this package's
// sentinels, the way backend/local's os.IsNotExist checks do, so callers
// above the driver boundary never need to know about *os.PathError.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return kerrors.Wrap(kerrors.ErrNotFound, err.Error())
	case os.IsExist(err):
		return kerrors.Wrap(kerrors.ErrExists, err.Error())
	default:
		return errors.Wrap(err, "diskfs")
	}
}

func (f *FS) mount(source string, flags uint32, data any) (int, error) {
	info, err := os.Stat(source)
	if err != nil {
		return 0, translate(err)
	}
	if !info.IsDir() {
		return 0, errors.Errorf("diskfs: mount source %q is not a directory", source)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	magic := f.nextID
	f.mounts[magic] = &mountPoint{root: source}
	return magic, nil
}

func (f *FS) unmount(magic int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounts[magic]; !ok {
		return kerrors.ErrNotFound
	}
	delete(f.mounts, magic)
	return nil
}

func (f *FS) hostPath(magic int, local string) (string, error) {
	f.mu.Lock()
	mp, ok := f.mounts[magic]
	f.mu.Unlock()
	if !ok {
		return "", kerrors.ErrNotFound
	}
	return filepath.Join(mp.root, filepath.FromSlash(local)), nil
}

func (f *FS) installHandle(h *handle) int {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()

	if n := len(f.freeFDs); n > 0 {
		fd := f.freeFDs[n-1]
		f.freeFDs = f.freeFDs[:n-1]
		f.handles[fd] = h
		return fd
	}
	fd := len(f.handles)
	f.handles = append(f.handles, h)
	return fd
}

func (f *FS) getHandle(fd int) (*handle, error) {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()
	if fd < 0 || fd >= len(f.handles) || f.handles[fd] == nil {
		return nil, kerrors.ErrBadFD
	}
	return f.handles[fd], nil
}

func (f *FS) freeHandle(fd int) {
	f.handlesMu.Lock()
	defer f.handlesMu.Unlock()
	if fd < 0 || fd >= len(f.handles) || f.handles[fd] == nil {
		return
	}
	f.handles[fd] = nil
	f.freeFDs = append(f.freeFDs, fd)
}

func (f *FS) open(path string, mode, magic int) (int, error) {
	hostPath, err := f.hostPath(magic, path)
	if err != nil {
		return 0, err
	}
	file, err := os.OpenFile(hostPath, mode, 0644)
	if err != nil {
		return 0, translate(err)
	}
	return f.installHandle(&handle{file: file}), nil
}

func (f *FS) close(fd int) error {
	h, err := f.getHandle(fd)
	if err != nil {
		return err
	}
	if err := h.file.Close(); err != nil {
		return translate(err)
	}
	f.freeHandle(fd)
	return nil
}

func (f *FS) dup(fd int) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	dupFile, err := os.OpenFile(h.file.Name(), os.O_RDWR, 0644)
	if err != nil {
		return 0, translate(err)
	}
	return f.installHandle(&handle{file: dupFile}), nil
}

func (f *FS) read(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	n, err := h.file.Read(buf)
	if err != nil && err != io.EOF {
		return n, translate(err)
	}
	return n, nil
}

func (f *FS) write(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	n, err := h.file.Write(buf)
	if err != nil {
		return n, translate(err)
	}
	return n, nil
}

func (f *FS) lseek(fd int, offset int64, whence int) (int64, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	n, err := h.file.Seek(offset, whence)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (f *FS) fstat(fd int, st *vfs.Stat) error {
	h, err := f.getHandle(fd)
	if err != nil {
		return err
	}
	info, err := h.file.Stat()
	if err != nil {
		return translate(err)
	}
	st.Size = info.Size()
	st.Mode = uint32(info.Mode())
	st.IsDir = info.IsDir()
	return nil
}

func (f *FS) readdir(fd int) ([]vfs.DirEntry, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return nil, err
	}
	names, err := h.file.Readdirnames(-1)
	if err != nil {
		return nil, translate(err)
	}
	entries := make([]vfs.DirEntry, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(h.file.Name(), name))
		if err != nil {
			continue
		}
		entries = append(entries, vfs.DirEntry{Name: name, IsDir: info.IsDir()})
	}
	return entries, nil
}

// sync flushes every currently open file handle to disk. Per §4.7 this is
// called across all mounted instances of this driver at once; there is
// nothing per-mount to flush beyond the open handles themselves.
func (f *FS) sync() error {
	f.handlesMu.Lock()
	handles := make([]*handle, len(f.handles))
	copy(handles, f.handles)
	f.handlesMu.Unlock()

	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.file.Sync(); err != nil {
			klog.Warnf("diskfs", "sync %q: %v", h.file.Name(), err)
		}
	}
	return nil
}
