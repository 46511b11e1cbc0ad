// Package devfs is a small synthetic device filesystem: "/dev"-style null,
// zero, and kbd device nodes. Grounded on backend/memfs's driver shape, but
// deliberately leaves Readdir and Lseek unset so the sentinel-injection
// path (§7, §8 "Sentinel injection") has a real, exercised driver to run
// against rather than only a test-only fake.
package devfs

import (
	"strings"
	"sync"

	"github.com/kestrel-os/kestrel/internal/kbd"
	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/klock"
	"github.com/kestrel-os/kestrel/internal/vfs"
)

// Device names, without the leading slash.
const (
	Null = "null"
	Zero = "zero"
	Kbd  = "kbd"
)

// handle is one open device node.
type handle struct {
	device string
}

// FS is a devfs driver instance. One FS instance backs one mount; kbd reads
// forward to the keyboard line discipline supplied at construction, the way
// a real kernel's devfs would read off the live interrupt-fed buffers
// rather than owning its own copy.
type FS struct {
	keyboard *kbd.State
	yielder  klock.Yielder

	handlesMu sync.Mutex
	handles   []*handle
	freeFDs   []int
}

// New returns a devfs instance whose kbd node reads through keyboard,
// blocking via yielder (typically the owning thread's Thread.Yield).
func New(keyboard *kbd.State, yielder klock.Yielder) *FS {
	return &FS{keyboard: keyboard, yielder: yielder}
}

// Register installs an FS into reg under name.
func Register(reg *vfs.Registry, name string, keyboard *kbd.State, yielder klock.Yielder) error {
	return reg.Install(name, New(keyboard, yielder).OpSet())
}

// OpSet returns the driver operations for this FS instance. Readdir and
// Lseek are left nil deliberately: devfs nodes are flat, unseekable
// streams, so there is nothing meaningful for either operation to do, and
// leaving them unset is the driver that exercises the sentinel-injection
// contract end to end rather than only in a synthetic test double.
func (f *FS) OpSet() vfs.OpSet {
	return vfs.OpSet{
		Mount: f.mount,
		Open:  f.open,
		Close: f.close,
		Dup:   f.dup,
		Read:  f.read,
		Write: f.write,
		Fstat: f.fstat,
		Sync:  f.sync,
	}
}

func deviceName(path string) (string, bool) {
	name := strings.TrimPrefix(path, "/")
	switch name {
	case Null, Zero, Kbd:
		return name, true
	default:
		return "", false
	}
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

func (f *FS) mount(source string, flags uint32, data any) (int, error) {
	return 1, nil
}

func (f *FS) open(path string, mode, magic int) (int, error) {
	name, ok := deviceName(path)
	if !ok {
		return 0, kerrors.ErrNotFound
	}
	return f.installHandle(&handle{device: name}), nil
}

func (f *FS) close(fd int) error {
	if _, err := f.getHandle(fd); err != nil {
		return err
	}
	f.freeHandle(fd)
	return nil
}

func (f *FS) dup(fd int) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	return f.installHandle(&handle{device: h.device}), nil
}

func (f *FS) read(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	switch h.device {
	case Null:
		return 0, nil
	case Zero:
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	case Kbd:
		return f.keyboard.Read(f.yielder, buf)
	default:
		return 0, kerrors.ErrNotFound
	}
}

func (f *FS) write(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	switch h.device {
	case Null, Zero, Kbd:
		return len(buf), nil
	default:
		return 0, kerrors.ErrNotFound
	}
}

func (f *FS) fstat(fd int, st *vfs.Stat) error {
	if _, err := f.getHandle(fd); err != nil {
		return err
	}
	st.Size = 0
	st.IsDir = false
	return nil
}

func (f *FS) sync() error {
	return nil
}
