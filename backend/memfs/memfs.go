// Package memfs is an in-memory hierarchical filesystem driver, grounded
// on backend/memory's bucket/object map design — here a tree of nodes
// under per-node RWMutexes rather than memory's flat bucket map, since the
// VFS this serves is a real path hierarchy rather than an object store.
package memfs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/vfs"
)

// node is one entry in the tree: a directory with children, or a file with
// data. The root node is always a directory.
type node struct {
	mu       sync.RWMutex
	name     string
	isDir    bool
	children map[string]*node
	data     []byte
}

func newDir(name string) *node {
	return &node{name: name, isDir: true, children: make(map[string]*node)}
}

// handle is one open file: a node and a read/write cursor.
type handle struct {
	node   *node
	offset int64
}

// FS is an in-memory filesystem driver instance. One FS is one mounted
// volume; Mount always returns the same static magic since there is only
// ever one backing tree per instance.
type FS struct {
	root *node

	handlesMu sync.Mutex
	handles   []*handle
	freeFDs   []int
}

// New returns an empty in-memory filesystem rooted at "/".
func New() *FS {
	return &FS{root: newDir("/")}
}

// Register installs an FS into reg under name, the explicit composition-root
// equivalent of the teacher's package-init fs.Register: this system has no
// single global registry (each Kernel owns its own), so registration here is
// a function callers invoke deliberately rather than an import side effect.
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

func segments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (f *FS) lookup(path string) (*node, bool) {
	cur := f.root
	for _, seg := range segments(path) {
		cur.mu.RLock()
		next := cur.children[seg]
		cur.mu.RUnlock()
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// resolve finds path, creating it (and any missing parent directories) when
// os.O_CREATE is set and it doesn't already exist. There is no separate
// mkdir operation in the driver vtable, so directory creation piggybacks on
// file creation the way a "touch -p" would.
func (f *FS) resolve(path string, mode int) (*node, error) {
	if n, ok := f.lookup(path); ok {
		return n, nil
	}
	if mode&os.O_CREATE == 0 {
		return nil, kerrors.ErrNotFound
	}

	segs := segments(path)
	cur := f.root
	for i, seg := range segs {
		cur.mu.Lock()
		next, exists := cur.children[seg]
		if !exists {
			next = &node{name: seg, isDir: i != len(segs)-1}
			if next.isDir {
				next.children = make(map[string]*node)
			}
			cur.children[seg] = next
		}
		cur.mu.Unlock()
		cur = next
	}
	return cur, nil
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

func (f *FS) unmount(magic int) error {
	return nil
}

func (f *FS) open(path string, mode, magic int) (int, error) {
	n, err := f.resolve(path, mode)
	if err != nil {
		return 0, err
	}
	if mode&os.O_TRUNC != 0 {
		n.mu.Lock()
		n.data = nil
		n.mu.Unlock()
	}
	h := &handle{node: n}
	if mode&os.O_APPEND != 0 {
		n.mu.RLock()
		h.offset = int64(len(n.data))
		n.mu.RUnlock()
	}
	return f.installHandle(h), nil
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
	return f.installHandle(&handle{node: h.node, offset: h.offset}), nil
}

func (f *FS) read(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	h.node.mu.RLock()
	defer h.node.mu.RUnlock()
	if h.offset >= int64(len(h.node.data)) {
		return 0, nil
	}
	n := copy(buf, h.node.data[h.offset:])
	h.offset += int64(n)
	return n, nil
}

func (f *FS) write(fd int, buf []byte) (int, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	h.node.mu.Lock()
	defer h.node.mu.Unlock()
	end := h.offset + int64(len(buf))
	if end > int64(len(h.node.data)) {
		grown := make([]byte, end)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	n := copy(h.node.data[h.offset:end], buf)
	h.offset += int64(n)
	return n, nil
}

func (f *FS) lseek(fd int, offset int64, whence int) (int64, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return 0, err
	}
	h.node.mu.RLock()
	size := int64(len(h.node.data))
	h.node.mu.RUnlock()

	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = h.offset + offset
	case io.SeekEnd:
		newOffset = size + offset
	default:
		return 0, kerrors.ErrNotFound
	}
	if newOffset < 0 {
		newOffset = 0
	}
	h.offset = newOffset
	return newOffset, nil
}

func (f *FS) fstat(fd int, st *vfs.Stat) error {
	h, err := f.getHandle(fd)
	if err != nil {
		return err
	}
	h.node.mu.RLock()
	defer h.node.mu.RUnlock()
	st.Size = int64(len(h.node.data))
	st.IsDir = h.node.isDir
	return nil
}

func (f *FS) readdir(fd int) ([]vfs.DirEntry, error) {
	h, err := f.getHandle(fd)
	if err != nil {
		return nil, err
	}
	h.node.mu.RLock()
	defer h.node.mu.RUnlock()
	entries := make([]vfs.DirEntry, 0, len(h.node.children))
	for name, child := range h.node.children {
		entries = append(entries, vfs.DirEntry{Name: name, IsDir: child.isDir})
	}
	return entries, nil
}

func (f *FS) sync() error {
	return nil
}
