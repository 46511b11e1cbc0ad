// Package kernel wires the scheduler, VFS, and keyboard line discipline
// into the single external API surface named in spec.md §6 — the Go
// analogue of initializing process_table, filesystems, mountpoints,
// vfs_handles, and the keyboard/termios singletons once at boot.
package kernel

import (
	"context"
	"sync"

	"github.com/kestrel-os/kestrel/internal/kbd"
	"github.com/kestrel-os/kestrel/internal/klock"
	"github.com/kestrel-os/kestrel/internal/sched"
	"github.com/kestrel-os/kestrel/internal/termios"
	"github.com/kestrel-os/kestrel/internal/vfs"
	"github.com/kestrel-os/kestrel/internal/vfspath"
)

// Kernel is the process-wide set of singletons spec.md §9 calls out:
// initialized once, torn down never.
type Kernel struct {
	Scheduler *sched.Scheduler
	VFS       *vfs.VFS
	Keyboard  *kbd.State
	Termios   *termios.State

	cwdMu sync.RWMutex
	cwd   string
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithSchedulerOptions forwards options to the underlying scheduler.
func WithSchedulerOptions(opts ...sched.Option) Option {
	return func(k *Kernel) {
		k.Scheduler = sched.New(opts...)
	}
}

// New constructs a Kernel with ICANON|ECHO termios defaults, an empty VFS,
// and a fresh scheduler.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		Scheduler: sched.New(),
		VFS:       vfs.New(),
		cwd:       "/",
	}
	k.Termios = termios.NewState(termios.Termios{Lflag: termios.ICANON | termios.ECHO})
	k.Keyboard = kbd.NewState(k.Termios)
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Stop halts the scheduler's tick loop. The Kernel must not be used
// afterwards.
func (k *Kernel) Stop() {
	k.Scheduler.Stop()
}

// Cwd returns the current working directory used to resolve relative paths
// passed to Open.
func (k *Kernel) Cwd() string {
	k.cwdMu.RLock()
	defer k.cwdMu.RUnlock()
	return k.cwd
}

// SetCwd replaces the current working directory. cwd is canonicalized
// against the existing one so it is always stored absolute.
func (k *Kernel) SetCwd(path string) {
	abs := vfspath.AbsolutePath(k.Cwd(), path)
	k.cwdMu.Lock()
	k.cwd = abs
	k.cwdMu.Unlock()
}

// Mount installs a mounted filesystem at target, dispatching to the VFS.
func (k *Kernel) Mount(source, target, fsType string, flags uint32, data any) error {
	return k.VFS.Mount(source, target, fsType, flags, data)
}

// Open canonicalizes path against the current working directory and
// dispatches to the VFS.
func (k *Kernel) Open(path string, mode int) (int, error) {
	abs := vfspath.AbsolutePath(k.Cwd(), path)
	return k.VFS.Open(abs, mode)
}

// Close dispatches to the VFS.
func (k *Kernel) Close(fd int) error { return k.VFS.Close(fd) }

// Read dispatches to the VFS.
func (k *Kernel) Read(fd int, buf []byte) (int, error) { return k.VFS.Read(fd, buf) }

// Write dispatches to the VFS.
func (k *Kernel) Write(fd int, buf []byte) (int, error) { return k.VFS.Write(fd, buf) }

// Lseek dispatches to the VFS.
func (k *Kernel) Lseek(fd int, offset int64, whence int) (int64, error) {
	return k.VFS.Lseek(fd, offset, whence)
}

// Fstat dispatches to the VFS.
func (k *Kernel) Fstat(fd int, st *vfs.Stat) error { return k.VFS.Fstat(fd, st) }

// Dup dispatches to the VFS.
func (k *Kernel) Dup(fd int) (int, error) { return k.VFS.Dup(fd) }

// Readdir dispatches to the VFS.
func (k *Kernel) Readdir(fd int) ([]vfs.DirEntry, error) { return k.VFS.Readdir(fd) }

// HandleScancode feeds one scancode byte to the keyboard line discipline,
// the entry point an interrupt dispatcher would call.
func (k *Kernel) HandleScancode(b byte) {
	k.Keyboard.Handle(b)
}

// KbdRead blocks on the keyboard line discipline under the caller's yield
// primitive, typically a thread created via CreateProcess/ThreadCreate.
func (k *Kernel) KbdRead(y klock.Yielder, buf []byte) (int, error) {
	return k.Keyboard.Read(y, buf)
}

// CreateProcess installs a new process in the scheduler.
func (k *Kernel) CreateProcess(priority uint8) (sched.PID, error) {
	return k.Scheduler.CreateProcess(priority)
}

// ThreadCreate starts a new thread under pid.
func (k *Kernel) ThreadCreate(pid sched.PID, priority uint8, entry func(*sched.Thread, any), arg any) (sched.TID, error) {
	return k.Scheduler.ThreadCreate(pid, priority, entry, arg)
}

// StartSyncWorker starts the long-lived sync thread described in spec.md
// §4.7: yield(2000); sync(); in a loop, until ctx is cancelled.
func (k *Kernel) StartSyncWorker(ctx context.Context, pid sched.PID, priority uint8) (sched.TID, error) {
	return k.Scheduler.ThreadCreate(pid, priority, func(th *sched.Thread, _ any) {
		vfs.RunSyncWorker(ctx, th, k.VFS.Registry())
	}, nil)
}
