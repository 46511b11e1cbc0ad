// Command kstress is the Go descendant of the teacher's vfs/test_vfs
// soak tester: concurrent random open/close/read/write/dup/lseek/fstat
// against a Kernel's VFS surface, looking for deadlocks via a per-worker
// inactivity timer. Unlike the teacher's original (which drives a real
// mounted OS directory through os.*, with mkdir/rmdir/rename among its
// random operations), this one drives an in-process Kernel's VFS surface
// directly — kestrel's driver vtable has no mkdir/rename operation (see
// backend/memfs's resolve doc comment), so this soak tester's operation
// set is open/close/read/write/dup/lseek/fstat/readdir instead.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-os/kestrel/backend/memfs"
	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/kernel"
	"github.com/kestrel-os/kestrel/internal/klog"
	"github.com/kestrel-os/kestrel/internal/vfs"
)

var (
	nameLength = flag.Int("name-length", 10, "length of names to create")
	verbose    = flag.Bool("v", false, "set to show more info")
	number     = flag.Int("n", 4, "number of workers to run simultaneously")
	iterations = flag.Int("i", 200, "iterations of the test per worker")
	timeout    = flag.Duration("timeout", 10*time.Second, "inactivity time to detect a deadlock")
	testNumber atomic.Int32
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// worker runs one goroutine's worth of random VFS operations against a
// shared Kernel, the Go analogue of the teacher's Test struct.
type worker struct {
	k       *kernel.Kernel
	dir     string
	name    string
	fd      int
	open    bool
	number  int32
	prefix  string
	timer   *time.Timer
	ops     []func()
}

func newWorker(k *kernel.Kernel, dir string) *worker {
	w := &worker{
		k:      k,
		dir:    dir,
		name:   randomString(*nameLength),
		fd:     -1,
		number: testNumber.Add(1),
		timer:  time.NewTimer(*timeout),
	}
	width := int(math.Floor(math.Log10(float64(*number)))) + 1
	w.prefix = fmt.Sprintf("%*d: %s: ", width, w.number, w.path())
	w.ops = []func(){w.openOp, w.closeOp, w.readOp, w.writeOp, w.dupOp, w.lseekOp, w.fstatOp, w.readdirOp}
	return w
}

func (w *worker) path() string { return path.Join(w.dir, w.name) }

func (w *worker) kick() {
	if !w.timer.Stop() {
		<-w.timer.C
	}
	w.timer.Reset(*timeout)
}

func (w *worker) randomOp() {
	w.kick()
	w.ops[rand.Intn(len(w.ops))]()
}

func (w *worker) logf(format string, a ...any) {
	if *verbose {
		klog.Debugf(w.prefix, format, a...)
	}
}

func (w *worker) errorf(format string, a ...any) {
	klog.Errorf(w.prefix, format, a...)
}

func (w *worker) openOp() {
	if w.open {
		return
	}
	w.logf("open")
	fd, err := w.k.Open(w.path(), os.O_RDWR|os.O_CREATE)
	if err != nil {
		w.errorf("failed to open: %v", err)
		return
	}
	w.fd = fd
	w.open = true
}

func (w *worker) closeOp() {
	if !w.open {
		return
	}
	w.logf("close")
	if err := w.k.Close(w.fd); err != nil {
		w.errorf("failed to close: %v", err)
		return
	}
	w.open = false
}

func (w *worker) readOp() {
	if !w.open {
		return
	}
	w.logf("read")
	buf := make([]byte, 10)
	if _, err := w.k.Read(w.fd, buf); err != nil {
		w.errorf("failed to read: %v", err)
	}
}

func (w *worker) writeOp() {
	if !w.open {
		return
	}
	w.logf("write")
	buf := make([]byte, 10)
	if _, err := w.k.Write(w.fd, buf); err != nil {
		w.errorf("failed to write: %v", err)
	}
}

func (w *worker) dupOp() {
	if !w.open {
		return
	}
	w.logf("dup")
	newFD, err := w.k.Dup(w.fd)
	if err != nil {
		w.errorf("failed to dup: %v", err)
		return
	}
	_ = w.k.Close(newFD)
}

func (w *worker) lseekOp() {
	if !w.open {
		return
	}
	w.logf("lseek")
	if _, err := w.k.Lseek(w.fd, 0, io.SeekStart); err != nil {
		w.errorf("failed to lseek: %v", err)
	}
}

func (w *worker) fstatOp() {
	if !w.open {
		return
	}
	w.logf("fstat")
	var st vfs.Stat
	if err := w.k.Fstat(w.fd, &st); err != nil {
		w.errorf("failed to fstat: %v", err)
	}
}

func (w *worker) readdirOp() {
	w.logf("readdir")
	dirFD, err := w.k.Open(w.dir, os.O_RDONLY)
	if err != nil {
		if !kerrors.Is(err, kerrors.ErrNotFound) {
			w.errorf("failed to open dir: %v", err)
		}
		return
	}
	defer func() { _ = w.k.Close(dirFD) }()
	if _, err := w.k.Readdir(dirFD); err != nil && !kerrors.Is(err, kerrors.ErrNoSys) {
		w.errorf("failed to readdir: %v", err)
	}
}

func (w *worker) tidy() {
	w.timer.Stop()
	w.closeOp()
	w.logf("finished")
}

func (w *worker) runRandom(iterations int, quit chan struct{}) {
	finished := make(chan struct{})
	go func() {
		for i := 0; i < iterations; i++ {
			w.randomOp()
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-quit:
		quit <- struct{}{}
	case <-w.timer.C:
		w.errorf("deadlock detected")
		quit <- struct{}{}
	}
}

func main() {
	flag.Parse()
	args := flag.Args()
	dir := "/"
	if len(args) == 1 {
		dir = args[0]
	}

	k := kernel.New()
	defer k.Stop()
	if err := memfs.Register(k.VFS.Registry(), "memfs"); err != nil {
		klog.Errorf("kstress", "register memfs: %v", err)
		os.Exit(1)
	}
	if err := k.Mount("none", "/", "memfs", 0, nil); err != nil {
		klog.Errorf("kstress", "mount memfs: %v", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	quit := make(chan struct{}, *iterations)
	for i := 0; i < *number; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := newWorker(k, dir)
			defer w.tidy()
			w.runRandom(*iterations, quit)
		}()
	}
	wg.Wait()
	klog.Logf("kstress", "completed %d workers x %d iterations with no deadlock", *number, *iterations)
}
