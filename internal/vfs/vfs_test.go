package vfs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/kerrors"
)

// fakeYielder stands in for a *sched.Thread in RunSyncWorker tests. It
// sleeps ms microseconds rather than milliseconds purely so a test doesn't
// have to wait out the worker's real 2-second interval.
type fakeYielder struct{}

func (fakeYielder) Yield(ms int) { time.Sleep(time.Duration(ms) * time.Microsecond) }

// memDriver is a tiny in-memory test double: Open hands out sequential
// internal fds, Read/Write record the internal fd they were called with so
// dispatch routing can be asserted directly.
type memDriver struct {
	nextFD     int32
	lastRead   int
	lastWrite  int
	closeErr   error
	unmounted  int32
	mountMagic int
}

func (d *memDriver) opSet() OpSet {
	return OpSet{
		Mount: func(source string, flags uint32, data any) (int, error) {
			return d.mountMagic, nil
		},
		Unmount: func(magic int) error {
			atomic.AddInt32(&d.unmounted, 1)
			return nil
		},
		Open: func(path string, mode, magic int) (int, error) {
			return int(atomic.AddInt32(&d.nextFD, 1)), nil
		},
		Close: func(internalFD int) error {
			return d.closeErr
		},
		Dup: func(internalFD int) (int, error) {
			return int(atomic.AddInt32(&d.nextFD, 1)), nil
		},
		Read: func(internalFD int, buf []byte) (int, error) {
			d.lastRead = internalFD
			copy(buf, "x")
			return 1, nil
		},
		Write: func(internalFD int, buf []byte) (int, error) {
			d.lastWrite = internalFD
			return len(buf), nil
		},
		Sync: func() error { return nil },
	}
}

func mustInstall(t *testing.T, reg *Registry, name string, ops OpSet) {
	t.Helper()
	require.NoError(t, reg.Install(name, ops))
}

func TestSentinelInjectionOnUnsetOps(t *testing.T) {
	reg := NewRegistry()
	mustInstall(t, reg, "partial", OpSet{
		Open:  func(path string, mode, magic int) (int, error) { return 1, nil },
		Close: func(internalFD int) error { return nil },
	})

	d, ok := reg.Lookup("partial")
	require.True(t, ok)

	_, err := d.Read(1, make([]byte, 1))
	assert.ErrorIs(t, err, kerrors.ErrNoSys)

	_, err = d.Dup(1)
	assert.ErrorIs(t, err, kerrors.ErrNoSys)

	_, err = d.Readdir(1)
	assert.ErrorIs(t, err, kerrors.ErrNoSys)

	err = d.Sync()
	assert.ErrorIs(t, err, kerrors.ErrNoSys)
}

func TestMountResolutionLongestPrefix(t *testing.T) {
	v := New()
	mustInstall(t, v.Registry(), "fsA", (&memDriver{mountMagic: 1}).opSet())
	mustInstall(t, v.Registry(), "fsB", (&memDriver{mountMagic: 2}).opSet())
	mustInstall(t, v.Registry(), "fsC", (&memDriver{mountMagic: 3}).opSet())

	require.NoError(t, v.Mount("srcA", "/", "fsA", 0, nil))
	require.NoError(t, v.Mount("srcB", "/usr", "fsB", 0, nil))
	require.NoError(t, v.Mount("srcC", "/usr/local", "fsC", 0, nil))

	rec, local, ok := v.Mounts().Resolve("/etc/passwd")
	require.True(t, ok)
	assert.Equal(t, "/", rec.TargetPath)
	assert.Equal(t, "/etc/passwd", local)

	rec, local, ok = v.Mounts().Resolve("/usr/bin/ls")
	require.True(t, ok)
	assert.Equal(t, "/usr", rec.TargetPath)
	assert.Equal(t, "/bin/ls", local)

	rec, local, ok = v.Mounts().Resolve("/usr/local/bin/x")
	require.True(t, ok)
	assert.Equal(t, "/usr/local", rec.TargetPath)
	assert.Equal(t, "/bin/x", local)

	rec, local, ok = v.Mounts().Resolve("/usr")
	require.True(t, ok)
	assert.Equal(t, "/usr", rec.TargetPath)
	assert.Equal(t, "/", local)
}

func TestHandleDispatchRoutesInternalFD(t *testing.T) {
	v := New()
	d := &memDriver{mountMagic: 7}
	mustInstall(t, v.Registry(), "mem", d.opSet())
	require.NoError(t, v.Mount("src", "/", "mem", 0, nil))

	fd, err := v.Open("/file", 0)
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = v.Read(fd, buf)
	require.NoError(t, err)
	_, err = v.Write(fd, buf)
	require.NoError(t, err)

	assert.Equal(t, d.lastRead, d.lastWrite, "read and write must dispatch against the same internal fd opened for this handle")
	assert.NotZero(t, d.lastRead)
}

func TestDupInsertsNewHandleOnlyOnSuccess(t *testing.T) {
	v := New()
	d := &memDriver{mountMagic: 1}
	mustInstall(t, v.Registry(), "mem", d.opSet())
	require.NoError(t, v.Mount("src", "/", "mem", 0, nil))

	fd, err := v.Open("/file", 0)
	require.NoError(t, err)

	fd2, err := v.Dup(fd)
	require.NoError(t, err)
	assert.NotEqual(t, fd, fd2)

	buf := make([]byte, 1)
	_, err = v.Read(fd2, buf)
	assert.NoError(t, err, "duped fd must dispatch through its own handle")
}

func TestCloseRetainsEntryOnDriverFailure(t *testing.T) {
	v := New()
	d := &memDriver{mountMagic: 1, closeErr: assertErr}
	mustInstall(t, v.Registry(), "mem", d.opSet())
	require.NoError(t, v.Mount("src", "/", "mem", 0, nil))

	fd, err := v.Open("/file", 0)
	require.NoError(t, err)

	err = v.Close(fd)
	assert.Error(t, err)

	// the handle must still be usable since Close failed
	_, err = v.Read(fd, make([]byte, 1))
	assert.NoError(t, err)
}

func TestMountRollsBackDriverOnInsertFailure(t *testing.T) {
	v := New()
	d1 := &memDriver{mountMagic: 1}
	d2 := &memDriver{mountMagic: 2}
	mustInstall(t, v.Registry(), "fs1", d1.opSet())
	mustInstall(t, v.Registry(), "fs2", d2.opSet())

	require.NoError(t, v.Mount("src1", "/mnt", "fs1", 0, nil))
	err := v.Mount("src2", "/mnt", "fs2", 0, nil)
	assert.ErrorIs(t, err, kerrors.ErrExists)
	assert.Equal(t, int32(1), atomic.LoadInt32(&d2.unmounted), "the second driver's successful Mount must be rolled back")
}

func TestSyncAllInvokesEveryDriver(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	for _, name := range []string{"a", "b", "c"} {
		mustInstall(t, reg, name, OpSet{
			Sync: func() error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})
	}
	require.NoError(t, reg.SyncAll(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

var assertErr = kerrors.Wrap(kerrors.ErrNotFound, "close failed")

func TestRunSyncWorkerLoopsUntilCancelled(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	mustInstall(t, reg, "a", OpSet{
		Sync: func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSyncWorker(ctx, fakeYielder{}, reg)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSyncWorker did not return after cancellation")
	}
	assert.Greater(t, atomic.LoadInt32(&calls), int32(0), "sync should have run at least once")
}
