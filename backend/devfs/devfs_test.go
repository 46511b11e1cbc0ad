package devfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/kbd"
	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/termios"
	"github.com/kestrel-os/kestrel/internal/vfs"
)

type fakeYielder struct{}

func (fakeYielder) Yield(ms int) {}

func newTestVFS(t *testing.T) (*vfs.VFS, *kbd.State) {
	t.Helper()
	tm := termios.NewState(termios.Termios{Lflag: termios.ICANON})
	kb := kbd.NewState(tm)
	v := vfs.New()
	require.NoError(t, Register(v.Registry(), "devfs", kb, fakeYielder{}))
	require.NoError(t, v.Mount("none", "/dev", "devfs", 0, nil))
	return v, kb
}

func TestDevfsZeroAndNull(t *testing.T) {
	v, _ := newTestVFS(t)

	fd, err := v.Open("/dev/zero", 0)
	require.NoError(t, err)
	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = 0xff
	}
	n, err := v.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}

	fd2, err := v.Open("/dev/null", 0)
	require.NoError(t, err)
	n, err = v.Read(fd2, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDevfsUnknownNode(t *testing.T) {
	v, _ := newTestVFS(t)
	_, err := v.Open("/dev/bogus", 0)
	assert.True(t, kerrors.Is(err, kerrors.ErrNotFound))
}

func TestDevfsSentinelInjection(t *testing.T) {
	v, _ := newTestVFS(t)
	fd, err := v.Open("/dev/null", 0)
	require.NoError(t, err)

	_, err = v.Readdir(fd)
	assert.True(t, kerrors.Is(err, kerrors.ErrNoSys))

	_, err = v.Lseek(fd, 0, 0)
	assert.True(t, kerrors.Is(err, kerrors.ErrNoSys))
}

func TestDevfsKbdForwarding(t *testing.T) {
	v, kb := newTestVFS(t)
	fd, err := v.Open("/dev/kbd", 0)
	require.NoError(t, err)

	kb.Handle(0x23) // h
	kb.Handle(0x17) // i
	kb.Handle(0x1c) // enter

	buf := make([]byte, 8)
	n, err := v.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))
}
