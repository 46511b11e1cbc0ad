package kbd

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-os/kestrel/internal/termios"
)

// scancodes for the letters used below, read off the nomod table.
const (
	scH    = 35
	scI    = 23
	scA    = 30
	scB    = 48
	scEnt  = 28
	scBack = 14
)

// fakeYielder stands in for a *sched.Thread in tests that don't need a
// running scheduler: it just sleeps for ms and counts how many times it was
// asked to.
type fakeYielder struct {
	calls int32
}

func (f *fakeYielder) Yield(ms int) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func TestCanonicalLineAssembly(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: termios.ICANON | termios.ECHO})
	s := NewState(tm)

	var echoed []byte
	s.SetEcho(func(c byte) { echoed = append(echoed, c) })

	for _, sc := range []byte{scH, scI, scEnt} {
		s.Handle(sc)
	}

	buf := make([]byte, 8)
	y := &fakeYielder{}
	n, err := s.Read(y, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hi\n", string(buf[:n]))
	assert.Equal(t, int32(0), atomic.LoadInt32(&y.calls), "data was already available; Read must not block")
	assert.Equal(t, "hi\n", string(echoed))
}

func TestCanonicalBackspace(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: termios.ICANON})
	s := NewState(tm)

	for _, sc := range []byte{scA, scB, scBack, scEnt} {
		s.Handle(sc)
	}

	buf := make([]byte, 8)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(buf[:n]))
}

func TestCanonicalReadBlocksThenDelivers(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: termios.ICANON})
	s := NewState(tm)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	y := &fakeYielder{}
	buf := make([]byte, 8)
	go func() {
		n, err := s.Read(y, buf)
		done <- result{n, err}
	}()

	time.Sleep(30 * time.Millisecond)
	s.Handle(scH)
	s.Handle(scEnt)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "h\n", string(buf[:r.n]))
	case <-time.After(2 * time.Second):
		t.Fatal("Read never returned")
	}
	assert.Greater(t, atomic.LoadInt32(&y.calls), int32(0), "Read must have yielded while waiting")
}

func TestNonCanonicalRawBuffer(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: 0})
	s := NewState(tm)

	s.Handle(scH)
	s.Handle(scI)

	buf := make([]byte, 4)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestModifierShiftPressRelease(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: 0})
	s := NewState(tm)

	s.Handle(leftShift)
	s.Handle(scA)
	s.Handle(leftShiftRel)
	s.Handle(scA)

	buf := make([]byte, 4)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "Aa", string(buf[:n]), "shift must apply only to the key pressed while held")
}

func TestCapsLockTogglesOnPressOnly(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: 0})
	s := NewState(tm)

	s.Handle(capslockCode)
	s.Handle(scA)
	s.Handle(capslockCode)
	s.Handle(scA)

	buf := make([]byte, 4)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "Aa", string(buf[:n]))
}

func TestCtrlCInvokesInterruptHook(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: 0})
	s := NewState(tm)

	var fired bool
	s.SetInterruptHandler(func() { fired = true })

	s.Handle(leftCtrl)
	s.Handle(ctrlCCode)
	assert.True(t, fired)

	// the swallowed byte must not appear in the raw buffer
	buf := make([]byte, 4)
	s.Handle(leftCtrlRel)
	s.Handle(scA)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "a", string(buf[:n]))
}

func TestUnrecognizedScancodeIgnored(t *testing.T) {
	tm := termios.NewState(termios.Termios{Lflag: 0})
	s := NewState(tm)

	s.Handle(MaxCode) // == 0x57, out of range
	s.Handle(scA)

	buf := make([]byte, 4)
	n, err := s.Read(&fakeYielder{}, buf)
	require.NoError(t, err)
	assert.Equal(t, "a", string(buf[:n]))
}
