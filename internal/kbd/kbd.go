// Package kbd implements the interrupt-driven keyboard line discipline: a
// scancode-to-character handler feeding a raw edit buffer and a canonical
// line buffer, and a blocking reader that drains them under the current
// termios policy.
//
// This is a direct translation of kbd_handler/kbd_read from
// original_source's kbd.c, with one behavior change: shift tracking sets
// or clears an explicit pressed flag per press/release scancode instead of
// toggling on every recognized shift scancode, so a dropped key event
// cannot desynchronize the latch (the same fix is applied to the ctrl
// latch, which toggled the same way in the original). Caps-lock stays a
// toggle-on-press, since this keyboard has no caps-lock release code.
package kbd

import (
	"github.com/kestrel-os/kestrel/internal/klock"
	"github.com/kestrel-os/kestrel/internal/termios"
)

// Scancodes recognized outside the printable tables.
const (
	MaxCode       = 0x57
	capslockCode  = 0x3a
	leftShift     = 0x2a
	rightShift    = 0x36
	leftShiftRel  = 0xaa
	rightShiftRel = 0xb6
	leftCtrl      = 0x1d
	leftCtrlRel   = 0x9d
	ctrlCCode     = 0x2e
)

// Buffer sizes, named after KBD_BUF_SIZE and BIG_BUF_SIZE.
const (
	RawBufSize  = 2048
	LineBufSize = 65536
)

// The four scancode-to-ASCII tables, indexed by scancode, selected by the
// (capsLock, shiftPressed) pair in effect when the scancode arrived.
var (
	asciiNomod = [MaxCode]byte{
		0x00, '?', '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b', '\t',
		'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n', 0x00, 'a', 's',
		'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0x00, '\\', 'z', 'x', 'c', 'v',
		'b', 'n', 'm', ',', '.', '/', 0x00, 0x00, 0x00, ' ',
	}
	asciiShift = [MaxCode]byte{
		0x00, '?', '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b', '\t',
		'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n', 0x00, 'A', 'S',
		'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~', 0x00, '|', 'Z', 'X', 'C', 'V',
		'B', 'N', 'M', '<', '>', '?', 0x00, 0x00, 0x00, ' ',
	}
	asciiCapslock = [MaxCode]byte{
		0x00, '?', '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b', '\t',
		'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '[', ']', '\n', 0x00, 'A', 'S',
		'D', 'F', 'G', 'H', 'J', 'K', 'L', ';', '\'', '`', 0x00, '\\', 'Z', 'X', 'C', 'V',
		'B', 'N', 'M', ',', '.', '/', 0x00, 0x00, 0x00, ' ',
	}
	asciiShiftCapslock = [MaxCode]byte{
		0x00, '?', '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b', '\t',
		'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '{', '}', '\n', 0x00, 'a', 's',
		'd', 'f', 'g', 'h', 'j', 'k', 'l', ':', '"', '~', 0x00, '|', 'z', 'x', 'c', 'v',
		'b', 'n', 'm', '<', '>', '?', 0x00, 0x00, 0x00, ' ',
	}
)

// State holds the keyboard line discipline's buffers and modifier latches.
// One lock (readLock) guards all of it: Handle takes it unconditionally via
// AcquireSpin since an interrupt handler cannot yield; Read takes it via the
// yield-adaptive discipline since a blocked reader can and must give up the
// CPU between attempts.
type State struct {
	readLock klock.YieldLock
	termios  *termios.State

	rawBuf [RawBufSize]byte
	rawLen int

	lineBuf [LineBufSize]byte
	lineLen int

	capsLock     bool
	shiftPressed bool
	ctrlActive   bool

	onInterrupt func()
	echo        func(byte)
}

// NewState returns a State gated by t's ICANON/ECHO flags.
func NewState(t *termios.State) *State {
	return &State{termios: t}
}

// SetInterruptHandler installs the hook invoked when ctrl is held and
// scancode 0x2e arrives. A nil handler (the default) swallows the signal
// silently, matching the original's lack of any interrupt delivery here.
func (s *State) SetInterruptHandler(fn func()) {
	s.readLock.AcquireSpin()
	s.onInterrupt = fn
	s.readLock.Release()
}

// SetEcho installs the hook used to echo characters back to the terminal
// when ECHO is set. A nil hook (the default) means echo is silently
// dropped rather than producing output.
func (s *State) SetEcho(fn func(byte)) {
	s.readLock.AcquireSpin()
	s.echo = fn
	s.readLock.Release()
}

func (s *State) putchar(c byte) {
	if s.echo != nil {
		s.echo(c)
	}
}

// Handle processes one scancode byte from the interrupt dispatcher. It must
// never be called concurrently with itself; the interrupt controller's mask
// is assumed to prevent reentry, same as the original.
func (s *State) Handle(b byte) {
	s.readLock.AcquireSpin()
	defer s.readLock.Release()

	if s.ctrlActive && b == ctrlCCode {
		if s.onInterrupt != nil {
			s.onInterrupt()
		}
		return
	}

	switch b {
	case capslockCode:
		s.capsLock = !s.capsLock
		return
	case leftShift, rightShift:
		s.shiftPressed = true
		return
	case leftShiftRel, rightShiftRel:
		s.shiftPressed = false
		return
	case leftCtrl:
		s.ctrlActive = true
		return
	case leftCtrlRel:
		s.ctrlActive = false
		return
	}

	if b >= MaxCode {
		return
	}
	c := s.charFor(b)
	if c == 0 {
		return
	}

	canonical := s.termios.Has(termios.ICANON)
	echo := s.termios.Has(termios.ECHO)

	if canonical {
		switch c {
		case '\n':
			if s.rawLen < RawBufSize {
				s.rawBuf[s.rawLen] = c
				s.rawLen++
				if echo {
					s.putchar(c)
				}
				s.flushLine()
			}
			return
		case '\b':
			if s.rawLen > 0 {
				s.rawLen--
				s.rawBuf[s.rawLen] = 0
				if echo {
					s.putchar('\b')
					s.putchar(' ')
					s.putchar('\b')
				}
			}
			return
		}
	}

	if s.rawLen < RawBufSize {
		s.rawBuf[s.rawLen] = c
		s.rawLen++
		if echo {
			s.putchar(c)
		}
	}
}

func (s *State) charFor(b byte) byte {
	switch {
	case !s.capsLock && !s.shiftPressed:
		return asciiNomod[b]
	case !s.capsLock && s.shiftPressed:
		return asciiShift[b]
	case s.capsLock && s.shiftPressed:
		return asciiShiftCapslock[b]
	default:
		return asciiCapslock[b]
	}
}

// flushLine moves the completed edit line into the canonical line buffer
// and resets the edit buffer. Called with readLock held.
func (s *State) flushLine() {
	for i := 0; i < s.rawLen; i++ {
		if s.lineLen == LineBufSize {
			break
		}
		s.lineBuf[s.lineLen] = s.rawBuf[i]
		s.lineLen++
	}
	s.rawLen = 0
}

// Read drains the keyboard buffers for a consumer, blocking as needed under
// the current termios policy. y is the caller's yield primitive (typically
// a *sched.Thread); Read must only be invoked from a context that is
// allowed to suspend.
func (s *State) Read(y klock.Yielder, buf []byte) (int, error) {
	if s.termios.Has(termios.ICANON) {
		return s.readCanonical(y, buf)
	}
	return s.readRaw(y, buf)
}

// readRaw implements the non-canonical branch: wait for at least one
// decoded byte, then drain as much of the raw buffer as fits in buf. Bytes
// past len(buf) are kept for the next call rather than discarded, a bounds
// fix the original's fixed-size buffer didn't need.
func (s *State) readRaw(y klock.Yielder, buf []byte) (int, error) {
	for {
		s.readLock.Acquire(y, 10)
		if s.rawLen == 0 {
			s.readLock.Release()
			y.Yield(10)
			continue
		}

		n := s.rawLen
		if n > len(buf) {
			n = len(buf)
		}
		copy(buf[:n], s.rawBuf[:n])
		remaining := s.rawLen - n
		if remaining > 0 {
			copy(s.rawBuf[:remaining], s.rawBuf[n:s.rawLen])
		}
		for i := remaining; i < s.rawLen; i++ {
			s.rawBuf[i] = 0
		}
		s.rawLen = remaining
		s.readLock.Release()
		return n, nil
	}
}

// readCanonical implements the canonical branch: deliver up to len(buf)
// bytes from the completed-line buffer, blocking via yield(10) only while
// nothing has been delivered yet. Once at least one byte has been copied, a
// subsequently empty buffer ends the call instead of blocking again.
func (s *State) readCanonical(y klock.Yielder, buf []byte) (int, error) {
	s.readLock.Acquire(y, 10)
	wait := true
	i := 0
	for i < len(buf) {
		if s.lineLen > 0 {
			buf[i] = s.lineBuf[0]
			s.lineLen--
			copy(s.lineBuf[:s.lineLen], s.lineBuf[1:s.lineLen+1])
			i++
			wait = false
			continue
		}
		if wait {
			s.readLock.Release()
			y.Yield(10)
			s.readLock.Acquire(y, 10)
			continue
		}
		s.readLock.Release()
		return i, nil
	}
	s.readLock.Release()
	return i, nil
}
