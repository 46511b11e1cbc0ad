// Package klock provides the two lock acquisition disciplines the kernel
// substrate needs: a plain spinlock usable from a context that can never
// suspend (the keyboard interrupt handler, the scheduler tick itself), and a
// yield-adaptive lock for goroutines that may suspend between attempts (the
// keyboard reader, §5's kbd_read_lock consumer).
//
// These are deliberately two distinct types rather than one lock with an
// optional yield flag: mixing them up (the handler calling Yield, or a
// reader spinning forever) is a compile-time type error instead of a latent
// bug, per the REDESIGN FLAG in §9 about the handler/reader lock sharing.
package klock

import (
	"runtime"
	"sync/atomic"
)

// Spin is a test-and-set spinlock. Acquire never suspends the calling
// goroutine on anything but the CPU, so it is safe to call from a context
// that cannot yield control back to a scheduler (an interrupt handler).
type Spin struct {
	state int32
}

// TryAcquire attempts to take the lock without blocking.
func (s *Spin) TryAcquire() bool {
	return atomic.CompareAndSwapInt32(&s.state, 0, 1)
}

// Acquire busy-spins until the lock is free.
func (s *Spin) Acquire() {
	for !s.TryAcquire() {
		runtime.Gosched()
	}
}

// Release frees the lock.
func (s *Spin) Release() {
	atomic.StoreInt32(&s.state, 0)
}

// Yielder is the cooperative-suspension primitive a YieldLock uses between
// acquisition attempts. *sched.Thread implements this.
type Yielder interface {
	Yield(ms int)
}

// YieldLock is a spinlock whose contended path releases the CPU via a
// Yielder rather than busy-spinning across a whole scheduler quantum. Use
// this from reader/worker goroutines; never from a context that cannot
// yield (see Spin).
type YieldLock struct {
	spin Spin
}

// Acquire takes the lock, calling y.Yield(ms) between failed attempts.
func (l *YieldLock) Acquire(y Yielder, ms int) {
	for !l.spin.TryAcquire() {
		y.Yield(ms)
	}
}

// TryAcquire attempts to take the lock without yielding.
func (l *YieldLock) TryAcquire() bool {
	return l.spin.TryAcquire()
}

// AcquireSpin busy-spins for the same lock a YieldLock's Acquire method
// guards, without ever yielding. Use this from the one caller that cannot
// suspend — the keyboard interrupt handler — so the handler and its reader
// contend on a single lock object via two different disciplines instead of
// two separate locks that could drift out of sync.
func (l *YieldLock) AcquireSpin() {
	l.spin.Acquire()
}

// Release frees the lock. Must be called before the holder yields again.
func (l *YieldLock) Release() {
	l.spin.Release()
}
