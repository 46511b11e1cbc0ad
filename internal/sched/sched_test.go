package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYieldLowerBound(t *testing.T) {
	s := New(WithTickInterval(time.Millisecond))
	defer s.Stop()

	pid, err := s.CreateProcess(1)
	require.NoError(t, err)

	elapsed := make(chan time.Duration, 1)
	_, err = s.ThreadCreate(pid, 1, func(th *Thread, _ any) {
		begin := time.Now()
		th.Yield(30)
		elapsed <- time.Since(begin)
	}, nil)
	require.NoError(t, err)

	select {
	case d := <-elapsed:
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(30))
	case <-time.After(2 * time.Second):
		t.Fatal("yield did not return in time")
	}
}

func TestYieldZeroIsAllowed(t *testing.T) {
	s := New(WithTickInterval(time.Millisecond))
	defer s.Stop()

	pid, err := s.CreateProcess(1)
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = s.ThreadCreate(pid, 1, func(th *Thread, _ any) {
		th.Yield(0)
		close(done)
	}, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("yield(0) did not return")
	}
}

func TestSchedulerFairness(t *testing.T) {
	s := New(WithTickInterval(time.Millisecond))
	defer s.Stop()

	pid, err := s.CreateProcess(1)
	require.NoError(t, err)

	var countA, countB int64
	stop := make(chan struct{})

	run := func(counter *int64) func(*Thread, any) {
		return func(th *Thread, _ any) {
			for {
				select {
				case <-stop:
					return
				default:
				}
				atomic.AddInt64(counter, 1)
				th.Yield(1)
			}
		}
	}

	_, err = s.ThreadCreate(pid, 1, run(&countA), nil)
	require.NoError(t, err)
	_, err = s.ThreadCreate(pid, 1, run(&countB), nil)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	close(stop)
	time.Sleep(20 * time.Millisecond)

	a, b := atomic.LoadInt64(&countA), atomic.LoadInt64(&countB)
	total := a + b
	require.Greater(t, total, int64(10), "expected meaningful progress from both threads")

	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	// Equal-priority round robin should keep the two within a small factor
	// of each other; allow generous slack for scheduler overhead.
	assert.GreaterOrEqual(t, lo, hi/3, "one thread starved the other: a=%d b=%d", a, b)
}

func TestProcessThreadTableCapacity(t *testing.T) {
	// A long tick interval means no thread ever gets its first turn during
	// this test; slot allocation in ThreadCreate happens synchronously
	// before that, so the capacity check can be tested in isolation.
	s := New(WithTickInterval(time.Hour))
	defer s.Stop()

	pid, err := s.CreateProcess(1)
	require.NoError(t, err)

	noop := func(*Thread, any) {}
	for i := 0; i < MaxThreadsPerProc; i++ {
		_, err := s.ThreadCreate(pid, 1, noop, nil)
		require.NoError(t, err)
	}
	_, err = s.ThreadCreate(pid, 1, noop, nil)
	assert.ErrorIs(t, err, kerrors.ErrTableFull)
}

func TestProcessTableSlotReuse(t *testing.T) {
	s := New(WithTickInterval(time.Hour))
	defer s.Stop()

	pid1, err := s.CreateProcess(1)
	require.NoError(t, err)
	pid2, err := s.CreateProcess(1)
	require.NoError(t, err)
	assert.NotEqual(t, pid1, pid2)

	require.NoError(t, s.DestroyProcess(pid1))
	pid3, err := s.CreateProcess(1)
	require.NoError(t, err)
	assert.Equal(t, pid1, pid3, "freed pid slot should be reused")

	_, err = s.CreateProcess(1)
	require.NoError(t, err)
	err = s.DestroyProcess(pid1)
	assert.NoError(t, err)
	err = s.DestroyProcess(pid1)
	assert.Error(t, err, "destroying an already-free slot must fail")
}
