// Package sched implements the process/thread table and the cooperative
// yield(ms) primitive every other blocking kernel operation is built on.
//
// The real kernel's timer interrupt drives task_resched, which forcibly
// preempts whatever thread is RUNNING and hands the CPU to the next READY
// one via a CPU-specific ctx_switch trampoline — out of scope here (§1).
// Go goroutines already get real preemptive scheduling from the runtime, so
// this package models only the part of the original design that is
// observable at the API boundary: the process/thread tables, their status
// fields, and the priority round-robin ordering in which goroutines are
// released from a Yield call. A goroutine that never calls Yield is never
// forcibly suspended by this package, same as a kernel thread that never
// calls yield(ms) would never be blocked by anything but the next timer
// tick's forced preemption — the two differ only in why control returns to
// the scheduler, not in what the scheduler does once it has it.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-os/kestrel/internal/kerrors"
	"github.com/kestrel-os/kestrel/internal/klock"
)

// Capacity limits, named after the originals in kernel/include/task.h.
const (
	MaxProcesses      = 65536
	MaxThreadsPerProc = 1024
	KernelStackSlots  = 2048
)

// PID and TID are distinct from each other and from plain ints so a caller
// can't pass one where the other is expected without a compile error.
type PID uint32
type TID uint32

// ThreadStatus is one of the three states in §4.5's state diagram.
type ThreadStatus int32

const (
	Running ThreadStatus = iota
	Ready
	Blocked
)

func (s ThreadStatus) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Ready:
		return "READY"
	case Blocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// ProcessStatus mirrors the thread status enum at the process level.
type ProcessStatus int32

const (
	ProcActive ProcessStatus = iota
	ProcZombie
)

// Clock abstracts wall-clock time so deadline comparisons can be driven by
// a fake clock in tests without changing Yield's semantics.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Thread is the Go analogue of thread_t: one kernel_stack, one tid, one
// status, owned by exactly one process.
type Thread struct {
	tid      TID
	pid      PID
	status   int32 // ThreadStatus, accessed atomically
	priority uint8
	deadline time.Time
	turn     chan struct{}
	done     chan struct{}
	sched    *Scheduler

	// reserved stands in for the fixed kernel_stack region; nothing in this
	// package reads or writes it, since stack allocation is the job of the
	// externalized ctx_switch/kalloc machinery.
	reserved [KernelStackSlots]uintptr
}

// TID returns the thread's identifier.
func (t *Thread) TID() TID { return t.tid }

// PID returns the owning process's identifier.
func (t *Thread) PID() PID { return t.pid }

// Status returns the thread's current state.
func (t *Thread) Status() ThreadStatus {
	return ThreadStatus(atomic.LoadInt32(&t.status))
}

func (t *Thread) setStatus(s ThreadStatus) {
	atomic.StoreInt32(&t.status, int32(s))
}

// Yield is the cooperative suspension primitive: the calling thread
// transitions to BLOCKED with a wakeup deadline of now+ms, and is not
// returned to RUNNING before that deadline elapses. ms == 0 means
// "reschedule now" — still subject to round-robin ordering against any
// other thread whose deadline has already passed.
func (t *Thread) Yield(ms int) {
	t.sched.yield(t, ms)
}

// Thread satisfies klock.Yielder so it can back a klock.YieldLock directly.
var _ klock.Yielder = (*Thread)(nil)

// process is the Go analogue of process_t.
type process struct {
	pid      PID
	status   ProcessStatus
	priority uint8
	mu      sync.Mutex
	threads []*Thread // sparse: nil where a slot was freed
}

// Scheduler owns the process table and runs the tick loop that grants
// threads their turn after a Yield deadline elapses.
type Scheduler struct {
	tableLock klock.Spin // process_table_lock
	processes []*process // index-addressed arena; processes[pid] or nil
	freePIDs  []PID

	clock        Clock
	tickInterval time.Duration
	stop         chan struct{}
	wg           sync.WaitGroup
	rotation     int // global round-robin cursor across equal-priority threads
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithClock overrides the clock used for deadline comparisons.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTickInterval overrides the background tick cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// New creates a Scheduler and starts its tick loop.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        realClock{},
		tickInterval: 1 * time.Millisecond,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.tickLoop()
	return s
}

// Stop halts the background tick loop. The scheduler must not be used
// afterwards.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// CreateProcess installs a new process with the given priority (higher
// value means scheduled first) and returns its pid.
func (s *Scheduler) CreateProcess(priority uint8) (PID, error) {
	s.tableLock.Acquire()
	defer s.tableLock.Release()

	if len(s.freePIDs) > 0 {
		pid := s.freePIDs[len(s.freePIDs)-1]
		s.freePIDs = s.freePIDs[:len(s.freePIDs)-1]
		s.processes[pid] = &process{pid: pid, priority: priority, status: ProcActive}
		return pid, nil
	}
	if len(s.processes) >= MaxProcesses {
		return 0, kerrors.ErrTableFull
	}
	pid := PID(len(s.processes))
	s.processes = append(s.processes, &process{pid: pid, priority: priority, status: ProcActive})
	return pid, nil
}

// DestroyProcess tears down a process and frees its pid slot. The caller
// must ensure all of the process's threads have already returned.
func (s *Scheduler) DestroyProcess(pid PID) error {
	s.tableLock.Acquire()
	defer s.tableLock.Release()

	if int(pid) >= len(s.processes) || s.processes[pid] == nil {
		return kerrors.ErrNotFound
	}
	s.processes[pid] = nil
	s.freePIDs = append(s.freePIDs, pid)
	return nil
}

func (s *Scheduler) getProcess(pid PID) (*process, error) {
	s.tableLock.Acquire()
	defer s.tableLock.Release()
	if int(pid) >= len(s.processes) || s.processes[pid] == nil {
		return nil, kerrors.ErrNotFound
	}
	return s.processes[pid], nil
}

// ThreadCreate allocates a thread slot in pid's thread vector, starts its
// goroutine, and returns its tid once the thread is installed and READY.
// entry runs with t.Yield available; when entry returns the thread is torn
// down (the Go analogue of the thread_return trampoline).
func (s *Scheduler) ThreadCreate(pid PID, priority uint8, entry func(t *Thread, arg any), arg any) (TID, error) {
	proc, err := s.getProcess(pid)
	if err != nil {
		return 0, err
	}

	proc.mu.Lock()
	var tid TID
	slot := -1
	for i, th := range proc.threads {
		if th == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		if len(proc.threads) >= MaxThreadsPerProc {
			proc.mu.Unlock()
			return 0, kerrors.ErrTableFull
		}
		slot = len(proc.threads)
		proc.threads = append(proc.threads, nil)
	}
	tid = TID(slot)
	th := &Thread{
		tid:      tid,
		pid:      pid,
		priority: priority,
		turn:     make(chan struct{}),
		done:     make(chan struct{}),
		sched:    s,
	}
	th.setStatus(Ready)
	proc.threads[slot] = th
	proc.mu.Unlock()

	go func() {
		<-th.turn // wait for the scheduler to grant the first turn
		th.setStatus(Running)
		entry(th, arg)
		s.threadReturn(th)
	}()

	return tid, nil
}

func (s *Scheduler) threadReturn(t *Thread) {
	proc, err := s.getProcess(t.pid)
	if err != nil {
		return
	}
	proc.mu.Lock()
	if int(t.tid) < len(proc.threads) && proc.threads[t.tid] == t {
		proc.threads[t.tid] = nil
	}
	proc.mu.Unlock()
	close(t.done)
}

// Wait blocks until the given thread has returned.
func (t *Thread) Wait() {
	<-t.done
}

// yield is the shared implementation behind Thread.Yield.
func (s *Scheduler) yield(t *Thread, ms int) {
	deadline := s.clock.Now().Add(time.Duration(ms) * time.Millisecond)
	t.deadline = deadline
	t.setStatus(Blocked)
	<-t.turn
	t.setStatus(Running)
}

// tick is the Go analogue of task_resched: it promotes any BLOCKED thread
// whose deadline has elapsed to READY, then grants exactly one eligible
// thread its turn, chosen by priority-ordered round robin.
func (s *Scheduler) tick(now time.Time) {
	s.tableLock.Acquire()
	var best *Thread
	var bestPriority = -1
	var candidates []*Thread

	for _, proc := range s.processes {
		if proc == nil {
			continue
		}
		proc.mu.Lock()
		for _, th := range proc.threads {
			if th == nil {
				continue
			}
			if th.Status() == Blocked && !now.Before(th.deadline) {
				th.setStatus(Ready)
			}
			if th.Status() == Ready {
				p := int(proc.priority)
				if p > bestPriority {
					bestPriority = p
					candidates = candidates[:0]
					candidates = append(candidates, th)
				} else if p == bestPriority {
					candidates = append(candidates, th)
				}
			}
		}
		proc.mu.Unlock()
	}
	if len(candidates) > 0 {
		s.rotation++
		best = candidates[s.rotation%len(candidates)]
	}
	s.tableLock.Release()

	if best != nil {
		select {
		case best.turn <- struct{}{}:
		default:
			// thread is not actually waiting on its turn channel this
			// instant (e.g. it raced past Ready between the scan above and
			// here); skip it this tick rather than blocking the loop.
		}
	}
}
