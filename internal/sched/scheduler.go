// Package sched implements the Process Scheduler of spec.md §4.3: a
// cooperative, priority-indexed run queue with semaphores, a timer
// semaphore, and the host-thread yield-throttling duty. It is the
// concrete internal/interp.Scheduler the rest of the VM wires in; the
// dependency runs one way (sched imports interp's oop-facing helpers
// only through internal/memory/internal/oop) so interp never imports
// sched.
//
// The run-queue bookkeeping itself lives in native Go slices rather
// than mutating Smalltalk LinkedList objects, the same simplification
// _examples/cloudfly-readgo/runtime/mheap.go makes for its free-span
// treap: the Process/Semaphore *objects* still carry the fields
// Smalltalk code can read (priority, suspendedContext, excess
// signals), but the scheduler's own traversal uses a Go data
// structure instead of walking those fields as linked pointers.
package sched

import (
	"sync"
	"time"

	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Process fixed-field indices.
const (
	ProcessSuspendedContext = 0
	ProcessPriority         = 1
)

// NumPriorities bounds the run-queue array; §4.3 describes "an array
// of linked lists indexed by priority" without fixing its size, so
// this picks a generous but bounded range.
const NumPriorities = 8

// YieldThrottle is the host-CPU-idle sleep ceiling §4.3 calls for
// ("sleep up to 10ms or until an asynchronous event arrives").
const YieldThrottle = 10 * time.Millisecond

// DrainInterval is how often signalAtTick's background timer and
// asynchronous event sources are expected to be drained relative to
// wall-clock time, mirroring the interpreter's own bytecode-count
// cadence (§4.3 "every 100 bytecodes or 2ms").
const DrainInterval = 2 * time.Millisecond

// Scheduler is the concrete internal/interp.Scheduler implementation.
type Scheduler struct {
	Memory *memory.Manager

	mu       sync.Mutex
	runQueue [NumPriorities][]oop.OOP
	waiters  map[oop.OOP][]oop.OOP // semaphore -> FIFO of waiting processes
	excess   map[oop.OOP]int       // semaphore -> excess-signal count

	active oop.OOP

	asyncQueue []oop.OOP // semaphores signaled by host threads, FIFO
	wake       chan struct{}

	timerSem    oop.OOP
	timerTick   int64
	timerActive bool
	tickNow     func() int64
}

// New builds a Scheduler with no ready processes; the VM wires
// active/runnable processes in at image-load or bootstrap time via
// AddReady.
func New(m *memory.Manager, tickNow func() int64) *Scheduler {
	return &Scheduler{
		Memory:  m,
		waiters: make(map[oop.OOP][]oop.OOP),
		excess:  make(map[oop.OOP]int),
		wake:    make(chan struct{}, 1),
		tickNow: tickNow,
		// active starts as the real nil OOP, not Go's zero value, so
		// parkActive/resumeLocked/Yield's "no active process yet"
		// checks (== oop.NilPointer) hold before the first SetActive.
		active: oop.NilPointer,
	}
}

func (s *Scheduler) priorityOf(proc oop.OOP) int {
	p := s.Memory.IntegerValueOf(s.Memory.FetchPointer(ProcessPriority, proc))
	if p < 0 {
		p = 0
	}
	if p >= NumPriorities {
		p = NumPriorities - 1
	}
	return p
}

// AddReady enqueues proc on its own priority's run queue, used by
// bootstrap/image-load to seed the initial runnable set and by
// Resume/Signal to put a woken process back in line.
func (s *Scheduler) AddReady(proc oop.OOP) {
	p := s.priorityOf(proc)
	s.runQueue[p] = append(s.runQueue[p], proc)
}

// SetActive installs proc as the running process without going
// through the run queue, used once at startup to pick the initial
// active process.
func (s *Scheduler) SetActive(proc oop.OOP) { s.active = proc }

func (s *Scheduler) ActiveProcess() oop.OOP { return s.active }

func (s *Scheduler) ContextOf(proc oop.OOP) oop.OOP {
	return s.Memory.FetchPointer(ProcessSuspendedContext, proc)
}

// popHighestReady removes and returns the highest-priority ready
// process, or (0, false) if every queue is empty.
func (s *Scheduler) popHighestReady() (oop.OOP, bool) {
	for p := NumPriorities - 1; p >= 0; p-- {
		q := s.runQueue[p]
		if len(q) > 0 {
			s.runQueue[p] = q[1:]
			return q[0], true
		}
	}
	return 0, false
}

// transferTo implements §4.3's "save the active context pointer into
// the outgoing process's suspendedContext, update activeProcess" —
// except the outgoing context is saved by the caller (interp flushes
// and hands it in) before this runs.
func (s *Scheduler) transferTo(proc oop.OOP) oop.OOP {
	s.active = proc
	return s.ContextOf(proc)
}

func (s *Scheduler) parkActive(outgoingContext oop.OOP) {
	if s.active == oop.NilPointer {
		return
	}
	s.Memory.StorePointer(ProcessSuspendedContext, s.active, outgoingContext)
}

// Signal implements §4.3 signal(sem): wake the first waiter if any,
// else bump the excess-signals count.
func (s *Scheduler) Signal(sem oop.OOP) (oop.OOP, bool) {
	s.mu.Lock()
	waiters := s.waiters[sem]
	if len(waiters) == 0 {
		s.excess[sem]++
		s.mu.Unlock()
		return 0, false
	}
	waiter := waiters[0]
	s.waiters[sem] = waiters[1:]
	s.mu.Unlock()
	return s.resumeLocked(waiter, s.active)
}

// Wait implements §4.3 wait(sem): consume an excess signal if one is
// banked, else park the calling process on sem and switch to the
// highest-priority ready process.
func (s *Scheduler) Wait(sem, activeProcess, activeContext oop.OOP) (oop.OOP, bool) {
	s.mu.Lock()
	if s.excess[sem] > 0 {
		s.excess[sem]--
		s.mu.Unlock()
		return 0, false
	}
	s.waiters[sem] = append(s.waiters[sem], activeProcess)
	s.mu.Unlock()

	s.parkActive(activeContext)
	next, ok := s.popHighestReady()
	if !ok {
		// No other process is runnable; the caller has no choice but
		// to keep running (§4.3 leaves this case implicit — a real
		// image always keeps an idle process ready).
		s.active = activeProcess
		return 0, false
	}
	return s.transferTo(next), true
}

// Resume implements §4.3 resume(proc): preempt only if proc outranks
// the active process, otherwise simply enqueue it.
func (s *Scheduler) Resume(proc oop.OOP) (oop.OOP, bool) {
	return s.resumeLocked(proc, s.active)
}

func (s *Scheduler) resumeLocked(proc, active oop.OOP) (oop.OOP, bool) {
	if active == oop.NilPointer || s.priorityOf(proc) > s.priorityOf(active) {
		if active != oop.NilPointer {
			s.AddReady(active)
		}
		return s.transferTo(proc), true
	}
	s.AddReady(proc)
	return 0, false
}

// Suspend implements §4.3 suspend (of the active process): give up
// the processor unconditionally and transfer to whoever is next.
func (s *Scheduler) Suspend(activeProcess, activeContext oop.OOP) (oop.OOP, bool) {
	s.parkActive(activeContext)
	next, ok := s.popHighestReady()
	if !ok {
		s.active = oop.NilPointer
		return 0, false
	}
	return s.transferTo(next), true
}

// Yield implements `Processor yield`: requeue the active process
// behind any ready process of equal-or-higher priority and switch to
// it; if nothing is ready, throttle-sleep up to YieldThrottle or until
// an asynchronous event wakes the scheduler early (§4.3).
func (s *Scheduler) Yield() (oop.OOP, bool) {
	active := s.active
	next, ok := s.popHighestReady()
	if ok && active != oop.NilPointer && s.priorityOf(next) >= s.priorityOf(active) {
		s.AddReady(active)
		return s.transferTo(next), true
	}
	if ok {
		// next was strictly lower priority: put it back, it wasn't
		// actually eligible to preempt.
		s.runQueue[s.priorityOf(next)] = append([]oop.OOP{next}, s.runQueue[s.priorityOf(next)]...)
	}

	select {
	case <-s.wake:
	case <-time.After(YieldThrottle):
	}
	return 0, false
}

// WakeYield lets a host thread (event source, timer) cut a pending
// Yield sleep short as soon as it has something for the interpreter to
// see, per §4.3's "enqueue also ... wakes any yield-throttle sleep".
func (s *Scheduler) WakeYield() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// EnqueueAsyncSignal is the host-thread-facing half of §4.3's
// "asynchronous signals": append a semaphore to the guarded queue and
// wake any yield-throttle sleep so it becomes visible promptly.
func (s *Scheduler) EnqueueAsyncSignal(sem oop.OOP) {
	s.mu.Lock()
	s.asyncQueue = append(s.asyncQueue, sem)
	s.mu.Unlock()
	s.WakeYield()
}

// CheckSwitch implements the interpreter's process-switch point: drain
// pending asynchronous signals (applying ordinary Signal semantics to
// each, FIFO), then report whether a higher-priority process should
// now take over.
func (s *Scheduler) CheckSwitch() (oop.OOP, bool) {
	s.mu.Lock()
	pending := s.asyncQueue
	s.asyncQueue = nil
	s.mu.Unlock()

	var newActive oop.OOP
	var switched bool
	for _, sem := range pending {
		if ctx, ok := s.Signal(sem); ok {
			newActive, switched = ctx, true
		}
	}
	s.checkTimerLocked()
	return newActive, switched
}

// SignalAtTick implements Delay class>>signal:atTick:: arm sem to be
// asynchronously signaled once the timer thread observes tick has
// passed. Installing a new pair cancels any prior pending one (§4.3).
func (s *Scheduler) SignalAtTick(sem oop.OOP, tick int64) {
	s.mu.Lock()
	s.timerSem = sem
	s.timerTick = tick
	s.timerActive = true
	s.mu.Unlock()
}

// checkTimerLocked is the in-process stand-in for §4.3's background
// timer thread: called from the same throttled cadence as the async
// drain, so no separate goroutine or wall-clock race is needed for the
// common case of a single-process test harness. internal/vm may still
// run a real timer goroutine feeding EnqueueAsyncSignal directly for
// production use; this path only fires if tickNow was supplied.
func (s *Scheduler) checkTimerLocked() {
	if s.tickNow == nil {
		return
	}
	s.mu.Lock()
	if !s.timerActive {
		s.mu.Unlock()
		return
	}
	now := s.tickNow()
	if now < s.timerTick {
		s.mu.Unlock()
		return
	}
	sem := s.timerSem
	s.timerActive = false
	s.mu.Unlock()
	s.EnqueueAsyncSignal(sem)
}
