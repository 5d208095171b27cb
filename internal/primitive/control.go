package primitive

import (
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// dispatchControl implements the process/semaphore primitives §12 of
// the expanded spec calls out by name: signal/wait/resume/suspend/
// yield, plus Delay's signal:atTick: hook. All but signal:atTick:
// (which takes a semaphore and a tick) are receiver-only sends
// (semaphore signal/wait, process resume/suspend/yield); the
// scheduler decides whether a context switch
// actually happens and hands back whichever context should run next.
func dispatchControl(index int, ic *interp.Interpreter) (bool, error) {
	switch index {
	case PrimSignal:
		return switchTo(ic, ic.Sched.Signal(ic.Top())), nil

	case PrimWait:
		sem := ic.Top()
		return switchTo(ic, ic.Sched.Wait(sem, ic.Sched.ActiveProcess(), ic.ActiveContext())), nil

	case PrimResume:
		return switchTo(ic, ic.Sched.Resume(ic.Top())), nil

	case PrimSuspend:
		return switchTo(ic, ic.Sched.Suspend(ic.Sched.ActiveProcess(), ic.ActiveContext())), nil

	case PrimYield:
		return switchTo(ic, ic.Sched.Yield()), nil

	case PrimSignalAtTick:
		// Delay class>>signal:atTick: arms a timer semaphore; the
		// scheduler owns the actual timer queue (internal/sched).
		tick := ic.Top()
		sem := ic.StackValue(1)
		if !ic.Memory.IsIntegerObject(tick) {
			return false, nil
		}
		ic.Sched.SignalAtTick(sem, int64(ic.Memory.IntegerValueOf(tick)))
		ic.PopN(3)
		ic.Push(oop.NilPointer)
		return true, nil
	}
	return false, nil
}

// switchTo leaves the receiver (the semaphore or process the primitive
// was sent to) on top of the stack as the primitive's result and, if
// the scheduler actually switched, activates the new context; either
// way the primitive has fully handled the send.
func switchTo(ic *interp.Interpreter, newActive oop.OOP, switched bool) bool {
	receiver := ic.Top()
	ic.PopN(1)
	ic.Push(receiver)
	if switched && newActive != oop.NilPointer {
		ic.FlushRegisters()
		ic.ActivateContext(newActive)
	}
	return true
}
