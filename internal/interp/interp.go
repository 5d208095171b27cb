// Package interp's core loop follows the same two-tier shape as
// _examples/cloudfly-readgo/runtime/malloc.go: a cheap fast path
// (mcache hit there, method-cache hit / inline arithmetic here) tried
// first on every iteration, falling back to progressively more
// general (and more expensive) machinery only when the fast path
// misses.
package interp

import (
	"github.com/pkg/errors"

	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Scheduler is the boundary internal/sched implements. Interpreter
// depends only on this interface so the two packages don't import
// each other; internal/vm wires a concrete *sched.Scheduler in at
// startup.
type Scheduler interface {
	// ActiveProcess returns the currently running process oop.
	ActiveProcess() oop.OOP
	// CheckSwitch is polled every switchCheckInterval bytecodes; if a higher-priority
	// process became ready since the last check it returns the
	// context to switch to and true.
	CheckSwitch() (oop.OOP, bool)
	// Yield implements `Processor yield`: reschedule the active
	// process behind any ready process of equal or higher priority, and if
	// nothing took over, service the host-throttling duty (§4.3:
	// sleep up to 10ms or until an async event arrives) before
	// returning control to the same context.
	Yield() (newActive oop.OOP, switched bool)
	// ContextOf returns the suspended context any process is parked
	// on (its saved activeContext).
	ContextOf(process oop.OOP) oop.OOP

	// Signal/Wait/Resume/Suspend implement §4.3's semaphore and
	// process-control primitives. newActive, switched is the context
	// to resume running (possibly unchanged) and whether a switch
	// actually happened; callers flush/reactivate accordingly.
	Signal(sem oop.OOP) (newActive oop.OOP, switched bool)
	Wait(sem oop.OOP, activeProcess, activeContext oop.OOP) (newActive oop.OOP, switched bool)
	Resume(process oop.OOP) (newActive oop.OOP, switched bool)
	Suspend(activeProcess, activeContext oop.OOP) (newActive oop.OOP, switched bool)

	// SignalAtTick arms the timer semaphore (Delay class>>signal:
	// atTick:); tick is in the same units internal/vm's tick source
	// uses. Installing a new pair cancels any prior pending one.
	SignalAtTick(sem oop.OOP, tick int64)
}

// PrimitiveDispatcher is the boundary internal/primitive implements.
type PrimitiveDispatcher interface {
	// Dispatch attempts primitive index against the interpreter's
	// current send (receiver/args already on the stack). handled
	// reports whether the primitive ran to completion (pushing its
	// result, per §4.2 "try primitive first; if primitive fails,
	// activate the method"); handled=false means activation proceeds
	// normally.
	Dispatch(index int, ic *Interpreter) (handled bool, err error)
}

// Interpreter holds the full machine-register state of §4.2's
// fetch-dispatch-execute loop.
type Interpreter struct {
	Memory *memory.Manager
	Cache  *MethodCache
	Sched  Scheduler
	Prims  PrimitiveDispatcher

	activeContext oop.OOP
	homeContext   oop.OOP
	method        oop.OOP
	receiver      oop.OOP
	ip            int // cached copy of activeContext's IP, flushed back on send/return
	sp            int // cached copy of activeContext's SP
	messageSelector oop.OOP
	argumentCount   int
	newMethod       oop.OOP
	primitiveIndex  int

	bytecodesSinceSwitch int
	quit                 bool
	QuitErr              error

	// Raw counters internal/stats syncs into prometheus instruments;
	// kept here rather than behind an interface so the hot dispatch
	// loop never pays for a virtual call per bytecode.
	BytecodeCount     int
	SendCount         int
	PrimitiveFailures int
}

// switchCheckInterval is how often (in bytecodes) the interpreter
// polls the scheduler for a higher-priority ready process, matching
// §4.3's "asynchronous signal queue drained at throttled cadence
// (every 100 bytecodes...)".
const switchCheckInterval = 100

func New(m *memory.Manager, sched Scheduler, prims PrimitiveDispatcher) *Interpreter {
	return &Interpreter{
		Memory: m,
		Cache:  NewMethodCache(),
		Sched:  sched,
		Prims:  prims,
		// Registers start at the real nil OOP, not Go's zero value: a
		// GC triggered before the first ActivateContext (e.g. the
		// post-load pass in vm.Load) walks these through GCRoots, and
		// markFrom only special-cases oop.NilPointer, not OOP(0).
		activeContext:   oop.NilPointer,
		homeContext:     oop.NilPointer,
		method:          oop.NilPointer,
		receiver:        oop.NilPointer,
		messageSelector: oop.NilPointer,
		newMethod:       oop.NilPointer,
	}
}

// ActiveContext exposes the current context oop, e.g. for
// PushActiveContext and thisContext.
func (ic *Interpreter) ActiveContext() oop.OOP { return ic.activeContext }

// Receiver exposes the current receiver, used by primitives.
func (ic *Interpreter) Receiver() oop.OOP { return ic.receiver }

// ArgumentCount exposes the current send's argument count.
func (ic *Interpreter) ArgumentCount() int { return ic.argumentCount }

// Counters implements internal/stats.Source.
func (ic *Interpreter) Counters() (bytecodes, sends, cacheHits, cacheMisses, primFailures int) {
	return ic.BytecodeCount, ic.SendCount, ic.Cache.Hits, ic.Cache.Misses, ic.PrimitiveFailures
}

// Push/Pop/Top/StackValue/PopN delegate to the active context's own stack, after
// syncing the cached sp back into it; kept here so primitives (which
// only see *Interpreter, not the context oop directly) can manipulate
// the stack without reaching into internal/memory themselves.
func (ic *Interpreter) Push(v oop.OOP) {
	SetSP(ic.Memory, ic.activeContext, ic.sp)
	Push(ic.Memory, ic.activeContext, v)
	ic.sp = SP(ic.Memory, ic.activeContext)
}

func (ic *Interpreter) Pop() oop.OOP {
	SetSP(ic.Memory, ic.activeContext, ic.sp)
	v := Pop(ic.Memory, ic.activeContext)
	ic.sp = SP(ic.Memory, ic.activeContext)
	return v
}

func (ic *Interpreter) Top() oop.OOP {
	SetSP(ic.Memory, ic.activeContext, ic.sp)
	return Top(ic.Memory, ic.activeContext)
}

func (ic *Interpreter) StackValue(n int) oop.OOP {
	SetSP(ic.Memory, ic.activeContext, ic.sp)
	return StackValue(ic.Memory, ic.activeContext, n)
}

func (ic *Interpreter) PopN(n int) {
	SetSP(ic.Memory, ic.activeContext, ic.sp)
	PopN(ic.Memory, ic.activeContext, n)
	ic.sp = SP(ic.Memory, ic.activeContext)
}

// ActivateContext switches the active context to ctx, loading the ip
// and sp caches and the method/receiver registers, read from ctx itself
// for a method context and from its home context for a block context
// (§4.2 registers).
func (ic *Interpreter) ActivateContext(ctx oop.OOP) {
	ic.activeContext = ctx
	ic.homeContext = HomeContext(ic.Memory, ctx)
	ic.ip = IP(ic.Memory, ctx)
	ic.sp = SP(ic.Memory, ctx)
	if IsBlockContext(ic.Memory, ctx) {
		ic.method = Method(ic.Memory, ic.homeContext)
		ic.receiver = Receiver(ic.Memory, ic.homeContext)
	} else {
		ic.method = Method(ic.Memory, ctx)
		ic.receiver = Receiver(ic.Memory, ctx)
	}
}

// flushRegisters writes the cached ip/sp back into activeContext
// before a send, return, or context switch can observe or replace it.
func (ic *Interpreter) flushRegisters() {
	if ic.activeContext == oop.NilPointer {
		return
	}
	SetIP(ic.Memory, ic.activeContext, ic.ip)
	SetSP(ic.Memory, ic.activeContext, ic.sp)
}

// FlushRegisters exposes flushRegisters for internal/primitive's
// process-control primitives (signal/wait/resume/suspend), which must
// save the dying context's ip/sp before handing control to whatever
// the scheduler picks as the next active context.
func (ic *Interpreter) FlushRegisters() { ic.flushRegisters() }

// Run drives the fetch-dispatch-execute loop from ctx until a
// primitiveQuit/exitToDebugger request or a fatal error stops it.
func (ic *Interpreter) Run(ctx oop.OOP) error {
	ic.ActivateContext(ctx)
	for !ic.quit {
		if err := ic.Step(); err != nil {
			return err
		}
	}
	return ic.QuitErr
}

// Step executes exactly one bytecode.
func (ic *Interpreter) Step() error {
	ic.BytecodeCount++
	ic.bytecodesSinceSwitch++
	if ic.bytecodesSinceSwitch >= switchCheckInterval {
		ic.bytecodesSinceSwitch = 0
		if target, ok := ic.Sched.CheckSwitch(); ok {
			ic.flushRegisters()
			ic.ActivateContext(target)
		}
	}

	b := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++

	switch {
	case b <= PushReceiverVariableLast:
		ic.Push(ic.Memory.FetchPointer(int(b), ic.receiver))

	case b <= PushTemporaryLast:
		ic.Push(Temp(ic.Memory, ic.activeContext, int(b-PushTemporaryFirst)))

	case b <= PushLiteralConstantLast:
		ic.Push(Literal(ic.Memory, ic.method, int(b-PushLiteralConstantFirst)))

	case b <= PushLiteralVariableLast:
		assoc := Literal(ic.Memory, ic.method, int(b-PushLiteralVariableFirst))
		ic.Push(ic.Memory.FetchPointer(associationValueIndex, assoc))

	case b <= PopStoreReceiverVariableLast:
		ic.Memory.StorePointer(int(b-PopStoreReceiverVariableFirst), ic.receiver, ic.Pop())

	case b <= PopStoreTemporaryLast:
		SetTemp(ic.Memory, ic.activeContext, int(b-PopStoreTemporaryFirst), ic.Pop())

	case b <= PushSpecialLast:
		ic.pushSpecial(int(b - PushSpecialFirst))

	case b == ReturnReceiver:
		return ic.doReturn(ic.receiver, false)
	case b == ReturnTrue:
		return ic.doReturn(oop.TruePointer, false)
	case b == ReturnFalse:
		return ic.doReturn(oop.FalsePointer, false)
	case b == ReturnNil:
		return ic.doReturn(oop.NilPointer, false)
	case b == ReturnTopFromMessage:
		return ic.doReturn(ic.Top(), false)
	case b == ReturnTopFromBlock:
		return ic.doReturn(ic.Top(), true)

	case b == ExtendedPush || b == ExtendedStore || b == ExtendedStoreAndPop:
		ic.extendedPushStore(b)
	case b == SingleExtendedSend:
		return ic.singleExtendedSend()
	case b == DoubleExtendedSend:
		return ic.doubleExtendedSend()
	case b == SingleExtendedSuper:
		return ic.singleExtendedSuper()
	case b == DoubleExtendedSuper:
		return ic.doubleExtendedSuper()
	case b == PopStack:
		ic.PopN(1)
	case b == DuplicateTop:
		ic.Push(ic.Top())
	case b == PushActiveContext:
		ic.Push(ic.activeContext)

	case b >= ShortJumpFirst && b <= ShortJumpLast:
		ic.ip += int(b-ShortJumpFirst) + 1
	case b >= ShortPopFalseJumpFirst && b <= ShortPopFalseJumpLast:
		return ic.conditionalJump(int(b-ShortPopFalseJumpFirst)+1, false, true)
	case b >= LongJumpFirst && b <= LongJumpLast:
		ic.ip = ic.longJumpTarget(int(b-LongJumpFirst), 0)
	case b >= LongPopTrueJumpFirst && b <= LongPopTrueJumpLast:
		return ic.conditionalJump(ic.longJumpDelta(int(b-LongPopTrueJumpFirst)), true, false)
	case b >= LongPopFalseJumpFirst && b <= LongPopFalseJumpLast:
		return ic.conditionalJump(ic.longJumpDelta(int(b-LongPopFalseJumpFirst)), false, false)

	case b >= SpecialArithmeticFirst && b <= SpecialArithmeticLast:
		return ic.specialArithmetic(int(b - SpecialArithmeticFirst))
	case b >= SpecialSendFirst && b <= SpecialSendLast:
		return ic.specialSend(int(b - SpecialSendFirst))
	case b >= LiteralSelectorSendFirst:
		return ic.literalSelectorSend(int(b - LiteralSelectorSendFirst))

	default:
		return errors.Errorf("interp: unknown bytecode %d at ip %d", b, ic.ip-1)
	}
	return nil
}

// associationValueIndex is the field offset of an Association's value
// slot (key=0, value=1); literal variables are Associations.
const associationValueIndex = 1

func (ic *Interpreter) pushSpecial(i int) {
	switch i {
	case PushReceiverSelf:
		ic.Push(ic.receiver)
	case PushTrue:
		ic.Push(oop.TruePointer)
	case PushFalse:
		ic.Push(oop.FalsePointer)
	case PushNil:
		ic.Push(oop.NilPointer)
	case PushMinusOne:
		ic.Push(ic.Memory.IntegerObjectOf(-1))
	case PushZero:
		ic.Push(ic.Memory.IntegerObjectOf(0))
	case PushOne:
		ic.Push(ic.Memory.IntegerObjectOf(1))
	case PushTwo:
		ic.Push(ic.Memory.IntegerObjectOf(2))
	}
}

func (ic *Interpreter) longJumpTarget(offsetHigh, extra int) int {
	// second byte is the low 8 bits of a signed 11-bit displacement;
	// the 3-bit range selector (offsetHigh) supplies the sign/high
	// bits as (offsetHigh-4)*256, per the Bluebook's long-jump
	// encoding.
	low := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++
	return ic.ip + (offsetHigh-4)*256 + int(low) + extra
}

func (ic *Interpreter) longJumpDelta(offsetLow int) int {
	low := FetchBytecode(ic.Memory, ic.method, ic.ip)
	ic.ip++
	return ic.ip + offsetLow*256 + int(low)
}

// conditionalJump implements short/long pop-and-jump-on-boolean
// bytecodes. For short jumps deltaOrTarget is a delta added to ip; for
// long jumps the caller passes the absolute target ip (longJumpDelta
// has already added the displacement). Both forms resolve to "jump if
// popped value matches wantTrue".
func (ic *Interpreter) conditionalJump(deltaOrTarget int, wantTrue bool, short bool) error {
	v := ic.Pop()
	switch v {
	case oop.TruePointer:
		if wantTrue {
			ic.jumpBy(deltaOrTarget, short)
		}
	case oop.FalsePointer:
		if !wantTrue {
			ic.jumpBy(deltaOrTarget, short)
		}
	default:
		return ic.sendUnary(oop.MustBeBooleanSelectorPointer, v)
	}
	return nil
}

func (ic *Interpreter) jumpBy(deltaOrTarget int, short bool) {
	if short {
		ic.ip += deltaOrTarget
		return
	}
	ic.ip = deltaOrTarget
}
