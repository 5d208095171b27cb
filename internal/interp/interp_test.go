package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// fakeScheduler is the minimal Scheduler a standalone interpreter test
// needs: no real process switching, no real active process.
type fakeScheduler struct{}

func (fakeScheduler) ActiveProcess() oop.OOP       { return oop.NilPointer }
func (fakeScheduler) CheckSwitch() (oop.OOP, bool) { return 0, false }
func (fakeScheduler) Yield() (oop.OOP, bool)       { return 0, false }
func (fakeScheduler) ContextOf(oop.OOP) oop.OOP    { return oop.NilPointer }
func (fakeScheduler) Signal(oop.OOP) (oop.OOP, bool)                 { return 0, false }
func (fakeScheduler) Wait(oop.OOP, oop.OOP, oop.OOP) (oop.OOP, bool)  { return 0, false }
func (fakeScheduler) Resume(oop.OOP) (oop.OOP, bool)                 { return 0, false }
func (fakeScheduler) Suspend(oop.OOP, oop.OOP) (oop.OOP, bool)       { return 0, false }
func (fakeScheduler) SignalAtTick(oop.OOP, int64)                    {}

// placeWellKnown writes a minimal heap object directly at a fixed
// well-known object pointer, bypassing Instantiate (which only ever
// hands out OT slots above FirstWellKnownUserSlot): this mirrors what
// an image loader does when populating the fixed region below that
// slot (see memory.NewTable's doc comment).
func placeWellKnown(m *memory.Manager, p, class oop.OOP, fields []oop.OOP) {
	total := len(fields) + memory.HeaderWords
	base, ok := m.Heap.Grow(total)
	if !ok {
		panic("test heap too small")
	}
	m.Heap.SetWord(base, uint16(total))
	m.Heap.SetWord(base+1, uint16(class))
	for i, f := range fields {
		m.Heap.SetWord(base+memory.HeaderWords+i, uint16(f))
	}
	e := m.OT.Get(p)
	e.SetAddress(base)
	e.PointerFields = true
	e.WordLength = total
	e.ByteLength = total * 2
	e.Count = memory.PinnedCount
}

// newFlagReturnSelfMethod builds a CompiledMethod whose header flag is
// FlagReturnSelf, needing no bytecode body at all (§4.2 "Quick-return
// methods"). definingClass only needs to be a placeholder here.
func newFlagReturnSelfMethod(t *testing.T, m *memory.Manager, definingClass oop.OOP) oop.OOP {
	t.Helper()
	method, err := m.InstantiateClassWithPointers(oop.ClassCompiledMethodPointer, LiteralStart, nil)
	require.NoError(t, err)
	SetMethodHeader(m, method, FlagReturnSelf, false, 0, 1)
	SetMethodLiteralCount(m, method, 0)
	SetMethodClass(m, method, definingClass)
	return method
}

func newTestInterp(t *testing.T) *Interpreter {
	t.Helper()
	m := memory.NewManager(4096, 512, oop.Classic)

	// SpecialSelectors: 32 paired (selector, argCount) entries. Only
	// the arithmetic group (index 0..15) is populated for these
	// tests; the rest stay OOP(0), which probeDictionary/SpecialSelector
	// callers never reach here.
	selFields := make([]oop.OOP, 64)
	setPair := func(i int, selector oop.OOP, argc int) {
		selFields[2*i] = selector
		selFields[2*i+1] = m.IntegerObjectOf(argc)
	}
	setPair(ArithAdd, oop.OOP(1000), 1)
	setPair(ArithMul, oop.OOP(1002), 1)
	placeWellKnown(m, oop.SpecialSelectorsPointer, oop.NilPointer, selFields)

	return New(m, fakeScheduler{}, nil)
}

// newDNUFixture builds: Object class (message dictionary holding
// doesNotUnderstand: -> a flag-5 return-self method) <- Array class
// (empty message dictionary), and one Array instance as the receiver,
// per §8 scenario 3.
func newDNUFixture(t *testing.T, m *memory.Manager) (receiver oop.OOP) {
	t.Helper()

	objectClass, err := m.InstantiateClassWithPointers(oop.NilPointer, ClassInstanceSpec+1, nil)
	require.NoError(t, err)

	dnuMethod := newFlagReturnSelfMethod(t, m, objectClass)

	dict, err := m.InstantiateClassWithPointers(oop.NilPointer, MethodDictFixedFields+1, nil)
	require.NoError(t, err)
	values, err := m.InstantiateClassWithPointers(oop.ClassArrayPointer, 1, nil)
	require.NoError(t, err)
	m.StorePointer(0, values, dnuMethod)
	m.StorePointer(MethodDictValues, dict, values)
	m.StorePointer(MethodDictFixedFields, dict, oop.DoesNotUnderstandSelectorPointer)

	m.StorePointer(ClassSuperclass, objectClass, oop.NilPointer)
	m.StorePointer(ClassMessageDictionary, objectClass, dict)

	emptyDict, err := m.InstantiateClassWithPointers(oop.NilPointer, MethodDictFixedFields, nil)
	require.NoError(t, err)
	placeWellKnown(m, oop.ClassArrayPointer, oop.NilPointer, []oop.OOP{objectClass, emptyDict, oop.NilPointer})

	arrayInstance, err := m.InstantiateClassWithWords(oop.ClassArrayPointer, 0, nil)
	require.NoError(t, err)
	return arrayInstance
}

func TestIntegerAddFastPath(t *testing.T) {
	ic := newTestInterp(t)
	ctx := newRunContext(t, ic.Memory)
	ic.ActivateContext(ctx)

	ic.Push(ic.Memory.IntegerObjectOf(3))
	ic.Push(ic.Memory.IntegerObjectOf(4))

	err := ic.specialArithmetic(ArithAdd)
	require.NoError(t, err)

	top := ic.Top()
	assert.Equal(t, 7, ic.Memory.IntegerValueOf(top))
}

func TestIntegerMultiplyOverflowFallsBackToSend(t *testing.T) {
	ic := newTestInterp(t)
	placeWellKnown(ic.Memory, oop.ClassSmallIntegerPointer, oop.NilPointer,
		[]oop.OOP{oop.NilPointer, oop.NilPointer, oop.NilPointer})
	ctx := newRunContext(t, ic.Memory)
	ic.ActivateContext(ctx)

	// 16000 * 1000 overflows Classic's [-16384, 16383] small-int
	// range, so the inline fast path must refuse and fall back to a
	// normal send of the selector at ArithMul. This fixture gives
	// SmallInteger no superclass and no method dictionary, so the
	// fallback send's own lookup has nowhere to go and even
	// doesNotUnderstand: resolution
	// fails recursively -- the resulting error is exactly the
	// observable signal that the fast path declined and a real send
	// was attempted instead of silently wrapping the small-int range.
	ic.Push(ic.Memory.IntegerObjectOf(16000))
	ic.Push(ic.Memory.IntegerObjectOf(1000))

	err := ic.specialArithmetic(ArithMul)
	assert.Error(t, err)
}

func TestDoesNotUnderstandSynthesizesMessage(t *testing.T) {
	m := memory.NewManager(4096, 512, oop.Classic)
	receiver := newDNUFixture(t, m)
	ic := New(m, fakeScheduler{}, nil)

	ctx := newRunContext(t, m)
	ic.ActivateContext(ctx)

	ic.Push(receiver)
	err := ic.sendSelector(oop.OOP(9999), 0) // #bogus, unresolved selector
	require.NoError(t, err)

	assert.Equal(t, receiver, ic.Top())
}

// newRunContext builds a throwaway large method context to drive the
// stack-manipulation helpers without going through full method
// activation.
func newRunContext(t *testing.T, m *memory.Manager) oop.OOP {
	t.Helper()
	ctx, err := m.InstantiateClassWithPointers(oop.ClassMethodContextPointer, NewContextSize(true), nil)
	require.NoError(t, err)
	SetSP(m, ctx, -1)
	SetIP(m, ctx, 0)
	SetSender(m, ctx, oop.NilPointer)
	method := newFlagReturnSelfMethod(t, m, oop.NilPointer)
	SetMethod(m, ctx, method)
	SetReceiver(m, ctx, oop.NilPointer)
	return ctx
}
