package primitive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhawala/ST80-sub000/internal/image"
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/oop"
	"github.com/devhawala/ST80-sub000/internal/primitive"
)

// fakeScheduler is enough of an interp.Scheduler for tests that never
// send signal/wait/resume/suspend/yield.
type fakeScheduler struct{}

func (fakeScheduler) ActiveProcess() oop.OOP                        { return oop.NilPointer }
func (fakeScheduler) CheckSwitch() (oop.OOP, bool)                  { return 0, false }
func (fakeScheduler) Yield() (oop.OOP, bool)                        { return 0, false }
func (fakeScheduler) ContextOf(oop.OOP) oop.OOP                     { return oop.NilPointer }
func (fakeScheduler) Signal(oop.OOP) (oop.OOP, bool)                { return 0, false }
func (fakeScheduler) Wait(oop.OOP, oop.OOP, oop.OOP) (oop.OOP, bool) { return 0, false }
func (fakeScheduler) Resume(oop.OOP) (oop.OOP, bool)                { return 0, false }
func (fakeScheduler) Suspend(oop.OOP, oop.OOP) (oop.OOP, bool)      { return 0, false }
func (fakeScheduler) SignalAtTick(oop.OOP, int64)                   {}

// runContext builds a throwaway method context executing method with
// receiver, activates it and steps the interpreter `steps` bytecodes,
// leaving ic ready for inspection.
func runContext(t *testing.T, ic *interp.Interpreter, method, receiver oop.OOP, steps int) {
	t.Helper()
	ctx, err := ic.Memory.InstantiateClassWithPointers(oop.ClassMethodContextPointer, interp.NewContextSize(false), nil)
	require.NoError(t, err)
	interp.SetSender(ic.Memory, ctx, oop.NilPointer)
	interp.SetMethod(ic.Memory, ctx, method)
	interp.SetIP(ic.Memory, ctx, interp.InitialIPOf(ic.Memory, method))
	interp.SetSP(ic.Memory, ctx, -1)
	interp.SetReceiver(ic.Memory, ctx, receiver)
	ic.ActivateContext(ctx)
	for i := 0; i < steps; i++ {
		require.NoError(t, ic.Step())
	}
}

// TestArithmeticPrimitiveViaFullSend installs `+` on SmallInteger with
// primitive.PrimAdd and drives a real literal-selector send (bytecode
// 208-255), not the interpreter's own 176-191 inline shortcut, proving
// the primitive dispatcher -- not just the bytecode fast path -- adds
// correctly.
func TestArithmeticPrimitiveViaFullSend(t *testing.T) {
	b := image.New(4096, 512, oop.Classic)

	require.NoError(t, b.PlaceObject(oop.ClassSmallIntegerPointer, oop.NilPointer,
		[]oop.OOP{oop.NilPointer, oop.NilPointer, b.M.IntegerObjectOf(0)}))

	plus, err := b.NewSymbol("+")
	require.NoError(t, err)
	_, err = b.AddMethod(oop.ClassSmallIntegerPointer, plus, image.MethodSpec{
		ArgCount:  1,
		Primitive: primitive.PrimAdd,
		Bytecodes: []byte{interp.ReturnReceiver}, // only reached if the primitive declines
	})
	require.NoError(t, err)

	three := b.M.IntegerObjectOf(3)
	four := b.M.IntegerObjectOf(4)
	hostSel, err := b.NewSymbol("run")
	require.NoError(t, err)
	hostClass, err := b.DefineClass(oop.NilPointer, 0)
	require.NoError(t, err)
	method, err := b.AddMethod(hostClass, hostSel, image.MethodSpec{
		Literals: []oop.OOP{three, four, plus},
		Bytecodes: []byte{
			interp.PushLiteralConstantFirst + 0,
			interp.PushLiteralConstantFirst + 1,
			interp.LiteralSelectorSendFirst + 16 + 2, // argCount 1, literal index 2 ("+")
		},
	})
	require.NoError(t, err)
	receiver, err := b.M.InstantiateClassWithPointers(hostClass, 0, nil)
	require.NoError(t, err)

	ic := interp.New(b.M, fakeScheduler{}, primitive.New())
	runContext(t, ic, method, receiver, 3)

	assert.Equal(t, 7, b.M.IntegerValueOf(ic.Top()))
}

// TestBasicAtPrimitiveViaFullSend installs `at:` on an indexable class
// with primitive.PrimBasicAt and reads back an indexed field through a
// real send.
func TestBasicAtPrimitiveViaFullSend(t *testing.T) {
	b := image.New(4096, 512, oop.Classic)

	arrClass, err := b.DefineClass(oop.NilPointer, 0)
	require.NoError(t, err)
	at, err := b.NewSymbol("at:")
	require.NoError(t, err)
	_, err = b.AddMethod(arrClass, at, image.MethodSpec{
		ArgCount:  1,
		Primitive: primitive.PrimBasicAt,
		Bytecodes: []byte{interp.ReturnReceiver},
	})
	require.NoError(t, err)

	instance, err := b.M.InstantiateClassWithPointers(arrClass, 3, nil)
	require.NoError(t, err)
	wanted := b.M.IntegerObjectOf(42)
	b.M.StorePointer(1, instance, wanted) // index 2 (0-based slot 1)

	one, err := b.NewSymbol("run")
	require.NoError(t, err)
	two := b.M.IntegerObjectOf(2)
	// pushReceiver self; pushLiteral 2; send #at: (argCount1, literal 1).
	method, err := b.AddMethod(arrClass, one, image.MethodSpec{
		Literals: []oop.OOP{two, at},
		Bytecodes: []byte{
			interp.PushSpecialFirst + interp.PushReceiverSelf,
			interp.PushLiteralConstantFirst + 0,
			interp.LiteralSelectorSendFirst + 16 + 1,
		},
	})
	require.NoError(t, err)

	ic := interp.New(b.M, fakeScheduler{}, primitive.New())
	runContext(t, ic, method, instance, 3)

	assert.Equal(t, 42, b.M.IntegerValueOf(ic.Top()))
}
