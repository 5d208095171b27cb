package vm_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhawala/ST80-sub000/internal/event"
	"github.com/devhawala/ST80-sub000/internal/image"
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/oop"
	"github.com/devhawala/ST80-sub000/internal/primitive"
	"github.com/devhawala/ST80-sub000/internal/snapshot"
	"github.com/devhawala/ST80-sub000/internal/vm"
)

// buildAdditionImage assembles the same minimal "3 + 4" fixture used by
// internal/primitive's full-send tests, returning the builder and the
// runnable method context.
func buildAdditionImage(t *testing.T) (*image.Builder, oop.OOP) {
	t.Helper()
	b := image.New(4096, 512, oop.Classic)

	require.NoError(t, b.PlaceObject(oop.ClassSmallIntegerPointer, oop.NilPointer,
		[]oop.OOP{oop.NilPointer, oop.NilPointer, b.M.IntegerObjectOf(0)}))

	plus, err := b.NewSymbol("+")
	require.NoError(t, err)
	_, err = b.AddMethod(oop.ClassSmallIntegerPointer, plus, image.MethodSpec{
		ArgCount:  1,
		Primitive: primitive.PrimAdd,
		Bytecodes: []byte{interp.ReturnReceiver},
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
			interp.LiteralSelectorSendFirst + 16 + 2,
		},
	})
	require.NoError(t, err)
	receiver, err := b.M.InstantiateClassWithPointers(hostClass, 0, nil)
	require.NoError(t, err)

	ctx, err := b.M.InstantiateClassWithPointers(oop.ClassMethodContextPointer, interp.NewContextSize(false), nil)
	require.NoError(t, err)
	interp.SetSender(b.M, ctx, oop.NilPointer)
	interp.SetMethod(b.M, ctx, method)
	interp.SetIP(b.M, ctx, interp.InitialIPOf(b.M, method))
	interp.SetSP(b.M, ctx, -1)
	interp.SetReceiver(b.M, ctx, receiver)

	return b, ctx
}

// TestBootAndStepRunsRealBytecodes proves internal/vm's wiring, not
// just each package in isolation: a VM assembled by New drives the
// same literal-selector send through its own Interp/Sched/Prims as
// internal/primitive's direct tests do.
func TestBootAndStepRunsRealBytecodes(t *testing.T) {
	b, ctx := buildAdditionImage(t)
	machine := vm.New(b.M, vm.Config{}, nil)

	machine.Boot(ctx)
	for i := 0; i < 3; i++ {
		require.NoError(t, machine.Interp.Step())
	}

	assert.Equal(t, 7, machine.Memory.IntegerValueOf(machine.Interp.Top()))

	bytecodes, sends, _, _, _ := machine.Interp.Counters()
	assert.Equal(t, 3, bytecodes)
	assert.Equal(t, 1, sends)
}

// TestInputEventReachesQueue proves the event.Notifier wiring: posting
// through the VM boundary operation lands in the same queue the
// interpreter's primitives would drain from.
func TestInputEventReachesQueue(t *testing.T) {
	machine := vm.NewBootstrap(vm.Config{HeapWords: 4096, OTEntries: 512, Scheme: oop.Classic}, nil)

	machine.InputEvent(event.KeyDown(int('Q')))
	assert.Equal(t, 1, machine.Events.Len())

	w, ok := machine.Events.Dequeue()
	require.True(t, ok)
	assert.Equal(t, event.TypeKeyDown, w.Type())
	assert.Equal(t, int('Q'), w.Payload())
}

// TestSaveSnapshotThenLoadPreservesWellKnownObjects exercises the full
// §6.1 round trip: save a populated manager to a buffer, load it back
// through vm.Load (which runs NewManagerFromSnapshot + CollectGarbage
// immediately, per §6.1's "run a full GC to compact and normalize"),
// and confirm a pinned well-known object survives that collection --
// anything unreachable from the pinned objects and the freshly-reloaded
// Interp's bare registers is exactly what that GC pass is supposed to
// reclaim, so this checks the one kind of object the format guarantees
// across a load.
func TestSaveSnapshotThenLoadPreservesWellKnownObjects(t *testing.T) {
	b, _ := buildAdditionImage(t)
	machine := vm.New(b.M, vm.Config{}, nil)

	var buf bytes.Buffer
	heap := machine.Memory.Heap.Slice(0, machine.Memory.Heap.Used())
	require.NoError(t, snapshot.Save(&buf, heap, machine.Memory.OT.Entries, machine.Memory.Scheme))

	reloaded, err := vm.Load(&buf, vm.Config{HeapWords: 4096, OTEntries: 512, Scheme: oop.Classic}, nil)
	require.NoError(t, err)

	assert.Equal(t, oop.NilPointer, reloaded.Memory.FetchClassOf(oop.ClassSmallIntegerPointer))
	assert.Equal(t, 0, reloaded.Memory.IntegerValueOf(
		reloaded.Memory.FetchPointer(2, oop.ClassSmallIntegerPointer)))
}
