// Package primitive implements the Primitive Dispatch table (§4.2
// step 3, §4.3): the small set of operations a CompiledMethod can ask
// the interpreter to try before falling back to its bytecode body.
// Indices are this package's own fixed assignment (§12 of SPEC_FULL.md
// notes the Bluebook leaves them unspecified at the primitive-number
// level); the constants below are the full table.
//
// Dispatch is a big switch over small contiguous index ranges, the
// same shape _examples/cloudfly-readgo/runtime/iface.go uses for its
// itab method-set dispatch: a dense, ordered table rather than a map,
// because primitive indices are assigned by this package itself and
// are always small and contiguous.
package primitive

import (
	"github.com/devhawala/ST80-sub000/internal/interp"
)

// Primitive indices. 0 means "no primitive". 1-31 are arithmetic and
// comparison, mirroring the interpreter's own inline fast path so a
// message send that reaches full lookup (because the special-selector
// bytecode fast path declined, e.g. a LargePositiveInteger operand)
// still gets the cheap path once a method is found. 32-63 are basic
// object/array access. 64-95 are process/semaphore control.
const (
	PrimAdd = 1 + iota
	PrimSub
	PrimLess
	PrimGreater
	PrimLessEq
	PrimGreaterEq
	PrimEqual
	PrimNotEqual
	PrimMultiply
	PrimMod
	PrimIntDivide
	PrimBitAnd
	PrimBitOr
	PrimBitShift
)

const (
	PrimBasicAt       = 32
	PrimBasicAtPut    = 33
	PrimBasicSize     = 34
	PrimClass         = 35
	PrimIdentical     = 36
	PrimBasicNew      = 37
	PrimBasicNewColon = 38
)

const (
	PrimSignal        = 64
	PrimWait          = 65
	PrimResume        = 66
	PrimSuspend       = 67
	PrimYield         = 68
	PrimSignalAtTick  = 69 // Delay class>>signal:atTick: support
)

// Dispatcher implements interp.PrimitiveDispatcher.
type Dispatcher struct{}

func New() *Dispatcher { return &Dispatcher{} }

// Dispatch tries primitive index against ic's current send. handled
// reports whether the primitive ran to completion (pushed a result
// and the send is done); handled=false means "primitive failed",
// which §4.2 says falls back to ordinary method activation.
func (d *Dispatcher) Dispatch(index int, ic *interp.Interpreter) (bool, error) {
	switch {
	case index >= PrimAdd && index <= PrimBitShift:
		return dispatchArithmetic(index, ic), nil
	case index >= PrimBasicAt && index <= PrimBasicNewColon:
		return dispatchBasic(index, ic)
	case index >= PrimSignal && index <= PrimSignalAtTick:
		return dispatchControl(index, ic)
	default:
		return false, nil
	}
}
