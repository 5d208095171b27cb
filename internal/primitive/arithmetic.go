package primitive

import (
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// arithOp maps a primitive index back to the interp arithmetic-group
// offset inlineArithmetic-equivalent logic below keys on, so this table
// need not be kept in lockstep with selectors.go by hand beyond this
// one place.
var arithOp = map[int]int{
	PrimAdd:       interp.ArithAdd,
	PrimSub:       interp.ArithSub,
	PrimLess:      interp.ArithLess,
	PrimGreater:   interp.ArithGreater,
	PrimLessEq:    interp.ArithLessEq,
	PrimGreaterEq: interp.ArithGreaterEq,
	PrimEqual:     interp.ArithEqual,
	PrimNotEqual:  interp.ArithNotEqual,
	PrimMultiply:  interp.ArithMul,
	PrimMod:       interp.ArithMod,
	PrimIntDivide: interp.ArithIntDivide,
	PrimBitAnd:    interp.ArithBitAnd,
	PrimBitOr:     interp.ArithBitOr,
	PrimBitShift:  interp.ArithBitShift,
}

// dispatchArithmetic mirrors the interpreter's own inline fast path
// (§4.2's special-arithmetic bytecodes) so a method reached via full
// lookup -- rather than the 176-191 bytecode shortcut -- still gets the
// cheap small-integer case; non-small-integer or overflowing operands
// report handled=false, falling back to the method's own Smalltalk
// body (coercion, LargePositiveInteger arithmetic, etc.).
func dispatchArithmetic(index int, ic *interp.Interpreter) bool {
	m := ic.Memory
	argCount := ic.ArgumentCount()
	if argCount != 1 {
		return false
	}
	arg := ic.Top()
	recv := ic.StackValue(1)
	if !m.IsIntegerObject(recv) || !m.IsIntegerObject(arg) {
		return false
	}
	a := m.IntegerValueOf(recv)
	b := m.IntegerValueOf(arg)

	op := arithOp[index]
	result, ok := evalArith(ic, op, a, b)
	if !ok {
		return false
	}
	ic.PopN(2)
	ic.Push(result)
	return true
}

func evalArith(ic *interp.Interpreter, op, a, b int) (oop.OOP, bool) {
	m := ic.Memory
	switch op {
	case interp.ArithAdd:
		r := a + b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithSub:
		r := a - b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithLess:
		return boolResult(a < b), true
	case interp.ArithGreater:
		return boolResult(a > b), true
	case interp.ArithLessEq:
		return boolResult(a <= b), true
	case interp.ArithGreaterEq:
		return boolResult(a >= b), true
	case interp.ArithEqual:
		return boolResult(a == b), true
	case interp.ArithNotEqual:
		return boolResult(a != b), true
	case interp.ArithMul:
		r := a * b
		if !m.IsIntegerValue(r) || (a != 0 && r/a != b) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithMod:
		if b == 0 {
			return 0, false
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithIntDivide:
		if b == 0 {
			return 0, false
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		if !m.IsIntegerValue(q) {
			return 0, false
		}
		return m.IntegerObjectOf(q), true
	case interp.ArithBitAnd:
		r := a & b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithBitOr:
		r := a | b
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	case interp.ArithBitShift:
		var r int
		if b >= 0 {
			r = a << uint(b)
		} else {
			r = a >> uint(-b)
		}
		if !m.IsIntegerValue(r) {
			return 0, false
		}
		return m.IntegerObjectOf(r), true
	default:
		return 0, false
	}
}

func boolResult(v bool) oop.OOP {
	if v {
		return oop.TruePointer
	}
	return oop.FalsePointer
}
