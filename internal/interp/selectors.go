package interp

import (
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// SpecialSelector reads entry i (0..31, covering bytecodes 176..207)
// from the image's SpecialSelectors array: paired (selector, argCount)
// object-pointer fields, per §4.2.
func SpecialSelector(m *memory.Manager, i int) (selector oop.OOP, argCount int) {
	selector = m.FetchPointer(2*i, oop.SpecialSelectorsPointer)
	argCount = m.IntegerValueOf(m.FetchPointer(2*i+1, oop.SpecialSelectorsPointer))
	return
}

// Arithmetic-group bytecode offsets 0..15 (bytecodes 176..191), in the
// fixed order the Bluebook's special-selectors table uses.
const (
	ArithAdd = iota
	ArithSub
	ArithLess
	ArithGreater
	ArithLessEq
	ArithGreaterEq
	ArithEqual
	ArithNotEqual
	ArithMul
	ArithDivide
	ArithMod
	ArithMakePoint
	ArithBitShift
	ArithIntDivide
	ArithBitAnd
	ArithBitOr
)
