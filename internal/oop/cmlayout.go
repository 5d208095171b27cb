package oop

// CompiledMethod fixed-field indices shared between internal/memory
// (which special-cases this class during release/mark: only the
// literal frame is reference-counted, never the bytecode tail) and
// internal/interp (which interprets the header bits and indexes
// literals/bytecodes). Living here, rather than in either package,
// avoids a memory<->interp import cycle while keeping both sides of
// the special-case in agreement.
const (
	// CMHeader is a raw (non-counted) word: argCount<<10 | tempCount<<4
	// | largeContext<<3 | flag.
	CMHeader = 0
	// CMPrimitiveIndex is a raw word, not a tagged SmallInteger.
	CMPrimitiveIndex = 1
	// CMLiteralCount is a raw word counting the pointer-scanned
	// literal frame, INCLUDING the reserved defining-class slot at
	// CMLiteralStart+0.
	CMLiteralCount = 2
	// CMLiteralStart is the first field of the counted literal frame.
	// Slot 0 there is reserved for the method's defining class; real
	// literals begin at CMLiteralStart+1.
	CMLiteralStart = 3
)

const (
	CMHeaderFlagBits  = 3
	CMHeaderLargeBit  = 1 << CMHeaderFlagBits
	CMHeaderTempShift = CMHeaderFlagBits + 1
	CMHeaderArgShift  = CMHeaderTempShift + 6
)
