package oop

// WellKnown holds the fixed object pointers every image agrees on, plus
// the handful discovered by scanning the image at load time (§2's
// "Well-Known Objects" table). Constants below are the object pointers
// themselves (object-table index = value/2), in a fixed order every
// image agrees on.
//
// The values are NOT simply 2*index: under Stretch (LimitsFor's
// TagMask=0x0003, TagValue=0x0000), a pointer is only valid if its low
// two bits are not 00, so a plain "every slot is a multiple of 2"
// numbering would make half the well-known pointers -- including
// NilPointer itself -- collide bit-for-bit with a tagged small
// integer. iota*4+2 keeps every value even (so Classic, whose tag is
// just bit 0, still reads them as non-integers) while forcing the low
// two bits to 10 (so Stretch never mistakes one for a tagged
// integer). See wellknown_test.go's well-known/Stretch coverage.
const (
	NilPointer OOP = iota*4 + 2
	TruePointer
	FalsePointer
	_reserved3
	_reserved4
	ClassSmallIntegerPointer
	ClassStringPointer
	ClassArrayPointer
	ClassFloatPointer
	ClassMethodContextPointer
	ClassBlockContextPointer
	ClassPointPointer
	ClassLargePositiveIntegerPointer
	ClassMessagePointer
	ClassCharacterPointer
	ClassCompiledMethodPointer
	ClassSymbolPointer
	ClassSemaphorePointer
	SchedulerAssociationPointer
	SpecialSelectorsPointer
	CharacterTablePointer
	DoesNotUnderstandSelectorPointer
	MustBeBooleanSelectorPointer
	CannotReturnSelectorPointer
	FirstWellKnownUserSlot
)

// FixedSmallIntegers are the small integers guaranteed to exist at
// object-table-independent, tag-derived identities (they're immediates,
// not object-table entries, but every image relies on their bit pattern
// being stable): -1, 0, 1, 2.
var FixedSmallIntegers = []int{-1, 0, 1, 2}

// SpecialSelectorEntry pairs a special-selector OOP with its send arg
// count, as stored in the SpecialSelectors table (§4.2 "special
// selector fast path").
type SpecialSelectorEntry struct {
	Selector  OOP
	ArgCount  int
	Primitive int // -1 if this selector has no arithmetic/compare fast path
}

// The special-selector bytecodes span 176..207: 16 bytecodes (176-191)
// with an arithmetic/compare fast path, and 16 more (192-207) without
// one but still selector-indexed.
const (
	FirstArithmeticSelectorBytecode = 176
	LastArithmeticSelectorBytecode  = 191
	FirstSpecialSendBytecode        = 192
	LastSpecialSendBytecode         = 207
)
