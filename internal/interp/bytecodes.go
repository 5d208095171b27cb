// Package interp implements the Bytecode Interpreter (§4.2): context
// layout, the fetch-dispatch-execute loop, the method lookup cache, and
// send/return/activation semantics. Its dispatch-table shape and
// "try the fast path, fall back to the general case" structure mirrors
// the layered fast-path-then-slow-path allocator in
// _examples/cloudfly-readgo/runtime/malloc.go (mcache hit vs mcache
// refill vs heap growth): here it's method-cache hit vs class-chain
// lookup vs doesNotUnderstand, and arithmetic-primitive hit vs normal
// send.
package interp

// Bytecode range boundaries, per spec.md §4.2.
const (
	PushReceiverVariableFirst = 0
	PushReceiverVariableLast  = 15

	PushTemporaryFirst = 16
	PushTemporaryLast  = 31

	PushLiteralConstantFirst = 32
	PushLiteralConstantLast  = 63

	PushLiteralVariableFirst = 64
	PushLiteralVariableLast  = 95

	PopStoreReceiverVariableFirst = 96
	PopStoreReceiverVariableLast  = 103

	PopStoreTemporaryFirst = 104
	PopStoreTemporaryLast  = 111

	PushSpecialFirst = 112
	PushSpecialLast  = 119

	ReturnReceiver         = 120
	ReturnTrue             = 121
	ReturnFalse            = 122
	ReturnNil              = 123
	ReturnTopFromMessage   = 124
	ReturnTopFromBlock     = 125
	// 126, 127 unused in the Bluebook bytecode set.

	ExtendedPush          = 128
	ExtendedStore         = 129
	ExtendedStoreAndPop   = 130
	SingleExtendedSend    = 131
	DoubleExtendedSend    = 132
	SingleExtendedSuper   = 133
	DoubleExtendedSuper   = 134
	PopStack              = 135
	DuplicateTop          = 136
	PushActiveContext     = 137
	// 138-143 unused.

	ShortJumpFirst = 144
	ShortJumpLast  = 151

	ShortPopFalseJumpFirst = 152
	ShortPopFalseJumpLast  = 159

	LongJumpFirst = 160
	LongJumpLast  = 167

	LongPopTrueJumpFirst = 168
	LongPopTrueJumpLast  = 171

	LongPopFalseJumpFirst = 172
	LongPopFalseJumpLast  = 175

	SpecialArithmeticFirst = 176
	SpecialArithmeticLast  = 191

	SpecialSendFirst = 192
	SpecialSendLast  = 207

	LiteralSelectorSendFirst = 208
	LiteralSelectorSendLast  = 255
)

// Push-special operand indices for bytecodes 112-119.
const (
	PushReceiverSelf = iota
	PushTrue
	PushFalse
	PushNil
	PushMinusOne
	PushZero
	PushOne
	PushTwo
)

// Extended-push/store operand kinds (top 2 bits of the second byte for
// bytecodes 128-130).
const (
	ExtendedReceiverVariable = 0
	ExtendedTemporary        = 1
	ExtendedLiteralConstant  = 2
	ExtendedLiteralVariable  = 3
)
