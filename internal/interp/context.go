package interp

import (
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Context field indices, shared by method and block contexts up
// through index 3 (§4.2 "Context layout"). Fields beyond that diverge:
// a method context stores (unused, receiver) at (4,5); a block context
// stores (initialIP, home) at (4,5). TempFrameStart is where per-
// context temps and the evaluation stack begin in both layouts.
const (
	fieldSenderOrCaller  = 0
	fieldIP              = 1
	fieldSP              = 2
	fieldMethodOrArgCount = 3
	fieldUnusedOrInitIP   = 4
	fieldReceiverOrHome   = 5

	TempFrameStart = 6

	// SmallContextStackWords / LargeContextStackWords are the two
	// context-size tiers named in §4.2 "Method activation".
	SmallContextStackWords = 12
	LargeContextStackWords = 32
)

// IsBlockContext reports whether ctx's discriminant field (index 3)
// holds a small integer (block-argument count) rather than a
// CompiledMethod pointer (§4.2 "A context is a block context iff...").
func IsBlockContext(m *memory.Manager, ctx oop.OOP) bool {
	return m.IsIntegerObject(m.FetchPointer(fieldMethodOrArgCount, ctx))
}

// Sender returns the sender (method context) or caller (block context)
// field; they're the same slot.
func Sender(m *memory.Manager, ctx oop.OOP) oop.OOP {
	return m.FetchPointer(fieldSenderOrCaller, ctx)
}

func SetSender(m *memory.Manager, ctx, sender oop.OOP) {
	m.StorePointer(fieldSenderOrCaller, ctx, sender)
}

// IP returns the instruction pointer as a plain int (it is stored as a
// tagged small integer, a byte offset into the method).
func IP(m *memory.Manager, ctx oop.OOP) int {
	return m.IntegerValueOf(m.FetchPointer(fieldIP, ctx))
}

func SetIP(m *memory.Manager, ctx oop.OOP, ip int) {
	m.StorePointer(fieldIP, ctx, m.IntegerObjectOf(ip))
}

// SP returns the stack pointer as a plain int (word offset into the
// context past TempFrameStart).
func SP(m *memory.Manager, ctx oop.OOP) int {
	return m.IntegerValueOf(m.FetchPointer(fieldSP, ctx))
}

func SetSP(m *memory.Manager, ctx oop.OOP, sp int) {
	m.StorePointer(fieldSP, ctx, m.IntegerObjectOf(sp))
}

// Method returns the CompiledMethod of a method context (invalid to
// call on a block context; use BlockArgCount/Home there instead).
func Method(m *memory.Manager, ctx oop.OOP) oop.OOP {
	return m.FetchPointer(fieldMethodOrArgCount, ctx)
}

func SetMethod(m *memory.Manager, ctx, method oop.OOP) {
	m.StorePointer(fieldMethodOrArgCount, ctx, method)
}

// BlockArgCount returns a block context's declared argument count.
func BlockArgCount(m *memory.Manager, ctx oop.OOP) int {
	return m.IntegerValueOf(m.FetchPointer(fieldMethodOrArgCount, ctx))
}

func SetBlockArgCount(m *memory.Manager, ctx oop.OOP, n int) {
	m.StorePointer(fieldMethodOrArgCount, ctx, m.IntegerObjectOf(n))
}

// Receiver returns a method context's receiver.
func Receiver(m *memory.Manager, ctx oop.OOP) oop.OOP {
	return m.FetchPointer(fieldReceiverOrHome, ctx)
}

func SetReceiver(m *memory.Manager, ctx, recv oop.OOP) {
	m.StorePointer(fieldReceiverOrHome, ctx, recv)
}

// Home returns a block context's home method context.
func Home(m *memory.Manager, ctx oop.OOP) oop.OOP {
	return m.FetchPointer(fieldReceiverOrHome, ctx)
}

func SetHome(m *memory.Manager, ctx, home oop.OOP) {
	m.StorePointer(fieldReceiverOrHome, ctx, home)
}

// InitialIP returns a block context's initial instruction pointer
// (where execution resumes each time the block is valued).
func InitialIP(m *memory.Manager, ctx oop.OOP) int {
	return m.IntegerValueOf(m.FetchPointer(fieldUnusedOrInitIP, ctx))
}

func SetInitialIP(m *memory.Manager, ctx oop.OOP, ip int) {
	m.StorePointer(fieldUnusedOrInitIP, ctx, m.IntegerObjectOf(ip))
}

// HomeContext returns ctx itself if it's a method context, or its
// home method context by walking the home pointer if it's a block
// context (§4.2 registers: "homeContext ... for a block context, its
// method context; else = activeContext").
func HomeContext(m *memory.Manager, ctx oop.OOP) oop.OOP {
	if IsBlockContext(m, ctx) {
		return Home(m, ctx)
	}
	return ctx
}

// Temp reads temp/stack slot i (0-based from TempFrameStart).
func Temp(m *memory.Manager, ctx oop.OOP, i int) oop.OOP {
	return m.FetchPointer(TempFrameStart+i, ctx)
}

func SetTemp(m *memory.Manager, ctx oop.OOP, i int, v oop.OOP) {
	m.StorePointer(TempFrameStart+i, ctx, v)
}

// Push writes v at the current SP+1 and bumps SP (SP is the index of
// the topmost occupied stack slot, -1 when empty, matching the
// Bluebook's "stack pointer: word offset into active context").
func Push(m *memory.Manager, ctx oop.OOP, v oop.OOP) {
	sp := SP(m, ctx) + 1
	SetTemp(m, ctx, sp, v)
	SetSP(m, ctx, sp)
}

// Pop removes and returns the top stack value.
func Pop(m *memory.Manager, ctx oop.OOP) oop.OOP {
	sp := SP(m, ctx)
	v := Temp(m, ctx, sp)
	SetSP(m, ctx, sp-1)
	return v
}

// Top returns the top stack value without removing it.
func Top(m *memory.Manager, ctx oop.OOP) oop.OOP {
	return Temp(m, ctx, SP(m, ctx))
}

// StackValue returns the value at depth n below the top (0 = top).
func StackValue(m *memory.Manager, ctx oop.OOP, n int) oop.OOP {
	return Temp(m, ctx, SP(m, ctx)-n)
}

// PopN discards the top n stack entries.
func PopN(m *memory.Manager, ctx oop.OOP, n int) {
	SetSP(m, ctx, SP(m, ctx)-n)
}

// NewContextSize returns the total instance-variable word size
// (TempFrameStart + stack words) a freshly activated context needs,
// per §4.2's "largeContext ? 32 : 12".
func NewContextSize(large bool) int {
	if large {
		return TempFrameStart + LargeContextStackWords
	}
	return TempFrameStart + SmallContextStackWords
}
