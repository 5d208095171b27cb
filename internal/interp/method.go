package interp

import (
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// CompiledMethod layout. The literal frame (oop.CMLiteralStart..) is
// the only part internal/memory's release/mark special-case treats as
// reference-counted; see the doc comment in oop/cmlayout.go. Literal slot 0
// within that frame is reserved for the method's defining class (used
// to resolve super sends); visible "literal N" indices used by the
// bytecode set start at LiteralStart, one past the reserved slot.
const (
	LiteralStart = oop.CMLiteralStart + 1
)

// Quick-return flag values (§4.2 "Quick-return methods"); flag 6's
// fixed instance-variable index is carried in the primitive-index
// field, which a flag-5/6 method never otherwise needs.
const (
	FlagNormal        = 0
	FlagReturnSelf    = 5
	FlagReturnInstVar = 6
)

func MethodFlag(m *memory.Manager, method oop.OOP) int {
	return int(m.FetchWord(oop.CMHeader, method)) & (oop.CMHeaderLargeBit - 1)
}

func MethodPrimitiveIndex(m *memory.Manager, method oop.OOP) int {
	return int(m.FetchWord(oop.CMPrimitiveIndex, method))
}

func SetMethodPrimitiveIndex(m *memory.Manager, method oop.OOP, idx int) {
	m.StoreWord(oop.CMPrimitiveIndex, method, uint16(idx))
}

func MethodArgCountOf(m *memory.Manager, method oop.OOP) int {
	return int(m.FetchWord(oop.CMHeader, method)) >> oop.CMHeaderArgShift
}

func MethodTempCountOf(m *memory.Manager, method oop.OOP) int {
	h := int(m.FetchWord(oop.CMHeader, method))
	return (h >> oop.CMHeaderTempShift) & 0x3F
}

func MethodIsLargeContext(m *memory.Manager, method oop.OOP) bool {
	return int(m.FetchWord(oop.CMHeader, method))&oop.CMHeaderLargeBit != 0
}

// SetMethodHeader packs and stores the header word in one call; used
// by internal/image's bootstrap method compiler.
func SetMethodHeader(m *memory.Manager, method oop.OOP, flag int, largeContext bool, tempCount, argCount int) {
	h := argCount<<oop.CMHeaderArgShift | tempCount<<oop.CMHeaderTempShift | flag
	if largeContext {
		h |= oop.CMHeaderLargeBit
	}
	m.StoreWord(oop.CMHeader, method, uint16(h))
}

func MethodLiteralCountOf(m *memory.Manager, method oop.OOP) int {
	total := int(m.FetchWord(oop.CMLiteralCount, method))
	if total == 0 {
		return 0
	}
	return total - 1 // exclude the reserved defining-class slot
}

// SetMethodLiteralCount stores the raw counted-frame length, i.e. the
// visible literal count plus one for the reserved defining-class slot.
func SetMethodLiteralCount(m *memory.Manager, method oop.OOP, visibleCount int) {
	m.StoreWord(oop.CMLiteralCount, method, uint16(visibleCount+1))
}

// MethodClassOf returns the class the method is installed in, used to
// resolve super sends.
func MethodClassOf(m *memory.Manager, method oop.OOP) oop.OOP {
	return m.FetchPointer(oop.CMLiteralStart, method)
}

func SetMethodClass(m *memory.Manager, method, class oop.OOP) {
	m.StorePointer(oop.CMLiteralStart, method, class)
}

// Literal returns literal i (0-based, excluding the reserved slot).
func Literal(m *memory.Manager, method oop.OOP, i int) oop.OOP {
	return m.FetchPointer(LiteralStart+i, method)
}

func SetLiteral(m *memory.Manager, method oop.OOP, i int, v oop.OOP) {
	m.StorePointer(LiteralStart+i, method, v)
}

// InitialIPOf returns the byte offset of the first bytecode, i.e. just
// past the literal frame (§4.2 "IP = initialIP of the method, after
// literals").
func InitialIPOf(m *memory.Manager, method oop.OOP) int {
	return (LiteralStart + MethodLiteralCountOf(m, method)) * 2
}

// FetchBytecode returns the byte at offset ip within method's
// bytecode region.
func FetchBytecode(m *memory.Manager, method oop.OOP, ip int) byte {
	return m.FetchByte(ip, method)
}
