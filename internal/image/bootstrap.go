// Package image implements the minimal bootstrap image builder called
// for by SPEC_FULL.md §12: not a Smalltalk compiler, just enough
// well-known objects, classes, and compiled methods in memory to drive
// the scenarios in spec.md §8.2 and to give internal/primitive,
// internal/sched, and internal/vm tests a shared, reusable starting
// image instead of each hand-rolling its own fixture (as
// internal/interp's tests originally did before this package existed).
package image

import (
	"github.com/pkg/errors"

	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Builder accumulates objects into a Manager's fixed well-known region
// and, past it, the ordinary heap, the same two-region split
// memory.NewTable's doc comment describes: the image loader owns
// everything below oop.FirstWellKnownUserSlot.
type Builder struct {
	M *memory.Manager
}

// New allocates a fresh Manager and wraps it in a Builder.
func New(heapWords, otEntries int, scheme oop.Scheme) *Builder {
	return &Builder{M: memory.NewManager(heapWords, otEntries, scheme)}
}

// PlaceObject writes a heap object directly at a fixed object pointer,
// bypassing Instantiate (which only ever hands out slots at or above
// oop.FirstWellKnownUserSlot). Used for nil/true/false and the other
// fixed-slot well-known objects themselves.
func (b *Builder) PlaceObject(p, class oop.OOP, fields []oop.OOP) error {
	total := len(fields) + memory.HeaderWords
	base, ok := b.M.Heap.Grow(total)
	if !ok {
		return errors.New("image: heap exhausted while placing well-known object")
	}
	b.M.Heap.SetWord(base, uint16(total))
	b.M.Heap.SetWord(base+1, uint16(class))
	for i, f := range fields {
		b.M.Heap.SetWord(base+memory.HeaderWords+i, uint16(f))
	}
	e := b.M.OT.Get(p)
	e.SetAddress(base)
	e.PointerFields = true
	e.WordLength = total
	e.ByteLength = total * 2
	e.Count = memory.PinnedCount
	return nil
}

// DefineClass allocates a class object on the ordinary heap (i.e. NOT
// at a fixed well-known slot): fields [superclass, messageDictionary,
// instanceSpec], matching internal/interp/lookup.go's ClassSuperclass/
// ClassMessageDictionary/ClassInstanceSpec layout. messageDictionary
// starts nil; AddMethod installs one lazily.
func (b *Builder) DefineClass(superclass oop.OOP, instanceSpec int) (oop.OOP, error) {
	class, err := b.M.InstantiateClassWithPointers(oop.NilPointer, interp.ClassInstanceSpec+1, nil)
	if err != nil {
		return 0, errors.Wrap(err, "image: allocate class")
	}
	b.M.StorePointer(interp.ClassSuperclass, class, superclass)
	b.M.StorePointer(interp.ClassMessageDictionary, class, oop.NilPointer)
	b.M.StorePointer(interp.ClassInstanceSpec, class, b.M.IntegerObjectOf(instanceSpec))
	return class, nil
}

// MethodSpec describes one compiled method to install (§4.2 "Quick-
// return methods" when Flag is non-zero, else an ordinary bytecoded
// body).
type MethodSpec struct {
	Flag         int // interp.FlagNormal/FlagReturnSelf/FlagReturnInstVar
	InstVarIndex int // only meaningful when Flag == FlagReturnInstVar
	ArgCount     int
	TempCount    int
	LargeContext bool
	Primitive    int
	Literals     []oop.OOP
	Bytecodes    []byte
}

// AddMethod compiles spec into a CompiledMethod and installs it in
// class's message dictionary under selector, growing the dictionary
// (a fresh, larger one, copying forward any existing entries) if
// needed — this bootstrap never needs more than a handful of methods
// per class, so a grow-by-rebuild policy is simplicity over
// performance, unlike the real VM's incremental dictionaries.
func (b *Builder) AddMethod(class, selector oop.OOP, spec MethodSpec) (oop.OOP, error) {
	m := b.M
	litCount := len(spec.Literals)
	bytecodeWords := (len(spec.Bytecodes) + 1) / 2
	method, err := m.InstantiateClassWithPointers(oop.ClassCompiledMethodPointer, interp.LiteralStart+litCount+bytecodeWords, nil)
	if err != nil {
		return 0, errors.Wrap(err, "image: allocate method")
	}
	interp.SetMethodHeader(m, method, spec.Flag, spec.LargeContext, spec.TempCount, spec.ArgCount)
	interp.SetMethodLiteralCount(m, method, litCount)
	interp.SetMethodClass(m, method, class)
	interp.SetMethodPrimitiveIndex(m, method, spec.Primitive)
	for i, lit := range spec.Literals {
		interp.SetLiteral(m, method, i, lit)
	}
	if spec.Flag == interp.FlagReturnInstVar {
		interp.SetMethodPrimitiveIndex(m, method, spec.InstVarIndex)
	}
	ip := interp.InitialIPOf(m, method)
	for i, bc := range spec.Bytecodes {
		m.StoreByte(ip+i, method, bc)
	}

	if err := b.installInDictionary(class, selector, method); err != nil {
		return 0, err
	}
	return method, nil
}

// dictFixedFields mirrors interp.MethodDictFixedFields; duplicated as
// a literal here rather than imported so this file reads standalone
// next to the layout it is building (the primitive and vm tests run
// lookups against dictionaries built here, which exercises the two
// together).
const dictFixedFields = 2

func (b *Builder) installInDictionary(class, selector, method oop.OOP) error {
	m := b.M
	dict := m.FetchPointer(interp.ClassMessageDictionary, class)
	if dict == oop.NilPointer {
		return b.growDictionary(class, nil, nil, selector, method, 4)
	}

	slots := m.FetchWordLength(dict) - memory.HeaderWords - dictFixedFields
	values := m.FetchPointer(1, dict)
	// Probe from the same hash start interp's probeDictionary uses.
	start := int(selector) / 2 % slots
	for j := 0; j < slots; j++ {
		i := (start + j) % slots
		key := m.FetchPointer(dictFixedFields+i, dict)
		if key == oop.NilPointer || key == selector {
			m.StorePointer(dictFixedFields+i, dict, selector)
			m.StorePointer(i, values, method)
			return nil
		}
	}
	// Full: rebuild bigger, carrying every existing (selector, method)
	// pair forward.
	var keys, methods []oop.OOP
	for i := 0; i < slots; i++ {
		keys = append(keys, m.FetchPointer(dictFixedFields+i, dict))
		methods = append(methods, m.FetchPointer(i, values))
	}
	return b.growDictionary(class, keys, methods, selector, method, slots*2)
}

func (b *Builder) growDictionary(class oop.OOP, keys, methods []oop.OOP, newSelector, newMethod oop.OOP, newSlotCount int) error {
	m := b.M
	values, err := m.InstantiateClassWithPointers(oop.ClassArrayPointer, newSlotCount, nil)
	if err != nil {
		return errors.Wrap(err, "image: allocate method dictionary values array")
	}
	dict, err := m.InstantiateClassWithPointers(oop.NilPointer, dictFixedFields+newSlotCount, nil)
	if err != nil {
		return errors.Wrap(err, "image: allocate method dictionary")
	}
	m.StorePointer(1, dict, values)

	placed := 0
	place := func(selector, method oop.OOP) {
		start := int(selector) / 2 % newSlotCount
		for j := 0; j < newSlotCount; j++ {
			i := (start + j) % newSlotCount
			if m.FetchPointer(dictFixedFields+i, dict) == oop.NilPointer {
				m.StorePointer(dictFixedFields+i, dict, selector)
				m.StorePointer(i, values, method)
				placed++
				return
			}
		}
	}
	for i, k := range keys {
		if k != oop.NilPointer {
			place(k, methods[i])
		}
	}
	place(newSelector, newMethod)

	m.StorePointer(interp.ClassMessageDictionary, class, dict)
	return nil
}

// InstallSpecialSelectors populates the fixed oop.SpecialSelectorsPointer
// table (§4.2's arithmetic/special-send fast path), pairing each
// selector with its send argument count.
func (b *Builder) InstallSpecialSelectors(entries []oop.SpecialSelectorEntry) error {
	fields := make([]oop.OOP, 2*len(entries))
	for i, e := range entries {
		fields[2*i] = e.Selector
		fields[2*i+1] = b.M.IntegerObjectOf(e.ArgCount)
	}
	return b.PlaceObject(oop.SpecialSelectorsPointer, oop.NilPointer, fields)
}

// NewSymbol allocates a Symbol-classed byte object holding name, used
// as a throwaway selector identity (this bootstrap never interns
// symbols against a SymbolTable; each call yields a distinct oop, fine
// for a test image where selectors are only ever compared by ==).
func (b *Builder) NewSymbol(name string) (oop.OOP, error) {
	sym, err := b.M.InstantiateClassWithBytes(oop.ClassSymbolPointer, len(name), nil)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(name); i++ {
		b.M.StoreByte(i, sym, name[i])
	}
	return sym, nil
}
