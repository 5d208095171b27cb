package primitive

import (
	"github.com/devhawala/ST80-sub000/internal/interp"
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// dispatchBasic implements the indexable-object and identity
// primitives every object inherits from Object (§3.1's "basicAt:" /
// "basicAt:put:" indirection through the object table).
func dispatchBasic(index int, ic *interp.Interpreter) (bool, error) {
	m := ic.Memory
	switch index {
	case PrimBasicAt:
		arg := ic.Top()
		recv := ic.StackValue(1)
		if !m.IsIntegerObject(arg) {
			return false, nil
		}
		i := m.IntegerValueOf(arg)
		v, ok := basicAt(m, recv, i)
		if !ok {
			return false, nil
		}
		ic.PopN(2)
		ic.Push(v)
		return true, nil

	case PrimBasicAtPut:
		val := ic.Top()
		arg := ic.StackValue(1)
		recv := ic.StackValue(2)
		if !m.IsIntegerObject(arg) {
			return false, nil
		}
		i := m.IntegerValueOf(arg)
		if !basicAtPut(m, recv, i, val) {
			return false, nil
		}
		ic.PopN(3)
		ic.Push(val)
		return true, nil

	case PrimBasicSize:
		recv := ic.Top()
		entry := m.OT.Get(recv)
		n := entry.WordLength - memory.HeaderWords
		ic.PopN(1)
		ic.Push(m.IntegerObjectOf(n))
		return true, nil

	case PrimClass:
		recv := ic.Top()
		ic.PopN(1)
		ic.Push(m.FetchClassOf(recv))
		return true, nil

	case PrimIdentical:
		arg := ic.Top()
		recv := ic.StackValue(1)
		ic.PopN(2)
		if recv == arg {
			ic.Push(oop.TruePointer)
		} else {
			ic.Push(oop.FalsePointer)
		}
		return true, nil

	case PrimBasicNew:
		class := ic.Top()
		inst, err := instantiateFixed(ic, class)
		if err != nil {
			return false, err
		}
		ic.PopN(1)
		ic.Push(inst)
		return true, nil

	case PrimBasicNewColon:
		arg := ic.Top()
		class := ic.StackValue(1)
		if !m.IsIntegerObject(arg) {
			return false, nil
		}
		size := m.IntegerValueOf(arg)
		inst, err := instantiateIndexable(ic, class, size)
		if err != nil {
			return false, err
		}
		ic.PopN(2)
		ic.Push(inst)
		return true, nil
	}
	return false, nil
}

// basicAt reads instance-variable-indexed object p's i-th indexable
// field (1-based, per Smalltalk indexing convention), returning the
// pointer or the byte wrapped as a SmallInteger depending on the
// object's storage kind.
func basicAt(m *memory.Manager, p oop.OOP, i int) (oop.OOP, bool) {
	if m.IsIntegerObject(p) {
		return 0, false
	}
	entry := m.OT.Get(p)
	if i < 1 {
		return 0, false
	}
	if entry.PointerFields {
		n := entry.WordLength - memory.HeaderWords
		if i > n {
			return 0, false
		}
		return m.FetchPointer(i-1, p), true
	}
	if i > entry.ByteLength {
		return 0, false
	}
	return m.IntegerObjectOf(int(m.FetchByte(i-1, p))), true
}

func basicAtPut(m *memory.Manager, p oop.OOP, i int, v oop.OOP) bool {
	if m.IsIntegerObject(p) {
		return false
	}
	entry := m.OT.Get(p)
	if i < 1 {
		return false
	}
	if entry.PointerFields {
		n := entry.WordLength - memory.HeaderWords
		if i > n {
			return false
		}
		m.StorePointer(i-1, p, v)
		return true
	}
	if !m.IsIntegerObject(v) || i > entry.ByteLength {
		return false
	}
	m.StoreByte(i-1, p, byte(m.IntegerValueOf(v)))
	return true
}

// instantiateFixed/instantiateIndexable back `basicNew`/`basicNew:`;
// the fixed field count is read as a SmallInteger from the class's own
// ClassInstanceSpec field, the same layout internal/interp's lookup.go
// class walk uses. Instances are always pointer objects; basicNew:
// adds size pointer fields after the fixed ones.
func instantiateFixed(ic *interp.Interpreter, class oop.OOP) (oop.OOP, error) {
	spec := ic.Memory.IntegerValueOf(ic.Memory.FetchPointer(interp.ClassInstanceSpec, class))
	return ic.Memory.InstantiateClassWithPointers(class, spec, func() { ic.Memory.CollectGarbage(ic) })
}

func instantiateIndexable(ic *interp.Interpreter, class oop.OOP, size int) (oop.OOP, error) {
	spec := ic.Memory.IntegerValueOf(ic.Memory.FetchPointer(interp.ClassInstanceSpec, class))
	return ic.Memory.InstantiateClassWithPointers(class, spec+size, func() { ic.Memory.CollectGarbage(ic) })
}
