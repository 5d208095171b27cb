package interp

import (
	"github.com/devhawala/ST80-sub000/internal/memory"
	"github.com/devhawala/ST80-sub000/internal/oop"
)

// Class fixed-field indices (§4.2 "class → superclass chain").
const (
	ClassSuperclass        = 0
	ClassMessageDictionary = 1
	ClassInstanceSpec      = 2
)

// MethodDictionary fixed-field indices: tally is the live-entry count,
// values is a parallel Array of CompiledMethods; the dictionary's own
// indexable slots (index MethodDictFixedFields.. ) hold the selector
// keys, open-addressed over the same index space as values.
const (
	MethodDictTally  = 0
	MethodDictValues = 1

	MethodDictFixedFields = 2
)

// CacheHashMask is §4.2's "(selector XOR class) & 0x01FE" mask, for a
// table of 256 entries addressed two bytes apart. MethodCache does not
// use it: it indexes its slots with (selector XOR class) &
// (MethodCacheSize-1) (see cache.go).
const CacheHashMask = 0x01FE

// hashIndex is hash(objptr): the untagged linear index of the pointer,
// used as the open-addressing probe seed into a message dictionary.
func hashIndex(p oop.OOP) int { return int(p) / 2 }

// LookupResult carries everything a successful (or DNU-synthesized)
// lookup produces.
type LookupResult struct {
	Method      oop.OOP
	MethodClass oop.OOP
	Primitive   int
}

// dnuFailure is returned when doesNotUnderstand: itself cannot be
// found; §4.2 calls this a fatal error.
type dnuFailure struct{ selector oop.OOP }

func (e *dnuFailure) Error() string { return "interp: recursive doesNotUnderstand: failure" }

// probeDictionary searches one class's message dictionary for
// selector using open addressing, per §4.2: index by
// hash(selector) mod (dictSize - fixedFields), linear-probing the
// indexable key region.
func probeDictionary(m *memory.Manager, dict, selector oop.OOP) (method oop.OOP, found bool) {
	if dict == oop.NilPointer {
		return 0, false
	}
	instFields := m.FetchWordLength(dict) - memory.HeaderWords
	slots := instFields - MethodDictFixedFields
	if slots <= 0 {
		return 0, false
	}
	values := m.FetchPointer(MethodDictValues, dict)
	start := hashIndex(selector) % slots
	for i := 0; i < slots; i++ {
		slot := (start + i) % slots
		key := m.FetchPointer(MethodDictFixedFields+slot, dict)
		if key == oop.NilPointer {
			return 0, false
		}
		if key == selector {
			return m.FetchPointer(slot, values), true
		}
	}
	return 0, false
}

// LookupMethod walks class's superclass chain searching for selector,
// synthesizing and restarting through doesNotUnderstand: if the chain
// is exhausted. synthesizeDNU is called once, lazily, only if a DNU
// synthesis is actually needed (it allocates a Message object and an
// arguments Array, so callers thread it through rather than
// Interpreter importing memory.Manager instantiation helpers
// directly).
func LookupMethod(m *memory.Manager, cache *MethodCache, class, selector oop.OOP, synthesizeDNU func() (oop.OOP, error)) (LookupResult, error) {
	if method, methodClass, prim, ok := cache.Lookup(selector, class); ok {
		return LookupResult{method, methodClass, prim}, nil
	}

	result, found, err := walkChain(m, class, selector)
	if err != nil {
		return LookupResult{}, err
	}
	if !found {
		// This falls through to doesNotUnderstand:, which synthesizeDNU
		// rewrites the stack/registers for (pops the original args,
		// pushes a single Message, repoints argumentCount/selector) --
		// a side effect that only runs here, on the genuine-miss path.
		// The resolved entry must never be cached under the original
		// (selector, class) key: a later cache hit would return the
		// doesNotUnderstand: method without ever re-running that
		// rewrite, activating it against the wrong argument count.
		dnuSelector := oop.DoesNotUnderstandSelectorPointer
		msg, err := synthesizeDNU()
		if err != nil {
			return LookupResult{}, err
		}
		_ = msg
		result, found, err = walkChain(m, class, dnuSelector)
		if err != nil {
			return LookupResult{}, err
		}
		if !found {
			return LookupResult{}, &dnuFailure{selector: dnuSelector}
		}
		result.Primitive = primitiveIndexOf(m, result.Method)
		return result, nil
	}

	prim := primitiveIndexOf(m, result.Method)
	cache.Insert(selector, class, result.Method, result.MethodClass, prim)
	result.Primitive = prim
	return result, nil
}

func walkChain(m *memory.Manager, class, selector oop.OOP) (LookupResult, bool, error) {
	cur := class
	for cur != oop.NilPointer {
		dict := m.FetchPointer(ClassMessageDictionary, cur)
		if method, ok := probeDictionary(m, dict, selector); ok {
			return LookupResult{Method: method, MethodClass: cur}, true, nil
		}
		cur = m.FetchPointer(ClassSuperclass, cur)
	}
	return LookupResult{}, false, nil
}

// primitiveIndexOf extracts the primitive number encoded in a
// CompiledMethod's header word, or 0 if none.
func primitiveIndexOf(m *memory.Manager, method oop.OOP) int {
	return MethodPrimitiveIndex(m, method)
}
