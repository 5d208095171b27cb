package memory

import "github.com/devhawala/ST80-sub000/internal/oop"

// Roots supplies the object-pointer roots the mark phase starts from
// (§5.4 as referenced by §4.1) besides the pinned well-known objects,
// which CollectGarbage marks from itself: the active process (and
// through it its suspended context) and the interpreter's own live
// registers when a GC runs mid-bytecode.
type Roots interface {
	GCRoots() []oop.OOP
}

// generation is bumped once per GC cycle so "has this object already
// been visited in THIS pass" is an O(1) comparison instead of a
// separate mark bitmap that would need clearing every cycle.
type generationTracker struct {
	gen  []uint32
	cur  uint32
}

func newGenerationTracker(n int) *generationTracker {
	return &generationTracker{gen: make([]uint32, n)}
}

func (g *generationTracker) beginPass() { g.cur++ }

func (g *generationTracker) visit(index int) (alreadyMarked bool) {
	if g.gen[index] == g.cur {
		return true
	}
	g.gen[index] = g.cur
	return false
}

// CollectGarbage runs a full mark-sweep-compact cycle (§4.1).
func (m *Manager) CollectGarbage(roots Roots) {
	m.GCCount++
	n := m.OT.Len()
	if m.markGen == nil || len(m.markGen.gen) < n {
		m.markGen = newGenerationTracker(n)
	}
	m.markGen.beginPass()

	// Mark phase: DFS from every pinned (well-known) object, then from
	// roots.
	for i := 0; i < n; i++ {
		if e := &m.OT.Entries[i]; !e.Free && e.Count == PinnedCount {
			m.markFrom(oop.OOP(i * 2))
		}
	}
	for _, r := range roots.GCRoots() {
		m.markFrom(r)
	}

	// Drop all free lists before sweeping (§4.1): their members
	// become ordinary unreachable space unless the mark phase above
	// happened to reach them through some other root.
	m.OT.DropAllSizeFreeLists()

	// Sweep phase: free every unmarked, non-free object without
	// recursing into its fields (they are unreachable too and will
	// be swept in this same pass when visited directly).
	first := m.OT.LinearFirst()
	for i := first; i < n; i++ {
		e := &m.OT.Entries[i]
		if e.Free {
			continue
		}
		if e.Count == PinnedCount {
			continue
		}
		p := oop.OOP(i * 2)
		if !m.markGen.isMarked(i) {
			m.BytesReclaimed += e.WordLength * 2
			m.OT.ReleaseSlot(p)
		}
	}

	// Compact phase: relocate every surviving live object, in linear
	// object-table order, into the companion heap.
	m.compact()
}

// markFrom performs the DFS mark of a single object pointer and its
// transitive pointer fields. For compiled methods, only the header and
// literal slots are scanned (§4.1): the bytecode bytes are not pointer
// data.
func (m *Manager) markFrom(p oop.OOP) {
	if m.IsIntegerObject(p) || p == oop.NilPointer {
		return
	}
	idx := int(p) / 2
	if idx >= len(m.markGen.gen) {
		return
	}
	if m.markGen.visit(idx) {
		return
	}

	e := m.OT.Get(p)
	if e.Free {
		return
	}
	addr := e.Address()
	class := oop.OOP(m.Heap.Word(addr + 1))
	m.markFrom(class)

	if class == oop.ClassCompiledMethodPointer {
		litCount := int(m.Heap.Word(fieldAddr(addr, oop.CMLiteralCount)))
		for i := 0; i < litCount; i++ {
			v := oop.OOP(m.Heap.Word(fieldAddr(addr, oop.CMLiteralStart+i)))
			m.markFrom(v)
		}
		return
	}

	if e.PointerFields {
		for i := 0; i < e.WordLength-HeaderWords; i++ {
			v := oop.OOP(m.Heap.Word(fieldAddr(addr, i)))
			m.markFrom(v)
		}
	}
}

// isMarked is visit() addressed by OT index directly, used by the sweep
// loop which already has the index rather than an OOP in hand for
// small-integer-adjacent slots.
func (g *generationTracker) isMarked(index int) bool { return g.gen[index] == g.cur }

// compact walks the whole object table, the fixed well-known region
// included, and relocates every live object into the companion heap,
// updating each entry's Address, then swaps the two heap arenas (§4.1
// "Compact phase").
func (m *Manager) compact() {
	next := 0
	for i := 0; i < m.OT.Len(); i++ {
		e := &m.OT.Entries[i]
		if e.Free {
			continue
		}
		src := e.Address()
		n := e.WordLength
		m.Heap.CopyInto(next, src, n)
		e.SetAddress(next)
		next += n
	}
	m.Heap.SwapArenas()
	m.Heap.Reset(next)
}
