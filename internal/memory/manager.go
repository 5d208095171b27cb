package memory

import (
	"github.com/devhawala/ST80-sub000/internal/oop"
	"github.com/pkg/errors"
)

// ErrOutOfMemory is the heap-exhaustion fatal condition (§4.1 "Failure
// modes", §7 "Out-of-memory (heap or object table)").
var ErrOutOfMemory = errors.New("object memory: out of memory")

// ErrOutOfObjectTable is raised when no object-table slot remains even
// after a GC pass.
var ErrOutOfObjectTable = errors.New("object memory: out of object table entries")

// HeaderWords is the two fixed words at the start of every heap object
// (§3.3): total size, then class pointer.
const HeaderWords = 2

// Manager is the Memory Manager (§4.1): allocation, reference counting,
// free-size pools and the mark-sweep-compact collector, built the way
// the Go runtime's allocator layers a small-object fast path over a
// page-granular heap (malloc.go) — except here there is exactly one
// granularity (the word), so the MCache/MCentral split collapses into
// the single set of per-size free lists on Table.
type Manager struct {
	Heap   *Heap
	OT     *Table
	Scheme oop.Scheme

	// SoftLimit triggers a GC attempt before the heap is truly full
	// (§4.1 allocation step 2).
	SoftLimit int

	// ReleaseSuspended implements the reentrant suspend/resume
	// discipline of §4.1/§5 ("releaseObject must be defer-able").
	// While > 0, objects whose count drops to 0 are queued in
	// pendingRelease instead of being freed immediately.
	ReleaseSuspended int
	pendingRelease   []oop.OOP

	// Stats, surfaced through internal/stats.
	GCCount        int
	BytesReclaimed int

	markGen *generationTracker
}

// NewManager builds a Manager over a freshly allocated heap/object
// table pair of the given capacity.
func NewManager(heapWords, otEntries int, scheme oop.Scheme) *Manager {
	return &Manager{
		Heap:      NewHeap(heapWords),
		OT:        NewTable(otEntries, scheme),
		Scheme:    scheme,
		SoftLimit: heapWords - heapWords/16, // leave ~6% headroom before a GC is forced
	}
}

// NewManagerFromSnapshot rebuilds a Manager from decoded snapshot
// sections (see internal/snapshot.Loaded): heap is in arena order, ot
// in linear object-table order. heapCapacity/otCapacity size the
// fresh arenas/table (raised to at least the loaded lengths if given
// smaller), leaving the restored image room to keep allocating.
//
// Each live entry's WordLength/ByteLength is derived here from its
// heap header (§3.3): the wire format only carries the fields listed
// in snapshot's encodeEntry/decodeEntry. The object-table free chain
// -- not serialized at all -- is rebuilt from each entry's Free flag.
// Callers must run CollectGarbage immediately afterward (§6.1 "run a
// full GC to compact and normalize").
func NewManagerFromSnapshot(heap []uint16, ot []Entry, scheme oop.Scheme, heapCapacity, otCapacity int) *Manager {
	if heapCapacity < len(heap) {
		heapCapacity = len(heap)
	}
	if otCapacity < len(ot) {
		otCapacity = len(ot)
	}
	m := &Manager{
		Scheme:    scheme,
		Heap:      NewHeap(heapCapacity),
		SoftLimit: heapCapacity - heapCapacity/16,
	}
	m.Heap.LoadWords(heap)

	table := NewTable(otCapacity, scheme)
	copy(table.Entries, ot)
	first := table.LinearFirst()
	for i := 0; i < len(ot); i++ {
		e := &table.Entries[i]
		// Below LinearFirst only the placed (pinned) well-known objects
		// have a heap header; unplaced well-known slots keep length 0.
		if e.Free || (i < first && e.Count != PinnedCount) {
			continue
		}
		total := int(m.Heap.Word(e.Address()))
		e.WordLength = total
		if e.OddLength {
			e.ByteLength = total*2 - 1
		} else {
			e.ByteLength = total * 2
		}
	}
	table.RebuildFreeChain()
	m.OT = table
	return m
}

// Counters implements internal/stats.MemorySource.
func (m *Manager) Counters() (gcCount, bytesReclaimed, freeOTSlots int) {
	return m.GCCount, m.BytesReclaimed, m.OT.FreeCount()
}

// --- tagged-integer conversions (delegate to oop, scheme-bound) ---

func (m *Manager) IsIntegerObject(p oop.OOP) bool { return oop.IsIntegerObject(p, m.Scheme) }
func (m *Manager) IsIntegerValue(v int) bool       { return oop.IsIntegerValue(v, m.Scheme) }
func (m *Manager) IntegerValueOf(p oop.OOP) int    { return oop.IntegerValueOf(p, m.Scheme) }
func (m *Manager) IntegerObjectOf(v int) oop.OOP   { return oop.IntegerObjectOf(v, m.Scheme) }

// --- raw field access ---

// FetchWordLength returns the cached word length of an object.
func (m *Manager) FetchWordLength(p oop.OOP) int { return m.OT.Get(p).WordLength }

// FetchByteLength returns the cached byte length of an object.
func (m *Manager) FetchByteLength(p oop.OOP) int { return m.OT.Get(p).ByteLength }

// FetchClassOf reads the class pointer from an object's heap header.
func (m *Manager) FetchClassOf(p oop.OOP) oop.OOP {
	if m.IsIntegerObject(p) {
		return oop.ClassSmallIntegerPointer
	}
	addr := m.OT.Get(p).Address()
	return oop.OOP(m.Heap.Word(addr + 1))
}

func fieldAddr(base int, i int) int { return base + HeaderWords + i }

// FetchPointer reads instance-variable/indexable slot i as an object
// pointer, with no reference-count side effect.
func (m *Manager) FetchPointer(i int, p oop.OOP) oop.OOP {
	addr := m.OT.Get(p).Address()
	return oop.OOP(m.Heap.Word(fieldAddr(addr, i)))
}

// StorePointer writes val into slot i of p, incrementing val's
// reference count and decrementing whatever was previously there
// (§4.1 "Reference counting rules").
func (m *Manager) StorePointer(i int, p oop.OOP, val oop.OOP) {
	addr := m.OT.Get(p).Address()
	slot := fieldAddr(addr, i)
	prior := oop.OOP(m.Heap.Word(slot))
	if val != oop.NilPointer {
		m.incrementRefCount(val)
	}
	m.Heap.SetWord(slot, uint16(val))
	if prior != oop.NilPointer {
		m.decrementRefCount(prior)
	}
}

// FetchWord/StoreWord/FetchByte/StoreByte are non-counted raw access
// for non-pointer fields (§4.1).
func (m *Manager) FetchWord(i int, p oop.OOP) uint16 {
	addr := m.OT.Get(p).Address()
	return m.Heap.Word(fieldAddr(addr, i))
}

func (m *Manager) StoreWord(i int, p oop.OOP, v uint16) {
	addr := m.OT.Get(p).Address()
	m.Heap.SetWord(fieldAddr(addr, i), v)
}

func (m *Manager) FetchByte(i int, p oop.OOP) byte {
	addr := m.OT.Get(p).Address()
	return m.Heap.Byte(fieldAddr(addr, 0)*2 + i)
}

func (m *Manager) StoreByte(i int, p oop.OOP, v byte) {
	addr := m.OT.Get(p).Address()
	m.Heap.SetByte(fieldAddr(addr, 0)*2+i, v)
}

// --- reference counting ---

func (m *Manager) incrementRefCount(p oop.OOP) {
	if m.IsIntegerObject(p) {
		return
	}
	e := m.OT.Get(p)
	if e.Count == PinnedCount {
		return
	}
	e.Count++
}

func (m *Manager) decrementRefCount(p oop.OOP) {
	if m.IsIntegerObject(p) {
		return
	}
	e := m.OT.Get(p)
	if e.Count == PinnedCount {
		return
	}
	if e.Count == 0 {
		// Reference-count underflow: an image-invariant violation
		// (§7 "ref count underflow from 0"). The count stays at 0 and
		// nothing is reported: no error is returned or logged, and the
		// interpreter does not detect the underflow.
		return
	}
	e.Count--
	if e.Count == 0 {
		m.release(p)
	}
}

// release implements §4.1's "count transitioning from 1 to 0" behavior:
// decrement every pointer field the object holds (recursively via
// decrementRefCount, not by walking — a chain of 1-counts dominoes
// here exactly like the Bluebook describes), then enqueue the freed
// space.
func (m *Manager) release(p oop.OOP) {
	if m.ReleaseSuspended > 0 {
		m.pendingRelease = append(m.pendingRelease, p)
		return
	}
	m.releaseNow(p)
}

func (m *Manager) releaseNow(p oop.OOP) {
	e := m.OT.Get(p)
	addr := e.Address()
	class := oop.OOP(m.Heap.Word(addr + 1))

	// CompiledMethod literals: release only the counted literal frame,
	// not the bytecode bytes (§4.1).
	if class == oop.ClassCompiledMethodPointer {
		litCount := int(m.Heap.Word(fieldAddr(addr, oop.CMLiteralCount)))
		for i := 0; i < litCount; i++ {
			v := oop.OOP(m.Heap.Word(fieldAddr(addr, oop.CMLiteralStart+i)))
			if v != oop.NilPointer {
				m.decrementRefCount(v)
			}
		}
	} else if e.PointerFields {
		for i := 0; i < e.WordLength-HeaderWords; i++ {
			v := oop.OOP(m.Heap.Word(fieldAddr(addr, i)))
			if v != oop.NilPointer {
				m.decrementRefCount(v)
			}
		}
	}
	m.decrementRefCount(class)

	words := e.WordLength
	m.BytesReclaimed += words * 2
	if words <= MaxFreeListSize {
		m.OT.PushSizeFree(words, p)
	} else {
		m.OT.ReleaseSlot(p)
	}
}

// SuspendReleasing increments the reentrant suspend counter (§4.1,
// §5's "Object freeing has a reentrant suspend/resume discipline").
func (m *Manager) SuspendReleasing() { m.ReleaseSuspended++ }

// ResumeReleasing decrements the counter and, once it reaches zero,
// actually frees everything queued while suspended.
func (m *Manager) ResumeReleasing() {
	if m.ReleaseSuspended == 0 {
		return
	}
	m.ReleaseSuspended--
	if m.ReleaseSuspended > 0 {
		return
	}
	pending := m.pendingRelease
	m.pendingRelease = nil
	for _, p := range pending {
		e := m.OT.Get(p)
		if !e.Free && e.Count == 0 {
			m.releaseNow(p)
		}
	}
}

// --- allocation ---

// Instantiate allocates a new object of `class` with netWordSize words
// of instance data (excluding the 2-word header), following the
// allocation hierarchy of §4.1 (and, at the free-list/heap-growth
// split, of malloc.go's mallocgc): free list first, then heap growth,
// then GC-and-retry, then out-of-memory.
func (m *Manager) Instantiate(class oop.OOP, netWordSize int, pointerFields, oddLength bool, gc func()) (oop.OOP, error) {
	total := netWordSize + HeaderWords

	// Step 1: a same-size free list gives us both a reusable heap
	// region AND its object pointer/OT slot in one shot.
	if total <= MaxFreeListSize {
		if slot, ok := m.OT.PopSizeFree(total); ok {
			return m.stampObject(slot, class, total, netWordSize, pointerFields, oddLength), nil
		}
	}

	// Steps 2-3: grow the heap, running GC first if we're over the
	// soft limit, and again if growth still fails.
	base, ok := m.growHeapFor(total, gc)
	if !ok {
		return 0, errors.Wrap(ErrOutOfMemory, "heap")
	}

	// Step 4: find a free object-table slot, GC-and-retry once if
	// the table is exhausted.
	slot, ok := m.OT.AllocateSlot()
	if !ok {
		if gc != nil {
			gc()
			slot, ok = m.OT.AllocateSlot()
		}
		if !ok {
			return 0, ErrOutOfObjectTable
		}
	}

	e := m.OT.Get(slot)
	e.SetAddress(base)
	return m.stampObject(slot, class, total, netWordSize, pointerFields, oddLength), nil
}

// stampObject writes the heap header and initializes instance data for
// a (re)used object-table slot whose Address is already set.
func (m *Manager) stampObject(slot, class oop.OOP, total, netWordSize int, pointerFields, oddLength bool) oop.OOP {
	e := m.OT.Get(slot)
	e.PointerFields = pointerFields
	e.OddLength = oddLength
	e.Count = 0
	e.WordLength = total
	if oddLength {
		e.ByteLength = total*2 - 1
	} else {
		e.ByteLength = total * 2
	}

	addr := e.Address()
	m.Heap.SetWord(addr, uint16(total))
	m.Heap.SetWord(addr+1, uint16(class))
	m.incrementRefCount(class)
	if pointerFields {
		for i := 0; i < netWordSize; i++ {
			m.Heap.SetWord(fieldAddr(addr, i), uint16(oop.NilPointer))
		}
	} else {
		for i := 0; i < netWordSize; i++ {
			m.Heap.SetWord(fieldAddr(addr, i), 0)
		}
	}
	return slot
}

// growHeapFor finds totalWords of fresh heap space, running gc once if
// the soft limit would be crossed and once more if growth still fails.
func (m *Manager) growHeapFor(totalWords int, gc func()) (base int, ok bool) {
	if m.Heap.Used()+totalWords >= m.SoftLimit && gc != nil {
		gc()
	}
	base, ok = m.Heap.Grow(totalWords)
	if ok {
		return base, true
	}
	if gc != nil {
		gc()
		return m.Heap.Grow(totalWords)
	}
	return 0, false
}

// InstantiateClassWithPointers/.../WithBytes are the §4.1 convenience
// constructors.
func (m *Manager) InstantiateClassWithPointers(class oop.OOP, size int, gc func()) (oop.OOP, error) {
	return m.Instantiate(class, size, true, false, gc)
}

func (m *Manager) InstantiateClassWithWords(class oop.OOP, size int, gc func()) (oop.OOP, error) {
	return m.Instantiate(class, size, false, false, gc)
}

func (m *Manager) InstantiateClassWithBytes(class oop.OOP, size int, gc func()) (oop.OOP, error) {
	words := (size + 1) / 2
	return m.Instantiate(class, words, false, size%2 == 1, gc)
}

// --- linear enumeration ---

// InitialInstanceOf returns the first instance of class in linear
// object-table order, or NilPointer when there are none.
func (m *Manager) InitialInstanceOf(class oop.OOP) oop.OOP {
	for i := m.OT.LinearFirst(); i < m.OT.Len(); i++ {
		e := &m.OT.Entries[i]
		if e.Free || e.Count == 0 {
			continue
		}
		p := oop.OOP(i * 2)
		if m.FetchClassOf(p) == class {
			return p
		}
	}
	return oop.NilPointer
}

// InstanceAfter continues the enumeration InitialInstanceOf began.
func (m *Manager) InstanceAfter(p oop.OOP) oop.OOP {
	class := m.FetchClassOf(p)
	for i := int(p)/2 + 1; i < m.OT.Len(); i++ {
		e := &m.OT.Entries[i]
		if e.Free || e.Count == 0 {
			continue
		}
		q := oop.OOP(i * 2)
		if m.FetchClassOf(q) == class {
			return q
		}
	}
	return oop.NilPointer
}

// --- become: ---

// SwapPointersOf exchanges the identities of two non-small-integer
// objects while preserving each side's reference count (§4.1, §8.1
// "Become").
func (m *Manager) SwapPointersOf(a, b oop.OOP) {
	ea, eb := m.OT.Get(a), m.OT.Get(b)
	*ea, *eb = *eb, *ea
}
