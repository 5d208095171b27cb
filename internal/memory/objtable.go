package memory

import "github.com/devhawala/ST80-sub000/internal/oop"

// PinnedCount is the sticky reference count meaning "permanent object,
// never decremented below this" (§3.2).
const PinnedCount = 127

// MaxFreeListSize is the largest word size tracked in a per-size free
// list (§3.5 "Objects of size <= 256 words are enqueued..."); larger
// objects are marked free and wait for compaction instead.
const MaxFreeListSize = 256

// Entry is the object table's metadata record for one non-small-integer
// object pointer (§3.2).
type Entry struct {
	Count         uint8 // reference count, 0..127; 127 is pinned
	OddLength     bool  // byte length == 2*wordLength-1
	PointerFields bool  // instance vars are object pointers
	Free          bool  // this slot is unused; objects on a size free list keep Free=false (see PushSizeFree)
	Segment       uint8 // 4-bit heap segment
	Offset        uint16

	// Derived fields cached for speed (§3.2 "Plus derived fields").
	WordLength int
	ByteLength int

	// NextFree threads this entry onto either the object-table's
	// index free chain (when truly unused) or a size-indexed free
	// list of released objects awaiting O(1) reuse (§3.5). OOP(0)
	// terminates both chains; object-table index 0 is never handed out,
	// so 0 is safe as the sentinel.
	NextFree oop.OOP
}

// Address packs segment+offset into the 20-bit heap address described
// in §3.2.
func (e *Entry) Address() int { return int(e.Segment)<<16 | int(e.Offset) }

// SetAddress unpacks a 20-bit heap address into segment+offset.
func (e *Entry) SetAddress(addr int) {
	e.Segment = uint8((addr >> 16) & 0x0F)
	e.Offset = uint16(addr & 0xFFFF)
}

// Table is the object table: a dense array of Entry indexed by object
// pointer, plus free-chain bookkeeping. "Linear object table" ordering
// (§3.2) is simply Entries in index order, which is how Go stores them
// already; LinearFirst/Len below implement the enumeration
// contract used by initialInstanceOf/instanceAfter and by GC sweep and
// compaction.
type Table struct {
	Entries []Entry
	Scheme  oop.Scheme

	otFreeHead oop.OOP // head of the chain of wholly-unused OT slots
	otFreeTail oop.OOP

	sizeFree [MaxFreeListSize + 1]oop.OOP // size (in words) -> head of free list
}

// NewTable allocates a Table with room for n non-small-integer object
// pointers (indices 2, 4, 6, ... — index 0 is conventionally reserved
// as a null/sentinel and is never handed out).
func NewTable(n int, scheme oop.Scheme) *Table {
	t := &Table{
		Entries: make([]Entry, n),
		Scheme:  scheme,
	}
	// Build the initial OT free chain over every slot beyond the
	// fixed well-known-object region; entries below FirstWellKnownUserSlot
	// are populated explicitly by the image loader/bootstrap builder.
	first := int(oop.FirstWellKnownUserSlot) / 2
	for i := first; i < n; i++ {
		t.Entries[i].Free = true
		if i+1 < n {
			t.Entries[i].NextFree = oop.OOP((i + 1) * 2)
		}
	}
	if first < n {
		t.otFreeHead = oop.OOP(first * 2)
		t.otFreeTail = oop.OOP((n - 1) * 2)
	}
	return t
}

func (t *Table) index(p oop.OOP) int { return int(p) / 2 }

// Get returns the entry for a (non-small-integer) object pointer.
func (t *Table) Get(p oop.OOP) *Entry { return &t.Entries[t.index(p)] }

// AllocateSlot pops the head of the OT free chain, or reports false
// if the table is exhausted (the caller should GC and retry, then
// raise out-of-memory (object table) per §4.1 step 4). The chain starts
// in ascending index order, but ReleaseSlot appends freed slots at its
// tail, so the slot returned is not necessarily the lowest-indexed
// free one.
func (t *Table) AllocateSlot() (oop.OOP, bool) {
	if t.otFreeHead == 0 && !t.Entries[0].Free {
		return 0, false
	}
	p := t.otFreeHead
	if p == 0 {
		return 0, false
	}
	e := t.Get(p)
	t.otFreeHead = e.NextFree
	if t.otFreeHead == 0 {
		t.otFreeTail = 0
	}
	*e = Entry{}
	return p, true
}

// ReleaseSlot returns an object pointer's OT slot to the index free
// chain, for use by the sweep phase of GC (objects larger than
// MaxFreeListSize, or any object once GC has dropped all free lists).
func (t *Table) ReleaseSlot(p oop.OOP) {
	e := t.Get(p)
	*e = Entry{Free: true}
	if t.otFreeTail == 0 {
		t.otFreeHead, t.otFreeTail = p, p
		return
	}
	t.Get(t.otFreeTail).NextFree = p
	t.otFreeTail = p
}

// PushSizeFree enqueues a released object of the given word size onto
// its per-size free list (§3.5), for O(1) reuse by a subsequent
// allocation of the same size. Only sizes <= MaxFreeListSize are
// tracked this way; larger objects must go through ReleaseSlot instead.
func (t *Table) PushSizeFree(sizeWords int, p oop.OOP) {
	e := t.Get(p)
	e.Free = false // per §3.4: "freeEntry=false while count=0" when on a size free list
	e.Count = 0
	e.NextFree = t.sizeFree[sizeWords]
	t.sizeFree[sizeWords] = p
}

// PopSizeFree dequeues an object pointer of exactly sizeWords from its
// free list, or reports false if none is available.
func (t *Table) PopSizeFree(sizeWords int) (oop.OOP, bool) {
	p := t.sizeFree[sizeWords]
	if p == 0 {
		return 0, false
	}
	e := t.Get(p)
	t.sizeFree[sizeWords] = e.NextFree
	e.NextFree = 0
	return p, true
}

// DropAllSizeFreeLists clears every size-indexed free list, turning
// their members into ordinary unreachable space for GC's mark phase to
// either resurrect (if reachable after all) or sweep (§4.1 "Mark
// phase: Drop all free lists").
func (t *Table) DropAllSizeFreeLists() {
	for i := range t.sizeFree {
		t.sizeFree[i] = 0
	}
}

// RebuildFreeChain reconstructs the OT index free chain from each
// entry's Free flag, for use right after a snapshot load: the wire
// format (internal/snapshot) carries Free per entry but not the
// linked list that normally threads free slots together.
func (t *Table) RebuildFreeChain() {
	t.otFreeHead, t.otFreeTail = 0, 0
	first := t.LinearFirst()
	for i := first; i < len(t.Entries); i++ {
		if !t.Entries[i].Free {
			continue
		}
		p := oop.OOP(i * 2)
		t.Entries[i].NextFree = 0
		if t.otFreeTail == 0 {
			t.otFreeHead, t.otFreeTail = p, p
			continue
		}
		t.Get(t.otFreeTail).NextFree = p
		t.otFreeTail = p
	}
}

// LinearFirst returns the first object-table index in linear order.
func (t *Table) LinearFirst() int { return int(oop.FirstWellKnownUserSlot) / 2 }

// Len is the number of object-table slots (excluding small integers).
func (t *Table) Len() int { return len(t.Entries) }

// FreeCount is the number of unused object-table slots, surfaced
// through internal/stats's object_table_free_slots gauge.
func (t *Table) FreeCount() int {
	n := 0
	for i := t.LinearFirst(); i < len(t.Entries); i++ {
		if t.Entries[i].Free {
			n++
		}
	}
	return n
}
