package interp

import "github.com/devhawala/ST80-sub000/internal/oop"

// MethodCacheSize is the number of slots in the set-associative method
// lookup cache (§4.2 "Method lookup cache"). It must be a power of two
// so the probe mask below is a cheap AND.
const MethodCacheSize = 256

// cacheEntry mirrors one row of the cache: the (selector, class) key
// that produced it, and the looked-up method plus the class in which
// it was actually found (needed to resume a super-send lookup, and to
// report the correct "method class" to primitives like thisContext).
type cacheEntry struct {
	selector    oop.OOP
	class       oop.OOP
	method      oop.OOP
	methodClass oop.OOP
	primitive   int
	valid       bool
}

// MethodCache is addressed by XORing selector and class rather than
// summing them: a sum clusters every common (selector, class) pair
// that share a low class pointer value into the same probe chain,
// while XOR spreads them independently of which operand is larger.
// Chosen and recorded as an explicit Open-Question decision; see
// DESIGN.md.
type MethodCache struct {
	entries [MethodCacheSize]cacheEntry

	Hits   int
	Misses int
}

func NewMethodCache() *MethodCache {
	return &MethodCache{}
}

func (c *MethodCache) index(selector, class oop.OOP) int {
	return int(uint16(selector)^uint16(class)) & (MethodCacheSize - 1)
}

// Lookup returns the cached method for (selector, class), if present.
func (c *MethodCache) Lookup(selector, class oop.OOP) (method, methodClass oop.OOP, primitive int, ok bool) {
	e := &c.entries[c.index(selector, class)]
	if e.valid && e.selector == selector && e.class == class {
		c.Hits++
		return e.method, e.methodClass, e.primitive, true
	}
	c.Misses++
	return 0, 0, 0, false
}

// Insert records a lookup result, overwriting whatever previously
// occupied the slot (a single-entry-per-slot cache: no chaining, no
// eviction policy beyond last-write-wins).
func (c *MethodCache) Insert(selector, class, method, methodClass oop.OOP, primitive int) {
	c.entries[c.index(selector, class)] = cacheEntry{
		selector:    selector,
		class:       class,
		method:      method,
		methodClass: methodClass,
		primitive:   primitive,
		valid:       true,
	}
}

// Flush invalidates the entire cache. Called whenever a method
// dictionary is mutated (compile, recompile, class redefinition) since
// a stale entry would otherwise resurrect a superseded method forever.
func (c *MethodCache) Flush() {
	*c = MethodCache{}
}

// FlushSelector invalidates every entry for one selector, cheaper than
// a full flush when only one method dictionary changed.
func (c *MethodCache) FlushSelector(selector oop.OOP) {
	for i := range c.entries {
		if c.entries[i].valid && c.entries[i].selector == selector {
			c.entries[i] = cacheEntry{}
		}
	}
}
