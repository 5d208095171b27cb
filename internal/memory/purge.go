package memory

import "github.com/devhawala/ST80-sub000/internal/oop"

// IdentityDictionary is the minimal shape the purge extension needs:
// enough to walk and rewrite one designated dictionary's keys.
type IdentityDictionary struct {
	Dict oop.OOP
	Keys []int // field indices within Dict holding candidate keys
}

// PurgeIdentityKeys implements §4.1's optional "identity-dictionary
// purge" extension: before marking, replace selected keys in
// designated identity dictionaries with a sentinel; after marking, for
// each removed key restore it if some other root kept it alive,
// otherwise it has already been swept.
//
// Removal is wrapped in the reentrant release-suspend discipline of
// §4.1/§5: without it, dropping the dictionary's own reference could
// free the key (and recursively its fields) before the mark pass gets
// a chance to discover it is still reachable some other way, which
// would leave a dangling pointer behind in whatever root kept it.
func (m *Manager) PurgeIdentityKeys(dicts []IdentityDictionary, sentinel oop.OOP, roots Roots) {
	type removed struct {
		dict  oop.OOP
		field int
		key   oop.OOP
	}
	var pulled []removed

	m.SuspendReleasing()
	for _, d := range dicts {
		for _, field := range d.Keys {
			key := m.FetchPointer(field, d.Dict)
			if key == oop.NilPointer || key == sentinel {
				continue
			}
			m.StorePointer(field, d.Dict, sentinel)
			pulled = append(pulled, removed{d.Dict, field, key})
		}
	}

	m.CollectGarbage(roots)

	for _, r := range pulled {
		idx := int(r.key) / 2
		if idx < len(m.markGen.gen) && m.markGen.isMarked(idx) {
			m.StorePointer(r.field, r.dict, r.key)
		}
		// Otherwise it was unreachable from every other root and the
		// sweep phase above has already freed it.
	}
	m.ResumeReleasing()
}
