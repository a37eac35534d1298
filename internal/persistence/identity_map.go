package persistence

import (
	"sort"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// managed is one entity under management. The snapshot is the state last
// known to match storage; the change tracker diffs against it. While
// inserted is false the row exists only as a queued insert.
type managed struct {
	key      types.EntityKey
	entity   types.Entity
	snapshot types.Fields
	inserted bool
	seq      uint64
}

// identityMap guarantees at most one managed instance per key.
type identityMap struct {
	entries map[types.EntityKey]*managed
	nextSeq uint64
}

func newIdentityMap() *identityMap {
	return &identityMap{entries: make(map[types.EntityKey]*managed)}
}

func (m *identityMap) get(key types.EntityKey) (*managed, bool) {
	e, ok := m.entries[key]
	return e, ok
}

// put registers e, replacing nothing: callers check contains first.
func (m *identityMap) put(e *managed) {
	e.seq = m.nextSeq
	m.nextSeq++
	m.entries[e.key] = e
}

func (m *identityMap) remove(key types.EntityKey) (*managed, bool) {
	e, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	return e, ok
}

func (m *identityMap) contains(key types.EntityKey) bool {
	_, ok := m.entries[key]
	return ok
}

func (m *identityMap) len() int {
	return len(m.entries)
}

// ordered returns the managed entries in registration order.
func (m *identityMap) ordered() []*managed {
	out := make([]*managed, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *identityMap) reset() {
	m.entries = make(map[types.EntityKey]*managed)
}
