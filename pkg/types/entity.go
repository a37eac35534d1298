package types

import (
	"reflect"
	"sort"
)

// Entity is implemented by the plain records a persistence context manages.
// Fields must return a fresh copy of the persistent state (the id is not
// part of it); the context snapshots that copy and diffs it at flush time.
// References to other entities are field values of type EntityKey.
type Entity interface {
	EntityType() string
	EntityID() any
	SetEntityID(id any)
	Fields() Fields
	Hydrate(fields Fields) error
}

// EntityType registers an entity type with a persistence context factory.
// New must return an empty instance that Hydrate can fill.
type EntityType struct {
	Name     string
	Strategy IDStrategy
	New      func() Entity
}

// Fields is the persistent state of an entity keyed by field name.
type Fields map[string]any

// Clone returns a deep copy of f. Nested maps and slices are copied so a
// snapshot never aliases the live entity.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Fields:
		return t.Clone()
	case map[string]any:
		return map[string]any(Fields(t).Clone())
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	case []int64:
		return append([]int64(nil), t...)
	case []EntityKey:
		return append([]EntityKey(nil), t...)
	default:
		return v
	}
}

// Equal reports whether f and other hold the same fields with deeply
// equal values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// Diff returns the fields of f that differ from baseline. Fields present
// in baseline but missing from f are reported with a nil value. Returns
// nil when nothing changed.
func (f Fields) Diff(baseline Fields) Fields {
	var changed Fields
	for k, v := range f {
		if bv, ok := baseline[k]; ok && reflect.DeepEqual(v, bv) {
			continue
		}
		if changed == nil {
			changed = make(Fields)
		}
		changed[k] = cloneValue(v)
	}
	for k := range baseline {
		if _, ok := f[k]; ok {
			continue
		}
		if changed == nil {
			changed = make(Fields)
		}
		changed[k] = nil
	}
	return changed
}

// Names returns the field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Text returns the named field as a string, or "" if absent or not a
// string.
func (f Fields) Text(name string) string {
	s, _ := f[name].(string)
	return s
}

// Int returns the named field as int64 when it holds any integer kind.
func (f Fields) Int(name string) (int64, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false
	}
	if _, isString := v.(string); isString {
		return 0, false
	}
	n, err := NormalizeID(v)
	if err != nil {
		return 0, false
	}
	return n.(int64), true
}

// Ref returns the named field when it holds a reference.
func (f Fields) Ref(name string) (EntityKey, bool) {
	k, ok := f[name].(EntityKey)
	return k, ok
}

// Refs returns every reference held by f, including references inside
// []any and []EntityKey values, ordered by field name. Integer ids come
// back as int64 so the keys compare equal to managed keys.
func (f Fields) Refs() []EntityKey {
	var refs []EntityKey
	for _, name := range f.Names() {
		switch v := f[name].(type) {
		case EntityKey:
			refs = append(refs, normalizeRef(v))
		case []EntityKey:
			for _, k := range v {
				refs = append(refs, normalizeRef(k))
			}
		case []any:
			for _, e := range v {
				if k, ok := e.(EntityKey); ok {
					refs = append(refs, normalizeRef(k))
				}
			}
		}
	}
	return refs
}

// normalizeRef leaves keys with unusable ids as they are; they match
// nothing.
func normalizeRef(k EntityKey) EntityKey {
	if id, err := NormalizeID(k.ID); err == nil {
		k.ID = id
	}
	return k
}

// Record is a generic, map-backed Entity. It is what the CLI and the
// configuration-driven entity types use when no Go struct exists.
type Record struct {
	Type   string
	ID     any
	Values Fields
}

// NewRecord returns an empty record of the given type.
func NewRecord(entityType string) *Record {
	return &Record{Type: entityType, Values: make(Fields)}
}

// EntityType implements Entity.
func (r *Record) EntityType() string { return r.Type }

// EntityID implements Entity.
func (r *Record) EntityID() any { return r.ID }

// SetEntityID implements Entity.
func (r *Record) SetEntityID(id any) { r.ID = id }

// Fields implements Entity.
func (r *Record) Fields() Fields {
	if r.Values == nil {
		return make(Fields)
	}
	return r.Values.Clone()
}

// Hydrate implements Entity.
func (r *Record) Hydrate(fields Fields) error {
	r.Values = fields.Clone()
	if r.Values == nil {
		r.Values = make(Fields)
	}
	return nil
}

// Set assigns a field value.
func (r *Record) Set(name string, value any) {
	if r.Values == nil {
		r.Values = make(Fields)
	}
	r.Values[name] = value
}

// Get returns a field value, or nil if the field is absent.
func (r *Record) Get(name string) any {
	return r.Values[name]
}

// Unset removes a field.
func (r *Record) Unset(name string) {
	delete(r.Values, name)
}
