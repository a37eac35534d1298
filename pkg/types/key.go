package types

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EntityKey identifies a managed row by entity type and primary key.
// Keys are compared by value and used directly as map keys, so the ID
// must already be normalized (see NormalizeID); build keys with NewKey.
type EntityKey struct {
	Type string
	ID   any
}

// NewKey returns the key for the given entity type and id.
// Returns ErrUnknownEntityType for an empty type and ErrInvalidID when
// the id cannot be normalized.
func NewKey(entityType string, id any) (EntityKey, error) {
	if entityType == "" {
		return EntityKey{}, ErrUnknownEntityType
	}
	nid, err := NormalizeID(id)
	if err != nil {
		return EntityKey{}, err
	}
	return EntityKey{Type: entityType, ID: nid}, nil
}

// KeyOf returns the key of an entity using its current id.
func KeyOf(e Entity) (EntityKey, error) {
	if e == nil {
		return EntityKey{}, ErrInvalidEntity
	}
	return NewKey(e.EntityType(), e.EntityID())
}

// String renders the key as "type:id".
func (k EntityKey) String() string {
	return fmt.Sprintf("%s:%v", k.Type, k.ID)
}

// IsZero reports whether k is the zero key.
func (k EntityKey) IsZero() bool {
	return k.Type == "" && k.ID == nil
}

// ParseKey parses the "type:id" form produced by String. Ids made only of
// digits parse as int64; everything else stays a string.
func ParseKey(s string) (EntityKey, error) {
	entityType, rawID, ok := strings.Cut(s, ":")
	if !ok || entityType == "" || rawID == "" {
		return EntityKey{}, fmt.Errorf("%w: malformed key %q", ErrInvalidID, s)
	}
	return NewKey(entityType, ParseID(rawID))
}

// ParseID converts a textual id to its normalized form: base-10 integers
// become int64, other text is returned unchanged.
func ParseID(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

// NormalizeID maps an id onto the two representations used in keys:
// every Go integer kind becomes int64 and non-empty strings stay strings.
// nil, empty strings, floats and composite values return ErrInvalidID.
func NormalizeID(id any) (any, error) {
	switch v := id.(type) {
	case string:
		if v == "" {
			return nil, ErrInvalidID
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidID, v)
		}
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrInvalidID, v)
		}
		return int64(v), nil
	case nil:
		return nil, ErrInvalidID
	default:
		return nil, fmt.Errorf("%w: unsupported id type %T", ErrInvalidID, id)
	}
}

// IsUnsetID reports whether id carries no identity yet: nil, "" or an
// integer zero. Generated-id strategies require an unset id on persist.
func IsUnsetID(id any) bool {
	if id == nil {
		return true
	}
	if s, ok := id.(string); ok {
		return s == ""
	}
	n, err := NormalizeID(id)
	if err != nil {
		return false
	}
	return n == int64(0)
}

// FormatID renders a normalized id as text, the form storage backends
// use for their id columns.
func FormatID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Id kinds stored next to the textual id so 42 and "42" decode back to
// their own types.
const (
	IDKindInt  = "int"
	IDKindText = "text"
)

// IDKind returns the kind of a normalized id.
func IDKind(id any) string {
	if _, ok := id.(int64); ok {
		return IDKindInt
	}
	return IDKindText
}

// ParseStoredID rebuilds a normalized id from its text and kind.
func ParseStoredID(text, kind string) (any, error) {
	if kind != IDKindInt {
		return NormalizeID(text)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer id", ErrInvalidID, text)
	}
	return n, nil
}

// CompareIDs orders normalized ids: integers numerically before strings,
// strings lexically.
func CompareIDs(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return cmp.Compare(ai, bi)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(FormatID(a), FormatID(b))
}
