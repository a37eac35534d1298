package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON markers for references inside encoded fields.
const (
	refTypeMarker = "$ref"
	refIDMarker   = "$id"
)

// EncodeFields renders fields as a JSON object. References are written as
// {"$ref": type, "$id": id} so DecodeFields can restore them.
func EncodeFields(f Fields) ([]byte, error) {
	if f == nil {
		f = Fields{}
	}
	out, err := json.Marshal(encodeValue(map[string]any(f)))
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	return out, nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case EntityKey:
		return map[string]any{refTypeMarker: t.Type, refIDMarker: t.ID}
	case Fields:
		return encodeValue(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = encodeValue(e)
		}
		return m
	case []EntityKey:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = encodeValue(e)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = encodeValue(e)
		}
		return s
	default:
		return v
	}
}

// DecodeFields parses a JSON object written by EncodeFields. Integral
// numbers decode as int64, other numbers as float64.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	f := make(Fields, len(raw))
	for k, v := range raw {
		dv, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("decoding field %q: %w", k, err)
		}
		f[k] = dv
	}
	return f, nil
}

// CanonicalFields returns f as it reads back from storage: integers become
// int64, integral floats become int64 and reference ids are normalized.
// Backends compare filters in this form. Empty input yields nil.
func CanonicalFields(f Fields) (Fields, error) {
	if len(f) == 0 {
		return nil, nil
	}
	raw, err := EncodeFields(f)
	if err != nil {
		return nil, err
	}
	return DecodeFields(raw)
}

func decodeValue(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	case map[string]any:
		if refType, ok := t[refTypeMarker].(string); ok && len(t) == 2 {
			id, err := decodeValue(t[refIDMarker])
			if err != nil {
				return nil, err
			}
			return NewKey(refType, id)
		}
		m := make(map[string]any, len(t))
		for k, e := range t {
			dv, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = dv
		}
		return m, nil
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			dv, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			s[i] = dv
		}
		return s, nil
	default:
		return v, nil
	}
}
