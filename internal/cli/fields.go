package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// parseAssignments turns name=value arguments into fields.
func parseAssignments(args []string) (types.Fields, error) {
	fields := make(types.Fields, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, usagef("invalid field %q (expected name=value)", arg)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, usagef("field %q: %v", name, err)
		}
		fields[name] = v
	}
	return fields, nil
}

// parseValue reads one command-line value. @type:id is a reference, null
// clears the field, integers become int64 and quoted text stays text.
func parseValue(raw string) (any, error) {
	switch {
	case strings.HasPrefix(raw, "@"):
		return types.ParseKey(raw[1:])
	case raw == "null":
		return nil, nil
	case raw == "true":
		return true, nil
	case raw == "false":
		return false, nil
	case strings.HasPrefix(raw, `"`):
		return strconv.Unquote(raw)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return raw, nil
}

// applyFields writes fields into r. A nil value removes the field.
func applyFields(r *types.Record, fields types.Fields) {
	for name, v := range fields {
		if v == nil {
			r.Unset(name)
			continue
		}
		r.Set(name, v)
	}
}

type recordJSON struct {
	Type   string          `json:"type"`
	ID     any             `json:"id"`
	Fields json.RawMessage `json:"fields"`
}

func toJSON(e types.Entity) (recordJSON, error) {
	fields, err := types.EncodeFields(e.Fields())
	if err != nil {
		return recordJSON{}, err
	}
	return recordJSON{Type: e.EntityType(), ID: e.EntityID(), Fields: fields}, nil
}

func printEntity(w io.Writer, jsonMode bool, e types.Entity) error {
	if !jsonMode {
		_, err := fmt.Fprintln(w, formatEntity(e))
		return err
	}
	rec, err := toJSON(e)
	if err != nil {
		return err
	}
	return writeJSON(w, rec)
}

func printEntities(w io.Writer, jsonMode bool, es []types.Entity) error {
	sort.SliceStable(es, func(i, j int) bool {
		return types.CompareIDs(es[i].EntityID(), es[j].EntityID()) < 0
	})
	if !jsonMode {
		for _, e := range es {
			if _, err := fmt.Fprintln(w, formatEntity(e)); err != nil {
				return err
			}
		}
		return nil
	}
	out := make([]recordJSON, 0, len(es))
	for _, e := range es {
		rec, err := toJSON(e)
		if err != nil {
			return err
		}
		out = append(out, rec)
	}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// formatEntity renders "type:id name=value ..." with fields sorted by
// name, in the syntax parseValue accepts.
func formatEntity(e types.Entity) string {
	var b strings.Builder
	b.WriteString(types.EntityKey{Type: e.EntityType(), ID: e.EntityID()}.String())
	fields := e.Fields()
	for _, name := range fields.Names() {
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(formatValue(fields[name]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case types.EntityKey:
		return "@" + t.String()
	case string:
		if parsed, err := parseValue(t); err != nil || parsed != any(t) || t == "" || strings.ContainsAny(t, " \t\n") {
			return strconv.Quote(t)
		}
		return t
	default:
		return fmt.Sprint(t)
	}
}
