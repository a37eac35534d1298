package types

// ActionKind tags a pending storage action.
type ActionKind int

// Action kinds, in the order a flush applies them.
const (
	ActionInsert ActionKind = iota + 1
	ActionUpdate
	ActionDelete
)

// String returns the lower-case action name.
func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is a write deferred until flush. Insert carries the full field
// set, Update only the changed fields, Delete carries the last known
// state so dependency ordering can see its references.
type Action struct {
	Kind   ActionKind
	Key    EntityKey
	Fields Fields
}
