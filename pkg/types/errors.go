package types

import (
	"errors"
	"fmt"
)

// Lookup errors.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidID         = errors.New("invalid entity ID")
	ErrInvalidEntity     = errors.New("invalid entity")
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// Lifecycle errors. ErrIllegalState marks caller bugs: an operation ran
// outside the lifecycle state it requires. They are never retried.
var (
	ErrIllegalState  = errors.New("illegal state")
	ErrEntityExists  = errors.New("another instance with the same key is already managed")
	ErrContextClosed = errors.New("persistence context is closed")
	ErrNotQueryable  = errors.New("storage does not support queries")
)

// Storage errors returned by the bundled storage implementations.
var (
	ErrDuplicateKey = errors.New("row with the same key already exists")
)

// CollaboratorError reports a failed storage call. The original cause is
// preserved for errors.Is / errors.As.
type CollaboratorError struct {
	Op  string
	Key EntityKey
	Err error
}

func (e *CollaboratorError) Error() string {
	switch {
	case e.Key.IsZero():
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	case e.Key.ID == nil:
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key.Type, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaboratorError reports whether err wraps a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
