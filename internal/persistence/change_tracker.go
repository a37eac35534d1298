package persistence

import (
	"fmt"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// dirtyEntry is a managed entity whose state differs from its snapshot.
type dirtyEntry struct {
	entry   *managed
	current types.Fields
	changed types.Fields
}

// changeTracker finds dirty entities by diffing current state against the
// snapshot. It runs once per flush; setters on entities cost nothing.
type changeTracker struct{}

// computeDirty returns the dirty entries in the order given. Changing the
// id of a managed entity is a caller bug and fails with ErrIllegalState.
func (changeTracker) computeDirty(entries []*managed) ([]dirtyEntry, error) {
	var dirty []dirtyEntry
	for _, e := range entries {
		id, err := types.NormalizeID(e.entity.EntityID())
		if err != nil || id != e.key.ID {
			return nil, fmt.Errorf("%w: identifier of managed entity %s was changed to %v",
				types.ErrIllegalState, e.key, e.entity.EntityID())
		}

		if !e.inserted {
			// The queued insert carries the state current at flush.
			continue
		}
		current := e.entity.Fields().Clone()
		changed := current.Diff(e.snapshot)
		if len(changed) == 0 {
			continue
		}
		dirty = append(dirty, dirtyEntry{entry: e, current: current, changed: changed})
	}
	return dirty, nil
}
