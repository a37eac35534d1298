package persistence

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Query returns the entities of entityType whose stored fields equal every
// value in filter. With FlushAuto pending changes are flushed first so the
// result reflects them. Rows already managed resolve to the managed
// instance; rows removed in this context are skipped.
//
// Filtering on a reference field navigates the inverse side of a
// relation, e.g. the members of a team:
//
//	members, err := pc.Query(ctx, "member", types.Fields{"team": teamKey})
func (c *Context) Query(ctx context.Context, entityType string, filter types.Fields) ([]types.Entity, error) {
	if c.closed {
		return nil, closedErr("query")
	}
	et, err := c.factory.entityType(entityType)
	if err != nil {
		return nil, err
	}
	q, ok := c.storage().(types.Querier)
	if !ok {
		return nil, types.ErrNotQueryable
	}

	if c.factory.mode == types.FlushAuto && c.uow.IsActive() {
		if err := c.Flush(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := q.Fetch(ctx, entityType, filter.Clone())
	c.observeStorage("fetch", err)
	if err != nil {
		return nil, &types.CollaboratorError{Op: "fetch", Key: types.EntityKey{Type: entityType}, Err: err}
	}

	out := make([]types.Entity, 0, len(rows))
	for _, row := range rows {
		key, err := types.NewKey(entityType, row.ID)
		if err != nil {
			return nil, fmt.Errorf("fetched row of %s: %w", entityType, err)
		}
		if _, gone := c.removed[key]; gone {
			continue
		}
		if entry, ok := c.identity.get(key); ok {
			out = append(out, entry.entity)
			continue
		}
		e, err := c.manageLoaded(et, key, row.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
