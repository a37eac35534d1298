// Package persistence implements the larder persistence context: an identity
// map of managed entities, snapshot-based dirty checking, a queue of
// deferred writes flushed in dependency order, identifier strategies, and
// the unit of work that bounds them.
//
// A Factory is built once per storage and entity-type registry and hands
// out independent Contexts, typically one per request:
//
//	f, err := persistence.NewFactory(store, persistence.WithEntityTypes(types...))
//	pc := f.NewContext()
//	defer pc.Close()
//
//	tx := pc.Transaction()
//	if err := tx.Begin(ctx); err != nil {
//	    return err
//	}
//	if err := pc.Persist(ctx, team); err != nil {
//	    _ = tx.Rollback()
//	    return err
//	}
//	return tx.Commit(ctx)
//
// A Context is not safe for concurrent use.
package persistence
