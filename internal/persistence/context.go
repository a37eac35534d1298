package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Context is a persistence context: an identity map plus the writes
// deferred until flush. A Context is confined to one goroutine.
type Context struct {
	factory  *Factory
	tx       types.StorageTx
	identity *identityMap
	queue    *actionQueue
	tracker  changeTracker
	blocks   *blockAllocator
	removed  map[types.EntityKey]*managed
	uow      *UnitOfWork
	closed   bool
	log      *slog.Logger
}

// Stats describes what a context currently holds.
type Stats struct {
	Managed int
	Pending int
	Removed int
	State   State
}

// storage returns the open storage transaction, or the plain storage when
// no transaction is open.
func (c *Context) storage() types.Storage {
	if c.tx != nil {
		return c.tx
	}
	return c.factory.store
}

func (c *Context) observeStorage(op string, err error) {
	c.factory.metrics.ObserveStorage(op, err)
}

// requireActive checks the lifecycle state mutations need.
func (c *Context) requireActive(op string) error {
	if c.closed {
		return closedErr(op)
	}
	if !c.uow.IsActive() {
		return fmt.Errorf("%w: %s requires an active unit of work (state %s)",
			types.ErrIllegalState, op, c.uow.State())
	}
	return nil
}

func closedErr(op string) error {
	return fmt.Errorf("%w: %s", types.ErrContextClosed, op)
}

// Transaction returns the unit of work bounding this context.
func (c *Context) Transaction() *UnitOfWork {
	return c.uow
}

// Persist makes e managed. Its id is assigned by the strategy of its
// entity type, and its row is written at the next flush unless the
// strategy already wrote it. Persisting a managed entity again is a no-op;
// persisting a removed one cancels its pending delete.
func (c *Context) Persist(ctx context.Context, e types.Entity) error {
	if err := c.requireActive("persist"); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: nil entity", types.ErrInvalidEntity)
	}
	et, err := c.factory.entityType(e.EntityType())
	if err != nil {
		return err
	}

	if !types.IsUnsetID(e.EntityID()) {
		key, err := types.KeyOf(e)
		if err != nil {
			return err
		}
		if entry, ok := c.identity.get(key); ok {
			if sameInstance(entry.entity, e) {
				return nil
			}
			return fmt.Errorf("%w: %s", types.ErrEntityExists, key)
		}
		if entry, ok := c.removed[key]; ok {
			if !sameInstance(entry.entity, e) {
				return fmt.Errorf("%w: %s is pending deletion", types.ErrEntityExists, key)
			}
			c.queue.cancelDelete(key)
			delete(c.removed, key)
			c.identity.put(entry)
			c.log.Debug("cancelled pending delete", "key", key.String())
			return nil
		}
	}

	written, err := c.assignID(ctx, et, e)
	if err != nil {
		return err
	}
	key, err := types.KeyOf(e)
	if err != nil {
		return err
	}
	if c.identity.contains(key) {
		return fmt.Errorf("%w: %s", types.ErrEntityExists, key)
	}

	entry := &managed{key: key, entity: e, snapshot: e.Fields().Clone(), inserted: written}
	c.identity.put(entry)
	if !written {
		c.queue.enqueue(types.Action{Kind: types.ActionInsert, Key: key, Fields: entry.snapshot})
	}
	c.log.Debug("persisted", "key", key.String(), "strategy", et.Strategy.Name(), "written", written)
	return nil
}

// Find returns the managed instance for (entityType, id), loading it from
// storage on a miss. It fails with ErrNotFound when storage has no row or
// the entity was removed in this context. Find does not need an active
// unit of work.
func (c *Context) Find(ctx context.Context, entityType string, id any) (types.Entity, error) {
	if c.closed {
		return nil, closedErr("find")
	}
	et, err := c.factory.entityType(entityType)
	if err != nil {
		return nil, err
	}
	key, err := types.NewKey(entityType, id)
	if err != nil {
		return nil, err
	}
	if _, ok := c.removed[key]; ok {
		return nil, fmt.Errorf("%w: %s is pending deletion", types.ErrNotFound, key)
	}
	if entry, ok := c.identity.get(key); ok {
		c.factory.metrics.ObserveLookup(true)
		return entry.entity, nil
	}
	c.factory.metrics.ObserveLookup(false)

	fields, err := c.storage().Load(ctx, entityType, key.ID)
	c.observeStorage("load", err)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
		}
		return nil, &types.CollaboratorError{Op: "load", Key: key, Err: err}
	}
	return c.manageLoaded(et, key, fields)
}

// manageLoaded hydrates a fresh instance from stored fields and registers it.
func (c *Context) manageLoaded(et types.EntityType, key types.EntityKey, fields types.Fields) (types.Entity, error) {
	e := et.New()
	e.SetEntityID(key.ID)
	if err := e.Hydrate(fields.Clone()); err != nil {
		return nil, fmt.Errorf("hydrating %s: %w", key, err)
	}
	c.identity.put(&managed{key: key, entity: e, snapshot: e.Fields().Clone(), inserted: true})
	return e, nil
}

// Remove schedules the row of a managed entity for deletion and detaches
// the entity. Removing an entity whose insert has not been flushed just
// drops the insert.
func (c *Context) Remove(ctx context.Context, e types.Entity) error {
	if err := c.requireActive("remove"); err != nil {
		return err
	}
	entry, err := c.entryOf(e)
	if err != nil {
		return err
	}
	c.identity.remove(entry.key)
	if c.queue.cancelInsert(entry.key) {
		c.log.Debug("removed before insert", "key", entry.key.String())
		return nil
	}
	c.queue.enqueue(types.Action{Kind: types.ActionDelete, Key: entry.key, Fields: entry.snapshot})
	c.removed[entry.key] = entry
	c.log.Debug("removed", "key", entry.key.String())
	return nil
}

// Detach stops managing e without deleting it. A queued insert of e is
// dropped; changes made to e are never flushed.
func (c *Context) Detach(e types.Entity) error {
	if c.closed {
		return closedErr("detach")
	}
	entry, err := c.entryOf(e)
	if err != nil {
		return err
	}
	c.identity.remove(entry.key)
	c.queue.cancelInsert(entry.key)
	return nil
}

// Contains reports whether e is the instance managed under its key.
func (c *Context) Contains(e types.Entity) bool {
	_, err := c.entryOf(e)
	return err == nil
}

func (c *Context) entryOf(e types.Entity) (*managed, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", types.ErrInvalidEntity)
	}
	key, err := types.KeyOf(e)
	if err != nil {
		return nil, fmt.Errorf("%w: entity is not managed: %v", types.ErrIllegalState, err)
	}
	entry, ok := c.identity.get(key)
	if !ok || !sameInstance(entry.entity, e) {
		return nil, fmt.Errorf("%w: %s is not managed by this context", types.ErrIllegalState, key)
	}
	return entry, nil
}

// Flush writes every pending change to storage. A failed flush marks the
// unit of work rollback-only.
func (c *Context) Flush(ctx context.Context) error {
	if err := c.requireActive("flush"); err != nil {
		return err
	}
	if err := c.flush(ctx); err != nil {
		c.uow.SetRollbackOnly()
		return err
	}
	return nil
}

func (c *Context) flush(ctx context.Context) error {
	start := time.Now()

	// Queued inserts carry the state current at flush time.
	for i := range c.queue.inserts {
		a := &c.queue.inserts[i]
		if entry, ok := c.identity.get(a.Key); ok {
			a.Fields = entry.entity.Fields().Clone()
		}
	}

	entries := c.identity.ordered()
	dirty, err := c.tracker.computeDirty(entries)
	if err != nil {
		return err
	}
	for _, d := range dirty {
		c.queue.enqueue(types.Action{Kind: types.ActionUpdate, Key: d.entry.key, Fields: d.changed})
	}
	current := make(map[types.EntityKey]types.Fields, len(dirty))
	for _, d := range dirty {
		current[d.entry.key] = d.current
	}

	actions := c.queue.drainInOrder()
	for _, a := range actions {
		if err := c.apply(ctx, a); err != nil {
			c.log.Warn("flush failed", "action", a.Kind.String(), "key", a.Key.String(), "err", err)
			return err
		}
		c.factory.metrics.ObserveAction(a.Kind.String())
		c.log.Debug("flushed", "action", a.Kind.String(), "key", a.Key.String())

		switch a.Kind {
		case types.ActionInsert:
			if entry, ok := c.identity.get(a.Key); ok {
				entry.snapshot = a.Fields
				entry.inserted = true
			}
		case types.ActionUpdate:
			if entry, ok := c.identity.get(a.Key); ok {
				entry.snapshot = current[a.Key]
			}
		case types.ActionDelete:
			delete(c.removed, a.Key)
		}
	}
	c.factory.metrics.ObserveFlush(time.Since(start))
	return nil
}

func (c *Context) apply(ctx context.Context, a types.Action) error {
	var (
		op  = a.Kind.String()
		err error
	)
	switch a.Kind {
	case types.ActionInsert:
		_, err = c.storage().Insert(ctx, a.Key.Type, a.Key.ID, a.Fields.Clone())
	case types.ActionUpdate:
		err = c.storage().Update(ctx, a.Key.Type, a.Key.ID, a.Fields.Clone())
	case types.ActionDelete:
		err = c.storage().Delete(ctx, a.Key.Type, a.Key.ID)
	default:
		err = fmt.Errorf("unknown action kind %d", a.Kind)
	}
	c.observeStorage(op, err)
	if err != nil {
		return &types.CollaboratorError{Op: op, Key: a.Key, Err: err}
	}
	return nil
}

// Clear detaches every managed entity and drops pending writes without
// flushing. Reserved id blocks are kept.
func (c *Context) Clear() {
	c.identity.reset()
	c.queue.reset()
	c.removed = make(map[types.EntityKey]*managed)
}

// Close rolls back an active unit of work and releases the context. Every
// later operation fails with ErrContextClosed.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	var err error
	if c.uow.IsActive() {
		err = c.uow.Rollback()
	}
	c.Clear()
	c.closed = true
	return err
}

// Stats returns counts of managed entities, pending actions and entities
// awaiting deletion.
func (c *Context) Stats() Stats {
	return Stats{
		Managed: c.identity.len(),
		Pending: c.queue.len(),
		Removed: len(c.removed),
		State:   c.uow.State(),
	}
}

// sameInstance reports whether a and b are the same object. Pointer
// entities compare by address; non-comparable values never match.
func sameInstance(a, b types.Entity) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
