package memory

import (
	"context"
	"errors"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// ErrTxDone is returned by calls on a committed or rolled back transaction.
var ErrTxDone = errors.New("transaction already finished")

// Tx is a transaction over a private clone of the store state.
type Tx struct {
	store *Store
	state state
	done  bool
}

func (t *Tx) lock() error {
	t.store.mu.Lock()
	if t.done {
		t.store.mu.Unlock()
		return ErrTxDone
	}
	return nil
}

// Load implements types.Storage.
func (t *Tx) Load(ctx context.Context, entityType string, id any) (types.Fields, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.store.mu.Unlock()
	return load(t.store, &t.state, entityType, id)
}

// Insert implements types.Storage.
func (t *Tx) Insert(ctx context.Context, entityType string, id any, fields types.Fields) (any, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.store.mu.Unlock()
	return insert(t.store, &t.state, entityType, id, fields)
}

// Update implements types.Storage.
func (t *Tx) Update(ctx context.Context, entityType string, id any, changed types.Fields) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.store.mu.Unlock()
	return update(t.store, &t.state, entityType, id, changed)
}

// Delete implements types.Storage.
func (t *Tx) Delete(ctx context.Context, entityType string, id any) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.store.mu.Unlock()
	return remove(t.store, &t.state, entityType, id)
}

// NextIDBlock implements types.Storage.
func (t *Tx) NextIDBlock(ctx context.Context, sequence string, size int) (int64, int, error) {
	if err := t.lock(); err != nil {
		return 0, 0, err
	}
	defer t.store.mu.Unlock()
	return nextIDBlock(t.store, &t.state, sequence, size)
}

// Fetch implements types.Querier.
func (t *Tx) Fetch(ctx context.Context, entityType string, filter types.Fields) ([]types.Row, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.store.mu.Unlock()
	return fetch(t.store, &t.state, entityType, filter)
}

// Commit replaces the store state with the transaction state.
func (t *Tx) Commit() error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.store.mu.Unlock()
	if err := t.store.enter(Call{Op: OpCommit}); err != nil {
		return err
	}
	t.store.state = t.state
	t.done = true
	return nil
}

// Rollback discards the transaction state.
func (t *Tx) Rollback() error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.store.mu.Unlock()
	t.done = true
	return t.store.enter(Call{Op: OpRollback})
}
