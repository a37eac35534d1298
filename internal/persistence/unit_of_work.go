package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// State is the lifecycle state of a unit of work.
type State int

// Unit of work states.
const (
	Inactive State = iota
	Active
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// ErrRollbackOnly is returned by Commit after a failed flush marked the
// unit of work rollback-only. The unit of work has been rolled back.
var ErrRollbackOnly = errors.New("unit of work is marked rollback-only")

// UnitOfWork bounds the mutations of one persistence context. It moves
// Inactive -> Active -> Committed | RolledBack and may begin again after
// it ended. The persistence context is cleared whenever it ends.
type UnitOfWork struct {
	pc           *Context
	state        State
	id           string
	rollbackOnly bool
}

// Begin starts the unit of work, opening a storage transaction when the
// storage supports them.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.pc.closed {
		return closedErr("begin")
	}
	if u.state == Active {
		return fmt.Errorf("%w: unit of work %s is already active", types.ErrIllegalState, u.id)
	}

	if tr, ok := u.pc.factory.store.(types.Transactor); ok {
		tx, err := tr.Begin(ctx)
		u.pc.observeStorage("begin", err)
		if err != nil {
			return &types.CollaboratorError{Op: "begin", Err: err}
		}
		u.pc.tx = tx
	}

	u.id = uuid.Must(uuid.NewV7()).String()
	u.state = Active
	u.rollbackOnly = false
	u.pc.log.Debug("unit of work started", "uow", u.id)
	return nil
}

// Commit flushes the context and commits the storage transaction. Any
// failure rolls the unit of work back; the returned error is the cause.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.state != Active {
		return fmt.Errorf("%w: commit requires an active unit of work (state %s)", types.ErrIllegalState, u.state)
	}
	if u.rollbackOnly {
		if err := u.Rollback(); err != nil {
			return errors.Join(ErrRollbackOnly, err)
		}
		return ErrRollbackOnly
	}

	if err := u.pc.flush(ctx); err != nil {
		return u.abort(err)
	}
	if tx := u.pc.tx; tx != nil {
		err := tx.Commit()
		u.pc.observeStorage("commit", err)
		u.pc.tx = nil
		if err != nil {
			u.pc.blocks.reset()
			u.end(RolledBack)
			return &types.CollaboratorError{Op: "commit", Err: err}
		}
	}
	u.end(Committed)
	return nil
}

// abort rolls back after a failed commit and returns cause, joined with
// any rollback failure.
func (u *UnitOfWork) abort(cause error) error {
	if err := u.Rollback(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Rollback discards every pending change, rolls back the storage
// transaction and clears the context. Reserved id blocks are dropped too,
// since the transaction that reserved them was undone.
func (u *UnitOfWork) Rollback() error {
	if u.state != Active {
		return fmt.Errorf("%w: rollback requires an active unit of work (state %s)", types.ErrIllegalState, u.state)
	}
	var err error
	if tx := u.pc.tx; tx != nil {
		err = tx.Rollback()
		u.pc.observeStorage("rollback", err)
		u.pc.tx = nil
		if err != nil {
			err = &types.CollaboratorError{Op: "rollback", Err: err}
		}
	}
	u.pc.blocks.reset()
	u.end(RolledBack)
	return err
}

func (u *UnitOfWork) end(s State) {
	u.state = s
	u.pc.Clear()
	outcome := "committed"
	if s == RolledBack {
		outcome = "rolled_back"
	}
	u.pc.factory.metrics.ObserveUnitOfWork(outcome)
	u.pc.log.Debug("unit of work ended", "uow", u.id, "state", s.String())
}

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	return u.state
}

// IsActive reports whether the unit of work accepts mutations.
func (u *UnitOfWork) IsActive() bool {
	return u.state == Active
}

// ID returns the identifier of the current or last unit of work, or ""
// before the first Begin.
func (u *UnitOfWork) ID() string {
	return u.id
}

// SetRollbackOnly makes the next Commit roll back instead.
func (u *UnitOfWork) SetRollbackOnly() {
	if u.state == Active {
		u.rollbackOnly = true
	}
}

// RollbackOnly reports whether the unit of work can only roll back.
func (u *UnitOfWork) RollbackOnly() bool {
	return u.rollbackOnly
}
