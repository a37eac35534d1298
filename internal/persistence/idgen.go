package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// errEmptyBlock is returned when storage hands out a block with no ids.
var errEmptyBlock = errors.New("sequence returned an empty id block")

// idBlock is the unconsumed rest of one reserved range.
type idBlock struct {
	next      int64
	remaining int
}

// blockAllocator hands out ids from reserved sequence blocks, calling
// storage only when the local block of a sequence is exhausted.
type blockAllocator struct {
	blocks map[string]*idBlock
}

func newBlockAllocator() *blockAllocator {
	return &blockAllocator{blocks: make(map[string]*idBlock)}
}

// next returns the next id of sequence. reserve is called with the block
// size when a new block is needed.
func (a *blockAllocator) next(sequence string, reserve func() (int64, int, error)) (int64, error) {
	b := a.blocks[sequence]
	if b == nil || b.remaining == 0 {
		first, count, err := reserve()
		if err != nil {
			return 0, err
		}
		if count < 1 {
			return 0, errEmptyBlock
		}
		b = &idBlock{next: first, remaining: count}
		a.blocks[sequence] = b
	}
	id := b.next
	b.next++
	b.remaining--
	return id, nil
}

// reset forgets every reserved block. Used after a rollback, when the
// storage transaction that reserved them was undone.
func (a *blockAllocator) reset() {
	a.blocks = make(map[string]*idBlock)
}

// assignID gives e an identifier according to the strategy of its type.
// It reports whether the strategy already wrote the row, which only
// AutoIncrement does.
func (c *Context) assignID(ctx context.Context, et types.EntityType, e types.Entity) (written bool, err error) {
	current := e.EntityID()

	switch s := et.Strategy.(type) {
	case types.PreAssigned:
		if types.IsUnsetID(current) {
			return false, fmt.Errorf("%w: %s requires a caller-assigned id", types.ErrInvalidID, et.Name)
		}
		return false, nil

	case types.AutoIncrement:
		if err := requireUnset(et, current); err != nil {
			return false, err
		}
		fields := e.Fields().Clone()
		id, err := c.storage().Insert(ctx, et.Name, nil, fields)
		c.observeStorage("insert", err)
		if err != nil {
			return false, &types.CollaboratorError{Op: "insert", Key: types.EntityKey{Type: et.Name}, Err: err}
		}
		nid, err := types.NormalizeID(id)
		if err != nil {
			return false, &types.CollaboratorError{Op: "insert", Key: types.EntityKey{Type: et.Name}, Err: err}
		}
		e.SetEntityID(nid)
		return true, nil

	case types.SequenceBlock:
		if err := requireUnset(et, current); err != nil {
			return false, err
		}
		sequence := s.SequenceName(et.Name)
		id, err := c.blocks.next(sequence, func() (int64, int, error) {
			first, count, err := c.storage().NextIDBlock(ctx, sequence, s.BlockSize)
			c.observeStorage("next_id_block", err)
			if err == nil {
				c.factory.metrics.ObserveIDBlock()
				c.log.Debug("reserved id block",
					"sequence", sequence, "first", first, "count", count)
			}
			return first, count, err
		})
		if err != nil {
			return false, &types.CollaboratorError{Op: "next_id_block", Key: types.EntityKey{Type: et.Name}, Err: err}
		}
		e.SetEntityID(id)
		return false, nil

	case types.GeneratedUUID:
		if err := requireUnset(et, current); err != nil {
			return false, err
		}
		id, err := uuid.NewV7()
		if err != nil {
			return false, fmt.Errorf("generating uuid: %w", err)
		}
		e.SetEntityID(id.String())
		return false, nil

	default:
		return false, fmt.Errorf("%w: %T", types.ErrStrategyUnknown, et.Strategy)
	}
}

func requireUnset(et types.EntityType, id any) error {
	if types.IsUnsetID(id) {
		return nil
	}
	return fmt.Errorf("%w: %s assigns ids with %s but entity already has id %v",
		types.ErrInvalidID, et.Name, et.Strategy.Name(), id)
}
