package types

import "fmt"

// Identifier strategy names as they appear in configuration.
const (
	StrategyPreAssigned   = "pre_assigned"
	StrategyAutoIncrement = "auto_increment"
	StrategySequenceBlock = "sequence_block"
	StrategyUUID          = "uuid"
)

// IDStrategy selects how an entity type obtains its primary key. The set of
// strategies is closed: PreAssigned, AutoIncrement, SequenceBlock and
// GeneratedUUID.
type IDStrategy interface {
	// Name returns the configuration name of the strategy.
	Name() string
	isIDStrategy()
}

// PreAssigned leaves id assignment to the caller. Persist fails with
// ErrInvalidID when the entity has no id.
type PreAssigned struct{}

// AutoIncrement lets storage generate the id on insert. The insert cannot be
// deferred: Persist writes the row immediately and copies the generated id
// back into the entity.
type AutoIncrement struct{}

// SequenceBlock draws ids from a named storage sequence, reserving
// BlockSize ids per round trip. Ids left in a block when the process exits
// are never reused.
type SequenceBlock struct {
	// Sequence names the storage counter; empty means the entity type name.
	Sequence  string
	BlockSize int
}

// GeneratedUUID assigns a UUID v7 string at persist time.
type GeneratedUUID struct{}

func (PreAssigned) Name() string   { return StrategyPreAssigned }
func (AutoIncrement) Name() string { return StrategyAutoIncrement }
func (SequenceBlock) Name() string { return StrategySequenceBlock }
func (GeneratedUUID) Name() string { return StrategyUUID }

func (PreAssigned) isIDStrategy()   {}
func (AutoIncrement) isIDStrategy() {}
func (SequenceBlock) isIDStrategy() {}
func (GeneratedUUID) isIDStrategy() {}

// SequenceName returns the sequence to draw from for entityType.
func (s SequenceBlock) SequenceName(entityType string) string {
	if s.Sequence != "" {
		return s.Sequence
	}
	return entityType
}

// Validate checks the block size. A block size of 1 is legal.
func (s SequenceBlock) Validate() error {
	if s.BlockSize < 1 {
		return fmt.Errorf("%w: %d", ErrBlockSizeInvalid, s.BlockSize)
	}
	return nil
}

// ParseStrategy builds a strategy from its configuration form.
func ParseStrategy(name string, blockSize int, sequence string) (IDStrategy, error) {
	switch name {
	case StrategyPreAssigned:
		return PreAssigned{}, nil
	case StrategyAutoIncrement:
		return AutoIncrement{}, nil
	case StrategySequenceBlock:
		s := SequenceBlock{Sequence: sequence, BlockSize: blockSize}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	case StrategyUUID:
		return GeneratedUUID{}, nil
	case "":
		return nil, ErrStrategyEmpty
	default:
		return nil, fmt.Errorf("%w: %q", ErrStrategyUnknown, name)
	}
}
