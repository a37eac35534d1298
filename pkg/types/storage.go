package types

import "context"

// Storage is the collaborator a persistence context flushes into. Calls
// block on I/O; implementations own timeouts and retries.
type Storage interface {
	// Load returns the stored fields of the row, or ErrNotFound.
	Load(ctx context.Context, entityType string, id any) (Fields, error)

	// Insert writes a new row. When id is nil the storage generates one
	// and returns it; otherwise the returned id equals id.
	Insert(ctx context.Context, entityType string, id any, fields Fields) (any, error)

	// Update merges changed into the stored row. A nil value clears the
	// field. Returns ErrNotFound if the row does not exist.
	Update(ctx context.Context, entityType string, id any, changed Fields) error

	// Delete removes the row. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, entityType string, id any) error

	// NextIDBlock reserves size consecutive ids from the named sequence and
	// returns the first one and how many were reserved.
	NextIDBlock(ctx context.Context, sequence string, size int) (first int64, count int, err error)
}

// StorageTx is a Storage bound to one storage transaction.
type StorageTx interface {
	Storage
	Commit() error
	Rollback() error
}

// Transactor is implemented by storage that can group calls into a
// transaction. A unit of work begins one when the storage supports it.
type Transactor interface {
	Begin(ctx context.Context) (StorageTx, error)
}

// Row is one stored entity returned by Querier.Fetch.
type Row struct {
	ID     any
	Fields Fields
}

// Querier is implemented by storage that can list rows of one type
// matching an equality filter. An empty filter matches every row.
type Querier interface {
	Fetch(ctx context.Context, entityType string, filter Fields) ([]Row, error)
}

// StoredRow is one stored entity of any type, the unit of export and
// import.
type StoredRow struct {
	Type   string
	ID     any
	Fields Fields
}

// Dumper is implemented by storage that can list every stored row,
// ordered by entity type and id.
type Dumper interface {
	Dump(ctx context.Context) ([]StoredRow, error)
}
