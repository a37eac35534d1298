// Package sqlstore implements Storage over database/sql. Every entity type
// shares one table keyed by (entity_type, entity_id) with its fields
// stored as JSON; sequences and generated identities live in their own
// tables. The sqlite and postgres packages supply the driver and Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// maxIdentityAttempts bounds the search for a free generated id when
// imported rows already occupy some.
const maxIdentityAttempts = 1000

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a Storage, Transactor, Querier and Dumper over a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the dialect schema to db and returns a Store over it.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("applying %s schema: %w", d.Name, err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

// DB exposes the underlying database for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store was built with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ops(q querier) ops {
	return ops{q: q, d: s.dialect}
}

// Load implements types.Storage.
func (s *Store) Load(ctx context.Context, entityType string, id any) (types.Fields, error) {
	return s.ops(s.db).load(ctx, entityType, id)
}

// Insert implements types.Storage.
func (s *Store) Insert(ctx context.Context, entityType string, id any, fields types.Fields) (any, error) {
	return s.ops(s.db).insert(ctx, entityType, id, fields)
}

// Update implements types.Storage. The read-merge-write runs in its own
// transaction.
func (s *Store) Update(ctx context.Context, entityType string, id any, changed types.Fields) error {
	return s.withTx(ctx, func(o ops) error {
		return o.update(ctx, entityType, id, changed)
	})
}

// Delete implements types.Storage.
func (s *Store) Delete(ctx context.Context, entityType string, id any) error {
	return s.ops(s.db).remove(ctx, entityType, id)
}

// NextIDBlock implements types.Storage.
func (s *Store) NextIDBlock(ctx context.Context, sequence string, size int) (int64, int, error) {
	return s.ops(s.db).nextIDBlock(ctx, sequence, size)
}

// Fetch implements types.Querier.
func (s *Store) Fetch(ctx context.Context, entityType string, filter types.Fields) ([]types.Row, error) {
	return s.ops(s.db).fetch(ctx, entityType, filter)
}

// Dump implements types.Dumper.
func (s *Store) Dump(ctx context.Context) ([]types.StoredRow, error) {
	return s.ops(s.db).dump(ctx)
}

// Begin implements types.Transactor.
func (s *Store) Begin(ctx context.Context) (types.StorageTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx, ops: s.ops(tx)}, nil
}

func (s *Store) withTx(ctx context.Context, fn func(ops) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(s.ops(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Tx is a Storage bound to one SQL transaction.
type Tx struct {
	tx  *sql.Tx
	ops ops
}

// Load implements types.Storage.
func (t *Tx) Load(ctx context.Context, entityType string, id any) (types.Fields, error) {
	return t.ops.load(ctx, entityType, id)
}

// Insert implements types.Storage.
func (t *Tx) Insert(ctx context.Context, entityType string, id any, fields types.Fields) (any, error) {
	return t.ops.insert(ctx, entityType, id, fields)
}

// Update implements types.Storage.
func (t *Tx) Update(ctx context.Context, entityType string, id any, changed types.Fields) error {
	return t.ops.update(ctx, entityType, id, changed)
}

// Delete implements types.Storage.
func (t *Tx) Delete(ctx context.Context, entityType string, id any) error {
	return t.ops.remove(ctx, entityType, id)
}

// NextIDBlock implements types.Storage.
func (t *Tx) NextIDBlock(ctx context.Context, sequence string, size int) (int64, int, error) {
	return t.ops.nextIDBlock(ctx, sequence, size)
}

// Fetch implements types.Querier.
func (t *Tx) Fetch(ctx context.Context, entityType string, filter types.Fields) ([]types.Row, error) {
	return t.ops.fetch(ctx, entityType, filter)
}

// Commit implements types.StorageTx.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback implements types.StorageTx.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// ops runs the storage statements against a database or transaction.
type ops struct {
	q querier
	d Dialect
}

func (o ops) load(ctx context.Context, entityType string, id any) (types.Fields, error) {
	var raw string
	err := o.q.QueryRowContext(ctx, o.d.rebind(selectFields), entityType, types.FormatID(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s:%v", types.ErrNotFound, entityType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s:%v: %w", entityType, id, err)
	}
	return types.DecodeFields([]byte(raw))
}

func (o ops) insert(ctx context.Context, entityType string, id any, fields types.Fields) (any, error) {
	raw, err := types.EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	if id != nil {
		nid, err := types.NormalizeID(id)
		if err != nil {
			return nil, err
		}
		ok, err := o.insertRow(ctx, entityType, nid, raw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s:%v", types.ErrDuplicateKey, entityType, nid)
		}
		return nid, nil
	}

	for range maxIdentityAttempts {
		var next int64
		if err := o.q.QueryRowContext(ctx, o.d.rebind(nextIdentity), entityType).Scan(&next); err != nil {
			return nil, fmt.Errorf("generating id for %s: %w", entityType, err)
		}
		ok, err := o.insertRow(ctx, entityType, next, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: no free generated id for %s", types.ErrDuplicateKey, entityType)
}

// insertRow reports false when a row with the same key already exists.
func (o ops) insertRow(ctx context.Context, entityType string, id any, raw []byte) (bool, error) {
	res, err := o.q.ExecContext(ctx, o.d.rebind(insertEntity),
		entityType, types.FormatID(id), types.IDKind(id), string(raw))
	if err != nil {
		return false, fmt.Errorf("inserting %s:%v: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (o ops) update(ctx context.Context, entityType string, id any, changed types.Fields) error {
	row, err := o.load(ctx, entityType, id)
	if err != nil {
		return err
	}
	for k, v := range changed {
		if v == nil {
			delete(row, k)
			continue
		}
		row[k] = v
	}
	raw, err := types.EncodeFields(row)
	if err != nil {
		return err
	}
	_, err = o.q.ExecContext(ctx, o.d.rebind(updateFields), string(raw), entityType, types.FormatID(id))
	if err != nil {
		return fmt.Errorf("updating %s:%v: %w", entityType, id, err)
	}
	return nil
}

func (o ops) remove(ctx context.Context, entityType string, id any) error {
	res, err := o.q.ExecContext(ctx, o.d.rebind(deleteEntity), entityType, types.FormatID(id))
	if err != nil {
		return fmt.Errorf("deleting %s:%v: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s:%v", types.ErrNotFound, entityType, id)
	}
	return nil
}

func (o ops) nextIDBlock(ctx context.Context, sequence string, size int) (int64, int, error) {
	if size < 1 {
		return 0, 0, types.ErrBlockSizeInvalid
	}
	var next int64
	err := o.q.QueryRowContext(ctx, o.d.rebind(reserveBlock), sequence, size, size).Scan(&next)
	if err != nil {
		return 0, 0, fmt.Errorf("reserving ids from %s: %w", sequence, err)
	}
	return next - int64(size), size, nil
}

func (o ops) fetch(ctx context.Context, entityType string, filter types.Fields) ([]types.Row, error) {
	// Compare in stored form so int and int64 filter values match.
	want, err := types.CanonicalFields(filter)
	if err != nil {
		return nil, err
	}
	rows, err := o.q.QueryContext(ctx, o.d.rebind(selectByType), entityType)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var idText, kind, raw string
		if err := rows.Scan(&idText, &kind, &raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", entityType, err)
		}
		id, err := types.ParseStoredID(idText, kind)
		if err != nil {
			return nil, err
		}
		fields, err := types.DecodeFields([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding %s:%s: %w", entityType, idText, err)
		}
		if matches(fields, want) {
			out = append(out, types.Row{ID: id, Fields: fields})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return types.CompareIDs(out[i].ID, out[j].ID) < 0 })
	return out, nil
}

func (o ops) dump(ctx context.Context) ([]types.StoredRow, error) {
	rows, err := o.q.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("listing rows: %w", err)
	}
	defer rows.Close()

	var out []types.StoredRow
	for rows.Next() {
		var entityType, idText, kind, raw string
		if err := rows.Scan(&entityType, &idText, &kind, &raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		id, err := types.ParseStoredID(idText, kind)
		if err != nil {
			return nil, err
		}
		fields, err := types.DecodeFields([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding %s:%s: %w", entityType, idText, err)
		}
		out = append(out, types.StoredRow{Type: entityType, ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return types.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func matches(f, filter types.Fields) bool {
	for k, want := range filter {
		got, ok := f[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
