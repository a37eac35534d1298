// Package memory implements an in-memory Storage. Transactions work on a
// clone of the committed state and replace it on commit, so a rolled back
// transaction leaves no trace. It backs the "memory" backend and the
// engine tests, which use its call counters and fault hook.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Storage operation names, as passed to a Fault and counted by Calls.
const (
	OpLoad        = "load"
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpNextIDBlock = "next_id_block"
	OpFetch       = "fetch"
	OpBegin       = "begin"
	OpCommit      = "commit"
	OpRollback    = "rollback"
)

// Call describes one storage call seen by a Fault.
type Call struct {
	Op   string
	Type string
	ID   any
}

// Fault decides whether a call fails. Returning a non-nil error fails
// the call before it touches any state.
type Fault func(Call) error

type state struct {
	rows      map[string]map[any]types.Fields
	sequences map[string]int64
	autoIDs   map[string]int64
}

func newState() state {
	return state{
		rows:      make(map[string]map[any]types.Fields),
		sequences: make(map[string]int64),
		autoIDs:   make(map[string]int64),
	}
}

func (s state) clone() state {
	cp := newState()
	for t, rows := range s.rows {
		m := make(map[any]types.Fields, len(rows))
		for id, f := range rows {
			m[id] = f.Clone()
		}
		cp.rows[t] = m
	}
	for k, v := range s.sequences {
		cp.sequences[k] = v
	}
	for k, v := range s.autoIDs {
		cp.autoIDs[k] = v
	}
	return cp
}

// Store is an in-memory Storage, Transactor, Querier and Dumper. It is
// safe for concurrent use. Concurrent transactions are not isolated from
// each other at commit: the last one to commit wins.
type Store struct {
	mu    sync.Mutex
	state state
	calls map[string]int
	fault Fault
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), calls: make(map[string]int)}
}

// SetFault installs f, or removes the fault when f is nil.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Calls returns how many times op was called, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls zeroes every call counter.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Len returns the number of committed rows of entityType.
func (s *Store) Len(entityType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.rows[entityType])
}

// enter counts a call and runs the fault hook. Callers hold s.mu.
func (s *Store) enter(c Call) error {
	s.calls[c.Op]++
	if s.fault != nil {
		return s.fault(c)
	}
	return nil
}

// Load implements types.Storage.
func (s *Store) Load(ctx context.Context, entityType string, id any) (types.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load(s, &s.state, entityType, id)
}

// Insert implements types.Storage.
func (s *Store) Insert(ctx context.Context, entityType string, id any, fields types.Fields) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insert(s, &s.state, entityType, id, fields)
}

// Update implements types.Storage.
func (s *Store) Update(ctx context.Context, entityType string, id any, changed types.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s, &s.state, entityType, id, changed)
}

// Delete implements types.Storage.
func (s *Store) Delete(ctx context.Context, entityType string, id any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remove(s, &s.state, entityType, id)
}

// NextIDBlock implements types.Storage.
func (s *Store) NextIDBlock(ctx context.Context, sequence string, size int) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextIDBlock(s, &s.state, sequence, size)
}

// Fetch implements types.Querier.
func (s *Store) Fetch(ctx context.Context, entityType string, filter types.Fields) ([]types.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetch(s, &s.state, entityType, filter)
}

// Dump implements types.Dumper.
func (s *Store) Dump(ctx context.Context) ([]types.StoredRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dump(&s.state), nil
}

// Begin implements types.Transactor.
func (s *Store) Begin(ctx context.Context) (types.StorageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(Call{Op: OpBegin}); err != nil {
		return nil, err
	}
	return &Tx{store: s, state: s.state.clone()}, nil
}

func load(s *Store, st *state, entityType string, id any) (types.Fields, error) {
	if err := s.enter(Call{Op: OpLoad, Type: entityType, ID: id}); err != nil {
		return nil, err
	}
	id = normalize(id)
	f, ok := st.rows[entityType][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%v", types.ErrNotFound, entityType, id)
	}
	return f.Clone(), nil
}

func insert(s *Store, st *state, entityType string, id any, fields types.Fields) (any, error) {
	if err := s.enter(Call{Op: OpInsert, Type: entityType, ID: id}); err != nil {
		return nil, err
	}
	rows := st.rows[entityType]
	if id == nil {
		// Skip ids already taken by imported rows.
		for {
			st.autoIDs[entityType]++
			if _, taken := rows[st.autoIDs[entityType]]; !taken {
				break
			}
		}
		id = st.autoIDs[entityType]
	} else {
		nid, err := types.NormalizeID(id)
		if err != nil {
			return nil, err
		}
		id = nid
	}
	if rows == nil {
		rows = make(map[any]types.Fields)
		st.rows[entityType] = rows
	}
	if _, ok := rows[id]; ok {
		return nil, fmt.Errorf("%w: %s:%v", types.ErrDuplicateKey, entityType, id)
	}
	rows[id] = fields.Clone()
	if rows[id] == nil {
		rows[id] = types.Fields{}
	}
	return id, nil
}

func update(s *Store, st *state, entityType string, id any, changed types.Fields) error {
	if err := s.enter(Call{Op: OpUpdate, Type: entityType, ID: id}); err != nil {
		return err
	}
	id = normalize(id)
	row, ok := st.rows[entityType][id]
	if !ok {
		return fmt.Errorf("%w: %s:%v", types.ErrNotFound, entityType, id)
	}
	for k, v := range changed.Clone() {
		if v == nil {
			delete(row, k)
			continue
		}
		row[k] = v
	}
	return nil
}

func remove(s *Store, st *state, entityType string, id any) error {
	if err := s.enter(Call{Op: OpDelete, Type: entityType, ID: id}); err != nil {
		return err
	}
	id = normalize(id)
	if _, ok := st.rows[entityType][id]; !ok {
		return fmt.Errorf("%w: %s:%v", types.ErrNotFound, entityType, id)
	}
	delete(st.rows[entityType], id)
	return nil
}

func nextIDBlock(s *Store, st *state, sequence string, size int) (int64, int, error) {
	if err := s.enter(Call{Op: OpNextIDBlock, Type: sequence}); err != nil {
		return 0, 0, err
	}
	if size < 1 {
		return 0, 0, types.ErrBlockSizeInvalid
	}
	first := st.sequences[sequence]
	if first == 0 {
		first = 1
	}
	st.sequences[sequence] = first + int64(size)
	return first, size, nil
}

func fetch(s *Store, st *state, entityType string, filter types.Fields) ([]types.Row, error) {
	if err := s.enter(Call{Op: OpFetch, Type: entityType}); err != nil {
		return nil, err
	}
	// Compare in stored form, as the SQL backends do.
	want, err := types.CanonicalFields(filter)
	if err != nil {
		return nil, err
	}
	var out []types.Row
	for id, f := range st.rows[entityType] {
		ok, err := matches(f, want)
		if err != nil {
			return nil, fmt.Errorf("matching %s:%v: %w", entityType, id, err)
		}
		if ok {
			out = append(out, types.Row{ID: id, Fields: f.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return types.CompareIDs(out[i].ID, out[j].ID) < 0 })
	return out, nil
}

// normalize maps int ids onto int64 keys; ids that fail pass through
// and simply match nothing.
func normalize(id any) any {
	if n, err := types.NormalizeID(id); err == nil {
		return n
	}
	return id
}

func matches(f, filter types.Fields) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	subset := make(types.Fields, len(filter))
	for k := range filter {
		v, ok := f[k]
		if !ok {
			return false, nil
		}
		subset[k] = v
	}
	got, err := types.CanonicalFields(subset)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(got, filter), nil
}

func dump(st *state) []types.StoredRow {
	entityTypes := make([]string, 0, len(st.rows))
	for t := range st.rows {
		entityTypes = append(entityTypes, t)
	}
	slices.Sort(entityTypes)

	var out []types.StoredRow
	for _, t := range entityTypes {
		start := len(out)
		for id, f := range st.rows[t] {
			out = append(out, types.StoredRow{Type: t, ID: id, Fields: f.Clone()})
		}
		part := out[start:]
		sort.Slice(part, func(i, j int) bool { return types.CompareIDs(part[i].ID, part[j].ID) < 0 })
	}
	return out
}
