// Package storetest holds the behaviour every Storage implementation must
// show, run by the tests of each backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Store is what the suite needs from a backend.
type Store interface {
	types.Storage
	types.Transactor
	types.Querier
	types.Dumper
}

// Run runs the suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, open(t)) })
	t.Run("GeneratedIDs", func(t *testing.T) { testGeneratedIDs(t, open(t)) })
	t.Run("IDKinds", func(t *testing.T) { testIDKinds(t, open(t)) })
	t.Run("NextIDBlock", func(t *testing.T) { testNextIDBlock(t, open(t)) })
	t.Run("Fetch", func(t *testing.T) { testFetch(t, open(t)) })
	t.Run("Dump", func(t *testing.T) { testDump(t, open(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, open(t)) })
}

func testCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	fields := types.Fields{
		"name":  "TeamA",
		"size":  int64(3),
		"ratio": 0.5,
		"tags":  []any{"a", "b"},
		"owner": types.EntityKey{Type: "member", ID: int64(7)},
	}

	id, err := s.Insert(ctx, "team", int64(1), fields)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.Insert(ctx, "team", int64(1), types.Fields{})
	assert.ErrorIs(t, err, types.ErrDuplicateKey)

	got, err := s.Load(ctx, "team", int64(1))
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	require.NoError(t, s.Update(ctx, "team", int64(1), types.Fields{"name": "TeamB", "ratio": nil}))
	got, err = s.Load(ctx, "team", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "TeamB", got.Text("name"))
	assert.NotContains(t, got, "ratio")
	assert.Equal(t, fields["owner"], got["owner"])

	require.NoError(t, s.Delete(ctx, "team", int64(1)))
	_, err = s.Load(ctx, "team", int64(1))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "team", int64(1)), types.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "team", int64(1), types.Fields{"name": "x"}), types.ErrNotFound)
}

func testGeneratedIDs(t *testing.T, s Store) {
	ctx := context.Background()

	// An imported row already holds what would be the second id.
	_, err := s.Insert(ctx, "log", int64(2), types.Fields{"msg": "imported"})
	require.NoError(t, err)

	seen := map[any]bool{int64(2): true}
	for range 3 {
		id, err := s.Insert(ctx, "log", nil, types.Fields{"msg": "generated"})
		require.NoError(t, err)
		n, ok := id.(int64)
		require.True(t, ok, "generated ids are int64, got %T", id)
		assert.Positive(t, n)
		assert.False(t, seen[n], "id %d handed out twice", n)
		seen[n] = true
	}
}

func testIDKinds(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, "note", int64(42), types.Fields{"kind": "int"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "note", "42", types.Fields{"kind": "text"})
	require.NoError(t, err, "42 and \"42\" are different keys")

	got, err := s.Load(ctx, "note", "42")
	require.NoError(t, err)
	assert.Equal(t, "text", got.Text("kind"))
}

func testNextIDBlock(t *testing.T, s Store) {
	ctx := context.Background()

	first, count, err := s.NextIDBlock(ctx, "member", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, 50, count)

	first, _, err = s.NextIDBlock(ctx, "member", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(51), first)

	first, _, err = s.NextIDBlock(ctx, "member", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(52), first)

	first, _, err = s.NextIDBlock(ctx, "other", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	_, _, err = s.NextIDBlock(ctx, "member", 0)
	assert.ErrorIs(t, err, types.ErrBlockSizeInvalid)
}

func testFetch(t *testing.T, s Store) {
	ctx := context.Background()
	teamA := types.EntityKey{Type: "team", ID: int64(1)}
	teamB := types.EntityKey{Type: "team", ID: int64(2)}
	for _, row := range []struct {
		id   int64
		team types.EntityKey
		age  int64
	}{{3, teamA, 20}, {1, teamA, 30}, {2, teamB, 20}} {
		_, err := s.Insert(ctx, "member", row.id, types.Fields{"team": row.team, "age": row.age})
		require.NoError(t, err)
	}

	rows, err := s.Fetch(ctx, "member", types.Fields{"team": teamA})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, int64(3), rows[1].ID)

	rows, err = s.Fetch(ctx, "member", types.Fields{"age": int64(20), "team": teamB})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)

	rows, err = s.Fetch(ctx, "member", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Integer kinds and reference id kinds do not affect matching.
	_, err = s.Insert(ctx, "log", int64(1), types.Fields{"level": 3, "team": types.EntityKey{Type: "team", ID: 1}})
	require.NoError(t, err)
	for _, filter := range []types.Fields{
		{"level": int64(3)},
		{"level": int32(3)},
		{"team": teamA},
		{"team": types.EntityKey{Type: "team", ID: 1}},
	} {
		rows, err = s.Fetch(ctx, "log", filter)
		require.NoError(t, err)
		assert.Len(t, rows, 1, "filter %v", filter)
	}
	rows, err = s.Fetch(ctx, "log", types.Fields{"level": int64(4)})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testDump(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.Insert(ctx, "team", "b", types.Fields{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "team", int64(10), types.Fields{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "team", int64(9), types.Fields{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "member", int64(1), types.Fields{"name": "m"})
	require.NoError(t, err)

	rows, err := s.Dump(ctx)
	require.NoError(t, err)
	var got []string
	for _, r := range rows {
		got = append(got, types.EntityKey{Type: r.Type, ID: r.ID}.String())
	}
	assert.Equal(t, []string{"member:1", "team:9", "team:10", "team:b"}, got)
	assert.Equal(t, "m", rows[0].Fields.Text("name"))
}

func testTransactions(t *testing.T, s Store) {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "team", int64(1), types.Fields{"name": "TeamA"})
	require.NoError(t, err)
	got, err := tx.Load(ctx, "team", int64(1))
	require.NoError(t, err, "a transaction sees its own writes")
	assert.Equal(t, "TeamA", got.Text("name"))
	require.NoError(t, tx.Rollback())

	_, err = s.Load(ctx, "team", int64(1))
	assert.ErrorIs(t, err, types.ErrNotFound)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "team", int64(1), types.Fields{"name": "TeamA"})
	require.NoError(t, err)
	require.NoError(t, tx.Update(ctx, "team", int64(1), types.Fields{"name": "TeamB"}))
	require.NoError(t, tx.Commit())

	got, err = s.Load(ctx, "team", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "TeamB", got.Text("name"))
}
