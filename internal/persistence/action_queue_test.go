package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func key(entityType string, id int64) types.EntityKey {
	return types.EntityKey{Type: entityType, ID: id}
}

func keysOf(actions []types.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Kind.String() + " " + a.Key.String()
	}
	return out
}

func TestActionQueue_DrainOrder(t *testing.T) {
	q := newActionQueue()
	q.enqueue(types.Action{Kind: types.ActionDelete, Key: key("team", 9)})
	q.enqueue(types.Action{Kind: types.ActionDelete, Key: key("member", 8), Fields: types.Fields{"team": key("team", 9)}})
	q.enqueue(types.Action{Kind: types.ActionUpdate, Key: key("team", 5)})
	q.enqueue(types.Action{Kind: types.ActionInsert, Key: key("member", 2), Fields: types.Fields{"team": key("team", 1)}})
	q.enqueue(types.Action{Kind: types.ActionInsert, Key: key("team", 1)})
	q.enqueue(types.Action{Kind: types.ActionInsert, Key: key("team", 3)})

	got := q.drainInOrder()
	assert.Equal(t, []string{
		"insert team:1",
		"insert member:2",
		"insert team:3",
		"update team:5",
		"delete member:8",
		"delete team:9",
	}, keysOf(got))
	assert.Equal(t, 0, q.len())
}

func TestDependencyOrder(t *testing.T) {
	tests := []struct {
		name    string
		actions []types.Action
		want    []string
	}{
		{
			name: "independent actions keep queue order",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("a", 2)},
				{Kind: types.ActionInsert, Key: key("a", 1)},
			},
			want: []string{"insert a:2", "insert a:1"},
		},
		{
			name: "chain is reversed into dependency order",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("c", 1), Fields: types.Fields{"parent": key("b", 1)}},
				{Kind: types.ActionInsert, Key: key("b", 1), Fields: types.Fields{"parent": key("a", 1)}},
				{Kind: types.ActionInsert, Key: key("a", 1)},
			},
			want: []string{"insert a:1", "insert b:1", "insert c:1"},
		},
		{
			name: "references in lists count",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("group", 1), Fields: types.Fields{"members": []any{key("m", 1), "x"}}},
				{Kind: types.ActionInsert, Key: key("m", 1)},
			},
			want: []string{"insert m:1", "insert group:1"},
		},
		{
			name: "references outside the batch are ignored",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("m", 1), Fields: types.Fields{"team": key("team", 42)}},
				{Kind: types.ActionInsert, Key: key("m", 2)},
			},
			want: []string{"insert m:1", "insert m:2"},
		},
		{
			name: "cycle is released in queue order",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("a", 1), Fields: types.Fields{"peer": key("b", 1)}},
				{Kind: types.ActionInsert, Key: key("b", 1), Fields: types.Fields{"peer": key("a", 1)}},
				{Kind: types.ActionInsert, Key: key("c", 1), Fields: types.Fields{"peer": key("a", 1)}},
			},
			want: []string{"insert a:1", "insert b:1", "insert c:1"},
		},
		{
			name: "self reference",
			actions: []types.Action{
				{Kind: types.ActionInsert, Key: key("a", 1), Fields: types.Fields{"self": key("a", 1)}},
				{Kind: types.ActionInsert, Key: key("a", 2)},
			},
			want: []string{"insert a:1", "insert a:2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keysOf(dependencyOrder(tt.actions)))
		})
	}
}

func TestActionQueue_Cancel(t *testing.T) {
	q := newActionQueue()
	q.enqueue(types.Action{Kind: types.ActionInsert, Key: key("a", 1)})
	q.enqueue(types.Action{Kind: types.ActionDelete, Key: key("a", 2)})

	assert.True(t, q.cancelInsert(key("a", 1)))
	assert.False(t, q.cancelInsert(key("a", 1)))
	assert.False(t, q.cancelDelete(key("a", 1)))
	assert.True(t, q.cancelDelete(key("a", 2)))
	assert.Equal(t, 0, q.len())
}

func TestIdentityMap_Order(t *testing.T) {
	m := newIdentityMap()
	for _, id := range []int64{3, 1, 2} {
		m.put(&managed{key: key("a", id)})
	}
	m.remove(key("a", 1))
	m.put(&managed{key: key("a", 1)})

	var got []int64
	for _, e := range m.ordered() {
		got = append(got, e.key.ID.(int64))
	}
	assert.Equal(t, []int64{3, 2, 1}, got)
	assert.True(t, m.contains(key("a", 2)))
	assert.Equal(t, 3, m.len())

	m.reset()
	assert.Equal(t, 0, m.len())
}

func TestChangeTracker_ReportsRemovedFields(t *testing.T) {
	r := types.NewRecord("a")
	r.ID = int64(1)
	r.Set("keep", "x")
	entry := &managed{
		key:      key("a", 1),
		entity:   r,
		snapshot: types.Fields{"keep": "x", "gone": "y"},
		inserted: true,
	}

	dirty, err := changeTracker{}.computeDirty([]*managed{entry})
	assert.NoError(t, err)
	if assert.Len(t, dirty, 1) {
		assert.Equal(t, types.Fields{"gone": nil}, dirty[0].changed)
	}

	// A row still waiting for its insert is never reported.
	entry.inserted = false
	dirty, err = changeTracker{}.computeDirty([]*managed{entry})
	assert.NoError(t, err)
	assert.Empty(t, dirty)
}
