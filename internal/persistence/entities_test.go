package persistence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/memory"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// team uses caller-assigned ids.
type team struct {
	ID   int64
	Name string
}

func (t *team) EntityType() string { return "team" }
func (t *team) EntityID() any      { return t.ID }
func (t *team) SetEntityID(id any) { t.ID = toInt64(id) }
func (t *team) Fields() types.Fields {
	return types.Fields{"name": t.Name}
}
func (t *team) Hydrate(f types.Fields) error {
	t.Name = f.Text("name")
	return nil
}
func (t *team) key() types.EntityKey { return types.EntityKey{Type: "team", ID: t.ID} }

// member draws ids from a sequence block and references its team.
type member struct {
	ID   int64
	Name string
	Team types.EntityKey
}

func (m *member) EntityType() string { return "member" }
func (m *member) EntityID() any      { return m.ID }
func (m *member) SetEntityID(id any) { m.ID = toInt64(id) }
func (m *member) Fields() types.Fields {
	f := types.Fields{"name": m.Name}
	if !m.Team.IsZero() {
		f["team"] = m.Team
	}
	return f
}
func (m *member) Hydrate(f types.Fields) error {
	m.Name = f.Text("name")
	m.Team, _ = f.Ref("team")
	return nil
}

func toInt64(id any) int64 {
	n, err := types.NormalizeID(id)
	if err != nil {
		return 0
	}
	v, _ := n.(int64)
	return v
}

const memberBlockSize = 3

func testEntityTypes() []types.EntityType {
	return []types.EntityType{
		{Name: "team", Strategy: types.PreAssigned{}, New: func() types.Entity { return &team{} }},
		{Name: "member", Strategy: types.SequenceBlock{BlockSize: memberBlockSize}, New: func() types.Entity { return &member{} }},
		{Name: "log", Strategy: types.AutoIncrement{}, New: func() types.Entity { return types.NewRecord("log") }},
		{Name: "note", Strategy: types.GeneratedUUID{}, New: func() types.Entity { return types.NewRecord("note") }},
	}
}

func newTestContext(t *testing.T, opts ...Option) (*Context, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithEntityTypes(testEntityTypes()...)}, opts...)
	f, err := NewFactory(store, opts...)
	require.NoError(t, err)
	return f.NewContext(), store
}

func begin(t *testing.T, pc *Context) {
	t.Helper()
	require.NoError(t, pc.Transaction().Begin(t.Context()))
}

// seedTeam writes a team row straight to storage.
func seedTeam(t *testing.T, store *memory.Store, id int64, name string) {
	t.Helper()
	_, err := store.Insert(t.Context(), "team", id, types.Fields{"name": name})
	require.NoError(t, err)
}

// writeLog records the order of write calls reaching storage.
type writeLog struct {
	mu    sync.Mutex
	calls []memory.Call
}

func (w *writeLog) fault(c memory.Call) error {
	switch c.Op {
	case memory.OpInsert, memory.OpUpdate, memory.OpDelete:
		w.mu.Lock()
		w.calls = append(w.calls, c)
		w.mu.Unlock()
	}
	return nil
}

func (w *writeLog) ops() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.calls))
	for i, c := range w.calls {
		out[i] = c.Op + " " + types.EntityKey{Type: c.Type, ID: c.ID}.String()
	}
	return out
}
