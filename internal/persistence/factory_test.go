package persistence

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/memory"
	"github.com/mesh-intelligence/larder/internal/metrics"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func TestNewFactory_Validation(t *testing.T) {
	newRecord := func() types.Entity { return types.NewRecord("x") }

	tests := []struct {
		name    string
		store   types.Storage
		opts    []Option
		wantErr error
	}{
		{
			name:    "nil storage",
			wantErr: ErrNilStorage,
		},
		{
			name:    "missing strategy",
			store:   memory.New(),
			opts:    []Option{WithEntityTypes(types.EntityType{Name: "x", New: newRecord})},
			wantErr: ErrEntityTypeInvalid,
		},
		{
			name:    "missing constructor",
			store:   memory.New(),
			opts:    []Option{WithEntityTypes(types.EntityType{Name: "x", Strategy: types.PreAssigned{}})},
			wantErr: ErrEntityTypeInvalid,
		},
		{
			name:  "duplicate type",
			store: memory.New(),
			opts: []Option{WithEntityTypes(
				types.EntityType{Name: "x", Strategy: types.PreAssigned{}, New: newRecord},
				types.EntityType{Name: "x", Strategy: types.GeneratedUUID{}, New: newRecord},
			)},
			wantErr: ErrEntityTypeConflict,
		},
		{
			name:    "zero block size",
			store:   memory.New(),
			opts:    []Option{WithEntityTypes(types.EntityType{Name: "x", Strategy: types.SequenceBlock{}, New: newRecord})},
			wantErr: types.ErrBlockSizeInvalid,
		},
		{
			name:    "unknown flush mode",
			store:   memory.New(),
			opts:    []Option{WithFlushMode("sometimes")},
			wantErr: types.ErrFlushModeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(tt.store, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFactory_Accessors(t *testing.T) {
	store := memory.New()
	f, err := NewFactory(store, WithEntityTypes(testEntityTypes()...))
	require.NoError(t, err)

	assert.Equal(t, []string{"log", "member", "note", "team"}, f.EntityTypes())
	assert.Equal(t, types.FlushAuto, f.FlushMode())
	assert.Same(t, store, f.Storage())

	// Contexts from one factory are independent.
	a, b := f.NewContext(), f.NewContext()
	require.NoError(t, a.Transaction().Begin(t.Context()))
	assert.Equal(t, Inactive, b.Transaction().State())
}

func TestFactory_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)

	pc, store := newTestContext(t, WithMetrics(rec))
	seedTeam(t, store, 1, "TeamA")
	begin(t, pc)

	e, err := pc.Find(t.Context(), "team", 1)
	require.NoError(t, err)
	_, err = pc.Find(t.Context(), "team", 1)
	require.NoError(t, err)
	e.(*team).Name = "TeamB"
	require.NoError(t, pc.Persist(t.Context(), &member{Name: "m"}))
	require.NoError(t, pc.Transaction().Commit(t.Context()))

	count := func(name string) int {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 1, count("larder_flushes_total"))
	assert.Equal(t, 2, count("larder_identity_map_lookups_total"), "one hit series, one miss series")
	assert.Equal(t, 2, count("larder_actions_total"), "insert and update")
	assert.Equal(t, 1, count("larder_id_blocks_allocated_total"))
	assert.Equal(t, 1, count("larder_units_of_work_total"))
}

func TestContext_FlushWithNothingPendingIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)

	pc, store := newTestContext(t, WithMetrics(rec))
	begin(t, pc)
	require.NoError(t, pc.Flush(t.Context()))
	require.NoError(t, pc.Flush(t.Context()))

	assert.Equal(t, 0, store.Calls(memory.OpInsert)+store.Calls(memory.OpUpdate)+store.Calls(memory.OpDelete))
	expected := `
# HELP larder_flushes_total Completed flushes of a persistence context.
# TYPE larder_flushes_total counter
larder_flushes_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "larder_flushes_total"))
}
