package jsonl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/memory"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func TestDecode(t *testing.T) {
	row, err := Decode([]byte(`{"type":"member","id":7,"fields":{"name":"m","team":{"$ref":"team","$id":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, "member", row.Type)
	assert.Equal(t, int64(7), row.ID)
	assert.Equal(t, types.EntityKey{Type: "team", ID: int64(1)}, row.Fields["team"])

	row, err = Decode([]byte(`{"type":"note","id":"42"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", row.ID, "quoted ids stay strings")
	assert.Empty(t, row.Fields)

	for _, bad := range []string{
		`{"id":1}`,
		`{"type":"team"}`,
		`{"type":"team","id":1.5}`,
		`not json`,
	} {
		_, err := Decode([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestRead_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"team","id":1,"fields":{"name":"A"}}`,
		``,
		`{"type":"team","id":2,`,
		`{"type":"team","id":3,"fields":{"name":"C"}}`,
	}, "\n")

	rows, skipped, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[1].ID)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")
	rows := []types.StoredRow{
		{Type: "member", ID: int64(1), Fields: types.Fields{"team": types.EntityKey{Type: "team", ID: "t1"}}},
		{Type: "team", ID: "t1", Fields: types.Fields{"name": "A", "size": int64(2)}},
	}

	require.NoError(t, os.WriteFile(path, []byte("old content\n"), 0o644))
	require.NoError(t, WriteFile(path, rows))

	got, skipped, err := ReadFile(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, rows, got)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".jsonl-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	_, err := src.Insert(ctx, "team", int64(1), types.Fields{"name": "A"})
	require.NoError(t, err)
	_, err = src.Insert(ctx, "member", int64(5), types.Fields{"team": types.EntityKey{Type: "team", ID: int64(1)}})
	require.NoError(t, err)

	rows, err := Export(ctx, src)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	dst := memory.New()
	require.NoError(t, Import(ctx, dst, rows))
	got, err := dst.Load(ctx, "member", int64(5))
	require.NoError(t, err)
	assert.Equal(t, types.EntityKey{Type: "team", ID: int64(1)}, got["team"])

	// A duplicate aborts the whole import.
	again := memory.New()
	_, err = again.Insert(ctx, "team", int64(1), types.Fields{})
	require.NoError(t, err)
	err = Import(ctx, again, rows)
	assert.ErrorIs(t, err, types.ErrDuplicateKey)
	assert.Equal(t, 0, again.Len("member"))
}
