package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/memory"
	"github.com/mesh-intelligence/larder/internal/persistence"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// testDirs points every command of one test at private directories.
type testDirs struct {
	config string
	data   string
}

func newTestDirs(t *testing.T, config string) testDirs {
	t.Helper()
	t.Setenv("LARDER_BACKEND", "")
	t.Setenv("LARDER_DSN", "")
	t.Setenv("LARDER_FLUSH_MODE", "")
	t.Setenv("LARDER_METRICS_FILE", "")
	t.Setenv("LARDER_LOG_LEVEL", "")

	root := t.TempDir()
	d := testDirs{config: filepath.Join(root, "config"), data: filepath.Join(root, "data")}
	if config != "" {
		require.NoError(t, os.MkdirAll(d.config, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(d.config, "config.yaml"), []byte(config), 0o644))
	}
	return d
}

func (d testDirs) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config-dir", d.config, "--data-dir", d.data}, args...))
	err := root.Execute()
	return out.String(), err
}

func (d testDirs) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := d.run(t, args...)
	require.NoError(t, err, "larder %v", args)
	return out
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1.5", 1.5},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"Ada", "Ada"},
		{`"42"`, "42"},
		{"", ""},
		{"@team:t1", types.EntityKey{Type: "team", ID: "t1"}},
		{"@member:9", types.EntityKey{Type: "member", ID: int64(9)}},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := parseValue("@team")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = parseValue(`"open`)
	assert.Error(t, err)
}

func TestFormatValue_ParsesBack(t *testing.T) {
	for _, v := range []any{"Ada", "42", "true", "null", "", "two words", "@team:t1", int64(3), types.EntityKey{Type: "team", ID: int64(1)}} {
		s := formatValue(v)
		got, err := parseValue(s)
		require.NoError(t, err, s)
		assert.Equal(t, v, got, "formatted as %s", s)
	}
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"name=Ada", "age=41", "team=@team:t1", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, types.Fields{
		"name": "Ada",
		"age":  int64(41),
		"team": types.EntityKey{Type: "team", ID: "t1"},
		"note": "a=b",
	}, fields)

	for _, bad := range []string{"name", "=x", "team=@nokey"} {
		_, err := parseAssignments([]string{bad})
		assert.Equal(t, exitUserError, exitCode(err), bad)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitUserError, exitCode(usagef("bad")))
	assert.Equal(t, exitUserError, exitCode(fmt.Errorf("find: %w", types.ErrNotFound)))
	assert.Equal(t, exitUserError, exitCode(&types.CollaboratorError{Op: "insert", Err: types.ErrDuplicateKey}))
	assert.Equal(t, exitSysError, exitCode(&types.CollaboratorError{Op: "insert", Err: errors.New("disk full")}))
}

func TestRollback_ReportsBothFailures(t *testing.T) {
	store := memory.New()
	f, err := persistence.NewFactory(store)
	require.NoError(t, err)

	cause := errors.New("persist failed")
	uow := f.NewContext().Transaction()
	require.NoError(t, uow.Begin(t.Context()))
	assert.Equal(t, cause, rollback(uow, cause))
	assert.False(t, uow.IsActive())

	diskErr := errors.New("disk gone")
	store.SetFault(func(c memory.Call) error {
		if c.Op == memory.OpRollback {
			return diskErr
		}
		return nil
	})
	uow = f.NewContext().Transaction()
	require.NoError(t, uow.Begin(t.Context()))
	err = rollback(uow, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, diskErr)
	assert.Equal(t, exitSysError, exitCode(err))

	assert.Equal(t, cause, rollback(uow, cause), "inactive unit of work is left alone")
}

func TestLoadConfig(t *testing.T) {
	d := newTestDirs(t, `backend: memory
flush_mode: commit
entities:
  member:
    strategy: sequence_block
    block_size: 50
log:
  level: debug
  format: json
`)
	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.Equal(t, types.BackendMemory, cfg.Backend)
	assert.Equal(t, types.FlushCommit, cfg.Mode())
	assert.Equal(t, types.EntityConfig{Strategy: "sequence_block", BlockSize: 50}, cfg.Entities["member"])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	t.Setenv("LARDER_FLUSH_MODE", "auto")
	t.Setenv("LARDER_LOG_LEVEL", "error")
	cfg, err = loadConfig(d.config)
	require.NoError(t, err)
	assert.Equal(t, types.FlushAuto, cfg.Mode(), "environment wins over the file")
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	d := newTestDirs(t, "")
	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.Equal(t, types.BackendSQLite, cfg.Backend)
	assert.Equal(t, types.FlushAuto, cfg.Mode())
}

func TestEnsureDefaultConfigFile(t *testing.T) {
	d := newTestDirs(t, "")

	written, err := ensureDefaultConfigFile(d.config)
	require.NoError(t, err)
	assert.True(t, written)

	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, types.BackendSQLite, cfg.Backend)

	written, err = ensureDefaultConfigFile(d.config)
	require.NoError(t, err)
	assert.False(t, written, "existing file is kept")
}

func TestInit_WritesGivenSettings(t *testing.T) {
	d := newTestDirs(t, "")
	out := d.mustRun(t, "init", "--flush-mode", "commit")
	assert.Contains(t, out, "larder initialized (backend sqlite)")

	cfg, err := loadConfig(d.config)
	require.NoError(t, err)
	assert.Equal(t, types.FlushCommit, cfg.Mode())
	assert.Equal(t, d.data, cfg.DataDir)

	_, err = os.Stat(filepath.Join(d.data, "larder.db"))
	assert.NoError(t, err)
}

func TestSetGetDelete(t *testing.T) {
	d := newTestDirs(t, "entities:\n  member:\n    strategy: sequence_block\n    block_size: 10\n")

	d.mustRun(t, "set", "team", "t1", "name=Platform")
	out := d.mustRun(t, "--json", "set", "member", "name=Ada", "team=@team:t1")
	var created recordJSON
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "member", created.Type)
	assert.Equal(t, float64(1), created.ID, "first id of the first block")

	d.mustRun(t, "set", "member", "1", "name=Ada Lovelace", "team=null")
	assert.Equal(t, "member:1 name=\"Ada Lovelace\"\n", d.mustRun(t, "get", "member", "1"))

	assert.Equal(t, "team:t1 name=Platform\n", d.mustRun(t, "list", "team"))

	d.mustRun(t, "delete", "member", "1")
	_, err := d.run(t, "get", "member", "1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSet_UnconfiguredTypeWithoutIDGetsUUID(t *testing.T) {
	d := newTestDirs(t, "")
	out := d.mustRun(t, "--json", "set", "note", "text=hello")

	var created recordJSON
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	id, ok := created.ID.(string)
	require.True(t, ok)
	assert.Len(t, id, 36)
}

func TestSet_GeneratedTypeRejectsUnknownID(t *testing.T) {
	d := newTestDirs(t, "entities:\n  member:\n    strategy: sequence_block\n    block_size: 10\n")
	_, err := d.run(t, "set", "member", "99", "name=x")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidID)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestList_Filter(t *testing.T) {
	d := newTestDirs(t, "")
	d.mustRun(t, "set", "member", "m2", "team=@team:t1")
	d.mustRun(t, "set", "member", "m1", "team=@team:t1")
	d.mustRun(t, "set", "member", "m3", "team=@team:t2")

	out := d.mustRun(t, "list", "member", "team=@team:t1")
	assert.Equal(t, "member:m1 team=@team:t1\nmember:m2 team=@team:t1\n", out)
}

func TestExportImport(t *testing.T) {
	src := newTestDirs(t, "")
	src.mustRun(t, "set", "team", "t1", "name=A")
	src.mustRun(t, "set", "team", "t2", "name=B")

	file := filepath.Join(t.TempDir(), "dump.jsonl")
	assert.Equal(t, "exported 2 rows to "+file+"\n", src.mustRun(t, "export", file))

	dst := newTestDirs(t, "")
	assert.Equal(t, "imported 2 rows (0 skipped)\n", dst.mustRun(t, "import", file))
	assert.Equal(t, "team:t2 name=B\n", dst.mustRun(t, "get", "team", "t2"))

	_, err := dst.run(t, "import", file)
	assert.ErrorIs(t, err, types.ErrDuplicateKey)
}

func TestMetricsFile(t *testing.T) {
	d := newTestDirs(t, "")
	metricsPath := filepath.Join(t.TempDir(), "larder.prom")

	d.mustRun(t, "--metrics-file", metricsPath, "set", "team", "t1", "name=A")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "larder_flushes_total 1")
	assert.Contains(t, string(data), `larder_units_of_work_total{outcome="committed"} 1`)
}

func TestVersion(t *testing.T) {
	d := newTestDirs(t, "")
	out := d.mustRun(t, "version")
	assert.Equal(t, "larder v0.1.0\nmodule: github.com/mesh-intelligence/larder\n", out)
}

func TestConfigCommand(t *testing.T) {
	d := newTestDirs(t, "backend: memory\n")
	out := d.mustRun(t, "--json", "config")
	var cfg types.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, types.BackendMemory, cfg.Backend)
}
