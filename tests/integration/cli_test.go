package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain builds the larder binary once before running tests.
func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		buildErr = err
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "larder-test-*")
	if err != nil {
		buildErr = err
		os.Exit(1)
	}
	larderBin = filepath.Join(tmpDir, "larder")

	cmd := exec.Command("go", "build", "-o", larderBin, "./cmd/larder")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = &BuildError{Err: err, Output: string(output)}
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func TestInit(t *testing.T) {
	env := NewTestEnv(t, "")

	result := env.MustRun("init")
	assert.Contains(t, result.Stdout, "larder initialized")

	_, err := os.Stat(filepath.Join(env.DataDir, "larder.db"))
	assert.NoError(t, err, "database file created")
}

func TestVersion(t *testing.T) {
	env := NewTestEnv(t, "")
	result := env.MustRun("version")
	assert.True(t, strings.HasPrefix(result.Stdout, "larder v"))
}

func TestSetGetAcrossInvocations(t *testing.T) {
	env := NewTestEnv(t, "")
	env.MustRun("init")

	env.MustRun("set", "team", "t1", "name=Platform")
	env.MustRun("set", "team", "t1", "size=3")

	got := ParseJSON[Record](t, env.MustRun("--json", "get", "team", "t1").Stdout)
	assert.Equal(t, "team", got.Type)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, map[string]any{"name": "Platform", "size": float64(3)}, got.Fields)

	text := env.MustRun("get", "team", "t1").Stdout
	assert.Equal(t, "team:t1 name=Platform size=3\n", text)
}

func TestSequenceIDsAcrossInvocations(t *testing.T) {
	env := NewTestEnv(t, "entities:\n  member:\n    strategy: sequence_block\n    block_size: 2\n")
	env.MustRun("init")

	first := ParseJSON[Record](t, env.MustRun("--json", "set", "member", "name=Ada").Stdout)
	second := ParseJSON[Record](t, env.MustRun("--json", "set", "member", "name=Grace").Stdout)

	a, ok := first.ID.(float64)
	require.True(t, ok, "sequence ids are numbers")
	b, ok := second.ID.(float64)
	require.True(t, ok)
	assert.Greater(t, b, a, "each process reserves a fresh block")
}

func TestReferencesAndFilter(t *testing.T) {
	env := NewTestEnv(t, "")
	env.MustRun("init")

	env.MustRun("set", "team", "t1", "name=A")
	env.MustRun("set", "team", "t2", "name=B")
	env.MustRun("set", "member", "m1", "team=@team:t1")
	env.MustRun("set", "member", "m2", "team=@team:t2")
	env.MustRun("set", "member", "m3", "team=@team:t1")

	members := ParseJSON[[]Record](t, env.MustRun("--json", "list", "member", "team=@team:t1").Stdout)
	require.Len(t, members, 2)
	assert.Equal(t, "m1", members[0].ID)
	assert.Equal(t, "m3", members[1].ID)
	assert.Equal(t, map[string]any{"$ref": "team", "$id": "t1"}, members[0].Fields["team"])
}

func TestDelete(t *testing.T) {
	env := NewTestEnv(t, "")
	env.MustRun("init")

	env.MustRun("set", "team", "t1", "name=A")
	assert.Equal(t, "deleted team:t1\n", env.MustRun("delete", "team", "t1").Stdout)

	result := env.Run("get", "team", "t1")
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "not found")
}

func TestExportImportRoundTrip(t *testing.T) {
	src := NewTestEnv(t, "")
	src.MustRun("init")
	src.MustRun("set", "team", "t1", "name=A")
	src.MustRun("set", "member", "m1", "team=@team:t1", "age=41")

	file := filepath.Join(src.TempDir, "export.jsonl")
	src.MustRun("export", file)
	rows := ReadJSONLFile[Record](t, file)
	require.Len(t, rows, 2)

	dst := NewTestEnv(t, "")
	dst.MustRun("init")
	assert.Contains(t, dst.MustRun("import", file).Stdout, "imported 2 rows")

	got := ParseJSON[Record](t, dst.MustRun("--json", "get", "member", "m1").Stdout)
	assert.Equal(t, float64(41), got.Fields["age"])

	again := dst.Run("import", file)
	assert.Equal(t, 1, again.ExitCode, "duplicate keys are a user error")
}

func TestExitCodes(t *testing.T) {
	env := NewTestEnv(t, "")
	env.MustRun("init")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{name: "missing args", args: []string{"get", "team"}, code: 1},
		{name: "bad assignment", args: []string{"set", "team", "t1", "=x"}, code: 1},
		{name: "unknown record", args: []string{"get", "team", "nope"}, code: 1},
		{name: "missing import file", args: []string{"import", filepath.Join(env.TempDir, "absent.jsonl")}, code: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, env.Run(tt.args...).ExitCode)
		})
	}
}
