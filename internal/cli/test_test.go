package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/harness"
)

func scenarios() string {
	return filepath.Join("testdata", "scenarios")
}

func TestTestCommand_AllPass(t *testing.T) {
	stdout, _, err := execute(t, "test", scenarios())
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ direct_use\n")
	assert.Contains(t, stdout, "✓ ring\n")
	assert.Contains(t, stdout, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	stdout, _, err := execute(t, "test", scenarios(), "--filter", "ring*", "--format", "json")
	require.NoError(t, err)

	var res harness.SuiteResult
	decodeData(t, stdout, &res)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"ring"}, res.Passes)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	prog, err := filepath.Abs(program("direct.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: "Expects no issues from a program with one"
program: `+prog+`
config:
  checker: lifetime
assertions:
  - type: issue_count
    count: 0
`), 0644))

	stdout, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ wrong")
	assert.Contains(t, stdout, "Assertion failed: issue_count")
	assert.Contains(t, stdout, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_Empty(t *testing.T) {
	stdout, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", stdout)
}

func TestTestCommand_MissingPath(t *testing.T) {
	stdout, _, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E005]")
}

func TestTestHelpText(t *testing.T) {
	stdout, _, err := execute(t, "test", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "--filter")
	assert.Contains(t, stdout, "scenarios")
}
