package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycles_WholeProgram(t *testing.T) {
	stdout, _, err := execute(t, "cycles", program("ring.cue"), "--format", "json")
	require.NoError(t, err)

	var res CyclesResult
	decodeData(t, stdout, &res)
	require.Len(t, res.Cycles, 1)
	assert.Equal(t, "f/0 -> g/0", res.Cycles[0].Key)
	assert.Len(t, res.Cycles[0].Members, 2)

	require.Len(t, res.Static, 1)
	assert.Equal(t, "potential recursion: f → g → f", res.Static[0].Message)
	assert.Equal(t, 11, res.Static[0].Loc.Line)
}

func TestCycles_Text(t *testing.T) {
	stdout, _, err := execute(t, "cycles", program("ring.cue"), "--root", "main")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cycle f→g→f")
	assert.NotContains(t, stdout, "potential recursion", "static warnings come from whole-program runs")
}

func TestCycles_None(t *testing.T) {
	stdout, _, err := execute(t, "cycles", program("layers.cue"))
	require.NoError(t, err)
	assert.Equal(t, "No recursion found.\n", stdout)
}
