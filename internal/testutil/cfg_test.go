package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/ir"
)

func TestLoop_Shape(t *testing.T) {
	g := Loop("count", "i")

	require.NoError(t, g.Validate())
	assert.Equal(t, map[ir.NodeID]bool{1: true}, g.LoopHeaders())
	assert.True(t, g.LoopNodes()[2])
	assert.False(t, g.LoopNodes()[3])
}

func TestCall_Arity(t *testing.T) {
	c := Call(4, "r", "g", "a", "b")
	require.NotNil(t, c.Callee)
	assert.Equal(t, ir.ProcID{Name: "g", Arity: 2}, *c.Callee)
	assert.Nil(t, CallUnknown(4, "", "ext").Callee)
}

func TestBuild_PanicsOnMalformedGraph(t *testing.T) {
	assert.Panics(t, func() {
		Graph("f").Node(0).Edge(0, 7).Exit(0).Build()
	})
}
