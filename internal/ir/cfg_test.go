package ir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopGraph is entry(0) -> header(1) -> body(2) -> header(1), header(1) -> exit(3).
func loopGraph() *CFG {
	return &CFG{
		Proc: ProcID{Name: "loop"},
		Nodes: map[NodeID]*Node{
			0: {ID: 0},
			1: {ID: 1},
			2: {ID: 2, Instrs: []Instr{{Op: OpCall, Callee: &ProcID{Name: "g"}}}},
			3: {ID: 3},
		},
		Edges: map[NodeID][]NodeID{
			0: {1},
			1: {2, 3},
			2: {1},
		},
		Entry: 0,
		Exits: []NodeID{3},
	}
}

func TestProcID_String(t *testing.T) {
	assert.Equal(t, "f/2", ProcID{Name: "f", Arity: 2}.String())
	assert.Equal(t, "f/2#int", ProcID{Name: "f", Arity: 2, Specialization: "int"}.String())
}

func TestParseProcID(t *testing.T) {
	tests := []struct {
		in   string
		want ProcID
	}{
		{"f", ProcID{Name: "f"}},
		{"f/2", ProcID{Name: "f", Arity: 2}},
		{"pkg.f/1#ptr", ProcID{Name: "pkg.f", Arity: 1, Specialization: "ptr"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProcID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "f" {
				assert.Equal(t, tt.in, got.String(), "round trip")
			}
		})
	}

	_, err := ParseProcID("f/x")
	assert.Error(t, err)
	_, err = ParseProcID("")
	assert.Error(t, err)
}

func TestCFG_Validate(t *testing.T) {
	require.NoError(t, loopGraph().Validate())

	t.Run("missing entry", func(t *testing.T) {
		g := loopGraph()
		g.Entry = 42
		assert.True(t, errors.Is(g.Validate(), ErrMalformedCFG))
	})

	t.Run("dangling edge", func(t *testing.T) {
		g := loopGraph()
		g.Edges[3] = []NodeID{9}
		assert.True(t, errors.Is(g.Validate(), ErrMalformedCFG))
	})

	t.Run("no exits", func(t *testing.T) {
		g := loopGraph()
		g.Exits = nil
		assert.True(t, errors.Is(g.Validate(), ErrMalformedCFG))
	})

	t.Run("unknown op", func(t *testing.T) {
		g := loopGraph()
		g.Nodes[0].Instrs = []Instr{{Op: "jump"}}
		assert.True(t, errors.Is(g.Validate(), ErrMalformedCFG))
	})
}

func TestCFG_ReversePostorder(t *testing.T) {
	g := loopGraph()
	rpo := g.ReversePostorder()
	require.Len(t, rpo, 4)
	assert.Equal(t, NodeID(0), rpo[0], "entry first")
	assert.Equal(t, NodeID(1), rpo[1], "header before body and exit")
}

func TestCFG_ReversePostorder_SkipsUnreachable(t *testing.T) {
	g := loopGraph()
	g.Nodes[7] = &Node{ID: 7}
	g.Edges[7] = []NodeID{3}
	assert.Len(t, g.ReversePostorder(), 4)
}

func TestCFG_LoopHeadersAndNodes(t *testing.T) {
	g := loopGraph()
	assert.Equal(t, map[NodeID]bool{1: true}, g.LoopHeaders())
	assert.Equal(t, map[NodeID]bool{1: true, 2: true}, g.LoopNodes())
}

func TestCFG_SelfLoop(t *testing.T) {
	g := &CFG{
		Proc:  ProcID{Name: "spin"},
		Nodes: map[NodeID]*Node{0: {ID: 0}, 1: {ID: 1}},
		Edges: map[NodeID][]NodeID{0: {0, 1}},
		Entry: 0,
		Exits: []NodeID{1},
	}
	assert.Equal(t, map[NodeID]bool{0: true}, g.LoopHeaders())
	assert.Equal(t, map[NodeID]bool{0: true}, g.LoopNodes())
}

func TestCFG_Preds(t *testing.T) {
	preds := loopGraph().Preds()
	assert.Equal(t, []NodeID{0, 2}, preds[1])
	assert.Equal(t, []NodeID{1}, preds[3])
}

func TestProgram(t *testing.T) {
	f := loopGraph()
	g := &CFG{Proc: ProcID{Name: "g"}, Nodes: map[NodeID]*Node{0: {ID: 0}}, Entry: 0, Exits: []NodeID{0}}
	p := NewProgram(g, f)

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []ProcID{{Name: "g"}, {Name: "loop"}}, p.Procs())

	got, ok := p.CFG(ProcID{Name: "g"})
	require.True(t, ok)
	assert.Same(t, g, got)

	_, ok = p.CFG(ProcID{Name: "g", Arity: 1})
	assert.False(t, ok, "arity is part of the identity")

	id, ok := p.Lookup("loop")
	require.True(t, ok)
	assert.Equal(t, ProcID{Name: "loop"}, id)
}

func TestCallSite(t *testing.T) {
	caller := ProcID{Name: "main"}
	resolved := NewCallSite(caller, Instr{Op: OpCall, Loc: Location{File: "a.go", Line: 3}, Callee: &ProcID{Name: "f"}}, true)
	assert.True(t, resolved.Resolved())
	assert.True(t, resolved.InLoop)
	assert.Equal(t, "f", resolved.Target())
	assert.Equal(t, "main/0@a.go:3->f", resolved.Key())

	unresolved := NewCallSite(caller, Instr{Op: OpCall, CalleeName: "fp"}, false)
	assert.False(t, unresolved.Resolved())
	assert.Equal(t, "fp", unresolved.Target())
}
