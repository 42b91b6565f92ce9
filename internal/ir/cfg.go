package ir

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedCFG is wrapped by every CFG validation failure.
var ErrMalformedCFG = errors.New("malformed cfg")

// CFG is one procedure's control-flow graph. It is supplied once per
// analysis request and never mutated by the engine.
type CFG struct {
	Proc   ProcID              `json:"proc"`
	Params []string            `json:"params,omitempty"`
	Nodes  map[NodeID]*Node    `json:"nodes"`
	Edges  map[NodeID][]NodeID `json:"edges"`
	Entry  NodeID              `json:"entry"`
	Exits  []NodeID            `json:"exits"`
}

// Validate checks structural well-formedness: entry and exits exist, every
// edge endpoint exists, every opcode is known.
func (g *CFG) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: nil graph", ErrMalformedCFG)
	}
	if g.Proc.Name == "" {
		return fmt.Errorf("%w: procedure has no name", ErrMalformedCFG)
	}
	if _, ok := g.Nodes[g.Entry]; !ok {
		return fmt.Errorf("%w: %s: entry node %d missing", ErrMalformedCFG, g.Proc, g.Entry)
	}
	if len(g.Exits) == 0 {
		return fmt.Errorf("%w: %s: no exit nodes", ErrMalformedCFG, g.Proc)
	}
	for _, x := range g.Exits {
		if _, ok := g.Nodes[x]; !ok {
			return fmt.Errorf("%w: %s: exit node %d missing", ErrMalformedCFG, g.Proc, x)
		}
	}
	for from, succs := range g.Edges {
		if _, ok := g.Nodes[from]; !ok {
			return fmt.Errorf("%w: %s: edge from unknown node %d", ErrMalformedCFG, g.Proc, from)
		}
		for _, to := range succs {
			if _, ok := g.Nodes[to]; !ok {
				return fmt.Errorf("%w: %s: edge %d->%d to unknown node", ErrMalformedCFG, g.Proc, from, to)
			}
		}
	}
	for id, n := range g.Nodes {
		if n == nil || n.ID != id {
			return fmt.Errorf("%w: %s: node %d has mismatched id", ErrMalformedCFG, g.Proc, id)
		}
		for i, instr := range n.Instrs {
			if !ValidOps[instr.Op] {
				return fmt.Errorf("%w: %s: node %d instr %d: unknown op %q", ErrMalformedCFG, g.Proc, id, i, instr.Op)
			}
		}
	}
	return nil
}

// Succs returns the successors of n.
func (g *CFG) Succs(n NodeID) []NodeID {
	return g.Edges[n]
}

// Preds computes the predecessor lists. Lists are sorted for determinism.
func (g *CFG) Preds() map[NodeID][]NodeID {
	preds := make(map[NodeID][]NodeID, len(g.Nodes))
	for _, from := range g.sortedNodeIDs() {
		for _, to := range g.Edges[from] {
			preds[to] = append(preds[to], from)
		}
	}
	return preds
}

// ReversePostorder returns the nodes reachable from Entry in reverse
// postorder of a depth-first search that visits successors in edge order.
func (g *CFG) ReversePostorder() []NodeID {
	visited := make(map[NodeID]bool, len(g.Nodes))
	post := make([]NodeID, 0, len(g.Nodes))

	var dfs func(NodeID)
	dfs = func(n NodeID) {
		visited[n] = true
		for _, s := range g.Edges[n] {
			if !visited[s] {
				dfs(s)
			}
		}
		post = append(post, n)
	}
	dfs(g.Entry)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// BackEdges returns edges u->h where h is on the DFS stack when the edge is
// explored. Their targets are the loop headers.
func (g *CFG) BackEdges() [][2]NodeID {
	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int, len(g.Nodes))
	var back [][2]NodeID

	var dfs func(NodeID)
	dfs = func(n NodeID) {
		color[n] = grey
		for _, s := range g.Edges[n] {
			switch color[s] {
			case white:
				dfs(s)
			case grey:
				back = append(back, [2]NodeID{n, s})
			}
		}
		color[n] = black
	}
	dfs(g.Entry)
	return back
}

// LoopHeaders returns the set of targets of back edges.
func (g *CFG) LoopHeaders() map[NodeID]bool {
	headers := make(map[NodeID]bool)
	for _, e := range g.BackEdges() {
		headers[e[1]] = true
	}
	return headers
}

// LoopNodes returns every node that belongs to the natural loop of some back
// edge. Call sites in these nodes are flagged InLoop.
func (g *CFG) LoopNodes() map[NodeID]bool {
	preds := g.Preds()
	in := make(map[NodeID]bool)
	for _, e := range g.BackEdges() {
		tail, header := e[0], e[1]
		body := map[NodeID]bool{header: true}
		stack := []NodeID{tail}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if body[n] {
				continue
			}
			body[n] = true
			stack = append(stack, preds[n]...)
		}
		for n := range body {
			in[n] = true
		}
	}
	return in
}

// IsExit reports whether n is an exit node.
func (g *CFG) IsExit(n NodeID) bool {
	for _, x := range g.Exits {
		if x == n {
			return true
		}
	}
	return false
}

func (g *CFG) sortedNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Provider supplies CFGs to the engine.
type Provider interface {
	// CFG returns the graph of proc, or false when no body is available.
	CFG(proc ProcID) (*CFG, bool)
	// Procs lists every procedure with a body, sorted by key.
	Procs() []ProcID
}

// Program is an in-memory Provider.
type Program struct {
	graphs map[string]*CFG
}

// NewProgram builds a Program from graphs. Later graphs replace earlier
// ones with the same procedure key.
func NewProgram(graphs ...*CFG) *Program {
	p := &Program{graphs: make(map[string]*CFG, len(graphs))}
	for _, g := range graphs {
		p.Add(g)
	}
	return p
}

// Add registers g.
func (p *Program) Add(g *CFG) {
	p.graphs[g.Proc.Key()] = g
}

// CFG implements Provider.
func (p *Program) CFG(proc ProcID) (*CFG, bool) {
	g, ok := p.graphs[proc.Key()]
	return g, ok
}

// Procs implements Provider.
func (p *Program) Procs() []ProcID {
	procs := make([]ProcID, 0, len(p.graphs))
	for _, g := range p.graphs {
		procs = append(procs, g.Proc)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Key() < procs[j].Key() })
	return procs
}

// Lookup finds a procedure by name, ignoring arity and specialization.
// Returns false when no procedure or more than one procedure matches.
func (p *Program) Lookup(name string) (ProcID, bool) {
	var found []ProcID
	for _, g := range p.graphs {
		if g.Proc.Name == name {
			found = append(found, g.Proc)
		}
	}
	if len(found) != 1 {
		return ProcID{}, false
	}
	return found[0], true
}

// Len returns the number of procedures.
func (p *Program) Len() int {
	return len(p.graphs)
}
