// Package callgraph builds the static call graph of a program and orders
// its procedures bottom-up by strongly connected component.
//
// The interprocedural driver does not need the graph to be correct: it
// discovers recursion on demand. The graph only decides a good order for
// whole-program runs (callees before callers, so most requests hit the
// cache) and produces static recursion warnings.
package callgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/twmb/algoimpl/go/graph"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
)

// Edge is one call from a procedure to a procedure with a body.
type Edge struct {
	Callee ir.ProcID
	Loc    ir.Location
}

// Graph is the static call graph of a Provider.
type Graph struct {
	procs []ir.ProcID
	index map[string]int
	// edges[i] are the calls of procs[i], sorted by callee key then location.
	edges [][]Edge
}

// Build scans every call instruction of p. Calls to procedures without a
// body and unresolved calls are not edges.
func Build(p ir.Provider) *Graph {
	procs := p.Procs()
	g := &Graph{
		procs: procs,
		index: make(map[string]int, len(procs)),
		edges: make([][]Edge, len(procs)),
	}
	for i, proc := range procs {
		g.index[proc.Key()] = i
	}
	for i, proc := range procs {
		cfg, ok := p.CFG(proc)
		if !ok {
			continue
		}
		ids := make([]ir.NodeID, 0, len(cfg.Nodes))
		for id := range cfg.Nodes {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

		for _, id := range ids {
			for _, instr := range cfg.Nodes[id].Instrs {
				if instr.Op != ir.OpCall || instr.Callee == nil {
					continue
				}
				if _, known := g.index[instr.Callee.Key()]; !known {
					continue
				}
				g.edges[i] = append(g.edges[i], Edge{Callee: *instr.Callee, Loc: instr.Loc})
			}
		}
		sort.SliceStable(g.edges[i], func(a, b int) bool {
			x, y := g.edges[i][a], g.edges[i][b]
			if x.Callee.Key() != y.Callee.Key() {
				return x.Callee.Key() < y.Callee.Key()
			}
			return x.Loc.String() < y.Loc.String()
		})
	}
	return g
}

// Procs lists the procedures, sorted by key.
func (g *Graph) Procs() []ir.ProcID {
	return g.procs
}

// Edges returns the calls made by proc.
func (g *Graph) Edges(proc ir.ProcID) []Edge {
	i, ok := g.index[proc.Key()]
	if !ok {
		return nil
	}
	return g.edges[i]
}

// Callees returns the distinct procedures proc calls.
func (g *Graph) Callees(proc ir.ProcID) []ir.ProcID {
	var out []ir.ProcID
	seen := make(map[string]bool)
	for _, e := range g.Edges(proc) {
		if k := e.Callee.Key(); !seen[k] {
			seen[k] = true
			out = append(out, e.Callee)
		}
	}
	return out
}

// Roots lists the procedures no other procedure calls.
func (g *Graph) Roots() []ir.ProcID {
	called := make(map[string]bool)
	for i, edges := range g.edges {
		for _, e := range edges {
			if e.Callee.Key() != g.procs[i].Key() {
				called[e.Callee.Key()] = true
			}
		}
	}
	var out []ir.ProcID
	for _, p := range g.procs {
		if !called[p.Key()] {
			out = append(out, p)
		}
	}
	return out
}

// Components returns the strongly connected components, callees before
// callers. Members of a component are sorted by key.
func (g *Graph) Components() [][]ir.ProcID {
	if len(g.procs) == 0 {
		return nil
	}

	calls := graph.New(graph.Directed)
	nodes := make([]graph.Node, len(g.procs))
	for i := range g.procs {
		nodes[i] = calls.MakeNode()
		*nodes[i].Value = i
	}
	for i := range g.procs {
		for _, callee := range g.Callees(g.procs[i]) {
			// Only fails for nodes of another graph.
			_ = calls.MakeEdge(nodes[i], nodes[g.index[callee.Key()]])
		}
	}

	sccs := calls.StronglyConnectedComponents()
	comp := make([]int, len(g.procs))
	members := make([][]ir.ProcID, len(sccs))
	for c, scc := range sccs {
		for _, n := range scc {
			i := (*n.Value).(int)
			comp[i] = c
			members[c] = append(members[c], g.procs[i])
		}
		sort.Slice(members[c], func(a, b int) bool { return members[c][a].Key() < members[c][b].Key() })
	}

	// Topologically sort the condensation; callers come out first.
	dag := graph.New(graph.Directed)
	cnodes := make([]graph.Node, len(sccs))
	for c := range sccs {
		cnodes[c] = dag.MakeNode()
		*cnodes[c].Value = c
	}
	linked := make(map[[2]int]bool)
	for i := range g.procs {
		for _, callee := range g.Callees(g.procs[i]) {
			from, to := comp[i], comp[g.index[callee.Key()]]
			if from == to || linked[[2]int{from, to}] {
				continue
			}
			linked[[2]int{from, to}] = true
			_ = dag.MakeEdge(cnodes[from], cnodes[to])
		}
	}

	order := dag.TopologicalSort()
	out := make([][]ir.ProcID, 0, len(order))
	for k := len(order) - 1; k >= 0; k-- {
		out = append(out, members[(*order[k].Value).(int)])
	}
	return out
}

// BottomUp flattens Components.
func (g *Graph) BottomUp() []ir.ProcID {
	var out []ir.ProcID
	for _, c := range g.Components() {
		out = append(out, c...)
	}
	return out
}

// Recursive reports whether proc can reach itself.
func (g *Graph) Recursive(proc ir.ProcID) bool {
	for _, c := range g.Components() {
		for _, m := range c {
			if m.Key() == proc.Key() {
				return len(c) > 1 || g.selfLoop(proc)
			}
		}
	}
	return false
}

func (g *Graph) selfLoop(proc ir.ProcID) bool {
	for _, e := range g.Edges(proc) {
		if e.Callee.Key() == proc.Key() {
			return true
		}
	}
	return false
}

// Warning is a static recursion finding.
//
// Static recursion is a warning, not an error: recursion with a base case
// is common, and the driver handles every cycle on demand anyway.
type Warning struct {
	// Path is a cycle through the component, first procedure repeated at
	// the end: [f, g, f].
	Path []ir.ProcID
	// Loc is the call that leaves Path[0].
	Loc     ir.Location
	Message string
	Level   report.Severity
}

// Cycles reports each recursive component once, in bottom-up order.
// A DAG returns no warnings.
func Cycles(g *Graph) []Warning {
	var warnings []Warning
	for _, c := range g.Components() {
		if len(c) == 1 && !g.selfLoop(c[0]) {
			continue
		}
		warnings = append(warnings, g.cycleWarning(c))
	}
	return warnings
}

// cycleWarning walks the component from its smallest member along the
// first unvisited in-component call until it returns to the start.
func (g *Graph) cycleWarning(scc []ir.ProcID) Warning {
	inSCC := make(map[string]bool, len(scc))
	for _, p := range scc {
		inSCC[p.Key()] = true
	}

	start := scc[0]
	path := []ir.ProcID{start}
	var loc ir.Location
	visited := make(map[string]bool)
	current := start
	for {
		visited[current.Key()] = true
		var next *Edge
		for _, e := range g.Edges(current) {
			k := e.Callee.Key()
			if inSCC[k] && (!visited[k] || k == start.Key()) {
				next = &e
				break
			}
		}
		if next == nil {
			break
		}
		if current.Key() == start.Key() && len(path) == 1 {
			loc = next.Loc
		}
		path = append(path, next.Callee)
		if next.Callee.Key() == start.Key() {
			break
		}
		current = next.Callee
	}

	names := make([]string, len(path))
	for i, p := range path {
		names[i] = p.Name
	}
	msg := fmt.Sprintf("potential recursion: %s", strings.Join(names, " → "))
	if len(scc) == 1 {
		msg = fmt.Sprintf("self-recursive procedure: %s", start.Name)
	}
	return Warning{Path: path, Loc: loc, Message: msg, Level: report.SeverityWarning}
}

// Issue converts w for the reporting collaborator.
func (w Warning) Issue() report.Issue {
	var proc ir.ProcID
	if len(w.Path) > 0 {
		proc = w.Path[0]
	}
	return report.Issue{
		Proc:     proc,
		Loc:      w.Loc,
		Kind:     report.KindStaticRecursion,
		Severity: w.Level,
		Message:  w.Message,
	}
}
