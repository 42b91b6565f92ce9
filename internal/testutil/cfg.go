package testutil

import (
	"fmt"

	"github.com/roach88/causal/internal/ir"
)

// File is the source file name used by the instruction helpers.
const File = "prog.go"

// At returns a location in File.
func At(line int) ir.Location {
	return ir.Location{File: File, Line: line}
}

// GraphBuilder assembles a CFG for tests. Node 0 is the entry unless Entry
// is called.
type GraphBuilder struct {
	g *ir.CFG
}

// Graph starts a procedure named name with the given formals. The arity is
// len(params).
func Graph(name string, params ...string) *GraphBuilder {
	return &GraphBuilder{g: &ir.CFG{
		Proc:   ir.ProcID{Name: name, Arity: len(params)},
		Params: params,
		Nodes:  make(map[ir.NodeID]*ir.Node),
		Edges:  make(map[ir.NodeID][]ir.NodeID),
	}}
}

// Node adds node id with instrs.
func (b *GraphBuilder) Node(id ir.NodeID, instrs ...ir.Instr) *GraphBuilder {
	b.g.Nodes[id] = &ir.Node{ID: id, Instrs: instrs}
	return b
}

// Edge adds edges from -> each of to.
func (b *GraphBuilder) Edge(from ir.NodeID, to ...ir.NodeID) *GraphBuilder {
	b.g.Edges[from] = append(b.g.Edges[from], to...)
	return b
}

// Entry sets the entry node.
func (b *GraphBuilder) Entry(id ir.NodeID) *GraphBuilder {
	b.g.Entry = id
	return b
}

// Exit marks exit nodes.
func (b *GraphBuilder) Exit(ids ...ir.NodeID) *GraphBuilder {
	b.g.Exits = append(b.g.Exits, ids...)
	return b
}

// Build validates and returns the graph. It panics on a malformed graph.
func (b *GraphBuilder) Build() *ir.CFG {
	if err := b.g.Validate(); err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return b.g
}

// Straight builds a single-node procedure.
func Straight(name string, params []string, instrs ...ir.Instr) *ir.CFG {
	return Graph(name, params...).Node(0, instrs...).Exit(0).Build()
}

// Program builds an in-memory provider.
func Program(graphs ...*ir.CFG) *ir.Program {
	return ir.NewProgram(graphs...)
}

// Call is a resolved call to callee with args; the callee's arity is
// len(args).
func Call(line int, dst, callee string, args ...string) ir.Instr {
	return ir.Instr{
		Op:     ir.OpCall,
		Loc:    At(line),
		Dst:    dst,
		Args:   args,
		Callee: &ir.ProcID{Name: callee, Arity: len(args)},
	}
}

// CallUnknown is a call the front-end could not resolve.
func CallUnknown(line int, dst, name string, args ...string) ir.Instr {
	return ir.Instr{Op: ir.OpCall, Loc: At(line), Dst: dst, Args: args, CalleeName: name}
}

func Const(line int, dst string, v int64) ir.Instr {
	return ir.Instr{Op: ir.OpConst, Loc: At(line), Dst: dst, Value: v}
}

func Add(line int, dst string, v int64) ir.Instr {
	return ir.Instr{Op: ir.OpAdd, Loc: At(line), Dst: dst, Value: v}
}

func Assign(line int, dst, src string) ir.Instr {
	return ir.Instr{Op: ir.OpAssign, Loc: At(line), Dst: dst, Args: []string{src}}
}

func Alloc(line int, dst string) ir.Instr {
	return ir.Instr{Op: ir.OpAlloc, Loc: At(line), Dst: dst}
}

func Invalidate(line int, v string) ir.Instr {
	return ir.Instr{Op: ir.OpInvalidate, Loc: At(line), Args: []string{v}}
}

func Use(line int, v string) ir.Instr {
	return ir.Instr{Op: ir.OpUse, Loc: At(line), Args: []string{v}}
}

func Branch(line int, cond string) ir.Instr {
	return ir.Instr{Op: ir.OpBranch, Loc: At(line), Text: cond}
}

func Return(line int, vals ...string) ir.Instr {
	return ir.Instr{Op: ir.OpReturn, Loc: At(line), Args: vals}
}

// Loop builds a counter loop:
//
//	0: v = 0
//	1: branch "v < n"   (header)
//	2: v += 1           -> 1
//	3: return v         (exit)
func Loop(name, v string) *ir.CFG {
	return Graph(name).
		Node(0, Const(1, v, 0)).
		Node(1, Branch(2, v+" < n")).
		Node(2, Add(3, v, 1)).
		Node(3, Return(4, v)).
		Edge(0, 1).
		Edge(1, 2, 3).
		Edge(2, 1).
		Exit(3).
		Build()
}
