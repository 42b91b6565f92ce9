// Package gossa lowers Go packages into CFGs through SSA form.
//
// Each SSA function with a body becomes one procedure; each basic block
// becomes one node. Calls with a static callee are resolved, everything
// else (interface methods, function values) is left unresolved. Values are
// named by their SSA register names.
//
// Lowering is deliberately shallow: allocations, aliasing copies, loads and
// stores, branches, returns and calls are kept, the rest is dropped. A
// static call to a method named Close, and the close builtin, invalidate
// their receiver.
package gossa

import (
	"fmt"
	"go/token"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/roach88/causal/internal/ir"
)

// Config selects the packages to load.
type Config struct {
	// Dir is the directory packages are resolved from.
	Dir string
	// Patterns are package patterns such as "./...".
	Patterns []string
	// Tests includes test packages.
	Tests bool
	Logger logrus.FieldLogger
}

const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedDeps |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedTypesSizes

// Load type-checks the packages, builds SSA and lowers every function of
// the matched packages.
func Load(cfg Config) (*ir.Program, error) {
	pkgs, err := packages.Load(&packages.Config{Mode: loadMode, Dir: cfg.Dir, Tests: cfg.Tests}, cfg.Patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, fmt.Errorf("package %s has errors: %v", pkg.PkgPath, pkg.Errors)
		}
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	return Lower(prog, ssaPkgs, cfg.Logger), nil
}

// Lower converts the functions of pkgs. Functions whose graph is not a
// valid CFG (for example, no exit block) are skipped and logged.
func Lower(prog *ssa.Program, pkgs []*ssa.Package, logger logrus.FieldLogger) *ir.Program {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	wanted := make(map[*ssa.Package]bool, len(pkgs))
	for _, p := range pkgs {
		if p != nil {
			wanted[p] = true
		}
	}

	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Blocks == nil || fn.Synthetic != "" {
			continue
		}
		pkg := fn.Pkg
		if pkg == nil && fn.Origin() != nil {
			pkg = fn.Origin().Pkg
		}
		if wanted[pkg] {
			fns = append(fns, fn)
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	out := ir.NewProgram()
	for _, fn := range fns {
		g := lowerFunc(prog.Fset, fn)
		if err := g.Validate(); err != nil {
			logger.WithField("func", fn.String()).WithError(err).Warn("skipping function")
			continue
		}
		out.Add(g)
	}
	return out
}

// ProcID names fn the way lowered call sites refer to it.
func ProcID(fn *ssa.Function) ir.ProcID {
	return ir.ProcID{Name: fn.String(), Arity: len(fn.Params)}
}

func lowerFunc(fset *token.FileSet, fn *ssa.Function) *ir.CFG {
	g := &ir.CFG{
		Proc:  ProcID(fn),
		Nodes: make(map[ir.NodeID]*ir.Node, len(fn.Blocks)),
		Edges: make(map[ir.NodeID][]ir.NodeID),
		Entry: 0,
	}
	for _, p := range fn.Params {
		g.Params = append(g.Params, p.Name())
	}

	l := lowerer{fset: fset, fn: fn}
	for _, b := range fn.Blocks {
		id := ir.NodeID(b.Index)
		node := &ir.Node{ID: id}
		for _, instr := range b.Instrs {
			node.Instrs = append(node.Instrs, l.instr(instr)...)
		}
		g.Nodes[id] = node
		for _, s := range b.Succs {
			g.Edges[id] = append(g.Edges[id], ir.NodeID(s.Index))
		}
		if len(b.Succs) == 0 {
			g.Exits = append(g.Exits, id)
		}
	}
	return g
}

type lowerer struct {
	fset *token.FileSet
	fn   *ssa.Function
}

func (l lowerer) loc(pos token.Pos) ir.Location {
	if !pos.IsValid() {
		pos = l.fn.Pos()
	}
	p := l.fset.Position(pos)
	return ir.Location{File: p.Filename, Line: p.Line, Col: p.Column}
}

func names(vs []ssa.Value) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Name())
	}
	return out
}

func assign(loc ir.Location, dst string, src ssa.Value) ir.Instr {
	return ir.Instr{Op: ir.OpAssign, Loc: loc, Dst: dst, Args: []string{src.Name()}}
}

func (l lowerer) instr(instr ssa.Instruction) []ir.Instr {
	loc := l.loc(instr.Pos())
	switch v := instr.(type) {
	case *ssa.Alloc:
		return []ir.Instr{{Op: ir.OpAlloc, Loc: loc, Dst: v.Name()}}
	case *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan, *ssa.MakeClosure:
		return []ir.Instr{{Op: ir.OpAlloc, Loc: loc, Dst: v.(ssa.Value).Name()}}

	case *ssa.FieldAddr:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.IndexAddr:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.ChangeType:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.Convert:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.MakeInterface:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.ChangeInterface:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.Slice:
		return []ir.Instr{assign(loc, v.Name(), v.X)}
	case *ssa.Phi:
		if len(v.Edges) == 0 {
			return nil
		}
		return []ir.Instr{assign(loc, v.Name(), v.Edges[0])}

	case *ssa.UnOp:
		if v.Op == token.MUL {
			return []ir.Instr{
				{Op: ir.OpUse, Loc: loc, Args: []string{v.X.Name()}},
				assign(loc, v.Name(), v.X),
			}
		}
		return nil
	case *ssa.Store:
		return []ir.Instr{{Op: ir.OpUse, Loc: loc, Args: []string{v.Addr.Name()}}}
	case *ssa.Send:
		return []ir.Instr{{Op: ir.OpUse, Loc: loc, Args: []string{v.Chan.Name()}}}

	case *ssa.If:
		return []ir.Instr{{Op: ir.OpBranch, Loc: loc, Args: []string{v.Cond.Name()}, Text: v.Cond.Name()}}
	case *ssa.Return:
		return []ir.Instr{{Op: ir.OpReturn, Loc: loc, Args: names(v.Results)}}

	case *ssa.Call:
		return l.call(loc, v.Name(), v.Common())
	case *ssa.Go:
		return l.call(loc, "", v.Common())
	case *ssa.Defer:
		return l.call(loc, "", v.Common())
	}
	return nil
}

func (l lowerer) call(loc ir.Location, dst string, common *ssa.CallCommon) []ir.Instr {
	args := common.Args
	if b, ok := common.Value.(*ssa.Builtin); ok {
		if b.Name() == "close" && len(args) == 1 {
			return []ir.Instr{{Op: ir.OpInvalidate, Loc: loc, Args: []string{args[0].Name()}}}
		}
		return nil
	}

	call := ir.Instr{Op: ir.OpCall, Loc: loc, Dst: dst}
	if common.IsInvoke() {
		call.Args = append([]string{common.Value.Name()}, names(args)...)
		call.CalleeName = common.Method.FullName()
		return []ir.Instr{call}
	}

	call.Args = names(args)
	callee := common.StaticCallee()
	if callee == nil {
		call.CalleeName = common.Value.Name()
		return []ir.Instr{call}
	}
	id := ProcID(callee)
	call.Callee = &id

	out := []ir.Instr{call}
	if callee.Signature.Recv() != nil && callee.Name() == "Close" && len(args) > 0 {
		out = append(out, ir.Instr{Op: ir.OpInvalidate, Loc: loc, Args: []string{args[0].Name()}})
	}
	return out
}
