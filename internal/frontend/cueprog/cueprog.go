// Package cueprog reads programs written as CUE data: procedures with
// explicit nodes, instructions and successor lists. Every input is unified
// with the embedded #Program schema before it is turned into CFGs, so shape
// errors come back with CUE positions.
//
//	file: "demo.go"
//	proc: main: {
//		exits: [0]
//		nodes: [{id: 0, instrs: [
//			{op: "alloc", line: 1, dst: "p"},
//			{op: "call", line: 2, callee: "release", args: ["p"]},
//		]}]
//	}
package cueprog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/causal/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Error codes.
const (
	ErrCodeLoad   = "CUE_LOAD"   // the CUE sources do not compile
	ErrCodeSchema = "CUE_SCHEMA" // the value does not satisfy #Program
	ErrCodeDecode = "CUE_DECODE" // the value could not be decoded
	ErrCodeCFG    = "CUE_CFG"    // a procedure is not a well-formed CFG
)

// LoadError is a front-end failure, positioned when CUE knows where.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
	err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.err }

func cueError(code string, err error) *LoadError {
	le := &LoadError{Code: code, Message: err.Error(), err: err}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		le.Pos = errs[0].Position()
		le.Message = errs[0].Error()
	}
	return le
}

// Loader compiles CUE programs. It is not safe for concurrent use.
type Loader struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewLoader compiles the embedded schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeLoad, err)
	}
	return &Loader{ctx: ctx, schema: v.LookupPath(cue.ParsePath("#Program"))}, nil
}

// Schema returns the #Program definition.
func (l *Loader) Schema() cue.Value {
	return l.schema
}

// Parse compiles one CUE document. filename is used for positions and as
// the default source file of locations.
func (l *Loader) Parse(filename string, data []byte) (*ir.Program, error) {
	return l.build(l.ctx.CompileBytes(data, cue.Filename(filename)), filename)
}

// LoadFile reads and parses one file.
func (l *Loader) LoadFile(path string) (*ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoad, Message: fmt.Sprintf("failed to read program: %v", err), err: err}
	}
	return l.Parse(path, data)
}

// LoadDir loads the CUE package in dir. All its files make up one program.
func (l *Loader) LoadDir(dir string) (*ir.Program, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoad, Message: "no CUE instances loaded from " + dir}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, cueError(ErrCodeLoad, inst.Err)
	}
	return l.build(l.ctx.BuildInstance(inst), dir)
}

// Load reads a program from a single file or from the CUE package in a
// directory.
func (l *Loader) Load(path string) (*ir.Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoad, Message: fmt.Sprintf("failed to read program: %v", err), err: err}
	}
	if info.IsDir() {
		return l.LoadDir(path)
	}
	return l.LoadFile(path)
}

func (l *Loader) build(v cue.Value, source string) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, cueError(ErrCodeLoad, err)
	}
	u := l.schema.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	var w wireProgram
	if err := u.Decode(&w); err != nil {
		return nil, cueError(ErrCodeDecode, err)
	}
	if w.File == "" {
		w.File = source
	}
	return w.program()
}

type wireInstr struct {
	Op         string   `json:"op"`
	Line       int      `json:"line"`
	Col        int      `json:"col"`
	Dst        string   `json:"dst"`
	Args       []string `json:"args"`
	Value      int64    `json:"value"`
	Text       string   `json:"text"`
	Callee     string   `json:"callee"`
	CalleeName string   `json:"callee_name"`
	Spec       string   `json:"spec"`
}

type wireNode struct {
	ID     int         `json:"id"`
	Instrs []wireInstr `json:"instrs"`
	Succs  []int       `json:"succs"`
}

type wireProc struct {
	Params []string   `json:"params"`
	Spec   string     `json:"spec"`
	Entry  int        `json:"entry"`
	Exits  []int      `json:"exits"`
	Nodes  []wireNode `json:"nodes"`
}

type wireProgram struct {
	File  string              `json:"file"`
	Procs map[string]wireProc `json:"proc"`
}

func (w wireProgram) program() (*ir.Program, error) {
	names := make([]string, 0, len(w.Procs))
	ids := make(map[string]ir.ProcID, len(w.Procs))
	for name, p := range w.Procs {
		names = append(names, name)
		ids[name] = ir.ProcID{Name: name, Arity: len(p.Params), Specialization: p.Spec}
	}
	sort.Strings(names)

	prog := ir.NewProgram()
	for _, name := range names {
		g, err := w.cfg(ids[name], w.Procs[name], ids)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeCFG, Message: fmt.Sprintf("proc %s: %v", name, err), err: err}
		}
		prog.Add(g)
	}
	return prog, nil
}

func (w wireProgram) cfg(id ir.ProcID, p wireProc, ids map[string]ir.ProcID) (*ir.CFG, error) {
	g := &ir.CFG{
		Proc:   id,
		Params: p.Params,
		Nodes:  make(map[ir.NodeID]*ir.Node, len(p.Nodes)),
		Edges:  make(map[ir.NodeID][]ir.NodeID),
		Entry:  ir.NodeID(p.Entry),
	}
	for _, x := range p.Exits {
		g.Exits = append(g.Exits, ir.NodeID(x))
	}
	for _, n := range p.Nodes {
		nid := ir.NodeID(n.ID)
		if _, dup := g.Nodes[nid]; dup {
			return nil, fmt.Errorf("%w: duplicate node %d", ir.ErrMalformedCFG, n.ID)
		}
		node := &ir.Node{ID: nid}
		for _, in := range n.Instrs {
			node.Instrs = append(node.Instrs, w.instr(in, ids))
		}
		g.Nodes[nid] = node
		for _, s := range n.Succs {
			g.Edges[nid] = append(g.Edges[nid], ir.NodeID(s))
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (w wireProgram) instr(in wireInstr, ids map[string]ir.ProcID) ir.Instr {
	out := ir.Instr{
		Op:         ir.Op(in.Op),
		Loc:        ir.Location{File: w.File, Line: in.Line, Col: in.Col},
		Dst:        in.Dst,
		Args:       in.Args,
		Value:      in.Value,
		Text:       in.Text,
		CalleeName: in.CalleeName,
	}
	if in.Callee != "" {
		callee, ok := ids[in.Callee]
		if !ok {
			callee = ir.ProcID{Name: in.Callee, Arity: len(in.Args), Specialization: in.Spec}
		}
		out.Callee = &callee
	}
	return out
}
