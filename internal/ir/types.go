package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ProcID identifies a procedure: qualified name, arity and an optional
// specialization tag. It is comparable and used as the cache and recursion
// detection key.
type ProcID struct {
	Name           string `json:"name"`
	Arity          int    `json:"arity"`
	Specialization string `json:"specialization,omitempty"`
}

// String renders the procedure as name/arity or name/arity#spec.
func (p ProcID) String() string {
	if p.Specialization == "" {
		return p.Name + "/" + strconv.Itoa(p.Arity)
	}
	return p.Name + "/" + strconv.Itoa(p.Arity) + "#" + p.Specialization
}

// Key returns the cache key for the procedure. Same format as String, kept
// separate so the rendering can change without invalidating caches.
func (p ProcID) Key() string {
	return p.String()
}

// ParseProcID parses the String form back into a ProcID.
// A missing arity parses as 0.
func ParseProcID(s string) (ProcID, error) {
	var p ProcID
	if s == "" {
		return p, fmt.Errorf("empty procedure id")
	}
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		p.Specialization = s[i+1:]
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		arity, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return ProcID{}, fmt.Errorf("procedure id %q: bad arity: %w", s, err)
		}
		p.Arity = arity
		s = s[:i]
	}
	p.Name = s
	return p, nil
}

// Location is a source position.
type Location struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line"`
	Col  int    `json:"col,omitempty"`
}

func (l Location) String() string {
	file := l.File
	if file == "" {
		file = "<unknown>"
	}
	if l.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", file, l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d", file, l.Line)
}

// IsValid reports whether the location has a line.
func (l Location) IsValid() bool {
	return l.Line > 0
}

// NodeID identifies a CFG node within one procedure.
type NodeID int

// Op is the instruction opcode.
type Op string

const (
	OpNop        Op = "nop"
	OpAssign     Op = "assign"     // Dst = Args[0]
	OpAlloc      Op = "alloc"      // Dst = new cell
	OpConst      Op = "const"      // Dst = Value
	OpAdd        Op = "add"        // Dst = Dst + Value
	OpInvalidate Op = "invalidate" // Args[0] no longer valid
	OpUse        Op = "use"        // Args[0] is dereferenced
	OpBranch     Op = "branch"     // condition Text taken
	OpCall       Op = "call"       // Dst = Callee(Args...)
	OpReturn     Op = "return"     // return Args...
)

// ValidOps lists the accepted opcodes.
var ValidOps = map[Op]bool{
	OpNop:        true,
	OpAssign:     true,
	OpAlloc:      true,
	OpConst:      true,
	OpAdd:        true,
	OpInvalidate: true,
	OpUse:        true,
	OpBranch:     true,
	OpCall:       true,
	OpReturn:     true,
}

// Instr is one instruction of a CFG node.
//
// For OpCall, Callee is nil when the front-end could not resolve the target;
// CalleeName then carries the textual callee for diagnostics.
type Instr struct {
	Op         Op       `json:"op"`
	Loc        Location `json:"loc"`
	Dst        string   `json:"dst,omitempty"`
	Args       []string `json:"args,omitempty"`
	Value      int64    `json:"value,omitempty"`
	Text       string   `json:"text,omitempty"`
	Callee     *ProcID  `json:"callee,omitempty"`
	CalleeName string   `json:"callee_name,omitempty"`
}

// Node is a basic block: an ordered instruction list.
type Node struct {
	ID     NodeID  `json:"id"`
	Instrs []Instr `json:"instrs"`
}

// CallSite describes one call as seen by the engine.
type CallSite struct {
	Caller     ProcID   `json:"caller"`
	Loc        Location `json:"loc"`
	InLoop     bool     `json:"in_loop,omitempty"`
	Callee     *ProcID  `json:"callee,omitempty"`
	CalleeName string   `json:"callee_name,omitempty"`
	Args       []string `json:"args,omitempty"`
	Dst        string   `json:"dst,omitempty"`
}

// Resolved reports whether the callee identity is known.
func (c CallSite) Resolved() bool {
	return c.Callee != nil
}

// Target returns the human-readable callee name.
func (c CallSite) Target() string {
	if c.Callee != nil {
		return c.Callee.Name
	}
	if c.CalleeName != "" {
		return c.CalleeName
	}
	return "<unknown>"
}

// Key identifies the call site within its caller.
func (c CallSite) Key() string {
	return c.Caller.Key() + "@" + c.Loc.String() + "->" + c.Target()
}

// NewCallSite builds the call site for a call instruction of caller.
func NewCallSite(caller ProcID, instr Instr, inLoop bool) CallSite {
	return CallSite{
		Caller:     caller,
		Loc:        instr.Loc,
		InLoop:     inLoop,
		Callee:     instr.Callee,
		CalleeName: instr.CalleeName,
		Args:       instr.Args,
		Dst:        instr.Dst,
	}
}
