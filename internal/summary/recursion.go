package summary

import (
	"slices"
	"strings"

	"github.com/roach88/causal/internal/ir"
)

// CallLink is one call of a recursion chain with the argument values bound
// at that call.
type CallLink struct {
	Caller ir.ProcID   `json:"caller"`
	Callee ir.ProcID   `json:"callee"`
	Loc    ir.Location `json:"loc"`
	Args   []string    `json:"args,omitempty"`
}

// LinkFor builds the link for a resolved call site.
func LinkFor(site ir.CallSite) CallLink {
	l := CallLink{Caller: site.Caller, Loc: site.Loc, Args: site.Args}
	if site.Callee != nil {
		l.Callee = *site.Callee
	}
	return l
}

func (l CallLink) String() string {
	return l.Caller.Name + "@" + l.Loc.String()
}

// RecursionTrace is a call chain that ran into a procedure still being
// analyzed. It starts at the call into Target and grows at the front as it
// bubbles up through callers; it is closed once its first link leaves
// Target again.
type RecursionTrace struct {
	Target ir.ProcID  `json:"target"`
	Links  []CallLink `json:"links"`
}

// Prepend returns a copy of t extended with the caller-side link l.
func (t RecursionTrace) Prepend(l CallLink) RecursionTrace {
	links := make([]CallLink, 0, len(t.Links)+1)
	links = append(links, l)
	links = append(links, t.Links...)
	return RecursionTrace{Target: t.Target, Links: links}
}

// Closed reports whether the chain starts and ends at Target.
func (t RecursionTrace) Closed() bool {
	return len(t.Links) > 0 && t.Links[0].Caller == t.Target
}

// Key identifies the chain by the procedures and call locations it crosses.
func (t RecursionTrace) Key() string {
	var b strings.Builder
	b.WriteString(t.Target.Key())
	for _, l := range t.Links {
		b.WriteString("|")
		b.WriteString(l.Caller.Key())
		b.WriteString("@")
		b.WriteString(l.Loc.String())
	}
	return b.String()
}

// Cycle is a closed recursion chain. Links[0].Caller is the procedure at
// which the cycle was closed; the last link calls back into it.
type Cycle struct {
	Links []CallLink `json:"links"`
}

// NewCycle builds the cycle of a closed trace.
func NewCycle(t RecursionTrace) Cycle {
	return Cycle{Links: slices.Clone(t.Links)}
}

// Procs lists the member procedures in call order, starting at the closing
// procedure.
func (c Cycle) Procs() []ir.ProcID {
	out := make([]ir.ProcID, len(c.Links))
	for i, l := range c.Links {
		out[i] = l.Caller
	}
	return out
}

// Len is the number of member procedures.
func (c Cycle) Len() int {
	return len(c.Links)
}

// Key is the same for every rotation of the cycle: the member sequence is
// rotated to start at its smallest procedure key. Two analyses entering the
// cycle at different members therefore agree on its identity.
func (c Cycle) Key() string {
	procs := c.Procs()
	if len(procs) == 0 {
		return ""
	}
	keys := make([]string, len(procs))
	for i, p := range procs {
		keys[i] = p.Key()
	}
	best := 0
	for i := 1; i < len(keys); i++ {
		if compareRotations(keys, i, best) < 0 {
			best = i
		}
	}
	rotated := append(slices.Clone(keys[best:]), keys[:best]...)
	return strings.Join(rotated, " -> ")
}

// compareRotations compares the rotations of keys starting at i and j.
func compareRotations(keys []string, i, j int) int {
	n := len(keys)
	for k := range n {
		if c := strings.Compare(keys[(i+k)%n], keys[(j+k)%n]); c != 0 {
			return c
		}
	}
	return 0
}

// String renders the cycle from its closing procedure, e.g. f→g→f.
func (c Cycle) String() string {
	procs := c.Procs()
	if len(procs) == 0 {
		return ""
	}
	names := make([]string, 0, len(procs)+1)
	for _, p := range procs {
		names = append(names, p.Name)
	}
	names = append(names, procs[0].Name)
	return strings.Join(names, "→")
}
