// Package summary holds the frozen result of analyzing one procedure and
// the composition step that splices a callee's summary into a caller.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
)

// Flags record how a summary was obtained.
type Flags uint8

const (
	// FlagDegraded: widening was applied, the state may be coarser than the
	// least fixpoint.
	FlagDegraded Flags = 1 << iota
	// FlagNonConvergent: the node-visit budget ran out before a fixpoint.
	FlagNonConvergent
	// FlagTimeout: the wall-clock budget ran out before a fixpoint.
	FlagTimeout
	// FlagCycle: the procedure takes part in a mutual-recursion cycle and
	// was analyzed assuming bottom for the recursive calls.
	FlagCycle
	// FlagUnresolvedCallee: at least one call had no usable callee summary.
	FlagUnresolvedCallee
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagDegraded, "degraded"},
	{FlagNonConvergent, "non-convergent"},
	{FlagTimeout, "timeout"},
	{FlagCycle, "cycle"},
	{FlagUnresolvedCallee, "unresolved-callee"},
}

// Has reports whether every flag in x is set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// Partial reports whether the summary stopped before reaching a fixpoint.
func (f Flags) Partial() bool {
	return f&(FlagNonConvergent|FlagTimeout) != 0
}

// Names lists the set flags in declaration order.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// ParseFlags is the inverse of Names.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, n := range names {
		found := false
		for _, fn := range flagNames {
			if fn.name == n {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown summary flag %q", n)
		}
	}
	return f, nil
}

// Summary is the frozen analysis result of one procedure. Once published to
// a cache it is never modified; callers must treat every field as read-only.
type Summary[S any] struct {
	Proc ir.ProcID
	// Params are the procedure's formal parameters, in order.
	Params []string

	// State is the join of the exit states.
	State S
	// Exits holds the state at each exit node.
	Exits map[ir.NodeID]S

	Flags Flags

	// Pending are recursion traces that have not yet returned to the
	// procedure that started them.
	Pending []RecursionTrace
	// Cycles are the recursion cycles closed at this procedure.
	Cycles []Cycle

	// Issues raised by the checker while analyzing this procedure.
	Issues []report.Issue

	// Visits is the number of node visits the fixpoint took.
	Visits int

	// Digest is the content digest of the encoded summary, set by durable
	// caches.
	Digest string
	// RunID identifies the analysis run that produced the summary.
	RunID string
}

// ExitNodes returns the exit node ids in ascending order.
func (s *Summary[S]) ExitNodes() []ir.NodeID {
	ids := make([]ir.NodeID, 0, len(s.Exits))
	for id := range s.Exits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
