// Package fixpoint computes one procedure's abstract state by worklist
// iteration over its control-flow graph.
//
// The engine is generic over the checker's state type S and is instantiated
// once per checker at compile time. It knows nothing about S beyond the
// lattice operations; instruction semantics live in the Checker, and callee
// summaries come from a Resolver (normally the interprocedural driver).
package fixpoint

import (
	"context"

	"github.com/roach88/causal/internal/domain"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/summary"
)

// Checker supplies the abstract semantics for one analysis.
//
// Transfer and Call must be monotone and must not mutate pre.
type Checker[S any] interface {
	domain.Lattice[S]
	summary.Projector[S]

	// Name identifies the checker in logs, cache keys and reports.
	Name() string
	// Entry returns the state at the procedure entry.
	Entry(c *Context) S
	// Transfer applies one non-call instruction.
	Transfer(c *Context, instr ir.Instr, pre S) S
	// Call applies a call instruction given how its callee resolved.
	Call(c *Context, site ir.CallSite, res Resolution[S], pre S) S
}

// Outcome classifies how a callee was resolved.
type Outcome int

const (
	// OutcomeResolved: a summary is available.
	OutcomeResolved Outcome = iota + 1
	// OutcomeUnresolved: the callee is unknown, has no body, or failed.
	OutcomeUnresolved
	// OutcomeCycle: the callee is still being analyzed higher up the call
	// chain. The call contributes bottom for now.
	OutcomeCycle
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeCycle:
		return "cycle"
	default:
		return "outcome(?)"
	}
}

// Resolution is the answer to a summary request.
type Resolution[S any] struct {
	Outcome Outcome
	// Summary is set only for OutcomeResolved.
	Summary *summary.Summary[S]
	// Reason explains OutcomeUnresolved.
	Reason string
}

// Resolver answers callee summary requests during a fixpoint run. It may
// block while the callee is computed.
//
// An error aborts the run; it is reserved for cancellation and storage
// failures. A callee that cannot be analyzed is an OutcomeUnresolved.
type Resolver[S any] interface {
	Resolve(ctx context.Context, site ir.CallSite) (Resolution[S], error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc[S any] func(ctx context.Context, site ir.CallSite) (Resolution[S], error)

func (f ResolverFunc[S]) Resolve(ctx context.Context, site ir.CallSite) (Resolution[S], error) {
	return f(ctx, site)
}
