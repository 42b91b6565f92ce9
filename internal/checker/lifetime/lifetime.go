// Package lifetime is the use-after-invalidate checker.
//
// Every variable holds a Value: whether it is still valid, and the history
// of how it got that way. Allocations and parameters get fresh memory cells,
// carried as tags on the history, so invalidating one variable also
// invalidates every alias that shares a cell with it. Using a value that is
// or may be invalid is reported with the value's history as the trace.
package lifetime

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/causal/internal/domain"
	"github.com/roach88/causal/internal/fixpoint"
	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/summary"
)

// Name is the checker name used in cache keys and reports.
const Name = "lifetime"

// KindUseAfterInvalidate is reported for uses of invalid values.
const KindUseAfterInvalidate = "use-after-invalidate"

// retVar holds the returned value in exit states.
const retVar = "$ret"

// State maps variable names to values. A missing variable is bottom.
type State struct {
	arena *history.Arena
	Vars  map[string]Value
}

// Names returns the variable names in order.
func (s State) Names() []string {
	return slices.Sorted(maps.Keys(s.Vars))
}

// Returned is the value the procedure returns, if any.
func (s State) Returned() (Value, bool) {
	v, ok := s.Vars[retVar]
	return v, ok
}

func (s State) with(vars map[string]Value) State {
	return State{arena: s.arena, Vars: vars}
}

func (s State) clone() map[string]Value {
	out := maps.Clone(s.Vars)
	if out == nil {
		out = make(map[string]Value)
	}
	return out
}

// Checker implements fixpoint.Checker[State].
type Checker struct {
	// AssumeUnknownInvalidates makes every argument of an unresolved call
	// possibly invalid afterwards.
	AssumeUnknownInvalidates bool
}

var _ fixpoint.Checker[State] = Checker{}

func New(assumeUnknownInvalidates bool) Checker {
	return Checker{AssumeUnknownInvalidates: assumeUnknownInvalidates}
}

func (Checker) Name() string { return Name }

func pointwise(arena *history.Arena) domain.Pointwise[string, Value] {
	return domain.NewPointwise[string, Value](valueLattice{arena: arena})
}

func (Checker) Bottom() State { return State{} }

func (Checker) IsBottom(s State) bool {
	return pointwise(nil).IsBottom(s.Vars)
}

func (Checker) Leq(a, b State) bool {
	return pointwise(nil).Leq(a.Vars, b.Vars)
}

func (Checker) Join(a, b State) State {
	arena := a.arena
	if arena == nil {
		arena = b.arena
	}
	return State{arena: arena, Vars: pointwise(arena).Join(a.Vars, b.Vars)}
}

// Widen is Join: validity has finite height.
func (c Checker) Widen(prev, next State, _ int) State {
	return c.Join(prev, next)
}

// Entry assumes every parameter is valid and points to its own cell.
func (Checker) Entry(c *fixpoint.Context) State {
	arena := c.Arena()
	vars := make(map[string]Value, len(c.Params()))
	for _, p := range c.Params() {
		h := arena.Record(history.EventParameter, ir.Location{}, p, nil)
		vars[p] = Value{Validity: Valid, History: arena.Tag(h, arena.FreshCell())}
	}
	return State{arena: arena, Vars: vars}
}

func (ch Checker) Transfer(c *fixpoint.Context, instr ir.Instr, pre State) State {
	arena := c.Arena()
	switch instr.Op {
	case ir.OpAlloc:
		vars := pre.clone()
		h := arena.Record(history.EventAllocation, instr.Loc, instr.Dst, nil)
		vars[instr.Dst] = Value{Validity: Valid, History: arena.Tag(h, arena.FreshCell())}
		return pre.with(vars)

	case ir.OpConst:
		vars := pre.clone()
		desc := fmt.Sprintf("%s = %d", instr.Dst, instr.Value)
		vars[instr.Dst] = Value{Validity: Valid, History: arena.Record(history.EventConstant, instr.Loc, desc, nil)}
		return pre.with(vars)

	case ir.OpAssign:
		if len(instr.Args) == 0 {
			return pre
		}
		src := instr.Args[0]
		vars := pre.clone()
		v, ok := pre.Vars[src]
		if !ok {
			v = Value{Validity: Valid}
		}
		desc := instr.Dst + " = " + src
		vars[instr.Dst] = Value{Validity: v.Validity, History: arena.Record(history.EventAssignment, instr.Loc, desc, v.History)}
		return pre.with(vars)

	case ir.OpInvalidate:
		if len(instr.Args) == 0 {
			return pre
		}
		ev := arena.NewEvent(history.EventInvalidation, instr.Loc, instr.Args[0])
		return pre.with(invalidate(arena, pre.Vars, instr.Args[0], ev, Invalid))

	case ir.OpUse:
		for _, name := range instr.Args {
			v, ok := pre.Vars[name]
			if !ok || !v.Validity.Tainted() {
				continue
			}
			sev, msg := report.SeverityError, fmt.Sprintf("`%s` is used after being invalidated", name)
			if v.Validity == MaybeInvalid {
				sev, msg = report.SeverityWarning, fmt.Sprintf("`%s` may be used after being invalidated", name)
			}
			c.Report(KindUseAfterInvalidate, sev, instr.Loc, msg, v.History)
		}
		return pre

	case ir.OpBranch:
		if len(instr.Args) == 0 {
			return pre
		}
		vars := pre.clone()
		for _, name := range instr.Args {
			if v, ok := pre.Vars[name]; ok {
				v.History = arena.Record(history.EventBranch, instr.Loc, instr.Text, v.History)
				vars[name] = v
			}
		}
		return pre.with(vars)

	case ir.OpReturn:
		if len(instr.Args) == 0 {
			return pre
		}
		l := valueLattice{arena: arena}
		var ret Value
		for _, name := range instr.Args {
			v, ok := pre.Vars[name]
			if !ok {
				v = Value{Validity: Valid}
			}
			ret = l.Join(ret, v)
		}
		vars := pre.clone()
		vars[retVar] = ret
		return pre.with(vars)
	}
	return pre
}

// invalidate marks name with validity and spreads ev to every variable
// sharing a cell with it. Aliases pointing only at the invalidated cells
// take the same validity; the others may still point elsewhere.
func invalidate(arena *history.Arena, vars map[string]Value, name string, ev history.Event, validity Validity) map[string]Value {
	out := maps.Clone(vars)
	if out == nil {
		out = make(map[string]Value)
	}
	v, ok := vars[name]
	if !ok {
		out[name] = Value{Validity: validity, History: arena.Sequence(ev, nil)}
		return out
	}
	out[name] = Value{Validity: validity, History: arena.Sequence(ev, v.History)}

	cells := v.Cells()
	if len(cells) == 0 {
		return out
	}
	for _, w := range slices.Sorted(maps.Keys(vars)) {
		wv := vars[w]
		if w == name || !shares(wv.Cells(), cells) {
			continue
		}
		wvalidity := validity
		if !subset(wv.Cells(), cells) {
			wvalidity = joinValidity(wv.Validity, validity)
		}
		merged := arena.Retag(arena.Multiplex(wv.History, v.History), wv.Cells()...)
		out[w] = Value{Validity: wvalidity, History: arena.Sequence(ev, merged)}
	}
	return out
}

func shares(a, b []history.CellID) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}

func subset(a, b []history.CellID) bool {
	for _, c := range a {
		if !slices.Contains(b, c) {
			return false
		}
	}
	return true
}

func (ch Checker) Call(c *fixpoint.Context, site ir.CallSite, res fixpoint.Resolution[State], pre State) State {
	arena := c.Arena()
	switch res.Outcome {
	case fixpoint.OutcomeResolved:
		post := summary.Apply[State](ch, ch, arena, pre, res.Summary, site)
		return spread(arena, pre, post, site)

	case fixpoint.OutcomeUnresolved:
		ev := arena.NewEvent(history.EventUnknownCall, site.Loc, site.Target())
		vars := pre.clone()
		for _, name := range site.Args {
			v, ok := pre.Vars[name]
			if !ok {
				continue
			}
			if ch.AssumeUnknownInvalidates {
				vars = invalidate(arena, vars, name, ev, joinValidity(v.Validity, Invalid))
				continue
			}
			v.History = arena.Sequence(ev, v.History)
			vars[name] = v
		}
		if site.Dst != "" {
			vars[site.Dst] = Value{Validity: Valid, History: arena.Sequence(ev, nil)}
		}
		return pre.with(vars)
	}
	// The callee is still being analyzed: it contributes nothing yet.
	return pre
}

// spread carries validity changes a callee made to an argument over to the
// caller's other aliases of that argument.
func spread(arena *history.Arena, pre, post State, site ir.CallSite) State {
	var vars map[string]Value
	for _, name := range slices.Compact(slices.Sorted(slices.Values(site.Args))) {
		before, ok := pre.Vars[name]
		after := post.Vars[name]
		if !ok || after.Validity == before.Validity || len(before.Cells()) == 0 {
			continue
		}
		if vars == nil {
			vars = post.clone()
		}
		for _, w := range slices.Sorted(maps.Keys(post.Vars)) {
			wv := post.Vars[w]
			if w == name || !shares(wv.Cells(), before.Cells()) {
				continue
			}
			vars[w] = Value{
				Validity: joinValidity(wv.Validity, after.Validity),
				History:  arena.Retag(arena.Multiplex(wv.History, after.History), wv.Cells()...),
			}
		}
	}
	if vars == nil {
		return post
	}
	return post.with(vars)
}

// Project binds the callee's tainted parameters to the actual arguments and
// its return value to the call's destination. Callee locals are dropped.
func (Checker) Project(callee State, site ir.CallSite, params []string, wrap func(*history.History) *history.History) State {
	l := valueLattice{arena: callee.arena}
	out := make(map[string]Value)
	bind := func(dst string, v Value) {
		v.History = wrap(v.History)
		if prev, ok := out[dst]; ok {
			v = l.Join(prev, v)
		}
		out[dst] = v
	}
	for i, formal := range params {
		if i >= len(site.Args) {
			break
		}
		if v, ok := callee.Vars[formal]; ok && v.Validity.Tainted() {
			bind(site.Args[i], v)
		}
	}
	if site.Dst != "" {
		if v, ok := callee.Vars[retVar]; ok {
			bind(site.Dst, v)
		}
	}
	return State{arena: callee.arena, Vars: out}
}
