// Package resolution is the call-resolution checker. It records, for every
// call site a procedure reaches (directly or through callees), whether the
// callee was resolved, and explains each site with a history.
package resolution

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
	"github.com/roach88/causal/internal/trace"
)

// Name is the checker name used in cache keys and reports.
const Name = "resolution"

// KindUnresolvedCall is reported for calls whose callee is unknown.
const KindUnresolvedCall = "unresolved-call"

// Entry is what is known about one call site.
type Entry struct {
	Site   ir.CallSite
	Status domain.Status
	// ViaLoop is set when the site is reached through a call made inside a
	// loop.
	ViaLoop bool
	// History explains how the site was reached.
	History *history.History
}

// State maps call-site keys to entries. It is the pointwise lift of the
// status lattice; histories and loop marks ride along and are merged on
// join but never compared.
type State struct {
	// arena interns merged histories. Merging issues no timestamps, so any
	// arena will do; Join uses the first one it finds.
	arena   *history.Arena
	Entries map[string]Entry
}

// Keys returns the entry keys in order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.Entries))
}

// Checker implements fixpoint.Checker[State].
type Checker struct {
	// ReportUnresolved reports every unresolved call as an issue.
	ReportUnresolved bool
}

var _ fixpoint.Checker[State] = Checker{}

// New returns a checker.
func New(reportUnresolved bool) Checker {
	return Checker{ReportUnresolved: reportUnresolved}
}

func (Checker) Name() string { return Name }

func (Checker) Bottom() State { return State{} }

func (Checker) IsBottom(s State) bool {
	for _, e := range s.Entries {
		if e.Status != domain.StatusBottom {
			return false
		}
	}
	return true
}

func (Checker) Leq(a, b State) bool {
	var l domain.StatusLattice
	for k, ea := range a.Entries {
		if !l.Leq(ea.Status, b.Entries[k].Status) {
			return false
		}
	}
	return true
}

func (c Checker) Join(a, b State) State {
	if len(a.Entries) == 0 {
		return b
	}
	if len(b.Entries) == 0 {
		return a
	}
	arena := a.arena
	if arena == nil {
		arena = b.arena
	}
	var l domain.StatusLattice
	out := State{arena: arena, Entries: maps.Clone(a.Entries)}
	for k, eb := range b.Entries {
		ea, ok := out.Entries[k]
		if !ok {
			out.Entries[k] = eb
			continue
		}
		out.Entries[k] = Entry{
			Site:    ea.Site,
			Status:  l.Join(ea.Status, eb.Status),
			ViaLoop: ea.ViaLoop || eb.ViaLoop,
			History: merge(arena, ea.History, eb.History),
		}
	}
	return out
}

// Widen is Join: the status lattice has finite height.
func (c Checker) Widen(prev, next State, _ int) State {
	return c.Join(prev, next)
}

func merge(arena *history.Arena, a, b *history.History) *history.History {
	if a == b || arena == nil {
		return a
	}
	return arena.Multiplex(a, b)
}

func (Checker) Entry(c *fixpoint.Context) State {
	return State{arena: c.Arena()}
}

// Transfer ignores everything but calls.
func (Checker) Transfer(_ *fixpoint.Context, _ ir.Instr, pre State) State {
	return pre
}

// Call records the site itself and, for a resolved callee, every site the
// callee reaches.
func (ch Checker) Call(c *fixpoint.Context, site ir.CallSite, res fixpoint.Resolution[State], pre State) State {
	arena := c.Arena()
	own := Entry{Site: site, Status: domain.StatusResolved}

	switch res.Outcome {
	case fixpoint.OutcomeResolved, fixpoint.OutcomeCycle:
		own.History = arena.Record(history.EventCall, site.Loc, site.Target(), nil)
	case fixpoint.OutcomeUnresolved:
		own.Status = domain.StatusUnresolved
		own.History = arena.Record(history.EventUnknownCall, site.Loc, site.Target(), nil)
		if ch.ReportUnresolved {
			msg := fmt.Sprintf("call to `%s` could not be resolved", site.Target())
			if res.Reason != "" {
				msg += ": " + res.Reason
			}
			c.Report(KindUnresolvedCall, report.SeverityWarning, site.Loc, msg, own.History)
		}
	}

	post := ch.Join(pre, State{arena: arena, Entries: map[string]Entry{site.Key(): own}})
	if res.Outcome == fixpoint.OutcomeResolved {
		post = summary.Apply[State](ch, ch, arena, post, res.Summary, site)
	}
	return post
}

// Project keeps every callee entry, nesting its history in the call.
func (Checker) Project(callee State, site ir.CallSite, _ []string, wrap func(*history.History) *history.History) State {
	out := State{arena: callee.arena, Entries: make(map[string]Entry, len(callee.Entries))}
	for k, e := range callee.Entries {
		e.History = wrap(e.History)
		e.ViaLoop = e.ViaLoop || site.InLoop
		out.Entries[k] = e
	}
	return out
}

// AuditRecord is the transitive-effect record of one call site reached by
// a procedure.
type AuditRecord struct {
	Proc   ir.ProcID    `json:"proc"`
	Site   string       `json:"site"`
	Caller ir.ProcID    `json:"caller"`
	Callee string       `json:"callee"`
	Loc    ir.Location  `json:"loc"`
	Status string       `json:"status"`
	InLoop bool         `json:"in_loop"`
	Depth  int          `json:"depth"`
	Trace  []trace.Step `json:"trace,omitempty"`
}

// Audit lists every call site s reaches, ordered by site key.
func Audit(s *summary.Summary[State]) []AuditRecord {
	keys := s.State.Keys()
	out := make([]AuditRecord, 0, len(keys))
	for _, k := range keys {
		e := s.State.Entries[k]
		steps := trace.Build(e.History, 0)
		out = append(out, AuditRecord{
			Proc:   s.Proc,
			Site:   k,
			Caller: e.Site.Caller,
			Callee: e.Site.Target(),
			Loc:    e.Site.Loc,
			Status: e.Status.String(),
			InLoop: e.Site.InLoop || e.ViaLoop,
			Depth:  trace.Depth(steps),
			Trace:  steps,
		})
	}
	return out
}

// Unresolved filters records down to sites that did not always resolve.
func Unresolved(records []AuditRecord) []AuditRecord {
	var out []AuditRecord
	for _, r := range records {
		if r.Status != domain.StatusResolved.String() {
			out = append(out, r)
		}
	}
	return out
}
