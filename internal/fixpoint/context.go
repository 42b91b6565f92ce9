package fixpoint

import (
	"context"
	"sort"

	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/trace"
)

// Context is threaded through every checker callback of one run. It owns
// the run's history arena; nothing about an analysis lives in package
// globals.
type Context struct {
	ctx    context.Context
	arena  *history.Arena
	cfg    *ir.CFG
	node   ir.NodeID
	inLoop map[ir.NodeID]bool

	issues map[string]pendingIssue
}

type pendingIssue struct {
	issue report.Issue
	h     *history.History
}

func newContext(ctx context.Context, g *ir.CFG) *Context {
	return &Context{
		ctx:    ctx,
		arena:  history.NewArena(),
		cfg:    g,
		node:   g.Entry,
		inLoop: g.LoopNodes(),
		issues: make(map[string]pendingIssue),
	}
}

// Context returns the run's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Arena returns the run's history arena.
func (c *Context) Arena() *history.Arena { return c.arena }

// Proc returns the procedure being analyzed.
func (c *Context) Proc() ir.ProcID { return c.cfg.Proc }

// Params returns the procedure's formal parameters.
func (c *Context) Params() []string { return c.cfg.Params }

// Node returns the node currently being transferred.
func (c *Context) Node() ir.NodeID { return c.node }

// InLoop reports whether the current node belongs to a loop.
func (c *Context) InLoop() bool { return c.inLoop[c.node] }

// Report records a finding at loc explained by h. A node revisited during
// iteration reports again; the last report per kind and location wins, so
// the trace reflects the final state.
func (c *Context) Report(kind string, sev report.Severity, loc ir.Location, msg string, h *history.History) {
	i := report.Issue{
		Proc:     c.cfg.Proc,
		Loc:      loc,
		Kind:     kind,
		Severity: sev,
		Message:  msg,
	}
	c.issues[kind+"|"+loc.String()] = pendingIssue{issue: i, h: h}
}

// finishIssues builds the traces of the surviving reports.
func (c *Context) finishIssues() []report.Issue {
	if len(c.issues) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.issues))
	for k := range c.issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]report.Issue, 0, len(keys))
	for _, k := range keys {
		p := c.issues[k]
		p.issue.Trace = trace.Build(p.h, 0)
		out = append(out, p.issue)
	}
	report.Sort(out)
	return out
}
