package fixpoint

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/summary"
)

const (
	// DefaultWidenAfter is how many times a loop header is revisited with
	// plain joins before widening kicks in.
	DefaultWidenAfter = 2

	// DefaultMaxNodeVisits bounds the node visits of one procedure.
	DefaultMaxNodeVisits = 10000
)

// Engine runs the per-procedure fixpoint for one checker.
//
// An Engine holds no per-run state and is safe for concurrent use: each Run
// gets its own Context and arena.
type Engine[S any] struct {
	checker    Checker[S]
	widenAfter int
	maxVisits  int
	timeout    time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	widenAfter int
	maxVisits  int
	timeout    time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
}

// WithWidenAfter sets how many header revisits use join before widening.
func WithWidenAfter(n int) Option {
	return func(o *options) { o.widenAfter = n }
}

// WithMaxNodeVisits sets the node-visit budget. Zero disables it.
func WithMaxNodeVisits(n int) Option {
	return func(o *options) { o.maxVisits = n }
}

// WithTimeout sets the wall-clock budget per procedure. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithNow replaces the clock used for the wall-clock budget. Tests only.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// New creates an engine for checker.
func New[S any](checker Checker[S], opts ...Option) *Engine[S] {
	o := options{
		widenAfter: DefaultWidenAfter,
		maxVisits:  DefaultMaxNodeVisits,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = DiscardLogger()
	}
	return &Engine[S]{
		checker:    checker,
		widenAfter: o.widenAfter,
		maxVisits:  o.maxVisits,
		timeout:    o.timeout,
		now:        o.now,
		logger:     o.logger,
	}
}

// Checker returns the engine's checker.
func (e *Engine[S]) Checker() Checker[S] {
	return e.checker
}

// Result is the outcome of one Run.
type Result[S any] struct {
	Proc   ir.ProcID
	Params []string
	// Exit is the join of the exit states.
	Exit  S
	Exits map[ir.NodeID]S
	Flags summary.Flags
	// Visits counts node visits that ran the transfer functions.
	Visits int
	Issues []report.Issue
}

// Summary freezes the result into a summary without recursion data.
func (r *Result[S]) Summary() *summary.Summary[S] {
	return &summary.Summary[S]{
		Proc:   r.Proc,
		Params: r.Params,
		State:  r.Exit,
		Exits:  r.Exits,
		Flags:  r.Flags,
		Issues: r.Issues,
		Visits: r.Visits,
	}
}

// Run computes the fixpoint of g.
//
// Nodes are taken from the worklist in reverse postorder. A node's input is
// the join of its visited predecessors' outputs (plus the entry state at the
// entry node). At loop headers the input is joined with the previous input,
// and widened once the header has been revisited WidenAfter times.
// A node is re-transferred only when its input grew.
//
// When a budget runs out the current states are returned with
// FlagNonConvergent or FlagTimeout set; this is not an error. Errors are
// returned for malformed graphs, cancellation, and resolver failures.
func (e *Engine[S]) Run(ctx context.Context, g *ir.CFG, r Resolver[S]) (*Result[S], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	c := newContext(ctx, g)
	rpo := g.ReversePostorder()
	preds := g.Preds()
	headers := g.LoopHeaders()

	var (
		l            = e.checker
		entry        = l.Entry(c)
		in           = make(map[ir.NodeID]S, len(rpo))
		out          = make(map[ir.NodeID]S, len(rpo))
		visited      = make(map[ir.NodeID]bool, len(rpo))
		headerVisits = make(map[ir.NodeID]int)
		flags        summary.Flags
		visits       int
		start        = e.now()
	)

	wl := newWorklist(rpo)
	wl.push(g.Entry)

	for wl.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.maxVisits > 0 && visits >= e.maxVisits {
			flags |= summary.FlagNonConvergent
			break
		}
		if e.timeout > 0 && e.now().Sub(start) >= e.timeout {
			flags |= summary.FlagTimeout
			break
		}

		n := wl.pop()

		pre := l.Bottom()
		if n == g.Entry {
			pre = entry
		}
		for _, p := range preds[n] {
			if visited[p] {
				pre = l.Join(pre, out[p])
			}
		}

		if headers[n] {
			headerVisits[n]++
			if prev, ok := in[n]; ok {
				joined := l.Join(prev, pre)
				pre = joined
				if k := headerVisits[n] - e.widenAfter; k > 0 {
					pre = l.Widen(prev, joined, k)
					if !l.Leq(pre, joined) {
						flags |= summary.FlagDegraded
					}
				}
			}
		}

		if visited[n] && l.Leq(pre, in[n]) {
			continue
		}
		in[n] = pre
		visits++

		post, rflags, err := e.transfer(c, g, n, pre, r)
		if err != nil {
			return nil, fmt.Errorf("%s: node %d: %w", g.Proc, n, err)
		}
		flags |= rflags

		if visited[n] {
			if l.Leq(post, out[n]) {
				continue
			}
			post = l.Join(out[n], post)
		}
		visited[n] = true
		out[n] = post
		for _, s := range g.Succs(n) {
			wl.push(s)
		}
	}

	res := &Result[S]{
		Proc:   g.Proc,
		Params: g.Params,
		Exit:   l.Bottom(),
		Exits:  make(map[ir.NodeID]S, len(g.Exits)),
		Flags:  flags,
		Visits: visits,
		Issues: c.finishIssues(),
	}
	for _, x := range g.Exits {
		if visited[x] {
			res.Exits[x] = out[x]
			res.Exit = l.Join(res.Exit, out[x])
		}
	}

	e.logger.WithFields(logrus.Fields{
		"checker": l.Name(),
		"proc":    g.Proc.String(),
		"visits":  visits,
		"flags":   flags.String(),
		"issues":  len(res.Issues),
	}).Debug("fixpoint finished")

	return res, nil
}

// transfer runs the instructions of node n.
func (e *Engine[S]) transfer(c *Context, g *ir.CFG, n ir.NodeID, pre S, r Resolver[S]) (S, summary.Flags, error) {
	c.node = n
	var flags summary.Flags
	s := pre
	for _, instr := range g.Nodes[n].Instrs {
		if instr.Op != ir.OpCall {
			s = e.checker.Transfer(c, instr, s)
			continue
		}

		site := ir.NewCallSite(g.Proc, instr, c.InLoop())
		res := Resolution[S]{Outcome: OutcomeUnresolved, Reason: "callee not resolved by front-end"}
		if site.Resolved() && r != nil {
			var err error
			res, err = r.Resolve(c.ctx, site)
			if err != nil {
				return s, flags, err
			}
		}
		switch res.Outcome {
		case OutcomeUnresolved:
			flags |= summary.FlagUnresolvedCallee
		case OutcomeCycle:
			flags |= summary.FlagCycle
		}
		s = e.checker.Call(c, site, res, s)
	}
	return s, flags, nil
}
