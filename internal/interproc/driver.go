// Package interproc is the on-demand interprocedural driver.
//
// A Driver answers summary requests for procedures. A request for an
// uncomputed procedure runs the fixpoint engine on it right away, depth
// first; the engine's call handling comes back into the driver for the
// callee summaries it needs.
//
// # Recursion
//
// Each analysis task keeps the stack of procedures it is computing. A
// request for a procedure already on the stack does not recurse: it starts
// a RecursionTrace at that call and answers OutcomeCycle, which the checker
// treats as bottom. The trace is carried in the summary of every procedure
// it passes through (Summary.Pending) and grows by one link at each caller,
// until it reaches the procedure it targets. There it is closed into a
// Cycle. Cycles are identified by their canonical rotation, so a cycle is
// reported once no matter which member was entered first.
//
// # Cache
//
// Every computed summary is put into the cache, and the value the cache
// holds afterwards is the one used. Two tasks racing on the same procedure
// may both compute it; the first write wins.
package interproc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/causal/internal/callgraph"
	"github.com/roach88/causal/internal/fixpoint"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/metrics"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/store"
	"github.com/roach88/causal/internal/summary"
	"github.com/roach88/causal/internal/trace"
)

// RecursionTrace is a call chain into a procedure that was still being
// analyzed.
type RecursionTrace = summary.RecursionTrace

// Status is the lifecycle state of a procedure within one driver.
type Status int

const (
	StatusUnvisited Status = iota
	StatusInProgress
	StatusDone
	StatusFailed
	// StatusPartOfCycle: the cached summary assumed bottom for a call into
	// a procedure that was still in progress.
	StatusPartOfCycle
)

func (s Status) String() string {
	switch s {
	case StatusUnvisited:
		return "unvisited"
	case StatusInProgress:
		return "in-progress"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusPartOfCycle:
		return "part-of-cycle"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// DefaultWorkers is the AnalyzeAll pool size when none is configured.
const DefaultWorkers = 4

// Option configures a Driver.
type Option func(*options)

type options struct {
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	sink    report.Sink
	workers int
	runIDs  RunIDGenerator
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records driver and engine counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSink receives issues: checker findings, recursion cycles, failed
// procedures and degraded summaries.
func WithSink(s report.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithWorkers sets the AnalyzeAll pool size.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRunID sets the run id generator. The default is UUIDv7Generator.
func WithRunID(g RunIDGenerator) Option {
	return func(o *options) { o.runIDs = g }
}

// Driver resolves and caches summaries for one checker over one program.
//
// A Driver is safe for concurrent use. Its run id is fixed at creation.
type Driver[S any] struct {
	engine  *fixpoint.Engine[S]
	program ir.Provider
	cache   store.Cache[S]
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	sink    report.Sink
	workers int
	runID   string

	mu         sync.Mutex
	inProgress map[string]int
	status     map[string]Status
	failures   map[string]string
	cycles     map[string]summary.Cycle
	published  map[string]bool
}

// New creates a driver. A nil cache means a fresh MemoryCache.
func New[S any](engine *fixpoint.Engine[S], program ir.Provider, cache store.Cache[S], opts ...Option) (*Driver[S], error) {
	if engine == nil {
		return nil, NewConfigError("engine", "no fixpoint engine")
	}
	if program == nil {
		return nil, NewConfigError("program", "no program provider")
	}

	o := options{workers: DefaultWorkers, runIDs: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		return nil, NewConfigError("workers", "workers must be at least 1, got %d", o.workers)
	}
	if o.logger == nil {
		o.logger = fixpoint.DiscardLogger()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.sink == nil {
		o.sink = report.Discard
	}
	if cache == nil {
		cache = store.NewMemoryCache[S]()
	}

	runID := o.runIDs.Generate()
	return &Driver[S]{
		engine:     engine,
		program:    program,
		cache:      cache,
		logger:     o.logger.WithField("run_id", runID),
		metrics:    o.metrics,
		sink:       o.sink,
		workers:    o.workers,
		runID:      runID,
		inProgress: make(map[string]int),
		status:     make(map[string]Status),
		failures:   make(map[string]string),
		cycles:     make(map[string]summary.Cycle),
		published:  make(map[string]bool),
	}, nil
}

// RunID returns the id stamped on summaries computed by this driver.
func (d *Driver[S]) RunID() string {
	return d.runID
}

// Metrics returns the driver's collectors.
func (d *Driver[S]) Metrics() *metrics.Metrics {
	return d.metrics
}

// Analyze returns the summary of proc, computing it and its callees on
// demand. A procedure that cannot be analyzed returns an error for which
// IsProcFailed holds.
func (d *Driver[S]) Analyze(ctx context.Context, proc ir.ProcID) (*summary.Summary[S], error) {
	t := &task[S]{d: d, onStack: make(map[string]bool)}
	s, _, err := t.summarize(ctx, proc)
	if err != nil {
		return nil, err
	}
	if len(t.stack) != 0 {
		invariant("task stack not empty after %s", proc)
	}
	return s, nil
}

// Results is the outcome of AnalyzeAll.
type Results[S any] struct {
	RunID string
	// Summaries by procedure key.
	Summaries map[string]*summary.Summary[S]
	// Failed maps procedure keys to the reason they could not be analyzed.
	Failed map[string]string
	// Cycles are the distinct recursion cycles found, ordered by key.
	Cycles []summary.Cycle
	// Static are the call graph's recursion warnings.
	Static []callgraph.Warning
}

// AnalyzeAll analyzes every procedure of the program, callees first, on a
// pool of workers. Failed procedures are recorded, not returned as errors.
func (d *Driver[S]) AnalyzeAll(ctx context.Context) (*Results[S], error) {
	cg := callgraph.Build(d.program)
	order := cg.BottomUp()

	res := &Results[S]{
		RunID:     d.runID,
		Summaries: make(map[string]*summary.Summary[S], len(order)),
		Failed:    make(map[string]string),
		Static:    callgraph.Cycles(cg),
	}
	for _, w := range res.Static {
		d.sink.Report(w.Issue())
	}

	d.logger.WithFields(logrus.Fields{
		"procs":   len(order),
		"workers": d.workers,
		"static":  len(res.Static),
	}).Info("analysis started")

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, proc := range order {
		g.Go(func() error {
			s, err := d.Analyze(ctx, proc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Summaries[proc.Key()] = s
			case IsProcFailed(err):
				res.Failed[proc.Key()] = err.Error()
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Cycles = d.Cycles()
	d.logger.WithFields(logrus.Fields{
		"summaries": len(res.Summaries),
		"failed":    len(res.Failed),
		"cycles":    len(res.Cycles),
	}).Info("analysis finished")
	return res, nil
}

// Status reports where proc is in its lifecycle.
func (d *Driver[S]) Status(proc ir.ProcID) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.status[proc.Key()]; ok {
		return s
	}
	if d.inProgress[proc.Key()] > 0 {
		return StatusInProgress
	}
	return StatusUnvisited
}

// Cycles returns the distinct recursion cycles found so far, ordered by key.
func (d *Driver[S]) Cycles() []summary.Cycle {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.cycles))
	for k := range d.cycles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]summary.Cycle, len(keys))
	for i, k := range keys {
		out[i] = d.cycles[k]
	}
	return out
}

// Failures returns the reason of every failed procedure by key.
func (d *Driver[S]) Failures() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.failures))
	for k, v := range d.failures {
		out[k] = v
	}
	return out
}

// registerCycle records c and reports whether it is new.
func (d *Driver[S]) registerCycle(c summary.Cycle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := c.Key()
	if _, ok := d.cycles[k]; ok {
		return false
	}
	d.cycles[k] = c
	return true
}

func (d *Driver[S]) enter(key string) {
	d.mu.Lock()
	d.inProgress[key]++
	d.mu.Unlock()
}

func (d *Driver[S]) leave(key string) {
	d.mu.Lock()
	d.inProgress[key]--
	if d.inProgress[key] < 0 {
		d.mu.Unlock()
		invariant("leave without enter for %s", key)
	}
	d.mu.Unlock()
}

// setStatus records the final status of key. Like the cache, the first
// record wins.
func (d *Driver[S]) setStatus(key string, s Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.status[key]; !ok {
		d.status[key] = s
	}
}

// fail records that proc cannot be analyzed. The first failure is
// reported.
func (d *Driver[S]) fail(proc ir.ProcID, reason string, cause error) error {
	key := proc.Key()
	d.mu.Lock()
	_, seen := d.failures[key]
	if !seen {
		d.failures[key] = reason
	}
	d.mu.Unlock()
	d.setStatus(key, StatusFailed)

	if !seen {
		d.metrics.Failure()
		d.logger.WithFields(logrus.Fields{"proc": proc.String(), "reason": reason}).Warn("procedure failed")
		d.sink.Report(report.Issue{
			Proc:     proc,
			Kind:     report.KindAnalysisFailed,
			Severity: report.SeverityWarning,
			Message:  reason,
		})
	}
	return newProcFailed(proc.String(), reason, cause)
}

// task is one depth-first chain of summary requests. It is not shared
// between goroutines.
type task[S any] struct {
	d       *Driver[S]
	stack   []*frame
	onStack map[string]bool
}

// frame is a procedure being computed by a task.
type frame struct {
	proc   ir.ProcID
	traces []RecursionTrace
	seen   map[string]bool
}

func (f *frame) add(t RecursionTrace) {
	k := t.Key()
	if f.seen[k] {
		return
	}
	f.seen[k] = true
	f.traces = append(f.traces, t)
}

func (t *task[S]) top() *frame {
	if len(t.stack) == 0 {
		invariant("resolve with an empty task stack")
	}
	return t.stack[len(t.stack)-1]
}

// summarize returns the cached summary of proc or computes it. It also
// returns the recursion traces still open for this task: the ones this
// task computed, even when another task's summary won the cache.
func (t *task[S]) summarize(ctx context.Context, proc ir.ProcID) (*summary.Summary[S], []RecursionTrace, error) {
	d := t.d
	key := proc.Key()

	if s, ok, err := d.cache.Get(ctx, key); err != nil {
		return nil, nil, fmt.Errorf("cache get %s: %w", proc, err)
	} else if ok {
		d.metrics.CacheHit()
		d.setStatus(key, statusOf(s))
		d.publishOnce(key, s)
		return s, s.Pending, nil
	}
	d.metrics.CacheMiss()

	d.mu.Lock()
	reason, failed := d.failures[key]
	d.mu.Unlock()
	if failed {
		return nil, nil, newProcFailed(proc.String(), reason, nil)
	}

	g, ok := d.program.CFG(proc)
	if !ok {
		return nil, nil, d.fail(proc, "no body available", nil)
	}

	f := &frame{proc: proc, seen: make(map[string]bool)}
	t.stack = append(t.stack, f)
	t.onStack[key] = true
	d.enter(key)
	defer func() {
		if t.top() != f {
			invariant("task stack out of order at %s", proc)
		}
		t.stack = t.stack[:len(t.stack)-1]
		delete(t.onStack, key)
		d.leave(key)
	}()

	start := time.Now()
	res, err := d.engine.Run(ctx, g, fixpoint.ResolverFunc[S](t.resolve))
	if err != nil {
		if errors.Is(err, ir.ErrMalformedCFG) {
			return nil, nil, d.fail(proc, err.Error(), err)
		}
		return nil, nil, err
	}

	s := res.Summary()
	s.RunID = d.runID
	t.close(f, s)
	d.metrics.Computed(res.Visits, s.Flags, time.Since(start))

	if err := d.cache.Put(ctx, key, s); err != nil {
		return nil, nil, fmt.Errorf("cache put %s: %w", proc, err)
	}
	winner, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("cache get %s: %w", proc, err)
	}
	if !ok {
		invariant("summary of %s missing right after put", proc)
	}
	d.setStatus(key, statusOf(winner))
	d.publishOnce(key, winner)
	d.logger.WithFields(logrus.Fields{
		"proc":    proc.String(),
		"visits":  res.Visits,
		"flags":   s.Flags.String(),
		"pending": len(s.Pending),
		"cycles":  len(s.Cycles),
	}).Debug("summary computed")
	return winner, s.Pending, nil
}

// close moves the frame's traces into s: those targeting this procedure
// become cycles, the rest stay pending for the callers.
func (t *task[S]) close(f *frame, s *summary.Summary[S]) {
	for _, tr := range f.traces {
		if tr.Target.Key() != f.proc.Key() {
			s.Pending = append(s.Pending, tr)
			continue
		}
		if !tr.Closed() {
			invariant("trace %s reached its target open", tr.Key())
		}
		c := summary.NewCycle(tr)
		s.Cycles = append(s.Cycles, c)
		if t.d.registerCycle(c) {
			t.d.reportCycle(c)
		}
	}
	if len(s.Pending) > 0 && len(t.stack) == 1 {
		invariant("root %s left %d recursion traces open", f.proc, len(s.Pending))
	}
	sort.Slice(s.Pending, func(i, j int) bool { return s.Pending[i].Key() < s.Pending[j].Key() })
	sort.Slice(s.Cycles, func(i, j int) bool { return s.Cycles[i].Key() < s.Cycles[j].Key() })
	if len(s.Pending) > 0 || len(s.Cycles) > 0 {
		s.Flags |= summary.FlagCycle
	}
}

// resolve answers the engine's summary request for a call site.
func (t *task[S]) resolve(ctx context.Context, site ir.CallSite) (fixpoint.Resolution[S], error) {
	callee := *site.Callee
	caller := t.top()
	log := t.d.logger.WithFields(logrus.Fields{
		"proc":   site.Caller.String(),
		"callee": callee.String(),
		"loc":    site.Loc.String(),
	})

	if t.onStack[callee.Key()] {
		caller.add(RecursionTrace{Target: callee, Links: []summary.CallLink{summary.LinkFor(site)}})
		log.WithField("outcome", fixpoint.OutcomeCycle.String()).Debug("callee in progress")
		return fixpoint.Resolution[S]{Outcome: fixpoint.OutcomeCycle}, nil
	}

	s, pending, err := t.summarize(ctx, callee)
	if IsProcFailed(err) {
		log.WithField("outcome", fixpoint.OutcomeUnresolved.String()).Debug("callee failed")
		return fixpoint.Resolution[S]{Outcome: fixpoint.OutcomeUnresolved, Reason: err.Error()}, nil
	}
	if err != nil {
		return fixpoint.Resolution[S]{}, err
	}

	link := summary.LinkFor(site)
	for _, p := range pending {
		if t.onStack[p.Target.Key()] {
			caller.add(p.Prepend(link))
		}
	}
	return fixpoint.Resolution[S]{Outcome: fixpoint.OutcomeResolved, Summary: s}, nil
}

// publishOnce reports the findings of the cached summary for key the first
// time this run settles key. The summary may come from an earlier run or be
// a decoded copy, so ownership is tracked by key rather than by pointer.
// Cycles recorded by an earlier run are registered as if found now.
func (d *Driver[S]) publishOnce(key string, s *summary.Summary[S]) {
	d.mu.Lock()
	done := d.published[key]
	d.published[key] = true
	d.mu.Unlock()
	if done {
		return
	}
	for _, c := range s.Cycles {
		if d.registerCycle(c) {
			d.reportCycle(c)
		}
	}
	d.publish(s)
}

// publish hands a cached summary's findings to the sink.
func (d *Driver[S]) publish(s *summary.Summary[S]) {
	for _, i := range s.Issues {
		d.sink.Report(i)
	}
	switch {
	case s.Flags.Has(summary.FlagNonConvergent):
		d.sink.Report(degraded(s, report.SeverityWarning, "node-visit budget exhausted; summary is partial"))
	case s.Flags.Has(summary.FlagTimeout):
		d.sink.Report(degraded(s, report.SeverityWarning, "time budget exhausted; summary is partial"))
	case s.Flags.Has(summary.FlagDegraded):
		d.sink.Report(degraded(s, report.SeverityInfo, "widening applied; summary may be imprecise"))
	}
}

func degraded[S any](s *summary.Summary[S], sev report.Severity, msg string) report.Issue {
	return report.Issue{Proc: s.Proc, Kind: report.KindDegradedPrecision, Severity: sev, Message: msg}
}

// reportCycle reports a newly found cycle. Its trace lists the calls that
// close it, one level deeper per call.
func (d *Driver[S]) reportCycle(c summary.Cycle) {
	d.metrics.Cycle()
	d.logger.WithFields(logrus.Fields{"cycle": c.String(), "len": c.Len()}).Info("recursion cycle")

	steps := make([]trace.Step, len(c.Links))
	for i, l := range c.Links {
		steps[i] = trace.Step{
			Loc:   l.Loc,
			Text:  fmt.Sprintf("`%s` calls `%s`", l.Caller.Name, l.Callee.Name),
			Level: i,
		}
	}
	d.sink.Report(report.Issue{
		Proc:     c.Links[0].Caller,
		Loc:      c.Links[0].Loc,
		Kind:     report.KindRecursionCycle,
		Severity: report.SeverityWarning,
		Message:  "recursion cycle " + c.String(),
		Trace:    steps,
	})
}

func statusOf[S any](s *summary.Summary[S]) Status {
	if len(s.Pending) > 0 {
		return StatusPartOfCycle
	}
	return StatusDone
}
