// Package analysis runs one configured analysis over a program: it picks
// the checker, wires the summary cache tiers, drives the interprocedural
// engine and flattens what came out into a checker-independent Outcome.
package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/roach88/causal/internal/callgraph"
	"github.com/roach88/causal/internal/checker/lifetime"
	"github.com/roach88/causal/internal/checker/resolution"
	"github.com/roach88/causal/internal/config"
	"github.com/roach88/causal/internal/fixpoint"
	"github.com/roach88/causal/internal/interproc"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/metrics"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/store"
	"github.com/roach88/causal/internal/summary"
)

// Options configures Run.
type Options struct {
	Config *config.Config
	Logger logrus.FieldLogger
	// Sink also receives every issue as it is found.
	Sink report.Sink
	// RunIDs overrides the run id generator.
	RunIDs interproc.RunIDGenerator
	// Store is the durable cache. Nil opens Config.Cache.Path when set.
	Store *store.Store
}

// Proc is the outcome for one procedure.
type Proc struct {
	Proc    ir.ProcID `json:"proc"`
	Status  string    `json:"status"`
	Flags   []string  `json:"flags,omitempty"`
	Visits  int       `json:"visits"`
	Pending int       `json:"pending,omitempty"`
	Failure string    `json:"failure,omitempty"`
}

// Outcome is everything one run produced, independent of the checker.
type Outcome struct {
	Checker string                   `json:"checker"`
	RunID   string                   `json:"run_id"`
	Procs   []Proc                   `json:"procs"`
	Issues  []report.Issue           `json:"issues"`
	Cycles  []summary.Cycle          `json:"cycles,omitempty"`
	Static  []callgraph.Warning      `json:"static,omitempty"`
	Audit   []resolution.AuditRecord `json:"audit,omitempty"`
	Metrics map[string]float64       `json:"metrics,omitempty"`
}

// Proc looks up a procedure outcome by key.
func (o *Outcome) Proc(key string) (Proc, bool) {
	for _, p := range o.Procs {
		if p.Proc.Key() == key {
			return p, true
		}
	}
	return Proc{}, false
}

// Run analyzes prog. With no roots every procedure is analyzed, callees
// first; otherwise only the roots and what they reach.
func Run(ctx context.Context, prog ir.Provider, roots []ir.ProcID, opts Options) (*Outcome, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = fixpoint.DiscardLogger()
	}

	st := opts.Store
	if st == nil && cfg.Cache.Path != "" {
		var err error
		st, err = store.Open(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("open summary cache: %w", err)
		}
		defer st.Close()
	}

	switch cfg.Checker {
	case lifetime.Name:
		return run[lifetime.State](ctx, lifetime.New(cfg.AssumeUnknownInvalidates), lifetime.Codec{}, prog, roots, cfg, st, opts, nil)
	default:
		return run[resolution.State](ctx, resolution.New(cfg.ReportUnresolved), resolution.Codec{}, prog, roots, cfg, st, opts, resolution.Audit)
	}
}

func run[S any](
	ctx context.Context,
	checker fixpoint.Checker[S],
	codec store.StateCodec[S],
	prog ir.Provider,
	roots []ir.ProcID,
	cfg *config.Config,
	st *store.Store,
	opts Options,
	audit func(*summary.Summary[S]) []resolution.AuditRecord,
) (*Outcome, error) {
	var cache store.Cache[S] = store.NewMemoryCache[S]()
	var digest string
	if st != nil {
		var err error
		digest, err = ir.ProgramDigest(prog)
		if err != nil {
			return nil, fmt.Errorf("program digest: %w", err)
		}
		cache = store.Tiered[S]{Front: cache, Back: store.NewSQLiteCache[S](st, codec, checker.Name(), digest)}
	}

	issues := report.NewCollector()
	var sink report.Sink = issues
	if opts.Sink != nil {
		sink = report.Tee(issues, opts.Sink)
	}

	m := metrics.New()
	driverOpts := []interproc.Option{
		interproc.WithLogger(opts.Logger),
		interproc.WithMetrics(m),
		interproc.WithSink(sink),
		interproc.WithWorkers(cfg.Workers),
	}
	if opts.RunIDs != nil {
		driverOpts = append(driverOpts, interproc.WithRunID(opts.RunIDs))
	}
	engine := fixpoint.New[S](checker, cfg.EngineOptions(opts.Logger)...)
	d, err := interproc.New[S](engine, prog, cache, driverOpts...)
	if err != nil {
		return nil, err
	}

	if st != nil {
		if err := st.RecordRun(ctx, d.RunID(), checker.Name(), digest, len(prog.Procs())); err != nil {
			return nil, err
		}
	}

	out := &Outcome{Checker: checker.Name(), RunID: d.RunID()}
	summaries := make(map[string]*summary.Summary[S])
	failed := make(map[string]string)

	if len(roots) == 0 {
		res, err := d.AnalyzeAll(ctx)
		if err != nil {
			return nil, err
		}
		summaries, failed = res.Summaries, res.Failed
		out.Static = res.Static
	} else {
		for _, root := range roots {
			s, err := d.Analyze(ctx, root)
			switch {
			case err == nil:
				summaries[root.Key()] = s
			case interproc.IsProcFailed(err):
				failed[root.Key()] = err.Error()
			default:
				return nil, err
			}
		}
	}

	keys := make([]string, 0, len(summaries)+len(failed))
	for k := range summaries {
		keys = append(keys, k)
	}
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if s, ok := summaries[k]; ok {
			out.Procs = append(out.Procs, Proc{
				Proc:    s.Proc,
				Status:  d.Status(s.Proc).String(),
				Flags:   s.Flags.Names(),
				Visits:  s.Visits,
				Pending: len(s.Pending),
			})
			if audit != nil {
				out.Audit = append(out.Audit, audit(s)...)
			}
			continue
		}
		proc, err := ir.ParseProcID(k)
		if err != nil {
			return nil, err
		}
		out.Procs = append(out.Procs, Proc{Proc: proc, Status: interproc.StatusFailed.String(), Failure: failed[k]})
	}

	out.Issues = issues.Issues()
	out.Cycles = d.Cycles()
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	out.Metrics = snap
	return out, nil
}
