// Package metrics exposes engine counters as Prometheus collectors.
//
// Collectors are registered on a per-driver registry rather than the
// process-global default, so two analyses in one process never share
// counts.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/causal/internal/summary"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	summariesComputed prometheus.Counter
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	cycles            prometheus.Counter
	failures          prometheus.Counter
	nodeVisits        prometheus.Counter
	flagged           *prometheus.CounterVec
	fixpointDuration  prometheus.Histogram
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		summariesComputed: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_summaries_computed_total",
			Help: "Procedure summaries computed by the fixpoint engine",
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_summary_cache_hits_total",
			Help: "Summary requests answered from the cache",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_summary_cache_misses_total",
			Help: "Summary requests that required analysis",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_recursion_cycles_total",
			Help: "Distinct recursion cycles reported",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_procedures_failed_total",
			Help: "Procedures that could not be analyzed",
		}),
		nodeVisits: f.NewCounter(prometheus.CounterOpts{
			Name: "causal_node_visits_total",
			Help: "CFG node visits across all fixpoint runs",
		}),
		flagged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "causal_summaries_flagged_total",
			Help: "Summaries carrying a precision or budget flag",
		}, []string{"flag"}),
		fixpointDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "causal_fixpoint_duration_seconds",
			Help:    "Wall-clock duration of one procedure's fixpoint",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CacheHit()  { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }
func (m *Metrics) Cycle()     { m.cycles.Inc() }
func (m *Metrics) Failure()   { m.failures.Inc() }

// Computed records one finished fixpoint run.
func (m *Metrics) Computed(visits int, flags summary.Flags, took time.Duration) {
	m.summariesComputed.Inc()
	m.nodeVisits.Add(float64(visits))
	m.fixpointDuration.Observe(took.Seconds())
	for _, name := range flags.Names() {
		m.flagged.WithLabelValues(name).Inc()
	}
}

// Snapshot returns the current counter values keyed by metric name (with a
// "{flag}" suffix for labeled series). Histograms report their sample count.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			name := fam.GetName()
			for _, lp := range metric.GetLabel() {
				name += "{" + lp.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[name] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				out[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}

// Names returns the snapshot keys in order.
func Names(snapshot map[string]float64) []string {
	names := make([]string, 0, len(snapshot))
	for n := range snapshot {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
