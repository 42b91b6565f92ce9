package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/summary"
)

func TestMetrics_Counts(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.Cycle()
	m.Computed(12, summary.FlagDegraded|summary.FlagCycle, time.Millisecond)
	m.Computed(3, 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.summariesComputed))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.nodeVisits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flagged.WithLabelValues("degraded")))
}

func TestMetrics_Snapshot(t *testing.T) {
	m := New()
	m.Failure()
	m.Computed(5, summary.FlagTimeout, time.Second)

	snap, err := m.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 1.0, snap["causal_procedures_failed_total"])
	assert.Equal(t, 5.0, snap["causal_node_visits_total"])
	assert.Equal(t, 1.0, snap["causal_summaries_flagged_total{timeout}"])
	assert.Equal(t, 1.0, snap["causal_fixpoint_duration_seconds"])
	assert.Contains(t, Names(snap), "causal_summary_cache_hits_total")
}

func TestMetrics_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheHit()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheHits))
}
