package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/analysis"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/summary"
	"github.com/roach88/causal/internal/trace"
)

func loc(line int) ir.Location {
	return ir.Location{File: "prog.go", Line: line}
}

func link(caller, callee string, line int) summary.CallLink {
	return summary.CallLink{Caller: ir.ProcID{Name: caller}, Callee: ir.ProcID{Name: callee}, Loc: loc(line)}
}

func sampleOutcome() *analysis.Outcome {
	return &analysis.Outcome{
		Checker: "lifetime",
		Procs: []analysis.Proc{
			{Proc: ir.ProcID{Name: "main"}, Status: "done", Flags: []string{"unresolved-callee"}},
			{Proc: ir.ProcID{Name: "f"}, Status: "done", Flags: []string{"cycle"}},
		},
		Issues: []report.Issue{
			{
				Proc:     ir.ProcID{Name: "main"},
				Loc:      loc(3),
				Kind:     "use-after-invalidate",
				Severity: report.SeverityError,
				Message:  "`x` is used after being invalidated",
				Trace: []trace.Step{
					{Loc: loc(1), Text: "allocated x"},
					{Loc: loc(2), Text: "assigned y = x"},
					{Loc: loc(3), Text: "invalidated y"},
				},
			},
			{
				Proc:     ir.ProcID{Name: "f"},
				Loc:      loc(10),
				Kind:     report.KindRecursionCycle,
				Severity: report.SeverityWarning,
				Message:  "recursion cycle f→g→f",
			},
		},
		Cycles: []summary.Cycle{{Links: []summary.CallLink{link("f", "g", 10), link("g", "f", 20)}}},
	}
}

func TestAssertIssueReported(t *testing.T) {
	o := sampleOutcome()

	assert.NoError(t, assertIssueReported(o, Assertion{Kind: "use-after-invalidate", Proc: "main", Line: 3, Severity: "error"}))
	assert.NoError(t, assertIssueReported(o, Assertion{Contains: "recursion cycle"}))

	err := assertIssueReported(o, Assertion{Kind: "use-after-invalidate", Severity: "warning"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertIssueReported, ae.Type)
	assert.Equal(t, "issue kind=use-after-invalidate severity=warning", ae.Expected)
	assert.Len(t, ae.Issues, 2)
}

func TestAssertIssueCount(t *testing.T) {
	o := sampleOutcome()

	assert.NoError(t, assertIssueCount(o, Assertion{Count: 2}))
	assert.NoError(t, assertIssueCount(o, Assertion{Kind: report.KindRecursionCycle, Count: 1}))
	assert.NoError(t, assertIssueCount(o, Assertion{Proc: "nobody", Count: 0}))

	err := assertIssueCount(o, Assertion{Proc: "main", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 of issue proc=main")
	assert.Contains(t, err.Error(), "Actual: 1")
}

func TestAssertTraceOrder(t *testing.T) {
	o := sampleOutcome()

	assert.NoError(t, assertTraceOrder(o, Assertion{Kind: "use-after-invalidate", Steps: []string{"allocated x", "invalidated y"}}))
	assert.NoError(t, assertTraceOrder(o, Assertion{Steps: []string{"prog.go:2: assigned"}}), "steps match the rendered line")

	err := assertTraceOrder(o, Assertion{Kind: "use-after-invalidate", Steps: []string{"invalidated y", "allocated x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing "allocated x"`)

	err = assertTraceOrder(o, Assertion{Kind: "leak", Steps: []string{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reported")
}

func TestAssertCycleFound(t *testing.T) {
	o := sampleOutcome()

	assert.NoError(t, assertCycleFound(o, Assertion{Procs: []string{"f", "g"}}))
	assert.NoError(t, assertCycleFound(o, Assertion{Procs: []string{"g", "f"}}), "any rotation matches")

	err := assertCycleFound(o, Assertion{Procs: []string{"f"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycles [f→g→f]")
}

func TestIsRotation(t *testing.T) {
	assert.True(t, isRotation([]string{"a", "b", "c"}, []string{"b", "c", "a"}))
	assert.False(t, isRotation([]string{"a", "b", "c"}, []string{"a", "c", "b"}))
	assert.False(t, isRotation([]string{"a"}, []string{"a", "a"}))
}

func TestAssertProcStatus(t *testing.T) {
	o := sampleOutcome()

	assert.NoError(t, assertProcStatus(o, Assertion{Proc: "main", Status: "done"}))
	assert.NoError(t, assertProcStatus(o, Assertion{Proc: "f", Flags: []string{"cycle"}}))

	err := assertProcStatus(o, Assertion{Proc: "main", Status: "failed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: done")

	err = assertProcStatus(o, Assertion{Proc: "main", Flags: []string{"cycle"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flags [unresolved-callee]")

	err = assertProcStatus(o, Assertion{Proc: "ghost", Status: "done"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in outcome")
}

func TestEvaluateAssertions(t *testing.T) {
	errs := EvaluateAssertions(sampleOutcome(), []Assertion{
		{Type: AssertIssueCount, Count: 2},
		{Type: AssertIssueReported, Kind: "leak"},
		{Type: AssertCycleFound, Procs: []string{"f", "g"}},
		{Type: "bogus"},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1:")
	assert.Contains(t, errs[1], `assertion 3: unknown assertion type "bogus"`)
}
