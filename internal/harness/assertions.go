package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causal/internal/analysis"
	"github.com/roach88/causal/internal/report"
)

// AssertionError is returned when an assertion fails.
// It includes the issues found to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Issues   []report.Issue // Every issue for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Issues) > 0 {
		fmt.Fprintf(&buf, "\nIssues:\n")
		for i, issue := range e.Issues {
			fmt.Fprintf(&buf, "  [%d] %s %s %s: %s\n", i+1, issue.Severity, issue.Kind, issue.Loc, issue.Message)
		}
	}

	return buf.String()
}

// matchIssue checks an issue against the assertion's filters. Empty filters
// match anything.
func matchIssue(i report.Issue, a Assertion) bool {
	switch {
	case a.Kind != "" && i.Kind != a.Kind:
		return false
	case a.Proc != "" && i.Proc.Name != a.Proc:
		return false
	case a.Line != 0 && i.Loc.Line != a.Line:
		return false
	case a.Severity != "" && string(i.Severity) != a.Severity:
		return false
	case a.Contains != "" && !strings.Contains(i.Message, a.Contains):
		return false
	}
	return true
}

// describeFilter renders the assertion's issue filters for messages.
func describeFilter(a Assertion) string {
	var parts []string
	if a.Kind != "" {
		parts = append(parts, "kind="+a.Kind)
	}
	if a.Proc != "" {
		parts = append(parts, "proc="+a.Proc)
	}
	if a.Line != 0 {
		parts = append(parts, fmt.Sprintf("line=%d", a.Line))
	}
	if a.Severity != "" {
		parts = append(parts, "severity="+a.Severity)
	}
	if a.Contains != "" {
		parts = append(parts, fmt.Sprintf("contains=%q", a.Contains))
	}
	if len(parts) == 0 {
		return "any issue"
	}
	return "issue " + strings.Join(parts, " ")
}

func matching(issues []report.Issue, a Assertion) []report.Issue {
	var out []report.Issue
	for _, i := range issues {
		if matchIssue(i, a) {
			out = append(out, i)
		}
	}
	return out
}

// assertIssueReported checks that at least one issue matches.
func assertIssueReported(o *analysis.Outcome, a Assertion) error {
	if len(matching(o.Issues, a)) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertIssueReported,
		Expected: describeFilter(a),
		Actual:   "not reported",
		Issues:   o.Issues,
	}
}

// assertIssueCount checks the exact number of matching issues.
func assertIssueCount(o *analysis.Outcome, a Assertion) error {
	n := len(matching(o.Issues, a))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertIssueCount,
		Expected: fmt.Sprintf("%d of %s", a.Count, describeFilter(a)),
		Actual:   fmt.Sprintf("%d", n),
		Issues:   o.Issues,
	}
}

// assertTraceOrder checks that the first matching issue's trace contains
// the expected steps in order. Steps need not be consecutive.
func assertTraceOrder(o *analysis.Outcome, a Assertion) error {
	found := matching(o.Issues, a)
	if len(found) == 0 {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: describeFilter(a),
			Actual:   "not reported",
			Issues:   o.Issues,
		}
	}

	steps := found[0].Trace
	pos := 0
	for _, want := range a.Steps {
		for pos < len(steps) && !strings.Contains(steps[pos].String(), want) {
			pos++
		}
		if pos == len(steps) {
			rendered := make([]string, len(steps))
			for i, s := range steps {
				rendered[i] = s.String()
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %q", a.Steps),
				Actual:   fmt.Sprintf("missing %q after earlier steps in trace %q", want, rendered),
				Issues:   o.Issues,
			}
		}
		pos++
	}
	return nil
}

// assertCycleFound checks for a cycle over exactly the named members, in
// call order starting anywhere in the cycle.
func assertCycleFound(o *analysis.Outcome, a Assertion) error {
	var seen []string
	for _, c := range o.Cycles {
		var names []string
		for _, p := range c.Procs() {
			names = append(names, p.Name)
		}
		if isRotation(names, a.Procs) {
			return nil
		}
		seen = append(seen, c.String())
	}
	return &AssertionError{
		Type:     AssertCycleFound,
		Expected: fmt.Sprintf("cycle over %v", a.Procs),
		Actual:   fmt.Sprintf("cycles %v", seen),
		Issues:   o.Issues,
	}
}

func isRotation(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for shift := range got {
		if slices.Equal(append(slices.Clone(got[shift:]), got[:shift]...), want) {
			return true
		}
	}
	return false
}

// assertProcStatus checks a procedure's final status and flags (subset).
func assertProcStatus(o *analysis.Outcome, a Assertion) error {
	for _, p := range o.Procs {
		if p.Proc.Name != a.Proc {
			continue
		}
		if a.Status != "" && p.Status != a.Status {
			return &AssertionError{
				Type:     AssertProcStatus,
				Expected: fmt.Sprintf("%s is %s", a.Proc, a.Status),
				Actual:   p.Status,
			}
		}
		for _, f := range a.Flags {
			if !slices.Contains(p.Flags, f) {
				return &AssertionError{
					Type:     AssertProcStatus,
					Expected: fmt.Sprintf("%s has flags %v", a.Proc, a.Flags),
					Actual:   fmt.Sprintf("flags %v", p.Flags),
				}
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertProcStatus,
		Expected: fmt.Sprintf("procedure %s analyzed", a.Proc),
		Actual:   "not in outcome",
	}
}

// EvaluateAssertions evaluates all assertions against the outcome.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(o *analysis.Outcome, assertions []Assertion) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertIssueReported:
			err = assertIssueReported(o, a)
		case AssertIssueCount:
			err = assertIssueCount(o, a)
		case AssertTraceOrder:
			err = assertTraceOrder(o, a)
		case AssertCycleFound:
			err = assertCycleFound(o, a)
		case AssertProcStatus:
			err = assertProcStatus(o, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d: %s", i, err.Error()))
		}
	}
	return errors
}
