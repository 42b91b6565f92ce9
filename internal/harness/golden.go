package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/causal/internal/analysis"
	"github.com/roach88/causal/internal/ir"
)

// Snapshot captures the reproducible part of an outcome: procedure
// statuses, recursion cycles and issues with their traces. Run ids,
// visit counts and metrics are left out.
type Snapshot struct {
	ScenarioName string
	Outcome      *analysis.Outcome
}

// toCanonicalMap converts the snapshot to a map[string]any for canonical
// JSON serialization, which only handles primitives, slices and maps.
func (s *Snapshot) toCanonicalMap() map[string]any {
	procs := make([]any, len(s.Outcome.Procs))
	for i, p := range s.Outcome.Procs {
		flags := []any{}
		for _, f := range p.Flags {
			flags = append(flags, f)
		}
		m := map[string]any{
			"proc":   p.Proc.String(),
			"status": p.Status,
			"flags":  flags,
		}
		if p.Failure != "" {
			m["failure"] = p.Failure
		}
		procs[i] = m
	}

	cycles := make([]any, len(s.Outcome.Cycles))
	for i, c := range s.Outcome.Cycles {
		cycles[i] = c.Key()
	}

	issues := make([]any, len(s.Outcome.Issues))
	for i, issue := range s.Outcome.Issues {
		steps := make([]any, len(issue.Trace))
		for j, step := range issue.Trace {
			steps[j] = step.String()
		}
		issues[i] = map[string]any{
			"proc":     issue.Proc.String(),
			"loc":      issue.Loc.String(),
			"kind":     issue.Kind,
			"severity": string(issue.Severity),
			"message":  issue.Message,
			"trace":    steps,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"checker":       s.Outcome.Checker,
		"procs":         procs,
		"cycles":        cycles,
		"issues":        issues,
	}
}

// Marshal renders the snapshot as canonical JSON followed by a newline.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := ir.MarshalCanonical(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its outcome against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the outcome doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{ScenarioName: scenarioName, Outcome: result.Outcome}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
