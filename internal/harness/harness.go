package harness

import (
	"context"
	"fmt"

	"github.com/roach88/causal/internal/analysis"
	"github.com/roach88/causal/internal/frontend/cueprog"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/testutil"
)

// RunID is the fixed run id scenarios execute under.
const RunID = "scenario-run"

// Run executes a test scenario and returns the result.
//
// Each scenario runs with a fresh in-memory summary cache unless its config
// names a cache path, and with a fixed run id so outcomes are reproducible.
//
// Execution flow:
// 1. Load the CUE program
// 2. Resolve root procedure names
// 3. Run the configured checker
// 4. Evaluate assertions against the outcome
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	prog, err := LoadProgram(scenario.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}

	outcome, err := analysis.Run(ctx, prog, Roots(prog, scenario.Roots), analysis.Options{
		Config: scenario.Config,
		RunIDs: testutil.NewFixedRunID(RunID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze: %w", err)
	}

	result := NewResult(outcome)
	for _, msg := range EvaluateAssertions(outcome, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// LoadProgram reads a CUE program from a file or a package directory.
func LoadProgram(path string) (*ir.Program, error) {
	loader, err := cueprog.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

// Roots maps procedure names to ids. Names the program does not define are
// kept with arity 0 so the analysis reports them as failed.
func Roots(prog *ir.Program, names []string) []ir.ProcID {
	out := make([]ir.ProcID, 0, len(names))
	for _, name := range names {
		if id, ok := prog.Lookup(name); ok {
			out = append(out, id)
			continue
		}
		out = append(out, ir.ProcID{Name: name})
	}
	return out
}
