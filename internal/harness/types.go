package harness

import "github.com/roach88/causal/internal/analysis"

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Outcome is what the analysis produced. Used for assertions and
	// golden comparison.
	Outcome *analysis.Outcome `json:"outcome"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(outcome *analysis.Outcome) *Result {
	return &Result{
		Pass:    true,
		Outcome: outcome,
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
