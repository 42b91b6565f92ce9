package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/causal/internal/config"
)

// Scenario is one analysis test: a program, the configuration to analyze
// it with, and assertions about what the analysis must find.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path to a CUE program file or package directory.
	// Relative paths are resolved against the scenario file's directory.
	Program string `yaml:"program"`

	// Config overrides the default analysis configuration. Settings left
	// out keep their defaults.
	Config *config.Config `yaml:"config,omitempty"`

	// Roots limits the analysis to these procedures (by name) and what
	// they reach. Empty analyzes the whole program.
	Roots []string `yaml:"roots,omitempty"`

	// Assertions validate the outcome.
	// Supported types: issue_reported, issue_count, trace_order, cycle_found,
	// proc_status
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates part of an analysis outcome.
type Assertion struct {
	// Type selects the assertion:
	// - "issue_reported": an issue matching the filters exists
	// - "issue_count": exactly Count issues match the filters
	// - "trace_order": the first matching issue's trace has Steps in order
	// - "cycle_found": a recursion cycle over exactly Procs was found
	// - "proc_status": Proc ended with Status and carries Flags
	Type string `yaml:"type"`

	// Issue filters. Empty filters match everything.
	Kind     string `yaml:"kind,omitempty"`
	Proc     string `yaml:"proc,omitempty"`
	Line     int    `yaml:"line,omitempty"`
	Severity string `yaml:"severity,omitempty"`
	// Contains is a substring of the issue message.
	Contains string `yaml:"contains,omitempty"`

	// Count is the expected number of matching issues (issue_count).
	Count int `yaml:"count,omitempty"`

	// Steps are substrings of trace steps, in order (trace_order).
	Steps []string `yaml:"steps,omitempty"`

	// Procs are the cycle members by name, in call order from any member
	// (cycle_found).
	Procs []string `yaml:"procs,omitempty"`

	// Status and Flags are the expected procedure outcome (proc_status).
	// Flags is a subset match.
	Status string   `yaml:"status,omitempty"`
	Flags  []string `yaml:"flags,omitempty"`
}

// Assertion type constants.
const (
	AssertIssueReported = "issue_reported"
	AssertIssueCount    = "issue_count"
	AssertTraceOrder    = "trace_order"
	AssertCycleFound    = "cycle_found"
	AssertProcStatus    = "proc_status"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// program path against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the program path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := parseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) && basePath != "" {
		scenario.Program = filepath.Join(basePath, scenario.Program)
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// parseScenario decodes YAML with strict field validation. Config starts
// from the defaults so overrides only touch what they name.
func parseScenario(data []byte) (*Scenario, error) {
	scenario := &Scenario{Config: config.Default()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Config == nil {
		scenario.Config = config.Default()
	}
	return scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if _, err := os.Stat(s.Program); os.IsNotExist(err) {
		return fmt.Errorf("program not found: %s", s.Program)
	}

	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, root := range s.Roots {
		if root == "" {
			return fmt.Errorf("roots[%d]: empty procedure name", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertIssueReported:
		if a.Kind == "" && a.Proc == "" && a.Contains == "" {
			return fmt.Errorf("assertions[%d]: issue_reported needs at least one of kind, proc, contains", index)
		}
	case AssertIssueCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for issue_count", index)
		}
	case AssertTraceOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for trace_order", index)
		}
	case AssertCycleFound:
		if len(a.Procs) == 0 {
			return fmt.Errorf("assertions[%d]: procs list is required for cycle_found", index)
		}
	case AssertProcStatus:
		if a.Proc == "" {
			return fmt.Errorf("assertions[%d]: proc is required for proc_status", index)
		}
		if a.Status == "" && len(a.Flags) == 0 {
			return fmt.Errorf("assertions[%d]: status or flags is required for proc_status", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
