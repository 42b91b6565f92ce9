package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// SuiteResult summarizes a run over several scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Passes   []string          `json:"passes,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that did not pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios lists the scenario files at path: the file itself, or
// every .yaml/.yml file in the directory, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// RunSuite loads and runs every scenario found at path whose file name,
// without extension, matches the glob filter (empty matches all). A
// scenario that cannot be loaded or executed counts as failed; the suite
// keeps going.
func RunSuite(ctx context.Context, path, filter string) (*SuiteResult, error) {
	paths, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	if paths, err = filterScenarios(paths, filter); err != nil {
		return nil, err
	}

	res := &SuiteResult{}
	for _, p := range paths {
		res.Total++

		scenario, err := LoadScenario(p)
		if err != nil {
			res.fail(filepath.Base(p), p, err.Error())
			continue
		}
		result, err := RunContext(ctx, scenario)
		if err != nil {
			res.fail(scenario.Name, p, err.Error())
			continue
		}
		if !result.Pass {
			res.fail(scenario.Name, p, result.Errors...)
			continue
		}
		res.Passed++
		res.Passes = append(res.Passes, scenario.Name)
	}
	return res, nil
}

func filterScenarios(paths []string, filter string) ([]string, error) {
	if filter == "" {
		return paths, nil
	}
	var out []string
	for _, p := range paths {
		base := filepath.Base(p)
		ok, err := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *SuiteResult) fail(name, path string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}
