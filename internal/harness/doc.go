// Package harness runs analysis scenarios: small CUE programs paired with
// assertions about what the analysis must report.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	program: prog.cue
//	config:
//	  checker: lifetime
//	  assume_unknown_invalidates: true
//	roots: [main]
//	assertions:
//	  - type: issue_reported
//	    kind: use-after-invalidate
//	    proc: main
//	    line: 3
//	  - type: trace_order
//	    kind: use-after-invalidate
//	    steps: ["allocated x", "invalidated p"]
//	  - type: cycle_found
//	    procs: [f, g]
//
// The program path is relative to the scenario file. Config starts from the
// defaults; only the settings a scenario names change.
//
// # Assertion Types
//
//   - issue_reported: an issue matching kind/proc/line/severity/contains exists
//   - issue_count: exactly count issues match the filters
//   - trace_order: the first matching issue's trace has the steps in order
//   - cycle_found: a recursion cycle over exactly the named procedures exists
//   - proc_status: a procedure ended with a status and carries flags
//
// # Deterministic Testing
//
// Scenarios run under a fixed run id, and the snapshot compared against
// golden files leaves out everything timing-dependent, so identical
// programs give byte-identical snapshots.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/release.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
