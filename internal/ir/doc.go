// Package ir provides the common intermediate representation consumed by the
// analysis engine.
//
// This package contains the procedure identity, control-flow graph and call
// site types that every front-end lowers into, plus canonical JSON and
// content digests. All other internal packages import ir; ir imports nothing
// internal. This keeps IR the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - A CFG is read-only for the duration of an analysis
//   - ProcID is a comparable value type and the only cache/recursion key
//   - No float types in canonical JSON - use int64 for numbers
//   - All JSON tags use snake_case
package ir
