// Package trace turns a causal History into a diagnostic trace: the ordered
// list of steps a user reads to understand how a finding came about.
package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
)

// Step is one line of a diagnostic trace.
type Step struct {
	Loc   ir.Location `json:"loc"`
	Text  string      `json:"text"`
	Level int         `json:"level"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s%s: %s", strings.Repeat("  ", max(s.Level, 0)), s.Loc, s.Text)
}

// Build replays h forward and returns its steps, starting at startLevel.
//
// Regular events are emitted at the current level. Entering a call emits
// "in call to `f`" at the caller's level and moves one level deeper for the
// callee's events; leaving it emits "return from call to `f`" back at the
// caller's level.
//
// Level counts call depth, so it grows on entering a call and shrinks on
// return. Replay schemes that count nesting the other way, decrementing on
// EnterCall, have the opposite sign: a step at level n here sits at -n
// there.
func Build(h *history.History, startLevel int) []Step {
	var steps []Step
	level := startLevel
	for tok := range history.Forward(h).All() {
		ev := tok.Event
		switch tok.Kind {
		case history.TokenEvent:
			steps = append(steps, Step{Loc: ev.Loc, Text: ev.Describe(), Level: level})
		case history.TokenEnterCall:
			steps = append(steps, Step{Loc: ev.Loc, Text: ev.Describe(), Level: level})
			level++
		case history.TokenReturnFromCall:
			level--
			steps = append(steps, Step{Loc: ev.Loc, Text: "return from call to `" + ev.Desc + "`", Level: level})
		}
	}
	return steps
}

// Depth returns the deepest level reached by steps, or 0 for none.
func Depth(steps []Step) int {
	d := 0
	for _, s := range steps {
		d = max(d, s.Level)
	}
	return d
}

// Write renders steps one per line, indented by level.
func Write(w io.Writer, steps []Step) error {
	for _, s := range steps {
		if _, err := fmt.Fprintln(w, s.String()); err != nil {
			return err
		}
	}
	return nil
}
