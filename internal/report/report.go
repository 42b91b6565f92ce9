// Package report is the reporting collaborator: checkers and the driver
// hand it Issues, and sinks decide where they go.
package report

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/trace"
)

// Severity of an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Well-known issue kinds raised outside checkers.
const (
	KindRecursionCycle    = "recursion-cycle"
	KindStaticRecursion   = "static-recursion"
	KindAnalysisFailed    = "analysis-failed"
	KindDegradedPrecision = "degraded-precision"
)

// Issue is one finding with its diagnostic trace.
type Issue struct {
	Proc     ir.ProcID    `json:"proc"`
	Loc      ir.Location  `json:"loc"`
	Kind     string       `json:"kind"`
	Severity Severity     `json:"severity"`
	Message  string       `json:"message"`
	Trace    []trace.Step `json:"trace,omitempty"`
}

// Key identifies an issue for deduplication: same kind at the same place
// in the same procedure.
func (i Issue) Key() string {
	return i.Kind + "|" + i.Proc.Key() + "|" + i.Loc.String() + "|" + i.Message
}

// Sink receives issues. Implementations must be safe for concurrent use.
type Sink interface {
	Report(Issue)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Issue)

func (f SinkFunc) Report(i Issue) { f(i) }

// Discard drops every issue.
var Discard Sink = SinkFunc(func(Issue) {})

// Collector keeps issues in memory, dropping duplicates by Key.
type Collector struct {
	mu     sync.Mutex
	issues []Issue
	seen   map[string]bool
}

func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

func (c *Collector) Report(i Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := i.Key()
	if c.seen[k] {
		return
	}
	c.seen[k] = true
	c.issues = append(c.issues, i)
}

// Issues returns the collected issues ordered by procedure, location, kind.
func (c *Collector) Issues() []Issue {
	c.mu.Lock()
	out := make([]Issue, len(c.issues))
	copy(out, c.issues)
	c.mu.Unlock()

	Sort(out)
	return out
}

// Len returns the number of distinct issues.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.issues)
}

// Sort orders issues by procedure, file, line, kind, message.
func Sort(issues []Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		x, y := issues[a], issues[b]
		if x.Proc.Key() != y.Proc.Key() {
			return x.Proc.Key() < y.Proc.Key()
		}
		if x.Loc.File != y.Loc.File {
			return x.Loc.File < y.Loc.File
		}
		if x.Loc.Line != y.Loc.Line {
			return x.Loc.Line < y.Loc.Line
		}
		if x.Kind != y.Kind {
			return x.Kind < y.Kind
		}
		return x.Message < y.Message
	})
}

// LogSink writes each issue as one structured log line.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Report(i Issue) {
	entry := s.Logger.WithFields(logrus.Fields{
		"proc":  i.Proc.String(),
		"loc":   i.Loc.String(),
		"kind":  i.Kind,
		"steps": len(i.Trace),
	})
	switch i.Severity {
	case SeverityError:
		entry.Error(i.Message)
	case SeverityWarning:
		entry.Warn(i.Message)
	default:
		entry.Info(i.Message)
	}
}

// Tee fans issues out to several sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(i Issue) {
		for _, s := range sinks {
			s.Report(i)
		}
	})
}
