package history

import (
	"fmt"

	"github.com/roach88/causal/internal/ir"
)

// EventKind classifies an Event.
type EventKind uint8

const (
	EventAssignment EventKind = iota + 1
	EventAllocation
	EventBranch
	EventCall
	EventInvalidation
	EventParameter
	EventConstant
	EventUnknownCall
)

var eventKindNames = map[EventKind]string{
	EventAssignment:   "assignment",
	EventAllocation:   "allocation",
	EventBranch:       "branch",
	EventCall:         "call",
	EventInvalidation: "invalidation",
	EventParameter:    "parameter",
	EventConstant:     "constant",
	EventUnknownCall:  "unknown_call",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", k)
}

// ParseEventKind is the inverse of String.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// CellID identifies an abstract memory cell. Ids are issued by an Arena and
// are meaningful only within the analysis that issued them.
type CellID int64

// Event is one discrete occurrence during abstract execution.
//
// For EventCall, Desc is the callee name and InCall is the callee's own
// history, replayed nested inside the call.
type Event struct {
	Kind      EventKind
	Loc       ir.Location
	Timestamp Timestamp
	Desc      string
	InCall    *History
}

// Describe renders the event for a diagnostic trace.
func (e Event) Describe() string {
	switch e.Kind {
	case EventAssignment:
		return "assigned " + e.Desc
	case EventAllocation:
		return "allocated " + e.Desc
	case EventBranch:
		return "taking branch " + e.Desc
	case EventCall:
		return "in call to `" + e.Desc + "`"
	case EventInvalidation:
		return "invalidated " + e.Desc
	case EventParameter:
		return "parameter `" + e.Desc + "`"
	case EventConstant:
		return "constant " + e.Desc
	case EventUnknownCall:
		return "call to unknown function `" + e.Desc + "`"
	default:
		return e.Desc
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)@%s#%d", e.Kind, e.Desc, e.Loc, e.Timestamp)
}

// EqualEvents is structural equality; nested call histories compare with
// Equal.
func EqualEvents(a, b Event) bool {
	return a.Kind == b.Kind &&
		a.Loc == b.Loc &&
		a.Timestamp == b.Timestamp &&
		a.Desc == b.Desc &&
		Equal(a.InCall, b.InCall)
}

func (e Event) hash() uint64 {
	h := newHasher()
	h.byte(byte(e.Kind))
	h.str(e.Loc.File)
	h.int(int64(e.Loc.Line))
	h.int(int64(e.Loc.Col))
	h.int(int64(e.Timestamp))
	h.str(e.Desc)
	h.u64(orEpoch(e.InCall).hash)
	return h.sum()
}
