package lifetime

import (
	"fmt"

	"github.com/roach88/causal/internal/history"
)

// Validity is what is known about whether a value may still be used.
//
//	    MaybeInvalid
//	     /       \
//	 Valid     Invalid
//	     \       /
//	      Bottom
type Validity int

const (
	ValidityBottom Validity = iota
	Valid
	Invalid
	MaybeInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityBottom:
		return "bottom"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case MaybeInvalid:
		return "maybe-invalid"
	default:
		return fmt.Sprintf("validity(%d)", int(v))
	}
}

// ParseValidity is the inverse of String.
func ParseValidity(s string) (Validity, error) {
	for v := ValidityBottom; v <= MaybeInvalid; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return ValidityBottom, fmt.Errorf("unknown validity %q", s)
}

// Tainted reports whether a use of the value deserves a report.
func (v Validity) Tainted() bool {
	return v == Invalid || v == MaybeInvalid
}

func joinValidity(a, b Validity) Validity {
	switch {
	case a == b:
		return a
	case a == ValidityBottom:
		return b
	case b == ValidityBottom:
		return a
	default:
		return MaybeInvalid
	}
}

func leqValidity(a, b Validity) bool {
	return a == ValidityBottom || b == MaybeInvalid || a == b
}

// Value is one variable's validity and the history that explains it. The
// memory cells the value may point to are the tags of History.
type Value struct {
	Validity Validity
	History  *history.History
}

// Cells returns the cells the value may point to.
func (v Value) Cells() []history.CellID {
	if v.History == nil {
		return nil
	}
	return v.History.Cells()
}

// valueLattice orders values by validity; histories are merged in arena.
type valueLattice struct {
	arena *history.Arena
}

func (valueLattice) Bottom() Value { return Value{} }

func (valueLattice) IsBottom(v Value) bool { return v.Validity == ValidityBottom }

func (valueLattice) Leq(a, b Value) bool { return leqValidity(a.Validity, b.Validity) }

func (l valueLattice) Join(a, b Value) Value {
	return Value{
		Validity: joinValidity(a.Validity, b.Validity),
		History:  l.merge(a.History, b.History),
	}
}

func (l valueLattice) Widen(prev, next Value, _ int) Value {
	return l.Join(prev, next)
}

func (l valueLattice) merge(a, b *history.History) *history.History {
	switch {
	case a == nil:
		return b
	case b == nil, a == b, l.arena == nil:
		return a
	default:
		return l.arena.Multiplex(a, b)
	}
}
