package domain

import "fmt"

// Status models how confidently a call site's callee was resolved.
//
//	        Mixed
//	       /     \
//	Resolved   Unresolved
//	       \     /
//	       Bottom
//
// Mixed means the site resolved on some paths and not on others (or, in a
// transitive summary, that both kinds of callee were reached through it).
type Status int

const (
	StatusBottom Status = iota
	StatusResolved
	StatusUnresolved
	StatusMixed
)

func (s Status) String() string {
	switch s {
	case StatusBottom:
		return "bottom"
	case StatusResolved:
		return "resolved"
	case StatusUnresolved:
		return "unresolved"
	case StatusMixed:
		return "mixed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "bottom":
		return StatusBottom, nil
	case "resolved":
		return StatusResolved, nil
	case "unresolved":
		return StatusUnresolved, nil
	case "mixed":
		return StatusMixed, nil
	default:
		return StatusBottom, fmt.Errorf("unknown resolution status %q", s)
	}
}

// StatusLattice is the finite resolution-status lattice.
type StatusLattice struct{}

func (StatusLattice) Bottom() Status { return StatusBottom }

func (StatusLattice) IsBottom(s Status) bool { return s == StatusBottom }

func (StatusLattice) Leq(a, b Status) bool {
	return a == StatusBottom || b == StatusMixed || a == b
}

func (StatusLattice) Join(a, b Status) Status {
	switch {
	case a == b:
		return a
	case a == StatusBottom:
		return b
	case b == StatusBottom:
		return a
	default:
		return StatusMixed
	}
}

// Widen is Join: the lattice has height 2.
func (l StatusLattice) Widen(prev, next Status, _ int) Status {
	return l.Join(prev, next)
}
