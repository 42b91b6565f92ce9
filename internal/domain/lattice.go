// Package domain defines the abstract domain contract every checker state
// implements, plus the small reusable lattices shipped with the engine.
//
// A domain is a value implementing Lattice[S] for its state type S. The
// engine is instantiated once per state type (static polymorphism); there is
// no runtime registry of domains.
//
// Contract (a violation is a programming error in the checker):
//   - Join is commutative, associative, and an upper bound:
//     Leq(a, Join(a, b)) and Leq(b, Join(a, b)) always hold
//   - Widen(prev, next, i) is an upper bound of next, and any chain
//     built by repeated widening stabilizes after finitely many steps
//   - Bottom() is the least element and IsBottom(Bottom()) holds
package domain

// Lattice is the abstract domain contract.
type Lattice[S any] interface {
	Bottom() S
	IsBottom(s S) bool
	Leq(a, b S) bool
	Join(a, b S) S
	// Widen is applied at loop headers. iteration counts how many times the
	// header has been revisited, starting at 1.
	Widen(prev, next S, iteration int) S
}

// Equal reports lattice equality: Leq in both directions.
func Equal[S any](l Lattice[S], a, b S) bool {
	return l.Leq(a, b) && l.Leq(b, a)
}

// JoinAll folds Join over states, starting from Bottom.
func JoinAll[S any](l Lattice[S], states ...S) S {
	acc := l.Bottom()
	for _, s := range states {
		acc = l.Join(acc, s)
	}
	return acc
}
