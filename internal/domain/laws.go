package domain

import (
	"errors"
	"fmt"
)

// LawViolation describes a broken lattice law for a pair (or triple) of
// sample states.
type LawViolation struct {
	Law     string
	Samples []int // indices into the sample slice
}

func (v LawViolation) Error() string {
	return fmt.Sprintf("lattice law %q violated for samples %v", v.Law, v.Samples)
}

// CheckLaws verifies the lattice contract over every pair and triple of
// samples and returns all violations joined. Checkers call it from their
// tests; the engine never does.
//
// maxWiden bounds the number of strictly increasing widening steps allowed
// when each sample is widened against a growing chain of the others.
func CheckLaws[S any](l Lattice[S], samples []S, maxWiden int) error {
	var errs []error
	fail := func(law string, idx ...int) {
		errs = append(errs, LawViolation{Law: law, Samples: idx})
	}

	if !l.IsBottom(l.Bottom()) {
		fail("bottom is bottom")
	}

	for i, a := range samples {
		if !l.Leq(l.Bottom(), a) {
			fail("bottom is least", i)
		}
		if !l.Leq(a, a) {
			fail("leq reflexive", i)
		}
		if !Equal(l, l.Join(a, a), a) {
			fail("join idempotent", i)
		}
		for j, b := range samples {
			ab := l.Join(a, b)
			if !Equal(l, ab, l.Join(b, a)) {
				fail("join commutative", i, j)
			}
			if !l.Leq(a, ab) || !l.Leq(b, ab) {
				fail("join upper bound", i, j)
			}
			if !l.Leq(b, l.Widen(a, b, 1)) {
				fail("widen upper bound", i, j)
			}
			for k, c := range samples {
				if !Equal(l, l.Join(l.Join(a, b), c), l.Join(a, l.Join(b, c))) {
					fail("join associative", i, j, k)
				}
			}
		}
	}

	if len(samples) > 0 && maxWiden > 0 {
		if err := checkWidenStabilizes(l, samples, maxWiden); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkWidenStabilizes widens an accumulator against the samples repeatedly
// and requires it to stop growing within maxWiden strict increases.
func checkWidenStabilizes[S any](l Lattice[S], samples []S, maxWiden int) error {
	acc := l.Bottom()
	increases := 0
	for round := 1; round <= maxWiden+len(samples)+1; round++ {
		next := l.Widen(acc, l.Join(acc, samples[(round-1)%len(samples)]), round)
		if !l.Leq(next, acc) {
			increases++
			if increases > maxWiden {
				return LawViolation{Law: "widen stabilizes", Samples: []int{(round - 1) % len(samples)}}
			}
		}
		acc = next
	}
	return nil
}
