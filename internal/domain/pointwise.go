package domain

// Pointwise lifts a value lattice to maps. A missing key stands for the
// value lattice's Bottom, so the empty (or nil) map is Bottom.
//
// Join and Widen never mutate their arguments; they return fresh maps.
type Pointwise[K comparable, V any] struct {
	Values Lattice[V]
}

// NewPointwise returns the pointwise lift of values.
func NewPointwise[K comparable, V any](values Lattice[V]) Pointwise[K, V] {
	return Pointwise[K, V]{Values: values}
}

func (p Pointwise[K, V]) Bottom() map[K]V { return nil }

func (p Pointwise[K, V]) IsBottom(m map[K]V) bool {
	for _, v := range m {
		if !p.Values.IsBottom(v) {
			return false
		}
	}
	return true
}

func (p Pointwise[K, V]) Leq(a, b map[K]V) bool {
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			if !p.Values.IsBottom(av) {
				return false
			}
			continue
		}
		if !p.Values.Leq(av, bv) {
			return false
		}
	}
	return true
}

func (p Pointwise[K, V]) Join(a, b map[K]V) map[K]V {
	return p.combine(a, b, p.Values.Join)
}

func (p Pointwise[K, V]) Widen(prev, next map[K]V, iteration int) map[K]V {
	return p.combine(prev, next, func(x, y V) V { return p.Values.Widen(x, y, iteration) })
}

func (p Pointwise[K, V]) combine(a, b map[K]V, f func(V, V) V) map[K]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[K]V, max(len(a), len(b)))
	for k, av := range a {
		if bv, ok := b[k]; ok {
			out[k] = f(av, bv)
		} else {
			out[k] = f(av, p.Values.Bottom())
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			out[k] = f(p.Values.Bottom(), bv)
		}
	}
	return out
}
