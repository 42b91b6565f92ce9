package history

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/causal/internal/ir"
)

// Arena owns the counters and the intern table of one procedure analysis.
// Every History built by an Arena is hash-consed: structurally equal values
// built by the same Arena are the same pointer.
//
// There is no package-level arena. The fixpoint engine creates one per
// procedure and threads it through its Context, so replaying an analysis
// yields identical timestamps and cell ids.
//
// Thread-safety: Arena is safe for concurrent use.
type Arena struct {
	clock Clock
	cells atomic.Int64

	mu    sync.Mutex
	table map[uint64][]*History
}

// NewArena returns an empty arena whose clock and cell counter start at zero.
func NewArena() *Arena {
	return &Arena{table: make(map[uint64][]*History)}
}

// Tick issues the next timestamp.
func (a *Arena) Tick() Timestamp {
	return a.clock.Next()
}

// Now returns the last issued timestamp.
func (a *Arena) Now() Timestamp {
	return a.clock.Current()
}

// FreshCell issues a new abstract memory cell id.
func (a *Arena) FreshCell() CellID {
	return CellID(a.cells.Add(1))
}

// NewEvent builds an event stamped with the next timestamp.
func (a *Arena) NewEvent(kind EventKind, loc ir.Location, desc string) Event {
	return Event{Kind: kind, Loc: loc, Timestamp: a.Tick(), Desc: desc}
}

// Record is Sequence(a.NewEvent(kind, loc, desc), tail).
func (a *Arena) Record(kind EventKind, loc ir.Location, desc string, tail *History) *History {
	return a.Sequence(a.NewEvent(kind, loc, desc), tail)
}

// Sequence prepends ev to tail. Tags on tail stay outermost.
func (a *Arena) Sequence(ev Event, tail *History) *History {
	tail = orEpoch(tail)
	if ev.InCall != nil {
		ev.InCall = ev.InCall.Untag()
		if ev.InCall.IsEpoch() {
			ev.InCall = nil
		}
	}
	n := &History{kind: KindSequence, event: ev, tail: tail.Untag()}
	return a.withCells(a.intern(n), tail.Cells())
}

// Call records a call to callee at loc whose own history is inner. The
// callee's tags belong to the callee's cells and are dropped.
func (a *Arena) Call(loc ir.Location, callee string, inner, tail *History) *History {
	ev := a.NewEvent(EventCall, loc, callee)
	ev.InCall = inner
	return a.Sequence(ev, tail)
}

// Binary keeps left and right distinguishable. An epoch operand is
// dropped; cells of both operands are hoisted.
func (a *Arena) Binary(left, right *History) *History {
	left, right = orEpoch(left), orEpoch(right)
	cells := unionCells(left.Cells(), right.Cells())
	l, r := left.Untag(), right.Untag()
	var inner *History
	switch {
	case l.IsEpoch():
		inner = r
	case r.IsEpoch():
		inner = l
	default:
		inner = a.intern(&History{kind: KindBinary, left: l, right: r})
	}
	return a.withCells(inner, cells)
}

// Multiplex is the union of branch histories. Nested multiplexes are
// flattened, epochs and duplicates dropped, and the remaining branches put
// in canonical order, so the result is independent of argument order and
// Multiplex(h, h) is h.
func (a *Arena) Multiplex(hs ...*History) *History {
	var (
		cells    []CellID
		branches []*History
	)
	var add func(h *History)
	add = func(h *History) {
		h = orEpoch(h)
		cells = unionCells(cells, h.Cells())
		h = h.Untag()
		switch h.kind {
		case KindEpoch:
		case KindMultiplex:
			for _, br := range h.branches {
				add(br)
			}
		default:
			branches = append(branches, h)
		}
	}
	for _, h := range hs {
		add(h)
	}

	slices.SortFunc(branches, compareHistories)
	branches = slices.CompactFunc(branches, Equal)

	var inner *History
	switch len(branches) {
	case 0:
		inner = Epoch
	case 1:
		inner = branches[0]
	default:
		inner = a.intern(&History{kind: KindMultiplex, branches: branches})
	}
	return a.withCells(inner, cells)
}

// Tag associates h with cells, merging with any existing tag.
func (a *Arena) Tag(h *History, cells ...CellID) *History {
	h = orEpoch(h)
	merged := unionCells(h.Cells(), normalizeCells(cells))
	return a.withCells(h.Untag(), merged)
}

// Retag replaces the cells of h.
func (a *Arena) Retag(h *History, cells ...CellID) *History {
	return a.withCells(orEpoch(h).Untag(), normalizeCells(cells))
}

// withCells wraps an untagged history in a tag carrying cells, or returns it
// unchanged when cells is empty.
func (a *Arena) withCells(h *History, cells []CellID) *History {
	if len(cells) == 0 {
		return h
	}
	return a.intern(&History{kind: KindTagged, tail: h, cells: cells})
}

func (a *Arena) intern(n *History) *History {
	n.computeHash()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.table[n.hash] {
		if Equal(c, n) {
			return c
		}
	}
	a.table[n.hash] = append(a.table[n.hash], n)
	return n
}

// Len returns the number of interned nodes.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, bucket := range a.table {
		n += len(bucket)
	}
	return n
}

func normalizeCells(cells []CellID) []CellID {
	if len(cells) == 0 {
		return nil
	}
	out := slices.Clone(cells)
	slices.Sort(out)
	return slices.Compact(out)
}

// unionCells merges two sorted, unique cell lists without mutating either.
func unionCells(a, b []CellID) []CellID {
	switch {
	case len(a) == 0:
		return b
	case len(b) == 0:
		return a
	}
	out := make([]CellID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
