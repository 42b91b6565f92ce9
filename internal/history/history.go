// Package history implements the causal execution-history model.
//
// A History is a persistent record of timestamped events. Values are never
// mutated: every constructor returns a new (interned) node that may share
// structure with its inputs, so the same History can be referenced from many
// branches, states and summaries at once, across goroutines.
//
// Four constructors build histories:
//   - Sequence prepends one event to a history
//   - Binary keeps two histories distinguishable (the two operands of a
//     binary operation)
//   - Multiplex is the deduplicated, order-independent union of branch
//     histories, used at control-flow joins
//   - Tag associates a history with abstract memory cells
//
// INVARIANT: a Tagged node, if present, is always the outermost layer of a
// History value. Constructors hoist tags of their inputs, so Cells() is O(1).
//
// Histories are replayed with the chronological pop algorithm (see pop.go),
// which merges branches into one stream ordered by timestamp without a
// global ordering up front.
package history

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
)

// Kind is the node kind of a History.
type Kind uint8

const (
	KindEpoch Kind = iota
	KindSequence
	KindBinary
	KindMultiplex
	KindTagged
)

func (k Kind) String() string {
	switch k {
	case KindEpoch:
		return "epoch"
	case KindSequence:
		return "sequence"
	case KindBinary:
		return "binary"
	case KindMultiplex:
		return "multiplex"
	case KindTagged:
		return "tagged"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// History is an immutable node. The zero of *History (nil) is treated as
// Epoch everywhere.
type History struct {
	kind Kind

	event Event    // KindSequence
	tail  *History // KindSequence: rest; KindTagged: wrapped history

	left, right *History // KindBinary

	branches []*History // KindMultiplex, canonically ordered

	cells []CellID // KindTagged, sorted and unique

	hash uint64
}

// Epoch is the empty history.
var Epoch = &History{kind: KindEpoch, hash: epochHash()}

func epochHash() uint64 {
	h := newHasher()
	h.byte(byte(KindEpoch))
	return h.sum()
}

func orEpoch(h *History) *History {
	if h == nil {
		return Epoch
	}
	return h
}

// Kind returns the node kind of the outermost layer.
func (h *History) Kind() Kind {
	return orEpoch(h).kind
}

// IsEpoch reports whether h carries no events and no cells.
func (h *History) IsEpoch() bool {
	return orEpoch(h).kind == KindEpoch
}

// Hash returns the content hash.
func (h *History) Hash() uint64 {
	return orEpoch(h).hash
}

// Cells returns the memory cells associated with h. O(1): tags are always
// the outermost layer.
func (h *History) Cells() []CellID {
	h = orEpoch(h)
	if h.kind != KindTagged {
		return nil
	}
	return h.cells
}

// Untag strips the outermost tag, if any.
func (h *History) Untag() *History {
	h = orEpoch(h)
	if h.kind == KindTagged {
		return orEpoch(h.tail)
	}
	return h
}

// Equal is structural equality. Interned nodes of the same arena compare by
// pointer; the content hash rejects most other mismatches without a walk.
func Equal(a, b *History) bool {
	a, b = orEpoch(a), orEpoch(b)
	if a == b {
		return true
	}
	if a.hash != b.hash || a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindEpoch:
		return true
	case KindSequence:
		return EqualEvents(a.event, b.event) && Equal(a.tail, b.tail)
	case KindBinary:
		return Equal(a.left, b.left) && Equal(a.right, b.right)
	case KindMultiplex:
		return slices.EqualFunc(a.branches, b.branches, Equal)
	case KindTagged:
		return slices.Equal(a.cells, b.cells) && Equal(a.tail, b.tail)
	default:
		return false
	}
}

// String renders the structure for debugging and tests.
func (h *History) String() string {
	var b strings.Builder
	orEpoch(h).render(&b)
	return b.String()
}

func (h *History) render(b *strings.Builder) {
	switch h.kind {
	case KindEpoch:
		b.WriteString("epoch")
	case KindSequence:
		b.WriteString(h.event.String())
		if h.event.Kind == EventCall {
			b.WriteString("{")
			orEpoch(h.event.InCall).render(b)
			b.WriteString("}")
		}
		b.WriteString(" :: ")
		orEpoch(h.tail).render(b)
	case KindBinary:
		b.WriteString("binary(")
		orEpoch(h.left).render(b)
		b.WriteString(", ")
		orEpoch(h.right).render(b)
		b.WriteString(")")
	case KindMultiplex:
		b.WriteString("multiplex[")
		for i, br := range h.branches {
			if i > 0 {
				b.WriteString(" | ")
			}
			br.render(b)
		}
		b.WriteString("]")
	case KindTagged:
		b.WriteString("tag{")
		for i, c := range h.cells {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(strconv.FormatInt(int64(c), 10))
		}
		b.WriteString("} ")
		orEpoch(h.tail).render(b)
	}
}

// computeHash fills h.hash from its fields and children.
func (h *History) computeHash() {
	hs := newHasher()
	hs.byte(byte(h.kind))
	switch h.kind {
	case KindSequence:
		hs.u64(h.event.hash())
		hs.u64(orEpoch(h.tail).hash)
	case KindBinary:
		hs.u64(orEpoch(h.left).hash)
		hs.u64(orEpoch(h.right).hash)
	case KindMultiplex:
		hs.int(int64(len(h.branches)))
		for _, br := range h.branches {
			hs.u64(br.hash)
		}
	case KindTagged:
		hs.int(int64(len(h.cells)))
		for _, c := range h.cells {
			hs.int(int64(c))
		}
		hs.u64(orEpoch(h.tail).hash)
	}
	h.hash = hs.sum()
}

// compareHistories is the canonical order of multiplex branches: content
// hash first, rendering on the (rare) collision.
func compareHistories(a, b *History) int {
	switch {
	case a.hash < b.hash:
		return -1
	case a.hash > b.hash:
		return 1
	case Equal(a, b):
		return 0
	default:
		return strings.Compare(a.String(), b.String())
	}
}

type hasher struct {
	h   hash.Hash64
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{h: fnv.New64a()}
}

func (h *hasher) byte(v byte) {
	h.buf[0] = v
	h.h.Write(h.buf[:1])
}

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.h.Write(h.buf[:])
}

func (h *hasher) int(v int64) {
	h.u64(uint64(v))
}

func (h *hasher) str(s string) {
	h.int(int64(len(s)))
	h.h.Write([]byte(s))
}

func (h *hasher) sum() uint64 {
	return h.h.Sum64()
}
