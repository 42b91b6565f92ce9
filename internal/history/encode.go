package history

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causal/internal/ir"
)

// Ref identifies a node in a Table. Ref 0 is always Epoch.
type Ref int

// Table is the serialized form of one or more histories: a node list in
// which every node refers only to nodes before it. Shared substructure is
// written once.
type Table struct {
	Nodes []WireNode `json:"nodes"`
}

// WireNode is one serialized History node.
type WireNode struct {
	Kind     string     `json:"kind"`
	Event    *WireEvent `json:"event,omitempty"`
	Tail     Ref        `json:"tail,omitempty"`
	Left     Ref        `json:"left,omitempty"`
	Right    Ref        `json:"right,omitempty"`
	Branches []Ref      `json:"branches,omitempty"`
	Cells    []CellID   `json:"cells,omitempty"`
}

// WireEvent is a serialized Event.
type WireEvent struct {
	Kind      string `json:"kind"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Col       int    `json:"col,omitempty"`
	Timestamp int64  `json:"ts"`
	Desc      string `json:"desc,omitempty"`
	InCall    Ref    `json:"in_call,omitempty"`
}

// Encoder appends histories to a Table, writing each distinct node once.
type Encoder struct {
	table Table
	refs  map[*History]Ref
}

func NewEncoder() *Encoder {
	return &Encoder{refs: make(map[*History]Ref)}
}

// Add encodes h (and everything it references) and returns its Ref.
func (e *Encoder) Add(h *History) Ref {
	h = orEpoch(h)
	if h.kind == KindEpoch {
		return 0
	}
	if ref, ok := e.refs[h]; ok {
		return ref
	}

	n := WireNode{Kind: h.kind.String()}
	switch h.kind {
	case KindSequence:
		ev := h.event
		n.Event = &WireEvent{
			Kind:      ev.Kind.String(),
			File:      ev.Loc.File,
			Line:      ev.Loc.Line,
			Col:       ev.Loc.Col,
			Timestamp: int64(ev.Timestamp),
			Desc:      ev.Desc,
			InCall:    e.Add(ev.InCall),
		}
		n.Tail = e.Add(h.tail)
	case KindBinary:
		n.Left = e.Add(h.left)
		n.Right = e.Add(h.right)
	case KindMultiplex:
		n.Branches = make([]Ref, len(h.branches))
		for i, br := range h.branches {
			n.Branches[i] = e.Add(br)
		}
	case KindTagged:
		n.Cells = h.cells
		n.Tail = e.Add(h.tail)
	}

	e.table.Nodes = append(e.table.Nodes, n)
	ref := Ref(len(e.table.Nodes))
	e.refs[h] = ref
	return ref
}

// Table returns the nodes encoded so far.
func (e *Encoder) Table() Table {
	return e.table
}

// Decoder rebuilds histories from a Table into an Arena.
type Decoder struct {
	arena *Arena
	table Table
	built []*History
}

func NewDecoder(arena *Arena, table Table) *Decoder {
	return &Decoder{arena: arena, table: table, built: []*History{Epoch}}
}

// Arena returns the arena decoded histories are interned in.
func (d *Decoder) Arena() *Arena {
	return d.arena
}

// History returns the history rooted at ref.
func (d *Decoder) History(ref Ref) (*History, error) {
	if ref < 0 || int(ref) > len(d.table.Nodes) {
		return nil, fmt.Errorf("history ref %d out of range [0,%d]", ref, len(d.table.Nodes))
	}
	for len(d.built) <= int(ref) {
		idx := len(d.built)
		h, err := d.build(idx, d.table.Nodes[idx-1])
		if err != nil {
			return nil, fmt.Errorf("history node %d: %w", idx, err)
		}
		d.built = append(d.built, h)
	}
	return d.built[ref], nil
}

func (d *Decoder) build(idx int, n WireNode) (*History, error) {
	get := func(r Ref) (*History, error) {
		if r < 0 || int(r) >= idx {
			return nil, fmt.Errorf("forward or invalid reference %d", r)
		}
		return d.built[r], nil
	}

	switch n.Kind {
	case KindSequence.String():
		if n.Event == nil {
			return nil, fmt.Errorf("sequence without event")
		}
		kind, err := ParseEventKind(n.Event.Kind)
		if err != nil {
			return nil, err
		}
		inCall, err := get(n.Event.InCall)
		if err != nil {
			return nil, err
		}
		tail, err := get(n.Tail)
		if err != nil {
			return nil, err
		}
		ev := Event{
			Kind:      kind,
			Loc:       ir.Location{File: n.Event.File, Line: n.Event.Line, Col: n.Event.Col},
			Timestamp: Timestamp(n.Event.Timestamp),
			Desc:      n.Event.Desc,
			InCall:    inCall,
		}
		return d.arena.Sequence(ev, tail), nil
	case KindBinary.String():
		l, err := get(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := get(n.Right)
		if err != nil {
			return nil, err
		}
		return d.arena.Binary(l, r), nil
	case KindMultiplex.String():
		branches := make([]*History, len(n.Branches))
		for i, r := range n.Branches {
			br, err := get(r)
			if err != nil {
				return nil, err
			}
			branches[i] = br
		}
		return d.arena.Multiplex(branches...), nil
	case KindTagged.String():
		tail, err := get(n.Tail)
		if err != nil {
			return nil, err
		}
		return d.arena.Tag(tail, n.Cells...), nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", n.Kind)
	}
}

type encodedHistory struct {
	Table
	Root Ref `json:"root"`
}

// Marshal encodes a single history as JSON.
func Marshal(h *History) ([]byte, error) {
	enc := NewEncoder()
	root := enc.Add(h)
	return json.Marshal(encodedHistory{Table: enc.Table(), Root: root})
}

// Unmarshal decodes a history produced by Marshal into arena.
func Unmarshal(arena *Arena, data []byte) (*History, error) {
	var eh encodedHistory
	if err := json.Unmarshal(data, &eh); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return NewDecoder(arena, eh.Table).History(eh.Root)
}
