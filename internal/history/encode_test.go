package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_RoundTrip(t *testing.T) {
	callee := NewArena()
	inner := callee.Tag(callee.Record(EventInvalidation, at(9), "arg", nil), callee.FreshCell())

	a := NewArena()
	c := a.FreshCell()
	base := a.Tag(a.Record(EventAllocation, at(1), "p", nil), c)
	left := a.Record(EventAssignment, at(2), "q = p", base)
	right := a.Call(at(3), "free", inner, base)
	h := a.Multiplex(left, a.Binary(right, a.Record(EventConstant, at(4), "0", nil)))

	data, err := Marshal(h)
	require.NoError(t, err)

	got, err := Unmarshal(NewArena(), data)
	require.NoError(t, err)

	assert.True(t, Equal(h, got), "want %s\ngot  %s", h, got)
	assert.Equal(t, []CellID{c}, got.Cells())
	assert.Equal(t, timestamps(Events(h)), timestamps(Events(got)))
}

func TestEncoder_SharesNodes(t *testing.T) {
	a := NewArena()
	base := a.Record(EventAllocation, at(1), "p", nil)
	h1 := a.Record(EventAssignment, at(2), "x", base)
	h2 := a.Record(EventAssignment, at(3), "y", base)

	enc := NewEncoder()
	r1 := enc.Add(h1)
	r2 := enc.Add(h2)
	assert.Equal(t, r1, enc.Add(h1))
	assert.Equal(t, Ref(0), enc.Add(nil))

	// base, h1, h2
	assert.Len(t, enc.Table().Nodes, 3)

	dec := NewDecoder(NewArena(), enc.Table())
	g2, err := dec.History(r2)
	require.NoError(t, err)
	g1, err := dec.History(r1)
	require.NoError(t, err)
	assert.True(t, Equal(h1, g1))
	assert.True(t, Equal(h2, g2))
}

func TestDecoder_RejectsBadTables(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		ref   Ref
	}{
		{
			name:  "ref out of range",
			table: Table{},
			ref:   1,
		},
		{
			name:  "forward reference",
			table: Table{Nodes: []WireNode{{Kind: "tagged", Tail: 1, Cells: []CellID{1}}}},
			ref:   1,
		},
		{
			name:  "unknown kind",
			table: Table{Nodes: []WireNode{{Kind: "spiral"}}},
			ref:   1,
		},
		{
			name:  "sequence without event",
			table: Table{Nodes: []WireNode{{Kind: "sequence"}}},
			ref:   1,
		},
		{
			name:  "bad event kind",
			table: Table{Nodes: []WireNode{{Kind: "sequence", Event: &WireEvent{Kind: "teleport"}}}},
			ref:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(NewArena(), tt.table).History(tt.ref)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshal_InvalidJSON(t *testing.T) {
	_, err := Unmarshal(NewArena(), []byte("{"))
	assert.Error(t, err)
}
