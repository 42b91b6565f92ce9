package fixpoint

import (
	"container/heap"

	"github.com/roach88/causal/internal/ir"
)

// worklist pops scheduled nodes in reverse postorder. A node is queued at
// most once at a time.
type worklist struct {
	order  map[ir.NodeID]int
	queued map[ir.NodeID]bool
	items  nodeHeap
}

func newWorklist(rpo []ir.NodeID) *worklist {
	order := make(map[ir.NodeID]int, len(rpo))
	for i, n := range rpo {
		order[n] = i
	}
	w := &worklist{order: order, queued: make(map[ir.NodeID]bool)}
	w.items.order = order
	return w
}

func (w *worklist) push(n ir.NodeID) {
	if w.queued[n] {
		return
	}
	if _, ok := w.order[n]; !ok {
		return
	}
	w.queued[n] = true
	heap.Push(&w.items, n)
}

func (w *worklist) pop() ir.NodeID {
	n := heap.Pop(&w.items).(ir.NodeID)
	delete(w.queued, n)
	return n
}

func (w *worklist) Len() int {
	return w.items.Len()
}

type nodeHeap struct {
	order map[ir.NodeID]int
	nodes []ir.NodeID
}

func (h nodeHeap) Len() int           { return len(h.nodes) }
func (h nodeHeap) Less(i, j int) bool { return h.order[h.nodes[i]] < h.order[h.nodes[j]] }
func (h nodeHeap) Swap(i, j int)      { h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i] }

func (h *nodeHeap) Push(x any) {
	h.nodes = append(h.nodes, x.(ir.NodeID))
}

func (h *nodeHeap) Pop() any {
	n := h.nodes[len(h.nodes)-1]
	h.nodes = h.nodes[:len(h.nodes)-1]
	return n
}
