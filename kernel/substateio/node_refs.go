package substateio

import (
	"fmt"

	"github.com/xuperchain/xkernel/kernel/types"
)

// NodeRefs counts the outstanding borrows of each node. A node with borrows
// cannot be dropped or moved.
type NodeRefs struct {
	counts map[types.NodeId]int
}

func NewNodeRefs() *NodeRefs {
	return &NodeRefs{counts: make(map[types.NodeId]int)}
}

func (r *NodeRefs) AddBorrow(id types.NodeId) {
	r.counts[id]++
}

// ReleaseBorrow panics when the count is already zero. Every release is
// paired with one AddBorrow, so reaching it is a kernel bug.
func (r *NodeRefs) ReleaseBorrow(id types.NodeId) {
	n, ok := r.counts[id]
	if !ok || n <= 0 {
		panic(fmt.Sprintf("release borrow of unreferenced node %s", id))
	}
	if n == 1 {
		delete(r.counts, id)
		return
	}
	r.counts[id] = n - 1
}

func (r *NodeRefs) IsReferenced(id types.NodeId) bool {
	return r.counts[id] > 0
}

func (r *NodeRefs) Count(id types.NodeId) int {
	return r.counts[id]
}

// Len is the number of nodes with at least one borrow.
func (r *NodeRefs) Len() int {
	return len(r.counts)
}
