// Package heap stores the nodes created during a transaction until they are
// dropped or moved to the store. The whole heap is discarded when the
// transaction fails.
package heap

import (
	"fmt"
	"sort"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

type OwnerKind uint8

const (
	OwnedByFrame OwnerKind = iota
	OwnedBySubstate
)

// Owner is the parent link of a heap node in the ownership forest.
type Owner struct {
	Kind     OwnerKind
	Depth    int
	Location types.SubstateLocation
}

func FrameOwner(depth int) Owner {
	return Owner{Kind: OwnedByFrame, Depth: depth}
}

func SubstateOwner(loc types.SubstateLocation) Owner {
	return Owner{Kind: OwnedBySubstate, Location: loc}
}

func (o Owner) String() string {
	if o.Kind == OwnedByFrame {
		return fmt.Sprintf("frame(%d)", o.Depth)
	}
	return fmt.Sprintf("substate(%s)", o.Location)
}

type node struct {
	partitions map[types.PartitionNumber]*redblacktree.Tree
	owner      Owner
}

func newNode(owner Owner) *node {
	return &node{
		partitions: make(map[types.PartitionNumber]*redblacktree.Tree),
		owner:      owner,
	}
}

func (n *node) partition(p types.PartitionNumber, create bool) *redblacktree.Tree {
	tree, ok := n.partitions[p]
	if !ok && create {
		tree = redblacktree.NewWithStringComparator()
		n.partitions[p] = tree
	}
	return tree
}

// Heap maps node ids to node content.
type Heap struct {
	nodes map[types.NodeId]*node
}

func New() *Heap {
	return &Heap{nodes: make(map[types.NodeId]*node)}
}

// Allocate inserts a new node. It fails if the id is already present.
func (h *Heap) Allocate(id types.NodeId, substates substate.NodeSubstates, owner Owner) error {
	if _, ok := h.nodes[id]; ok {
		return errors.Wrapf(types.ErrNodeAlreadyExists, "heap allocate %s", id)
	}
	n := newNode(owner)
	for _, p := range substates.Partitions() {
		tree := n.partition(p, true)
		for _, e := range substates[p] {
			tree.Put(string(e.Key.Encode()), e)
		}
	}
	h.nodes[id] = n
	return nil
}

// Remove takes a node out of the heap and returns its content. Callers check
// the node reference table first.
func (h *Heap) Remove(id types.NodeId) (substate.NodeSubstates, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, errors.Wrapf(types.ErrNodeNotFound, "heap remove %s", id)
	}
	delete(h.nodes, id)

	out := substate.NewNodeSubstates()
	for p, tree := range n.partitions {
		if tree.Size() == 0 {
			continue
		}
		entries := make([]substate.Entry, 0, tree.Size())
		it := tree.Iterator()
		for it.Next() {
			entries = append(entries, it.Value().(substate.Entry))
		}
		out[p] = entries
	}
	return out, nil
}

func (h *Heap) Contains(id types.NodeId) bool {
	_, ok := h.nodes[id]
	return ok
}

func (h *Heap) Len() int {
	return len(h.nodes)
}

// NodeIds lists every node in byte order.
func (h *Heap) NodeIds() []types.NodeId {
	ids := make([]types.NodeId, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	types.SortNodeIds(ids)
	return ids
}

// Partitions lists the non-empty partitions of a node in ascending order.
func (h *Heap) Partitions(id types.NodeId) []types.PartitionNumber {
	n, ok := h.nodes[id]
	if !ok {
		return nil
	}
	parts := make([]types.PartitionNumber, 0, len(n.partitions))
	for p, tree := range n.partitions {
		if tree.Size() > 0 {
			parts = append(parts, p)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts
}

func (h *Heap) GetSubstate(id types.NodeId, p types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, bool) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, false
	}
	tree := n.partition(p, false)
	if tree == nil {
		return nil, false
	}
	v, ok := tree.Get(string(key.Encode()))
	if !ok {
		return nil, false
	}
	return v.(substate.Entry).Value, true
}

func (h *Heap) SetSubstate(id types.NodeId, p types.PartitionNumber, key types.SubstateKey, value *substate.IndexedValue) error {
	n, ok := h.nodes[id]
	if !ok {
		return errors.Wrapf(types.ErrNodeNotFound, "heap set %s", id)
	}
	n.partition(p, true).Put(string(key.Encode()), substate.Entry{Key: key, Value: value})
	return nil
}

func (h *Heap) RemoveSubstate(id types.NodeId, p types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, bool, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, false, errors.Wrapf(types.ErrNodeNotFound, "heap remove substate %s", id)
	}
	tree := n.partition(p, false)
	if tree == nil {
		return nil, false, nil
	}
	k := string(key.Encode())
	v, ok := tree.Get(k)
	if !ok {
		return nil, false, nil
	}
	tree.Remove(k)
	return v.(substate.Entry).Value, true, nil
}

// Scan returns up to limit entries of a partition in key order; limit <= 0
// means all.
func (h *Heap) Scan(id types.NodeId, p types.PartitionNumber, limit int) ([]substate.Entry, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, errors.Wrapf(types.ErrNodeNotFound, "heap scan %s", id)
	}
	tree := n.partition(p, false)
	if tree == nil {
		return nil, nil
	}
	var out []substate.Entry
	it := tree.Iterator()
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, it.Value().(substate.Entry))
	}
	return out, nil
}

func (h *Heap) Owner(id types.NodeId) (Owner, bool) {
	n, ok := h.nodes[id]
	if !ok {
		return Owner{}, false
	}
	return n.owner, true
}

func (h *Heap) SetOwner(id types.NodeId, owner Owner) error {
	n, ok := h.nodes[id]
	if !ok {
		return errors.Wrapf(types.ErrNodeNotFound, "heap set owner %s", id)
	}
	n.owner = owner
	return nil
}
