package substate

import (
	"sort"

	"github.com/xuperchain/xkernel/kernel/types"
)

// Entry is one substate of a partition.
type Entry struct {
	Key   types.SubstateKey
	Value *IndexedValue
}

// NodeSubstates is the full content of a node, partition by partition.
type NodeSubstates map[types.PartitionNumber][]Entry

// NewNodeSubstates returns an empty node content.
func NewNodeSubstates() NodeSubstates {
	return make(NodeSubstates)
}

// SetField adds or replaces a field entry.
func (n NodeSubstates) SetField(partition types.PartitionNumber, field uint8, value *IndexedValue) NodeSubstates {
	return n.Set(partition, types.NewFieldKey(field), value)
}

// Set adds or replaces the entry for key.
func (n NodeSubstates) Set(partition types.PartitionNumber, key types.SubstateKey, value *IndexedValue) NodeSubstates {
	entries := n[partition]
	for i := range entries {
		if entries[i].Key.Equal(key) {
			entries[i].Value = value
			return n
		}
	}
	n[partition] = append(entries, Entry{Key: key, Value: value})
	return n
}

// Partitions returns partition numbers in ascending order.
func (n NodeSubstates) Partitions() []types.PartitionNumber {
	parts := make([]types.PartitionNumber, 0, len(n))
	for p := range n {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	return parts
}

// OwnedNodes collects the ids owned by every value, in partition order.
func (n NodeSubstates) OwnedNodes() []types.NodeId {
	var owned []types.NodeId
	for _, p := range n.Partitions() {
		for _, e := range n[p] {
			owned = append(owned, e.Value.OwnedNodes()...)
		}
	}
	return owned
}

// References collects the ids referenced by every value, in partition order.
func (n NodeSubstates) References() []types.NodeId {
	var refs []types.NodeId
	for _, p := range n.Partitions() {
		for _, e := range n[p] {
			refs = append(refs, e.Value.References()...)
		}
	}
	return refs
}
