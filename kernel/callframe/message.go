package callframe

import (
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Message lists the nodes an invocation moves to the other frame and the
// nodes it only passes by reference.
type Message struct {
	Move    []types.NodeId
	CopyRef []types.NodeId
}

// MessageFromValue moves every node the value owns and copies every node it
// references.
func MessageFromValue(v *substate.IndexedValue) Message {
	if v == nil {
		return Message{}
	}
	return Message{
		Move:    append([]types.NodeId(nil), v.OwnedNodes()...),
		CopyRef: append([]types.NodeId(nil), v.References()...),
	}
}

// AddRefs appends implicit references, skipping ids already present.
func (m *Message) AddRefs(ids ...types.NodeId) {
	seen := types.NewNodeSet(m.CopyRef...)
	for _, id := range ids {
		if seen.Contains(id) {
			continue
		}
		seen.Add(id)
		m.CopyRef = append(m.CopyRef, id)
	}
}
