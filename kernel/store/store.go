// Package store is the persisted substate database the kernel reads from and
// commits to at the end of a successful transaction.
package store

import (
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// SubstateDatabase is the committed state. Commit applies all updates or none.
type SubstateDatabase interface {
	Get(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, bool, error)
	// List returns a partition in key order.
	List(node types.NodeId, partition types.PartitionNumber) ([]substate.Entry, error)
	Commit(updates *StateUpdates) error
}

// Update is a single write; a nil Value deletes the substate.
type Update struct {
	Location types.SubstateLocation
	Value    *substate.IndexedValue
}

func (u Update) IsDelete() bool {
	return u.Value == nil
}

// StateUpdates is the ordered write set of a transaction.
type StateUpdates struct {
	updates []Update
}

func NewStateUpdates() *StateUpdates {
	return &StateUpdates{}
}

func (s *StateUpdates) Set(loc types.SubstateLocation, value *substate.IndexedValue) {
	s.updates = append(s.updates, Update{Location: loc, Value: value})
}

func (s *StateUpdates) Delete(loc types.SubstateLocation) {
	s.updates = append(s.updates, Update{Location: loc})
}

func (s *StateUpdates) Len() int {
	if s == nil {
		return 0
	}
	return len(s.updates)
}

func (s *StateUpdates) Updates() []Update {
	if s == nil {
		return nil
	}
	return s.updates
}
