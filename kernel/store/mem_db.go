package store

import (
	"bytes"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// MemDatabase keeps committed substates in an ordered in-memory tree.
type MemDatabase struct {
	lock    sync.RWMutex
	tree    *redblacktree.Tree
	commits int
	writes  int
}

func NewMemDatabase() *MemDatabase {
	return &MemDatabase{tree: redblacktree.NewWithStringComparator()}
}

func (m *MemDatabase) Get(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	raw, ok := m.tree.Get(string(types.EncodeDbKey(node, partition, key)))
	if !ok {
		return nil, false, nil
	}
	value, err := substate.Decode(raw.([]byte))
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *MemDatabase) List(node types.NodeId, partition types.PartitionNumber) ([]substate.Entry, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	prefix := types.PartitionPrefix(node, partition)
	var entries []substate.Entry
	it := m.tree.Iterator()
	for it.Next() {
		k := []byte(it.Key().(string))
		if bytes.Compare(k, prefix) < 0 {
			continue
		}
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		loc, err := types.DecodeDbKey(k)
		if err != nil {
			return nil, err
		}
		value, err := substate.Decode(it.Value().([]byte))
		if err != nil {
			return nil, err
		}
		entries = append(entries, substate.Entry{Key: loc.Key, Value: value})
	}
	return entries, nil
}

func (m *MemDatabase) Commit(updates *StateUpdates) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if updates.Len() == 0 {
		return nil
	}
	for _, u := range updates.Updates() {
		k := string(u.Location.DbKey())
		if u.IsDelete() {
			m.tree.Remove(k)
		} else {
			m.tree.Put(k, u.Value.Bytes())
		}
	}
	m.commits++
	m.writes += updates.Len()
	return nil
}

// Commits counts non-empty commits.
func (m *MemDatabase) Commits() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.commits
}

// Writes counts committed updates.
func (m *MemDatabase) Writes() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.writes
}

// Len is the number of stored substates.
func (m *MemDatabase) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.tree.Size()
}
