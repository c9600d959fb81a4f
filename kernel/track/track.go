// Package track buffers the writes a transaction makes to persisted nodes on
// top of the substate database. Nothing reaches the database before Commit.
package track

import (
	"bytes"

	"github.com/emirpasic/gods/trees/redblacktree"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/store"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

const DefaultCacheSize = 4096

type readResult struct {
	value  *substate.IndexedValue
	exists bool
}

// tracked is the latest write of one location. A nil value is a delete.
type tracked struct {
	loc    types.SubstateLocation
	value  *substate.IndexedValue
	forced bool
	// last force-written value, kept when non-forced writes are reverted
	forcedValue *substate.IndexedValue
}

type Track struct {
	db      store.SubstateDatabase
	cache   *lru.Cache
	overlay *redblacktree.Tree
}

func New(db store.SubstateDatabase, cacheSize int) (*Track, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new track cache")
	}
	return &Track{
		db:      db,
		cache:   cache,
		overlay: redblacktree.NewWithStringComparator(),
	}, nil
}

func (t *Track) readDb(loc types.SubstateLocation, dbKey string) (*substate.IndexedValue, bool, error) {
	if cached, ok := t.cache.Get(dbKey); ok {
		r := cached.(readResult)
		return r.value, r.exists, nil
	}
	value, exists, err := t.db.Get(loc.Node, loc.Partition, loc.Key)
	if err != nil {
		return nil, false, err
	}
	t.cache.Add(dbKey, readResult{value: value, exists: exists})
	return value, exists, nil
}

// Get returns the current value: the latest write of this transaction, or
// the committed value.
func (t *Track) Get(loc types.SubstateLocation) (*substate.IndexedValue, bool, error) {
	dbKey := string(loc.DbKey())
	if v, ok := t.overlay.Get(dbKey); ok {
		w := v.(*tracked)
		return w.value, w.value != nil, nil
	}
	return t.readDb(loc, dbKey)
}

// Base returns the committed value, ignoring writes of this transaction.
func (t *Track) Base(loc types.SubstateLocation) (*substate.IndexedValue, bool, error) {
	return t.readDb(loc, string(loc.DbKey()))
}

func (t *Track) put(loc types.SubstateLocation, value *substate.IndexedValue, force bool) {
	dbKey := string(loc.DbKey())
	var w *tracked
	if v, ok := t.overlay.Get(dbKey); ok {
		w = v.(*tracked)
	} else {
		w = &tracked{loc: loc}
		t.overlay.Put(dbKey, w)
	}
	w.value = value
	if force {
		w.forced = true
		w.forcedValue = value
	}
}

func (t *Track) Set(loc types.SubstateLocation, value *substate.IndexedValue, force bool) {
	if value == nil {
		value = substate.Empty()
	}
	t.put(loc, value, force)
}

func (t *Track) Delete(loc types.SubstateLocation, force bool) {
	t.put(loc, nil, force)
}

// InsertNode writes every substate of a node that moves into the store.
func (t *Track) InsertNode(id types.NodeId, content substate.NodeSubstates) {
	for _, p := range content.Partitions() {
		for _, e := range content[p] {
			t.Set(types.NewLocation(id, p, e.Key), e.Value, false)
		}
	}
}

// NodeExists reports whether the node has a type info substate.
func (t *Track) NodeExists(id types.NodeId) (bool, error) {
	_, ok, err := t.Get(types.NewLocation(id, types.TypeInfoPartition, types.NewFieldKey(types.TypeInfoField)))
	return ok, err
}

// IsModified reports whether this transaction wrote the location.
func (t *Track) IsModified(loc types.SubstateLocation) bool {
	_, ok := t.overlay.Get(string(loc.DbKey()))
	return ok
}

// Scan merges committed and written entries of a partition in key order.
// limit <= 0 means all.
func (t *Track) Scan(node types.NodeId, partition types.PartitionNumber, limit int) ([]substate.Entry, error) {
	committed, err := t.db.List(node, partition)
	if err != nil {
		return nil, err
	}
	prefix := types.PartitionPrefix(node, partition)

	merged := redblacktree.NewWithStringComparator()
	for _, e := range committed {
		merged.Put(string(types.EncodeDbKey(node, partition, e.Key)), e)
	}
	it := t.overlay.Iterator()
	for it.Next() {
		k := []byte(it.Key().(string))
		if bytes.Compare(k, prefix) < 0 {
			continue
		}
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		w := it.Value().(*tracked)
		if w.value == nil {
			merged.Remove(it.Key())
		} else {
			merged.Put(it.Key(), substate.Entry{Key: w.loc.Key, Value: w.value})
		}
	}

	var out []substate.Entry
	mit := merged.Iterator()
	for mit.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, mit.Value().(substate.Entry))
	}
	return out, nil
}

// Updates lists the writes of this transaction in db key order.
func (t *Track) Updates() *store.StateUpdates {
	updates := store.NewStateUpdates()
	it := t.overlay.Iterator()
	for it.Next() {
		w := it.Value().(*tracked)
		if w.value == nil {
			updates.Delete(w.loc)
		} else {
			updates.Set(w.loc, w.value)
		}
	}
	return updates
}

// RevertNonForceWrites drops every write except force writes, which fall
// back to their last forced value.
func (t *Track) RevertNonForceWrites() {
	reverted := redblacktree.NewWithStringComparator()
	it := t.overlay.Iterator()
	for it.Next() {
		w := it.Value().(*tracked)
		if !w.forced {
			continue
		}
		w.value = w.forcedValue
		reverted.Put(it.Key(), w)
	}
	t.overlay = reverted
}

// Discard drops all writes.
func (t *Track) Discard() {
	t.overlay.Clear()
}

// Commit writes all tracked updates in one database commit.
func (t *Track) Commit() (*store.StateUpdates, error) {
	updates := t.Updates()
	if err := t.db.Commit(updates); err != nil {
		return nil, errors.Wrap(err, "track commit")
	}
	t.overlay.Clear()
	t.cache.Purge()
	return updates, nil
}

func (t *Track) Len() int {
	return t.overlay.Size()
}
