// Package substateio gives the call frames one lock, read and write surface
// over heap nodes and persisted nodes.
package substateio

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/track"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Limits bounds the size of a single substate. Zero disables a bound.
type Limits struct {
	MaxKeySize   int
	MaxValueSize int
}

// LockInfo describes an open lock.
type LockInfo struct {
	Handle    types.LockHandle
	Location  types.SubstateLocation
	Flags     types.LockFlags
	Depth     int
	Persisted bool
}

type lockEntry struct {
	LockInfo
	dbKey string
	// returned while the location has no value
	def *substate.IndexedValue
}

type locState struct {
	readers int
	mutable bool
}

type SubstateIO struct {
	heap   *heap.Heap
	track  *track.Track
	refs   *NodeRefs
	limits Limits

	nextHandle types.LockHandle
	locks      map[types.LockHandle]*lockEntry
	locations  map[string]*locState
	nodeLocks  map[types.NodeId]int
}

func New(h *heap.Heap, t *track.Track, refs *NodeRefs, limits Limits) *SubstateIO {
	return &SubstateIO{
		heap:      h,
		track:     t,
		refs:      refs,
		limits:    limits,
		locks:     make(map[types.LockHandle]*lockEntry),
		locations: make(map[string]*locState),
		nodeLocks: make(map[types.NodeId]int),
	}
}

func (s *SubstateIO) Heap() *heap.Heap    { return s.heap }
func (s *SubstateIO) Track() *track.Track { return s.track }
func (s *SubstateIO) Refs() *NodeRefs     { return s.refs }
func (s *SubstateIO) IsHeapNode(id types.NodeId) bool {
	return s.heap.Contains(id)
}

// NodeExists looks in the heap first, then in the store.
func (s *SubstateIO) NodeExists(id types.NodeId) (bool, error) {
	if s.heap.Contains(id) {
		return true, nil
	}
	return s.track.NodeExists(id)
}

// IsNodeLocked reports whether any substate of the node has an open lock.
func (s *SubstateIO) IsNodeLocked(id types.NodeId) bool {
	return s.nodeLocks[id] > 0
}

func (s *SubstateIO) checkSize(key types.SubstateKey, value *substate.IndexedValue) error {
	if s.limits.MaxKeySize > 0 && key.Size() > s.limits.MaxKeySize {
		return errors.Wrapf(types.ErrSubstateTooLarge, "key %d > %d", key.Size(), s.limits.MaxKeySize)
	}
	if value != nil && s.limits.MaxValueSize > 0 && value.Size() > s.limits.MaxValueSize {
		return errors.Wrapf(types.ErrSubstateTooLarge, "value %d > %d", value.Size(), s.limits.MaxValueSize)
	}
	return nil
}

func checkPartition(p types.PartitionNumber, key types.SubstateKey) error {
	if p == types.TypeInfoPartition && key.Kind() != types.FieldKeyKind {
		return errors.Wrapf(types.ErrPartitionMismatch, "partition %d key %s", p, key)
	}
	return nil
}

// CreateNode puts a new node on the heap.
func (s *SubstateIO) CreateNode(id types.NodeId, content substate.NodeSubstates, owner heap.Owner) error {
	for _, p := range content.Partitions() {
		for _, e := range content[p] {
			if err := checkPartition(p, e.Key); err != nil {
				return err
			}
			if err := s.checkSize(e.Key, e.Value); err != nil {
				return err
			}
		}
	}
	if s.heap.Contains(id) {
		return errors.Wrapf(types.ErrNodeAlreadyExists, "create %s", id)
	}
	exists, err := s.track.NodeExists(id)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(types.ErrNodeAlreadyExists, "create %s", id)
	}
	return s.heap.Allocate(id, content, owner)
}

// DropNode removes a heap node that nobody borrows or locks.
func (s *SubstateIO) DropNode(id types.NodeId) (substate.NodeSubstates, error) {
	if !s.heap.Contains(id) {
		exists, err := s.track.NodeExists(id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.Wrapf(types.ErrPersistedNodeMove, "drop %s", id)
		}
		return nil, errors.Wrapf(types.ErrNodeNotFound, "drop %s", id)
	}
	if s.refs.IsReferenced(id) {
		return nil, errors.Wrapf(types.ErrNodeBorrowed, "drop %s", id)
	}
	if s.IsNodeLocked(id) {
		return nil, errors.Wrapf(types.ErrNodeLocked, "drop %s", id)
	}
	return s.heap.Remove(id)
}

// RemoveTree drops a heap node and every heap node it owns, ignoring
// borrows. Used when a failed frame is discarded.
func (s *SubstateIO) RemoveTree(id types.NodeId) error {
	content, err := s.heap.Remove(id)
	if err != nil {
		return err
	}
	for _, child := range content.OwnedNodes() {
		if !s.heap.Contains(child) {
			continue
		}
		if err := s.RemoveTree(child); err != nil {
			return err
		}
	}
	return nil
}

// MoveToStore moves a heap node and its owned subtree into the track. It
// fails before moving anything if a node of the subtree is locked.
func (s *SubstateIO) MoveToStore(id types.NodeId) error {
	tree, err := s.subtree(id)
	if err != nil {
		return err
	}
	for _, n := range tree {
		if s.IsNodeLocked(n) {
			return errors.Wrapf(types.ErrNodeLocked, "persist %s", n)
		}
	}
	for _, n := range tree {
		content, err := s.heap.Remove(n)
		if err != nil {
			return err
		}
		s.track.InsertNode(n, content)
	}
	return nil
}

// subtree lists id and every heap node it owns, parents first.
func (s *SubstateIO) subtree(id types.NodeId) ([]types.NodeId, error) {
	if !s.heap.Contains(id) {
		return nil, errors.Wrapf(types.ErrNodeNotFound, "heap node %s", id)
	}
	out := []types.NodeId{id}
	for i := 0; i < len(out); i++ {
		entries, err := s.nodeContent(out[i])
		if err != nil {
			return nil, err
		}
		for _, child := range entries.OwnedNodes() {
			if s.heap.Contains(child) {
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (s *SubstateIO) nodeContent(id types.NodeId) (substate.NodeSubstates, error) {
	content := substate.NewNodeSubstates()
	for _, p := range s.heap.Partitions(id) {
		entries, err := s.heap.Scan(id, p, 0)
		if err != nil {
			return nil, err
		}
		content[p] = entries
	}
	return content, nil
}

func (s *SubstateIO) get(loc types.SubstateLocation, persisted bool) (*substate.IndexedValue, bool, error) {
	if !persisted {
		v, ok := s.heap.GetSubstate(loc.Node, loc.Partition, loc.Key)
		return v, ok, nil
	}
	return s.track.Get(loc)
}

// Open locks one substate and returns its current value. def is used when
// the substate does not exist; a nil def makes that an error.
func (s *SubstateIO) Open(depth int, loc types.SubstateLocation, flags types.LockFlags, def *substate.IndexedValue) (types.LockHandle, *substate.IndexedValue, error) {
	persisted := !s.heap.Contains(loc.Node)
	if persisted {
		exists, err := s.track.NodeExists(loc.Node)
		if err != nil {
			return 0, nil, err
		}
		if !exists {
			return 0, nil, errors.Wrapf(types.ErrNodeNotFound, "open %s", loc)
		}
	}
	if err := s.checkFlags(loc, flags, persisted); err != nil {
		return 0, nil, err
	}

	dbKey := string(loc.DbKey())
	state := s.locations[dbKey]
	if state != nil && (state.mutable || flags.IsMutable()) {
		return 0, nil, errors.Wrapf(types.ErrSubstateLocked, "open %s", loc)
	}

	value, ok, err := s.get(loc, persisted)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		if def == nil {
			return 0, nil, errors.Wrapf(types.ErrSubstateNotFound, "open %s", loc)
		}
		value = def
	}

	if state == nil {
		state = &locState{}
		s.locations[dbKey] = state
	}
	if flags.IsMutable() {
		state.mutable = true
	} else {
		state.readers++
	}
	s.nextHandle++
	handle := s.nextHandle
	s.locks[handle] = &lockEntry{
		LockInfo: LockInfo{
			Handle:    handle,
			Location:  loc,
			Flags:     flags,
			Depth:     depth,
			Persisted: persisted,
		},
		dbKey: dbKey,
		def:   def,
	}
	s.nodeLocks[loc.Node]++
	return handle, value, nil
}

func (s *SubstateIO) checkFlags(loc types.SubstateLocation, flags types.LockFlags, persisted bool) error {
	if flags.Contains(types.LockForceWrite) && (!flags.IsMutable() || !persisted) {
		return errors.Wrapf(types.ErrInvalidLockFlags, "%s on %s", flags, loc)
	}
	if flags.Contains(types.LockUnmodifiedBase) {
		if !persisted {
			return errors.Wrapf(types.ErrInvalidLockFlags, "%s on heap node %s", flags, loc)
		}
		if s.track.IsModified(loc) {
			return errors.Wrapf(types.ErrSubstateModified, "open %s", loc)
		}
	}
	return nil
}

func (s *SubstateIO) lock(handle types.LockHandle) (*lockEntry, error) {
	entry, ok := s.locks[handle]
	if !ok {
		return nil, errors.Wrapf(types.ErrLockNotFound, "handle %d", handle)
	}
	return entry, nil
}

func (s *SubstateIO) LockInfo(handle types.LockHandle) (LockInfo, error) {
	entry, err := s.lock(handle)
	if err != nil {
		return LockInfo{}, err
	}
	return entry.LockInfo, nil
}

func (s *SubstateIO) Read(handle types.LockHandle) (*substate.IndexedValue, error) {
	entry, err := s.lock(handle)
	if err != nil {
		return nil, err
	}
	value, ok, err := s.get(entry.Location, entry.Persisted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return entry.def, nil
	}
	return value, nil
}

// Write replaces the value under a mutable lock. The new value is visible to
// later reads at once.
func (s *SubstateIO) Write(handle types.LockHandle, value *substate.IndexedValue) error {
	entry, err := s.lock(handle)
	if err != nil {
		return err
	}
	if !entry.Flags.IsMutable() {
		return errors.Wrapf(types.ErrLockNotMutable, "write %s", entry.Location)
	}
	if err := s.checkSize(entry.Location.Key, value); err != nil {
		return err
	}
	loc := entry.Location
	if !entry.Persisted {
		return s.heap.SetSubstate(loc.Node, loc.Partition, loc.Key, value)
	}
	s.track.Set(loc, value, entry.Flags.Contains(types.LockForceWrite))
	return nil
}

func (s *SubstateIO) Close(handle types.LockHandle) error {
	entry, err := s.lock(handle)
	if err != nil {
		return err
	}
	delete(s.locks, handle)

	state := s.locations[entry.dbKey]
	if entry.Flags.IsMutable() {
		state.mutable = false
	} else {
		state.readers--
	}
	if !state.mutable && state.readers == 0 {
		delete(s.locations, entry.dbKey)
	}
	if s.nodeLocks[entry.Location.Node]--; s.nodeLocks[entry.Location.Node] == 0 {
		delete(s.nodeLocks, entry.Location.Node)
	}
	return nil
}

// Locks lists open handles in ascending order.
func (s *SubstateIO) Locks() []types.LockHandle {
	handles := make([]types.LockHandle, 0, len(s.locks))
	for h := range s.locks {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (s *SubstateIO) checkUnlocked(loc types.SubstateLocation) error {
	if _, ok := s.locations[string(loc.DbKey())]; ok {
		return errors.Wrapf(types.ErrSubstateLocked, "%s", loc)
	}
	return nil
}

func checkCollection(p types.PartitionNumber, key types.SubstateKey) error {
	if key.Kind() == types.FieldKeyKind || p == types.TypeInfoPartition {
		return errors.Wrapf(types.ErrPartitionMismatch, "collection op on partition %d key %s", p, key)
	}
	return nil
}

// Get reads one collection entry without locking it.
func (s *SubstateIO) Get(loc types.SubstateLocation) (*substate.IndexedValue, bool, error) {
	return s.get(loc, !s.heap.Contains(loc.Node))
}

// SetSubstate writes a collection entry that is not locked.
func (s *SubstateIO) SetSubstate(loc types.SubstateLocation, value *substate.IndexedValue) error {
	if err := checkCollection(loc.Partition, loc.Key); err != nil {
		return err
	}
	if err := s.checkUnlocked(loc); err != nil {
		return err
	}
	if err := s.checkSize(loc.Key, value); err != nil {
		return err
	}
	if s.heap.Contains(loc.Node) {
		return s.heap.SetSubstate(loc.Node, loc.Partition, loc.Key, value)
	}
	s.track.Set(loc, value, false)
	return nil
}

// RemoveSubstate deletes a collection entry and returns the removed value.
func (s *SubstateIO) RemoveSubstate(loc types.SubstateLocation) (*substate.IndexedValue, bool, error) {
	if err := checkCollection(loc.Partition, loc.Key); err != nil {
		return nil, false, err
	}
	if err := s.checkUnlocked(loc); err != nil {
		return nil, false, err
	}
	if s.heap.Contains(loc.Node) {
		return s.heap.RemoveSubstate(loc.Node, loc.Partition, loc.Key)
	}
	old, ok, err := s.track.Get(loc)
	if err != nil || !ok {
		return nil, false, err
	}
	s.track.Delete(loc, false)
	return old, true, nil
}

// Scan lists a collection partition in key order.
func (s *SubstateIO) Scan(node types.NodeId, p types.PartitionNumber, limit int) ([]substate.Entry, error) {
	if p == types.TypeInfoPartition {
		return nil, errors.Wrapf(types.ErrPartitionMismatch, "scan partition %d", p)
	}
	if s.heap.Contains(node) {
		return s.heap.Scan(node, p, limit)
	}
	return s.track.Scan(node, p, limit)
}
