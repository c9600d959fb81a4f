package callframe

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/types"
)

type FrameState uint8

const (
	Active FrameState = iota
	Suspended
	Popped
)

func (s FrameState) String() string {
	switch s {
	case Active:
		return "Active"
	case Suspended:
		return "Suspended"
	case Popped:
		return "Popped"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

type openLock struct {
	handle types.LockHandle
	// internal nodes made visible by the locked value, one borrow each
	exposed []types.NodeId
}

// CallFrame is one activation. Owned nodes belong to the frame exclusively;
// references hold one borrow each until the frame pops.
type CallFrame struct {
	depth     int
	actor     types.Actor
	state     FrameState
	owned     types.NodeSet
	refs      types.NodeSet
	transient map[types.NodeId]int
	locks     map[types.LockHandle]*openLock
	// first nested invocation that failed after its frame was pushed
	failure error
}

func newFrame(depth int, actor types.Actor) *CallFrame {
	return &CallFrame{
		depth:     depth,
		actor:     actor,
		state:     Active,
		owned:     types.NewNodeSet(),
		refs:      types.NewNodeSet(),
		transient: make(map[types.NodeId]int),
		locks:     make(map[types.LockHandle]*openLock),
	}
}

func (f *CallFrame) Depth() int         { return f.depth }
func (f *CallFrame) Actor() types.Actor { return f.actor }
func (f *CallFrame) State() FrameState  { return f.state }
func (f *CallFrame) IsOwned(id types.NodeId) bool {
	return f.owned.Contains(id)
}

// IsVisible reports whether the frame owns, references or currently sees
// the node through an open lock.
func (f *CallFrame) IsVisible(id types.NodeId) bool {
	return f.owned.Contains(id) || f.refs.Contains(id) || f.transient[id] > 0
}

func (f *CallFrame) OwnedNodes() []types.NodeId { return f.owned.Sorted() }
func (f *CallFrame) Failure() error             { return f.failure }

// MarkFailed records that a callee of the frame failed. The frame can no
// longer return successfully, whatever its executor does with the error.
func (f *CallFrame) MarkFailed(err error) {
	if f.failure == nil && err != nil {
		f.failure = err
	}
}
func (f *CallFrame) References() []types.NodeId { return f.refs.Sorted() }

// OpenLocks lists the frame's lock handles in ascending order.
func (f *CallFrame) OpenLocks() []types.LockHandle {
	handles := make([]types.LockHandle, 0, len(f.locks))
	for h := range f.locks {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

func (f *CallFrame) String() string {
	return fmt.Sprintf("frame(%d,%s,%s)", f.depth, f.actor, f.state)
}

func (f *CallFrame) checkActive() error {
	if f.state != Active {
		return errors.Wrapf(types.ErrFrameNotActive, "%s", f)
	}
	return nil
}

func (f *CallFrame) checkVisible(id types.NodeId) error {
	if !f.IsVisible(id) {
		return errors.Wrapf(types.ErrNodeNotVisible, "%s in %s", id, f)
	}
	return nil
}

// checkMovable requires the node to be owned directly by the frame, with no
// open lock and no borrow.
func (f *CallFrame) checkMovable(io *substateio.SubstateIO, id types.NodeId) error {
	if err := f.checkUnlockedOwned(io, id); err != nil {
		return err
	}
	if io.Refs().IsReferenced(id) {
		return errors.Wrapf(types.ErrNodeBorrowed, "%s in %s", id, f)
	}
	return nil
}

func (f *CallFrame) checkUnlockedOwned(io *substateio.SubstateIO, id types.NodeId) error {
	if !f.owned.Contains(id) {
		if f.IsVisible(id) || io.Heap().Contains(id) {
			return errors.Wrapf(types.ErrNodeNotOwned, "%s in %s", id, f)
		}
		return errors.Wrapf(types.ErrNodeNotVisible, "%s in %s", id, f)
	}
	if io.IsNodeLocked(id) {
		return errors.Wrapf(types.ErrNodeLocked, "%s in %s", id, f)
	}
	return nil
}

func (f *CallFrame) addRef(io *substateio.SubstateIO, id types.NodeId) {
	if f.owned.Contains(id) || f.refs.Contains(id) {
		return
	}
	f.refs.Add(id)
	io.Refs().AddBorrow(id)
}

// AddGlobalReference makes a persisted global node visible to the frame.
func (f *CallFrame) AddGlobalReference(io *substateio.SubstateIO, id types.NodeId) error {
	if !id.IsGlobal() {
		return errors.Wrapf(types.ErrNodeNotVisible, "%s is not global", id)
	}
	f.addRef(io, id)
	return nil
}

func (f *CallFrame) releaseRefs(io *substateio.SubstateIO) {
	for _, id := range f.refs.Sorted() {
		io.Refs().ReleaseBorrow(id)
	}
	f.refs = types.NewNodeSet()
}

// expose makes the nodes of a value visible: global ones become references,
// internal ones stay visible while the lock is open.
func (f *CallFrame) expose(io *substateio.SubstateIO, lock *openLock, value *substate.IndexedValue) {
	if value == nil {
		return
	}
	ids := append(append([]types.NodeId(nil), value.OwnedNodes()...), value.References()...)
	for _, id := range ids {
		if id.IsGlobal() {
			f.addRef(io, id)
			continue
		}
		f.transient[id]++
		io.Refs().AddBorrow(id)
		lock.exposed = append(lock.exposed, id)
	}
}

func (f *CallFrame) unexpose(io *substateio.SubstateIO, lock *openLock) {
	for _, id := range lock.exposed {
		io.Refs().ReleaseBorrow(id)
		if f.transient[id]--; f.transient[id] <= 0 {
			delete(f.transient, id)
		}
	}
	lock.exposed = nil
}

// isAncestor walks the owner links up from node and reports whether id is
// on the path.
func isAncestor(h *heap.Heap, id types.NodeId, node types.NodeId) bool {
	for steps := 0; steps <= h.Len(); steps++ {
		if node == id {
			return true
		}
		owner, ok := h.Owner(node)
		if !ok || owner.Kind != heap.OwnedBySubstate {
			return false
		}
		node = owner.Location.Node
	}
	return false
}

type ownershipDiff struct {
	loc       types.SubstateLocation
	persisted bool
	added     []types.NodeId
	removed   []types.NodeId
}

// diffOwnership validates replacing old with value at loc and returns the
// nodes that change owner. Nothing is mutated.
func (f *CallFrame) diffOwnership(io *substateio.SubstateIO, loc types.SubstateLocation, old, value *substate.IndexedValue) (*ownershipDiff, error) {
	d := &ownershipDiff{loc: loc, persisted: !io.IsHeapNode(loc.Node)}
	oldOwned, newOwned := types.NewNodeSet(), types.NewNodeSet()
	if old != nil {
		oldOwned = types.NewNodeSet(old.OwnedNodes()...)
	}
	if value != nil {
		newOwned = types.NewNodeSet(value.OwnedNodes()...)
		for _, id := range value.OwnedNodes() {
			if oldOwned.Contains(id) {
				continue
			}
			if err := f.checkMovable(io, id); err != nil {
				return nil, err
			}
			if isAncestor(io.Heap(), id, loc.Node) {
				return nil, errors.Wrapf(types.ErrOwnershipCycle, "%s into %s", id, loc)
			}
			d.added = append(d.added, id)
		}
		for _, id := range value.References() {
			if err := f.checkVisible(id); err != nil {
				return nil, err
			}
		}
	}
	if old != nil {
		for _, id := range old.OwnedNodes() {
			if newOwned.Contains(id) {
				continue
			}
			if d.persisted {
				return nil, errors.Wrapf(types.ErrPersistedNodeMove, "%s out of %s", id, loc)
			}
			d.removed = append(d.removed, id)
		}
	}
	return d, nil
}

func (f *CallFrame) applyOwnership(io *substateio.SubstateIO, d *ownershipDiff) error {
	for _, id := range d.added {
		f.owned.Remove(id)
		if d.persisted {
			if err := io.MoveToStore(id); err != nil {
				return err
			}
			continue
		}
		if err := io.Heap().SetOwner(id, heap.SubstateOwner(d.loc)); err != nil {
			return err
		}
	}
	for _, id := range d.removed {
		f.owned.Add(id)
		if err := io.Heap().SetOwner(id, heap.FrameOwner(f.depth)); err != nil {
			return err
		}
	}
	return nil
}

// CreateNode allocates a node owned by the frame. Nodes owned by the content
// move from the frame into the new node.
func (f *CallFrame) CreateNode(io *substateio.SubstateIO, id types.NodeId, content substate.NodeSubstates) error {
	if err := f.checkActive(); err != nil {
		return err
	}
	seen := types.NewNodeSet()
	for _, child := range content.OwnedNodes() {
		if seen.Contains(child) {
			return errors.Wrapf(types.ErrDuplicateOwnership, "%s in new node %s", child, id)
		}
		seen.Add(child)
		if err := f.checkMovable(io, child); err != nil {
			return err
		}
	}
	for _, ref := range content.References() {
		if err := f.checkVisible(ref); err != nil {
			return err
		}
	}
	if err := io.CreateNode(id, content, heap.FrameOwner(f.depth)); err != nil {
		return err
	}
	for _, p := range content.Partitions() {
		for _, e := range content[p] {
			for _, child := range e.Value.OwnedNodes() {
				f.owned.Remove(child)
				if err := io.Heap().SetOwner(child, heap.SubstateOwner(types.NewLocation(id, p, e.Key))); err != nil {
					return err
				}
			}
		}
	}
	f.owned.Add(id)
	return nil
}

// DropNode removes a node the frame owns. Nodes it owned return to the frame.
func (f *CallFrame) DropNode(io *substateio.SubstateIO, id types.NodeId) (substate.NodeSubstates, error) {
	if err := f.checkActive(); err != nil {
		return nil, err
	}
	if !f.owned.Contains(id) {
		if f.IsVisible(id) || io.Heap().Contains(id) {
			return nil, errors.Wrapf(types.ErrNodeNotOwned, "drop %s in %s", id, f)
		}
		return nil, errors.Wrapf(types.ErrNodeNotVisible, "drop %s in %s", id, f)
	}
	content, err := io.DropNode(id)
	if err != nil {
		return nil, err
	}
	f.owned.Remove(id)
	for _, child := range content.OwnedNodes() {
		f.owned.Add(child)
		if err := io.Heap().SetOwner(child, heap.FrameOwner(f.depth)); err != nil {
			return nil, err
		}
	}
	return content, nil
}

// Globalize moves an owned global node and its subtree to the store. The
// frame keeps a reference to it. Outstanding borrows of the address are
// allowed: a global reference resolves through the store once the node is
// persisted, which is how a lazily loaded account is first materialised.
func (f *CallFrame) Globalize(io *substateio.SubstateIO, id types.NodeId) error {
	if err := f.checkActive(); err != nil {
		return err
	}
	if !id.IsGlobal() {
		return errors.Wrapf(types.ErrCannotGlobalize, "%s is %s", id, id.EntityType())
	}
	if err := f.checkUnlockedOwned(io, id); err != nil {
		return err
	}
	if err := io.MoveToStore(id); err != nil {
		return err
	}
	f.owned.Remove(id)
	f.addRef(io, id)
	return nil
}

func (f *CallFrame) OpenSubstate(io *substateio.SubstateIO, loc types.SubstateLocation, flags types.LockFlags, def *substate.IndexedValue) (types.LockHandle, *substate.IndexedValue, error) {
	if err := f.checkActive(); err != nil {
		return 0, nil, err
	}
	if err := f.checkVisible(loc.Node); err != nil {
		return 0, nil, err
	}
	handle, value, err := io.Open(f.depth, loc, flags, def)
	if err != nil {
		return 0, nil, err
	}
	lock := &openLock{handle: handle}
	f.expose(io, lock, value)
	f.locks[handle] = lock
	return handle, value, nil
}

func (f *CallFrame) frameLock(handle types.LockHandle) (*openLock, error) {
	lock, ok := f.locks[handle]
	if !ok {
		return nil, errors.Wrapf(types.ErrLockNotFound, "handle %d in %s", handle, f)
	}
	return lock, nil
}

func (f *CallFrame) ReadSubstate(io *substateio.SubstateIO, handle types.LockHandle) (*substate.IndexedValue, error) {
	if err := f.checkActive(); err != nil {
		return nil, err
	}
	if _, err := f.frameLock(handle); err != nil {
		return nil, err
	}
	return io.Read(handle)
}

// WriteSubstate replaces a locked value. Nodes the new value owns move from
// the frame into the substate; nodes it no longer owns return to the frame.
func (f *CallFrame) WriteSubstate(io *substateio.SubstateIO, handle types.LockHandle, value *substate.IndexedValue) error {
	if err := f.checkActive(); err != nil {
		return err
	}
	lock, err := f.frameLock(handle)
	if err != nil {
		return err
	}
	info, err := io.LockInfo(handle)
	if err != nil {
		return err
	}
	if !info.Flags.IsMutable() {
		return errors.Wrapf(types.ErrLockNotMutable, "write %s", info.Location)
	}
	old, err := io.Read(handle)
	if err != nil {
		return err
	}
	d, err := f.diffOwnership(io, info.Location, old, value)
	if err != nil {
		return err
	}
	if err := io.Write(handle, value); err != nil {
		return err
	}
	f.unexpose(io, lock)
	if err := f.applyOwnership(io, d); err != nil {
		return err
	}
	f.expose(io, lock, value)
	return nil
}

func (f *CallFrame) CloseSubstate(io *substateio.SubstateIO, handle types.LockHandle) error {
	if err := f.checkActive(); err != nil {
		return err
	}
	return f.closeLock(io, handle)
}

func (f *CallFrame) closeLock(io *substateio.SubstateIO, handle types.LockHandle) error {
	lock, err := f.frameLock(handle)
	if err != nil {
		return err
	}
	if err := io.Close(handle); err != nil {
		return err
	}
	f.unexpose(io, lock)
	delete(f.locks, handle)
	return nil
}

// SetEntry writes a collection entry with the same ownership rules as
// WriteSubstate.
func (f *CallFrame) SetEntry(io *substateio.SubstateIO, loc types.SubstateLocation, value *substate.IndexedValue) error {
	if err := f.checkActive(); err != nil {
		return err
	}
	if err := f.checkVisible(loc.Node); err != nil {
		return err
	}
	old, _, err := io.Get(loc)
	if err != nil {
		return err
	}
	d, err := f.diffOwnership(io, loc, old, value)
	if err != nil {
		return err
	}
	if err := io.SetSubstate(loc, value); err != nil {
		return err
	}
	return f.applyOwnership(io, d)
}

// RemoveEntry deletes a collection entry. Nodes it owned return to the frame.
func (f *CallFrame) RemoveEntry(io *substateio.SubstateIO, loc types.SubstateLocation) (*substate.IndexedValue, error) {
	if err := f.checkActive(); err != nil {
		return nil, err
	}
	if err := f.checkVisible(loc.Node); err != nil {
		return nil, err
	}
	old, ok, err := io.Get(loc)
	if err != nil || !ok {
		return nil, err
	}
	d, err := f.diffOwnership(io, loc, old, nil)
	if err != nil {
		return nil, err
	}
	if _, _, err := io.RemoveSubstate(loc); err != nil {
		return nil, err
	}
	if err := f.applyOwnership(io, d); err != nil {
		return nil, err
	}
	return old, nil
}

// ScanEntries lists a collection. Global nodes referenced by the entries
// become references of the frame.
func (f *CallFrame) ScanEntries(io *substateio.SubstateIO, node types.NodeId, p types.PartitionNumber, limit int) ([]substate.Entry, error) {
	if err := f.checkActive(); err != nil {
		return nil, err
	}
	if err := f.checkVisible(node); err != nil {
		return nil, err
	}
	entries, err := io.Scan(node, p, limit)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		for _, id := range e.Value.References() {
			if id.IsGlobal() {
				f.addRef(io, id)
			}
		}
	}
	return entries, nil
}
