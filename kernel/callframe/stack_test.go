package callframe

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/ids"
	"github.com/xuperchain/xkernel/kernel/store"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/track"
	"github.com/xuperchain/xkernel/kernel/types"
)

type fixture struct {
	io    *substateio.SubstateIO
	stack *Stack
	ids   *ids.Allocator
}

func newFixture(t *testing.T) *fixture {
	tr, err := track.New(store.NewMemDatabase(), 0)
	require.NoError(t, err)
	io := substateio.New(heap.New(), tr, substateio.NewNodeRefs(), substateio.Limits{})
	return &fixture{io: io, stack: NewStack(io), ids: ids.NewAllocator([]byte("intent"))}
}

func content(data string, owned ...types.NodeId) substate.NodeSubstates {
	return substate.NewNodeSubstates().
		SetField(types.TypeInfoPartition, types.TypeInfoField, substate.FromData([]byte("test"))).
		SetField(types.MainBasePartition, 0, substate.MustIndexedValue([]byte(data), owned, nil))
}

func (fx *fixture) create(t *testing.T, entity types.EntityType, owned ...types.NodeId) types.NodeId {
	id, err := fx.ids.Next(entity)
	require.NoError(t, err)
	require.NoError(t, fx.stack.Current().CreateNode(fx.io, id, content("x", owned...)))
	return id
}

var (
	callee = types.FunctionActor(types.NewBlueprintId(types.ZeroNodeId, "Callee"), "run")
	field0 = func(id types.NodeId) types.SubstateLocation {
		return types.NewLocation(id, types.MainBasePartition, types.NewFieldKey(0))
	}
)

func TestRoundTripMove(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	b := fx.create(t, types.EntityInternalGenericComponent)
	before, _ := fx.io.Heap().GetSubstate(b, types.MainBasePartition, types.NewFieldKey(0))

	frame, err := fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	require.NoError(t, err)
	assert.False(t, root.IsOwned(b))
	assert.True(t, frame.IsOwned(b))
	assert.Equal(t, Suspended, root.State())
	assert.Equal(t, 1, fx.stack.Depth())

	moved, err := fx.stack.PopSuccess(Message{Move: []types.NodeId{b}})
	require.NoError(t, err)
	assert.Equal(t, []types.NodeId{b}, moved)
	assert.True(t, root.IsOwned(b))
	assert.Equal(t, Active, root.State())
	assert.Equal(t, Popped, frame.State())

	after, _ := fx.io.Heap().GetSubstate(b, types.MainBasePartition, types.NewFieldKey(0))
	assert.Equal(t, before.Bytes(), after.Bytes())
	owner, _ := fx.io.Heap().Owner(b)
	assert.Equal(t, heap.FrameOwner(0), owner)
}

func TestMoveRequiresDirectOwnership(t *testing.T) {
	fx := newFixture(t)
	vault := fx.create(t, types.EntityInternalFungibleVault)
	fx.create(t, types.EntityInternalGenericComponent, vault)

	_, err := fx.stack.Push(callee, Message{Move: []types.NodeId{vault}})
	assert.True(t, errors.Is(err, types.ErrNodeNotOwned), "%v", err)

	unknown := types.NewNodeId(types.EntityInternalFungibleVault, []byte("nowhere"))
	_, err = fx.stack.Push(callee, Message{Move: []types.NodeId{unknown}})
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible), "%v", err)
	assert.False(t, errors.Is(err, types.ErrNodeNotOwned))

	// nothing was pushed
	assert.Equal(t, 0, fx.stack.Depth())
}

func TestMoveBlockedByLockAndBorrow(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	b := fx.create(t, types.EntityInternalGenericComponent)

	h, _, err := root.OpenSubstate(fx.io, field0(b), types.LockReadOnly, nil)
	require.NoError(t, err)
	_, err = fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	assert.True(t, errors.Is(err, types.ErrNodeLocked))
	require.NoError(t, root.CloseSubstate(fx.io, h))

	_, err = fx.stack.Push(callee, Message{CopyRef: []types.NodeId{b}})
	require.NoError(t, err)
	_, err = fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	assert.True(t, errors.Is(err, types.ErrNodeNotOwned))
	_, err = fx.stack.PopSuccess(Message{})
	require.NoError(t, err)
	assert.False(t, fx.io.Refs().IsReferenced(b))
}

func TestCopyRefMustBeVisible(t *testing.T) {
	fx := newFixture(t)
	hidden := types.NewNodeId(types.EntityGlobalAccount, []byte{1})
	_, err := fx.stack.Push(callee, Message{CopyRef: []types.NodeId{hidden}})
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible))

	b := fx.create(t, types.EntityInternalGenericComponent)
	frame, err := fx.stack.Push(callee, Message{CopyRef: []types.NodeId{b}})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.io.Refs().Count(b))
	assert.True(t, frame.IsVisible(b))
	assert.False(t, frame.IsOwned(b))

	_, err = fx.stack.Push(callee, Message{})
	require.NoError(t, err)
	require.NoError(t, fx.stack.PopFailure())
	require.NoError(t, fx.stack.PopFailure())
	assert.Equal(t, 0, fx.io.Refs().Count(b))
	assert.True(t, fx.io.Heap().Contains(b))
}

func TestOrphanDetected(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.stack.Push(callee, Message{})
	require.NoError(t, err)
	x := fx.create(t, types.EntityInternalGenericComponent)

	_, err = fx.stack.PopSuccess(Message{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOrphanedNode))
	var orphan *types.OrphanError
	require.True(t, errors.As(err, &orphan))
	assert.Equal(t, []types.NodeId{x}, orphan.Nodes)
	assert.Equal(t, 1, fx.stack.Depth())

	require.NoError(t, fx.stack.PopFailure())
	assert.False(t, fx.io.Heap().Contains(x))
}

func TestNestedNodeNotOrphan(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.stack.Push(callee, Message{})
	require.NoError(t, err)
	inner := fx.create(t, types.EntityInternalFungibleVault)
	outer := fx.create(t, types.EntityInternalGenericComponent, inner)

	moved, err := fx.stack.PopSuccess(Message{Move: []types.NodeId{outer}})
	require.NoError(t, err)
	assert.Equal(t, []types.NodeId{outer}, moved)
	owner, _ := fx.io.Heap().Owner(inner)
	assert.Equal(t, heap.OwnedBySubstate, owner.Kind)
}

func TestPopFailureDiscardsTree(t *testing.T) {
	fx := newFixture(t)
	b := fx.create(t, types.EntityInternalGenericComponent)
	_, err := fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	require.NoError(t, err)
	frame := fx.stack.Current()
	inner := fx.create(t, types.EntityInternalFungibleVault)
	outer := fx.create(t, types.EntityInternalGenericComponent, inner)
	_, _, err = frame.OpenSubstate(fx.io, field0(outer), types.LockMutable, nil)
	require.NoError(t, err)

	require.NoError(t, fx.stack.PopFailure())
	assert.Equal(t, 0, fx.io.Heap().Len())
	assert.Empty(t, fx.io.Locks())
	assert.Equal(t, 0, fx.io.Refs().Len())
	assert.Equal(t, Active, fx.stack.Current().State())
}

func TestDanglingLock(t *testing.T) {
	fx := newFixture(t)
	b := fx.create(t, types.EntityInternalGenericComponent)
	frame, err := fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	require.NoError(t, err)
	_, _, err = frame.OpenSubstate(fx.io, field0(b), types.LockReadOnly, nil)
	require.NoError(t, err)

	_, err = fx.stack.PopSuccess(Message{Move: []types.NodeId{b}})
	assert.True(t, errors.Is(err, types.ErrDanglingLock))
	require.NoError(t, fx.stack.PopFailure())
	assert.Empty(t, fx.io.Locks())
}

func TestWriteMovesOwnership(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	vault := fx.create(t, types.EntityInternalFungibleVault)
	comp := fx.create(t, types.EntityInternalGenericComponent)

	h, _, err := root.OpenSubstate(fx.io, field0(comp), types.LockMutable, nil)
	require.NoError(t, err)
	require.NoError(t, root.WriteSubstate(fx.io, h, substate.MustIndexedValue(nil, []types.NodeId{vault}, nil)))
	assert.False(t, root.IsOwned(vault))
	assert.True(t, root.IsVisible(vault))
	owner, _ := fx.io.Heap().Owner(vault)
	assert.Equal(t, heap.SubstateOwner(field0(comp)), owner)

	// taking it out returns it to the frame
	require.NoError(t, root.WriteSubstate(fx.io, h, substate.Empty()))
	assert.True(t, root.IsOwned(vault))
	require.NoError(t, root.CloseSubstate(fx.io, h))
	assert.Equal(t, 0, fx.io.Refs().Len())

	ro, _, err := root.OpenSubstate(fx.io, field0(comp), types.LockReadOnly, nil)
	require.NoError(t, err)
	err = root.WriteSubstate(fx.io, ro, substate.Empty())
	assert.True(t, errors.Is(err, types.ErrLockNotMutable))
	require.NoError(t, root.CloseSubstate(fx.io, ro))
}

func TestOwnershipCycle(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	inner := fx.create(t, types.EntityInternalGenericComponent)
	outer := fx.create(t, types.EntityInternalGenericComponent, inner)

	// outer cannot be placed inside its own child
	h, _, err := root.OpenSubstate(fx.io, field0(outer), types.LockReadOnly, nil)
	require.NoError(t, err)
	ih, _, err := root.OpenSubstate(fx.io, field0(inner), types.LockMutable, nil)
	require.NoError(t, err)
	require.NoError(t, root.CloseSubstate(fx.io, h))
	err = root.WriteSubstate(fx.io, ih, substate.MustIndexedValue(nil, []types.NodeId{outer}, nil))
	assert.True(t, errors.Is(err, types.ErrOwnershipCycle), "%v", err)
	require.NoError(t, root.CloseSubstate(fx.io, ih))
}

func TestDropNodeReturnsChildren(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	inner := fx.create(t, types.EntityInternalFungibleVault)
	outer := fx.create(t, types.EntityInternalGenericComponent, inner)

	_, err := root.DropNode(fx.io, inner)
	assert.True(t, errors.Is(err, types.ErrNodeNotOwned))

	_, err = root.DropNode(fx.io, outer)
	require.NoError(t, err)
	assert.True(t, root.IsOwned(inner))
	_, err = root.DropNode(fx.io, inner)
	require.NoError(t, err)
	assert.Equal(t, 0, fx.io.Heap().Len())
	require.NoError(t, fx.stack.CloseRoot())
}

func TestGlobalize(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	vault := fx.create(t, types.EntityInternalFungibleVault)
	internal := fx.create(t, types.EntityInternalGenericComponent)
	err := root.Globalize(fx.io, internal)
	assert.True(t, errors.Is(err, types.ErrCannotGlobalize))

	account := fx.create(t, types.EntityGlobalAccount, vault)
	require.NoError(t, root.Globalize(fx.io, account))
	assert.False(t, root.IsOwned(account))
	assert.True(t, root.IsVisible(account))
	assert.False(t, fx.io.IsHeapNode(vault))

	// vault now lives in a persisted substate and cannot be taken out
	h, _, err := root.OpenSubstate(fx.io, field0(account), types.LockMutable, nil)
	require.NoError(t, err)
	err = root.WriteSubstate(fx.io, h, substate.Empty())
	assert.True(t, errors.Is(err, types.ErrPersistedNodeMove))
	require.NoError(t, root.CloseSubstate(fx.io, h))

	_, err = root.DropNode(fx.io, internal)
	require.NoError(t, err)
	require.NoError(t, fx.stack.CloseRoot())
}

func TestGlobalizeReferencedAddress(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	addr, err := fx.ids.Next(types.EntityGlobalAccount)
	require.NoError(t, err)
	require.NoError(t, root.AddGlobalReference(fx.io, addr))

	frame, err := fx.stack.Push(callee, Message{CopyRef: []types.NodeId{addr}})
	require.NoError(t, err)
	require.NoError(t, frame.CreateNode(fx.io, addr, content("x")))
	assert.True(t, fx.io.Refs().IsReferenced(addr))

	// a referenced address still cannot change frames
	_, err = fx.stack.Push(callee, Message{Move: []types.NodeId{addr}})
	assert.True(t, errors.Is(err, types.ErrNodeBorrowed))

	h, _, err := frame.OpenSubstate(fx.io, field0(addr), types.LockReadOnly, nil)
	require.NoError(t, err)
	err = frame.Globalize(fx.io, addr)
	assert.True(t, errors.Is(err, types.ErrNodeLocked))
	require.NoError(t, frame.CloseSubstate(fx.io, h))

	require.NoError(t, frame.Globalize(fx.io, addr))
	assert.False(t, frame.IsOwned(addr))
	assert.True(t, frame.IsVisible(addr))
	assert.False(t, fx.io.IsHeapNode(addr))

	_, err = fx.stack.PopSuccess(Message{})
	require.NoError(t, err)
	assert.True(t, root.IsVisible(addr))
	require.NoError(t, fx.stack.CloseRoot())
	assert.False(t, fx.io.Refs().IsReferenced(addr))
}

func TestFailedCalleeCannotReturn(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	b := fx.create(t, types.EntityInternalGenericComponent)
	frame, err := fx.stack.Push(callee, Message{Move: []types.NodeId{b}})
	require.NoError(t, err)

	first := errors.New("nested failed")
	frame.MarkFailed(first)
	frame.MarkFailed(errors.New("later"))
	assert.Equal(t, first, frame.Failure())

	_, err = fx.stack.PopSuccess(Message{Move: []types.NodeId{b}})
	assert.Equal(t, first, err)
	assert.Equal(t, 1, fx.stack.Depth())
	assert.True(t, frame.IsOwned(b))

	require.NoError(t, fx.stack.PopFailure())
	assert.False(t, root.IsOwned(b))
	assert.False(t, fx.io.IsHeapNode(b))
	assert.NoError(t, root.Failure())
}

func TestSuspendedFrameIsFrozen(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	_, err := fx.stack.Push(callee, Message{})
	require.NoError(t, err)

	id, _ := fx.ids.Next(types.EntityInternalGenericComponent)
	err = root.CreateNode(fx.io, id, content("x"))
	assert.True(t, errors.Is(err, types.ErrFrameNotActive))
	_, err = fx.stack.PopSuccess(Message{})
	require.NoError(t, err)
	assert.True(t, errors.Is(fx.stack.PopFailure(), ErrPopRoot))
}

func TestCollectionEntries(t *testing.T) {
	fx := newFixture(t)
	root := fx.stack.Current()
	kv := fx.create(t, types.EntityInternalKeyValueStore)
	vault := fx.create(t, types.EntityInternalFungibleVault)
	entriesPartition := types.MainBasePartition + 1
	loc := types.NewLocation(kv, entriesPartition, types.NewMapKey([]byte("v")))

	require.NoError(t, root.SetEntry(fx.io, loc, substate.MustIndexedValue(nil, []types.NodeId{vault}, nil)))
	assert.False(t, root.IsOwned(vault))

	entries, err := root.ScanEntries(fx.io, kv, entriesPartition, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	old, err := root.RemoveEntry(fx.io, loc)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeId{vault}, old.OwnedNodes())
	assert.True(t, root.IsOwned(vault))
}

func TestRootOrphans(t *testing.T) {
	fx := newFixture(t)
	x := fx.create(t, types.EntityInternalGenericComponent)
	err := fx.stack.CloseRoot()
	var orphan *types.OrphanError
	require.True(t, errors.As(err, &orphan))
	assert.Equal(t, []types.NodeId{x}, orphan.Nodes)
}
