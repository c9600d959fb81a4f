package callframe

import (
	"github.com/gammazero/deque"
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/types"
)

var ErrPopRoot = errors.New("cannot pop the root frame")

// Stack is the LIFO of call frames. The root frame at depth 0 lives for the
// whole transaction.
type Stack struct {
	io     *substateio.SubstateIO
	frames *deque.Deque
}

func NewStack(io *substateio.SubstateIO) *Stack {
	frames := deque.New()
	frames.PushBack(newFrame(0, types.RootActor()))
	return &Stack{io: io, frames: frames}
}

func (s *Stack) IO() *substateio.SubstateIO {
	return s.io
}

// Current is the active frame.
func (s *Stack) Current() *CallFrame {
	return s.frames.Back().(*CallFrame)
}

func (s *Stack) Root() *CallFrame {
	return s.frames.At(0).(*CallFrame)
}

// Depth of the active frame; the root is 0.
func (s *Stack) Depth() int {
	return s.frames.Len() - 1
}

// Caller is the frame below the active one, nil at the root.
func (s *Stack) Caller() *CallFrame {
	if s.frames.Len() < 2 {
		return nil
	}
	return s.frames.At(s.frames.Len() - 2).(*CallFrame)
}

// Push validates msg against the active frame and activates a new frame
// owning the moved nodes and referencing the copied ones.
func (s *Stack) Push(actor types.Actor, msg Message) (*CallFrame, error) {
	caller := s.Current()
	if err := caller.checkActive(); err != nil {
		return nil, err
	}
	moved := types.NewNodeSet()
	for _, id := range msg.Move {
		if moved.Contains(id) {
			return nil, errors.Wrapf(types.ErrDuplicateOwnership, "move %s twice", id)
		}
		moved.Add(id)
		if err := caller.checkMovable(s.io, id); err != nil {
			return nil, err
		}
	}
	for _, id := range msg.CopyRef {
		if err := caller.checkVisible(id); err != nil {
			return nil, err
		}
	}

	callee := newFrame(caller.depth+1, actor)
	for _, id := range msg.Move {
		caller.owned.Remove(id)
		callee.owned.Add(id)
		if err := s.io.Heap().SetOwner(id, heap.FrameOwner(callee.depth)); err != nil {
			return nil, err
		}
	}
	for _, id := range msg.CopyRef {
		callee.addRef(s.io, id)
	}
	caller.state = Suspended
	s.frames.PushBack(callee)
	return callee, nil
}

// CheckPopSuccess reports whether the active frame could return result
// without popping it. It refuses while the callee holds a lock, owns a node
// result does not move or saw a nested invocation fail; the caller is then
// expected to unwind with PopFailure.
func (s *Stack) CheckPopSuccess(result Message) error {
	if s.frames.Len() < 2 {
		return ErrPopRoot
	}
	callee := s.Current()
	if callee.failure != nil {
		return callee.failure
	}
	if locks := callee.OpenLocks(); len(locks) > 0 {
		return errors.Wrapf(types.ErrDanglingLock, "%d locks in %s", len(locks), callee)
	}
	moved := types.NewNodeSet()
	for _, id := range result.Move {
		if moved.Contains(id) {
			return errors.Wrapf(types.ErrDuplicateOwnership, "return %s twice", id)
		}
		moved.Add(id)
		if err := callee.checkMovable(s.io, id); err != nil {
			return err
		}
	}
	for _, id := range result.CopyRef {
		if err := callee.checkVisible(id); err != nil {
			return err
		}
	}
	var orphans []types.NodeId
	for _, id := range callee.owned.Sorted() {
		if !moved.Contains(id) {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		return &types.OrphanError{Actor: callee.actor, Nodes: orphans}
	}
	return nil
}

// PopSuccess pops the active frame and returns the nodes moved by result
// to the caller. Nothing changes when CheckPopSuccess refuses result.
func (s *Stack) PopSuccess(result Message) ([]types.NodeId, error) {
	if err := s.CheckPopSuccess(result); err != nil {
		return nil, err
	}
	callee := s.Current()
	s.frames.PopBack()
	caller := s.Current()
	for _, id := range result.Move {
		callee.owned.Remove(id)
		caller.owned.Add(id)
		if err := s.io.Heap().SetOwner(id, heap.FrameOwner(caller.depth)); err != nil {
			return nil, err
		}
	}
	for _, id := range result.CopyRef {
		caller.addRef(s.io, id)
	}
	callee.releaseRefs(s.io)
	callee.state = Popped
	caller.state = Active
	return append([]types.NodeId(nil), result.Move...), nil
}

// PopFailure discards the active frame: its locks are closed, the node
// trees it owns are removed from the heap and its borrows released.
func (s *Stack) PopFailure() error {
	if s.frames.Len() < 2 {
		return ErrPopRoot
	}
	callee := s.Current()
	for _, h := range callee.OpenLocks() {
		if err := callee.closeLock(s.io, h); err != nil {
			return err
		}
	}
	for _, id := range callee.owned.Sorted() {
		if !s.io.Heap().Contains(id) {
			continue
		}
		if err := s.io.RemoveTree(id); err != nil {
			return err
		}
	}
	callee.owned = types.NewNodeSet()
	callee.releaseRefs(s.io)
	callee.state = Popped

	s.frames.PopBack()
	s.Current().state = Active
	return nil
}

// CloseRoot releases what the root frame holds at the end of a transaction.
// Open locks and nodes still owned by the root are reported.
func (s *Stack) CloseRoot() error {
	if s.frames.Len() != 1 {
		return errors.Wrapf(ErrPopRoot, "%d frames left", s.frames.Len())
	}
	root := s.Root()
	locks := root.OpenLocks()
	for _, h := range locks {
		if err := root.closeLock(s.io, h); err != nil {
			return err
		}
	}
	owned := root.OwnedNodes()
	root.releaseRefs(s.io)
	root.state = Popped
	if len(locks) > 0 {
		return errors.Wrapf(types.ErrDanglingLock, "%d locks in root frame", len(locks))
	}
	if len(owned) > 0 {
		return &types.OrphanError{Actor: root.actor, Nodes: owned}
	}
	return nil
}
