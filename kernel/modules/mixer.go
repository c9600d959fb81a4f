package modules

import (
	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Mixer fans hooks out to modules in registration order. The first error
// stops the fan out.
type Mixer struct {
	modules []Module
}

func NewMixer(mods ...Module) *Mixer {
	return &Mixer{modules: mods}
}

func (m *Mixer) Name() string { return "mixer" }

func (m *Mixer) Modules() []Module {
	return m.modules
}

func (m *Mixer) each(f func(Module) error) error {
	for _, mod := range m.modules {
		if err := f(mod); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mixer) OnInit() error {
	return m.each(func(mod Module) error { return mod.OnInit() })
}

func (m *Mixer) BeforeInvoke(info *InvokeInfo) error {
	return m.each(func(mod Module) error { return mod.BeforeInvoke(info) })
}

func (m *Mixer) AfterInvoke(info *InvokeInfo, outputSize int) error {
	return m.each(func(mod Module) error { return mod.AfterInvoke(info, outputSize) })
}

// OnPushFrame unwinds the modules already notified when a later one
// refuses the frame, so push and pop stay paired per module.
func (m *Mixer) OnPushFrame(depth int, actor types.Actor, msg callframe.Message) error {
	for i, mod := range m.modules {
		if err := mod.OnPushFrame(depth, actor, msg); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.modules[j].OnPopFrame(depth, actor, false)
			}
			return err
		}
	}
	return nil
}

// OnPopFrame reaches every module so none misses the pop. On a successful
// frame the first error is returned; on a failed one errors are dropped.
func (m *Mixer) OnPopFrame(depth int, actor types.Actor, success bool) error {
	var first error
	for _, mod := range m.modules {
		if err := mod.OnPopFrame(depth, actor, success); err != nil && first == nil {
			first = err
		}
	}
	if !success {
		return nil
	}
	return first
}

func (m *Mixer) OnAllocateNodeId(entity types.EntityType) error {
	return m.each(func(mod Module) error { return mod.OnAllocateNodeId(entity) })
}

func (m *Mixer) OnCreateNode(id types.NodeId, size int) error {
	return m.each(func(mod Module) error { return mod.OnCreateNode(id, size) })
}

func (m *Mixer) OnDropNode(id types.NodeId) error {
	return m.each(func(mod Module) error { return mod.OnDropNode(id) })
}

func (m *Mixer) OnOpenLock(loc types.SubstateLocation, flags types.LockFlags, size int) error {
	return m.each(func(mod Module) error { return mod.OnOpenLock(loc, flags, size) })
}

func (m *Mixer) OnReadSubstate(handle types.LockHandle, size int) error {
	return m.each(func(mod Module) error { return mod.OnReadSubstate(handle, size) })
}

func (m *Mixer) OnWriteSubstate(handle types.LockHandle, size int) error {
	return m.each(func(mod Module) error { return mod.OnWriteSubstate(handle, size) })
}

func (m *Mixer) OnCloseLock(handle types.LockHandle) error {
	return m.each(func(mod Module) error { return mod.OnCloseLock(handle) })
}
