// Package modules defines the hooks the kernel calls around invocations
// and substate access.
package modules

import (
	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/types"
)

// InvokeInfo describes a resolved invocation.
type InvokeInfo struct {
	Actor     types.Actor
	Blueprint types.BlueprintId
	Function  *blueprint.FunctionDef
	// Depth of the callee frame.
	Depth    int
	ArgsSize int
}

// Module is a kernel extension. A non nil error from a hook aborts the
// operation that triggered it.
type Module interface {
	Name() string
	OnInit() error

	BeforeInvoke(info *InvokeInfo) error
	// AfterInvoke runs while the callee frame still holds its output, so a
	// veto discards the output with the frame.
	AfterInvoke(info *InvokeInfo, outputSize int) error
	OnPushFrame(depth int, actor types.Actor, msg callframe.Message) error
	// OnPopFrame runs once per pushed frame. A successful pop is checked
	// but not yet applied, and an error still fails the frame. Errors on a
	// failed frame are ignored.
	OnPopFrame(depth int, actor types.Actor, success bool) error

	OnAllocateNodeId(entity types.EntityType) error
	OnCreateNode(id types.NodeId, size int) error
	OnDropNode(id types.NodeId) error

	OnOpenLock(loc types.SubstateLocation, flags types.LockFlags, size int) error
	OnReadSubstate(handle types.LockHandle, size int) error
	OnWriteSubstate(handle types.LockHandle, size int) error
	OnCloseLock(handle types.LockHandle) error
}

// BaseModule implements every hook as a no-op.
type BaseModule struct{}

func (BaseModule) OnInit() error                                                 { return nil }
func (BaseModule) BeforeInvoke(*InvokeInfo) error                                { return nil }
func (BaseModule) AfterInvoke(*InvokeInfo, int) error                            { return nil }
func (BaseModule) OnPushFrame(int, types.Actor, callframe.Message) error         { return nil }
func (BaseModule) OnPopFrame(int, types.Actor, bool) error                       { return nil }
func (BaseModule) OnAllocateNodeId(types.EntityType) error                       { return nil }
func (BaseModule) OnCreateNode(types.NodeId, int) error                          { return nil }
func (BaseModule) OnDropNode(types.NodeId) error                                 { return nil }
func (BaseModule) OnOpenLock(types.SubstateLocation, types.LockFlags, int) error { return nil }
func (BaseModule) OnReadSubstate(types.LockHandle, int) error                    { return nil }
func (BaseModule) OnWriteSubstate(types.LockHandle, int) error                   { return nil }
func (BaseModule) OnCloseLock(types.LockHandle) error                            { return nil }

// CostMeter charges cost units and records locked fees.
type CostMeter interface {
	ConsumeCostUnits(units uint32, reason string) error
	CreditCostUnits(vault types.NodeId, amount uint64) error
}

// EventSink collects application events and logs.
type EventSink interface {
	EmitEvent(actor types.Actor, name string, data []byte) error
	AddLog(actor types.Actor, level string, message string) error
}
