package engine

import (
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

func contentSize(content substate.NodeSubstates) int {
	size := 0
	for _, entries := range content {
		for _, e := range entries {
			size += e.Key.Size() + e.Value.Size()
		}
	}
	return size
}

func (k *Kernel) Actor() types.Actor {
	return k.current().Actor()
}

func (k *Kernel) Depth() int {
	return k.stack.Depth()
}

func (k *Kernel) AllocateNodeId(entity types.EntityType) (types.NodeId, error) {
	if err := k.modules.OnAllocateNodeId(entity); err != nil {
		return types.ZeroNodeId, err
	}
	id, err := k.ids.Next(entity)
	if err != nil {
		return types.ZeroNodeId, err
	}
	k.allocated.Add(id)
	return id, nil
}

// CreateNode requires an id allocated in this transaction, or the address
// a lazy load frame materialises, and content carrying type info.
func (k *Kernel) CreateNode(id types.NodeId, content substate.NodeSubstates) error {
	actor := k.Actor()
	lazy := actor.Kind == types.ActorVirtualLazyLoad && actor.Receiver == id
	if !lazy && !k.allocated.Contains(id) {
		return errors.Wrapf(types.ErrNodeNotVisible, "create %s: id not allocated", id)
	}
	var info *substate.IndexedValue
	for _, e := range content[types.TypeInfoPartition] {
		if e.Key.Equal(types.NewFieldKey(types.TypeInfoField)) {
			info = e.Value
		}
	}
	if _, err := blueprint.DecodeTypeInfo(info); err != nil {
		return errors.Wrapf(err, "create %s", id)
	}
	if err := k.modules.OnCreateNode(id, contentSize(content)); err != nil {
		return err
	}
	if err := k.current().CreateNode(k.io, id, content); err != nil {
		return err
	}
	k.allocated.Remove(id)
	return nil
}

func (k *Kernel) DropNode(id types.NodeId) (substate.NodeSubstates, error) {
	if err := k.modules.OnDropNode(id); err != nil {
		return nil, err
	}
	return k.current().DropNode(k.io, id)
}

func (k *Kernel) Globalize(id types.NodeId) error {
	return k.current().Globalize(k.io, id)
}

func (k *Kernel) GetBlueprint(id types.NodeId) (types.BlueprintId, error) {
	if !k.current().IsVisible(id) {
		return types.BlueprintId{}, errors.Wrapf(types.ErrNodeNotVisible, "blueprint of %s", id)
	}
	if err := k.ensureLoaded(id); err != nil {
		return types.BlueprintId{}, err
	}
	info, err := k.typeInfo(id)
	if err != nil {
		return types.BlueprintId{}, err
	}
	return info.Blueprint, nil
}

func (k *Kernel) OpenSubstate(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, flags types.LockFlags) (types.LockHandle, error) {
	return k.OpenSubstateOrDefault(node, partition, key, flags, nil)
}

func (k *Kernel) OpenSubstateOrDefault(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, flags types.LockFlags, def *substate.IndexedValue) (types.LockHandle, error) {
	frame := k.current()
	if frame.IsVisible(node) {
		if err := k.ensureLoaded(node); err != nil {
			return 0, err
		}
	}
	loc := types.NewLocation(node, partition, key)
	handle, value, err := frame.OpenSubstate(k.io, loc, flags, def)
	if err != nil {
		return 0, err
	}
	if err := k.modules.OnOpenLock(loc, flags, value.Size()); err != nil {
		if cerr := frame.CloseSubstate(k.io, handle); cerr != nil {
			k.log.Error("close vetoed lock", "location", loc, "err", cerr)
		}
		return 0, err
	}
	return handle, nil
}

func (k *Kernel) ReadSubstate(handle types.LockHandle) (*substate.IndexedValue, error) {
	v, err := k.current().ReadSubstate(k.io, handle)
	if err != nil {
		return nil, err
	}
	if err := k.modules.OnReadSubstate(handle, v.Size()); err != nil {
		return nil, err
	}
	return v, nil
}

func (k *Kernel) WriteSubstate(handle types.LockHandle, value *substate.IndexedValue) error {
	if value == nil {
		return errors.Wrapf(types.ErrDecodePayload, "write nil value to lock %d", handle)
	}
	if err := k.modules.OnWriteSubstate(handle, value.Size()); err != nil {
		return err
	}
	return k.current().WriteSubstate(k.io, handle, value)
}

func (k *Kernel) CloseSubstate(handle types.LockHandle) error {
	if err := k.current().CloseSubstate(k.io, handle); err != nil {
		return err
	}
	return k.modules.OnCloseLock(handle)
}

func (k *Kernel) SetEntry(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, value *substate.IndexedValue) error {
	if value == nil {
		return errors.Wrapf(types.ErrDecodePayload, "set nil entry on %s", node)
	}
	if err := k.modules.OnWriteSubstate(0, key.Size()+value.Size()); err != nil {
		return err
	}
	return k.current().SetEntry(k.io, types.NewLocation(node, partition, key), value)
}

func (k *Kernel) RemoveEntry(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, error) {
	if err := k.modules.OnWriteSubstate(0, key.Size()); err != nil {
		return nil, err
	}
	return k.current().RemoveEntry(k.io, types.NewLocation(node, partition, key))
}

func (k *Kernel) ScanEntries(node types.NodeId, partition types.PartitionNumber, limit int) ([]substate.Entry, error) {
	entries, err := k.current().ScanEntries(k.io, node, partition, limit)
	if err != nil {
		return nil, err
	}
	size := 0
	for _, e := range entries {
		size += e.Key.Size() + e.Value.Size()
	}
	if err := k.modules.OnReadSubstate(0, size); err != nil {
		return nil, err
	}
	return entries, nil
}

func (k *Kernel) EmitEvent(name string, data []byte) error {
	if k.sink == nil {
		return nil
	}
	return k.sink.EmitEvent(k.Actor(), name, data)
}

func (k *Kernel) Log(level contract.LogLevel, message string) error {
	k.log.Debug("application log", "actor", k.Actor(), "level", level, "message", message)
	if k.sink == nil {
		return nil
	}
	return k.sink.AddLog(k.Actor(), level.String(), message)
}

func (k *Kernel) ConsumeCostUnits(units uint32, reason string) error {
	if k.meter == nil {
		return nil
	}
	return k.meter.ConsumeCostUnits(units, reason)
}

// CreditCostUnits accepts fee only from a vault the active frame holds a
// force write lock on.
func (k *Kernel) CreditCostUnits(vault types.NodeId, amount uint64) error {
	frame := k.current()
	locked := false
	for _, h := range frame.OpenLocks() {
		info, err := k.io.LockInfo(h)
		if err != nil {
			return err
		}
		if info.Location.Node == vault && info.Flags.Contains(types.LockForceWrite) {
			locked = true
			break
		}
	}
	if !locked {
		return errors.Wrapf(types.ErrUnauthorized, "fee credit from %s without force write lock", vault)
	}
	if k.meter == nil {
		return nil
	}
	return k.meter.CreditCostUnits(vault, amount)
}
