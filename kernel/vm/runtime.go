package vm

import (
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// hostRuntime adapts the kernel API to the byte level wasm interface. The
// first kernel error seen is kept so a trap caused by it reports the
// kernel error rather than the trap.
type hostRuntime struct {
	api     contract.API
	hostErr error
}

func newHostRuntime(api contract.API) *hostRuntime {
	return &hostRuntime{api: api}
}

func (r *hostRuntime) fail(err error) error {
	if err != nil && r.hostErr == nil {
		r.hostErr = err
	}
	return err
}

func (r *hostRuntime) nodeId(b []byte) (types.NodeId, error) {
	id, err := types.NodeIdFromBytes(b)
	if err != nil {
		return id, r.fail(errors.Wrap(types.ErrDecodePayload, err.Error()))
	}
	return id, nil
}

func (r *hostRuntime) value(b []byte) (*substate.IndexedValue, error) {
	v, err := substate.Decode(b)
	if err != nil {
		return nil, r.fail(err)
	}
	return v, nil
}

func (r *hostRuntime) Actor() (uint8, []byte, string) {
	a := r.api.Actor()
	return uint8(a.Kind), a.Receiver.Bytes(), a.Blueprint.Name
}

func (r *hostRuntime) AllocateNodeId(entity uint8) ([]byte, error) {
	id, err := r.api.AllocateNodeId(types.EntityType(entity))
	if err != nil {
		return nil, r.fail(err)
	}
	return id.Bytes(), nil
}

func (r *hostRuntime) CreateNode(id []byte, partitions map[uint8][][2][]byte) error {
	node, err := r.nodeId(id)
	if err != nil {
		return err
	}
	content := substate.NewNodeSubstates()
	for p, entries := range partitions {
		for _, kv := range entries {
			key, err := types.DecodeSubstateKey(kv[0])
			if err != nil {
				return r.fail(errors.Wrap(types.ErrDecodePayload, err.Error()))
			}
			value, err := r.value(kv[1])
			if err != nil {
				return err
			}
			content.Set(types.PartitionNumber(p), key, value)
		}
	}
	return r.fail(r.api.CreateNode(node, content))
}

func (r *hostRuntime) DropNode(id []byte) error {
	node, err := r.nodeId(id)
	if err != nil {
		return err
	}
	_, err = r.api.DropNode(node)
	return r.fail(err)
}

func (r *hostRuntime) Globalize(id []byte) error {
	node, err := r.nodeId(id)
	if err != nil {
		return err
	}
	return r.fail(r.api.Globalize(node))
}

func (r *hostRuntime) OpenSubstate(node []byte, partition uint8, key []byte, flags uint8) (uint32, error) {
	id, err := r.nodeId(node)
	if err != nil {
		return 0, err
	}
	k, err := types.DecodeSubstateKey(key)
	if err != nil {
		return 0, r.fail(errors.Wrap(types.ErrDecodePayload, err.Error()))
	}
	h, err := r.api.OpenSubstate(id, types.PartitionNumber(partition), k, types.LockFlags(flags))
	if err != nil {
		return 0, r.fail(err)
	}
	return uint32(h), nil
}

func (r *hostRuntime) ReadSubstate(handle uint32) ([]byte, error) {
	v, err := r.api.ReadSubstate(types.LockHandle(handle))
	if err != nil {
		return nil, r.fail(err)
	}
	return v.Bytes(), nil
}

func (r *hostRuntime) WriteSubstate(handle uint32, value []byte) error {
	v, err := r.value(value)
	if err != nil {
		return err
	}
	return r.fail(r.api.WriteSubstate(types.LockHandle(handle), v))
}

func (r *hostRuntime) CloseSubstate(handle uint32) error {
	return r.fail(r.api.CloseSubstate(types.LockHandle(handle)))
}

func (r *hostRuntime) CallMethod(receiver []byte, module uint8, ident string, args []byte) ([]byte, error) {
	id, err := r.nodeId(receiver)
	if err != nil {
		return nil, err
	}
	v, err := r.value(args)
	if err != nil {
		return nil, err
	}
	out, err := r.api.CallMethod(id, types.ModuleId(module), ident, v)
	if err != nil {
		return nil, r.fail(err)
	}
	return out.Bytes(), nil
}

func (r *hostRuntime) CallFunction(pkg []byte, blueprint, ident string, args []byte) ([]byte, error) {
	id, err := r.nodeId(pkg)
	if err != nil {
		return nil, err
	}
	v, err := r.value(args)
	if err != nil {
		return nil, err
	}
	out, err := r.api.CallFunction(types.NewBlueprintId(id, blueprint), ident, v)
	if err != nil {
		return nil, r.fail(err)
	}
	return out.Bytes(), nil
}

func (r *hostRuntime) EmitEvent(name string, data []byte) error {
	return r.fail(r.api.EmitEvent(name, data))
}

func (r *hostRuntime) Log(level uint8, message string) error {
	return r.fail(r.api.Log(contract.LogLevel(level), message))
}

func (r *hostRuntime) ConsumeCostUnits(units uint32) error {
	return r.fail(r.api.ConsumeCostUnits(units, "wasm"))
}
