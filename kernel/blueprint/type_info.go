package blueprint

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// TypeInfo is stored in the TypeInfo partition of every node.
type TypeInfo struct {
	Blueprint types.BlueprintId `json:"blueprint"`
}

func NewTypeInfo(bp types.BlueprintId) *TypeInfo {
	return &TypeInfo{Blueprint: bp}
}

// Value encodes the type info as a substate value.
func (t *TypeInfo) Value() *substate.IndexedValue {
	data, _ := json.Marshal(t)
	return substate.FromData(data)
}

func DecodeTypeInfo(v *substate.IndexedValue) (*TypeInfo, error) {
	if v == nil {
		return nil, errors.Wrap(types.ErrDecodePayload, "empty type info")
	}
	t := new(TypeInfo)
	if err := json.Unmarshal(v.Data(), t); err != nil {
		return nil, errors.Wrapf(types.ErrDecodePayload, "type info: %v", err)
	}
	return t, nil
}

// TypeInfoLocation is where the type info of node lives.
func TypeInfoLocation(node types.NodeId) types.SubstateLocation {
	return types.NewLocation(node, types.TypeInfoPartition, types.NewFieldKey(types.TypeInfoField))
}

// NodeContent starts the content of a node of bp with its type info.
func NodeContent(bp types.BlueprintId) substate.NodeSubstates {
	return substate.NewNodeSubstates().SetField(types.TypeInfoPartition, types.TypeInfoField, NewTypeInfo(bp).Value())
}
