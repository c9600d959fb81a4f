package blueprint

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// SystemPackage hosts the blueprints of the object modules.
var SystemPackage = types.NewNodeId(types.EntityGlobalPackage, []byte("system"))

var moduleBlueprints = map[types.ModuleId]string{
	types.ModuleMetadata:       "Metadata",
	types.ModuleRoyalty:        "ComponentRoyalty",
	types.ModuleRoleAssignment: "RoleAssignment",
}

// ModuleBlueprint returns the blueprint serving calls to module. Main has
// none; its blueprint comes from the receiver's type info.
func ModuleBlueprint(module types.ModuleId) (types.BlueprintId, bool) {
	name, ok := moduleBlueprints[module]
	if !ok {
		return types.BlueprintId{}, false
	}
	return types.NewBlueprintId(SystemPackage, name), true
}

// MetadataEntry is the argument of the metadata set method.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const metadataScanLimit = 256

// RegisterSystem registers the native module blueprints.
func RegisterSystem(r *Registry) {
	r.Register(SystemPackage, &Definition{
		Name: "Metadata",
		Functions: map[string]*FunctionDef{
			"set":    {Receiver: true, Access: AllowAll()},
			"get":    {Receiver: true, Access: AllowAll()},
			"remove": {Receiver: true, Access: AllowAll()},
			"list":   {Receiver: true, Access: AllowAll()},
		},
	}, map[string]Handler{
		"set":    metadataSet,
		"get":    metadataGet,
		"remove": metadataRemove,
		"list":   metadataList,
	})
}

func metadataSet(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	var entry MetadataEntry
	if err := json.Unmarshal(args.Data(), &entry); err != nil {
		return nil, errors.Wrapf(types.ErrDecodePayload, "metadata entry: %v", err)
	}
	receiver := api.Actor().Receiver
	key := types.NewMapKey([]byte(entry.Key))
	return substate.Empty(), api.SetEntry(receiver, types.MetadataPartition, key, substate.FromData([]byte(entry.Value)))
}

func metadataGet(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	receiver := api.Actor().Receiver
	h, err := api.OpenSubstateOrDefault(receiver, types.MetadataPartition, types.NewMapKey(args.Data()), types.LockReadOnly, substate.Empty())
	if err != nil {
		return nil, err
	}
	v, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	return substate.FromData(v.Data()), api.CloseSubstate(h)
}

func metadataRemove(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	old, err := api.RemoveEntry(api.Actor().Receiver, types.MetadataPartition, types.NewMapKey(args.Data()))
	if err != nil {
		return nil, err
	}
	if old == nil {
		return substate.Empty(), nil
	}
	return substate.FromData(old.Data()), nil
}

func metadataList(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	entries, err := api.ScanEntries(api.Actor().Receiver, types.MetadataPartition, metadataScanLimit)
	if err != nil {
		return nil, err
	}
	out := make([]MetadataEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, MetadataEntry{Key: string(e.Key.Key()), Value: string(e.Value.Data())})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return substate.FromData(data), nil
}
