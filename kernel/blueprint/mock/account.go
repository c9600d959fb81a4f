package mock

import (
	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

const vaultField uint8 = 0

func registerAccount(r *blueprint.Registry) {
	r.Register(Package, &blueprint.Definition{
		Name: AccountBlueprint.Name,
		Functions: map[string]*blueprint.FunctionDef{
			"create":         {Access: blueprint.AllowAll()},
			"create_virtual": {Access: blueprint.AllowAll()},
			"balance":        {Receiver: true, Access: blueprint.AllowAll()},
			"deposit":        {Receiver: true, Access: blueprint.AllowAll()},
			"withdraw":       {Receiver: true, Access: blueprint.RequireAny(OwnerBadge)},
			"lock_fee":       {Receiver: true, Access: blueprint.RequireAny(OwnerBadge)},
		},
		Virtualize: &blueprint.Virtualize{Entity: types.EntityGlobalVirtualAccount, Function: "create_virtual"},
	}, map[string]blueprint.Handler{
		"create":         accountCreate,
		"create_virtual": accountCreateVirtual,
		"balance":        accountForward("balance"),
		"deposit":        accountForward("put"),
		"withdraw":       accountForward("take"),
		"lock_fee":       accountForward("lock_fee"),
	})
}

// globalAccount creates the account node at id around vault and
// globalizes it.
func globalAccount(api contract.API, id types.NodeId, vault types.NodeId) (*substate.IndexedValue, error) {
	holder, err := substate.NewIndexedValue(nil, []types.NodeId{vault}, nil)
	if err != nil {
		return nil, err
	}
	content := blueprint.NodeContent(AccountBlueprint).SetField(types.MainBasePartition, vaultField, holder)
	if err := api.CreateNode(id, content); err != nil {
		return nil, err
	}
	if err := api.Globalize(id); err != nil {
		return nil, err
	}
	return substate.NewIndexedValue(nil, nil, []types.NodeId{id})
}

// accountCreate wraps the vault passed in args into a new global account.
func accountCreate(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	vault, err := single(AccountBlueprint, args)
	if err != nil {
		return nil, err
	}
	id, err := api.AllocateNodeId(types.EntityGlobalAccount)
	if err != nil {
		return nil, err
	}
	return globalAccount(api, id, vault)
}

func accountCreateVirtual(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	id, err := types.NodeIdFromBytes(args.Data())
	if err != nil {
		return nil, appErr(AccountBlueprint, "virtual address: %v", err)
	}
	vault, err := newVault(api, 0)
	if err != nil {
		return nil, err
	}
	if _, err := globalAccount(api, id, vault); err != nil {
		return nil, err
	}
	return substate.Empty(), nil
}

// accountForward calls method on the vault of the account.
func accountForward(method string) blueprint.Handler {
	return func(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
		h, err := api.OpenSubstate(api.Actor().Receiver, types.MainBasePartition, types.NewFieldKey(vaultField), types.LockReadOnly)
		if err != nil {
			return nil, err
		}
		v, err := api.ReadSubstate(h)
		if err != nil {
			return nil, err
		}
		vault, err := single(AccountBlueprint, v)
		if err != nil {
			return nil, err
		}
		out, err := api.CallMethod(vault, types.ModuleMain, method, args)
		if err != nil {
			return nil, err
		}
		return out, api.CloseSubstate(h)
	}
}
