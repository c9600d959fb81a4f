// Package mock provides small native blueprints and a scripted wasm engine
// for exercising the kernel in tests.
package mock

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Package hosts every mock blueprint.
var Package = types.NewNodeId(types.EntityGlobalPackage, []byte("mock"))

var (
	VaultBlueprint   = types.NewBlueprintId(Package, "Vault")
	AccountBlueprint = types.NewBlueprintId(Package, "Account")
	ProofBlueprint   = types.NewBlueprintId(Package, "Proof")
)

// OwnerBadge guards account withdrawals.
const OwnerBadge = "owner"

const balanceField uint8 = 0

func Amount(v uint64) *substate.IndexedValue {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return substate.FromData(b[:])
}

func DecodeAmount(v *substate.IndexedValue) (uint64, error) {
	if v == nil || len(v.Data()) != 8 {
		return 0, errors.Wrap(types.ErrDecodePayload, "amount")
	}
	return binary.BigEndian.Uint64(v.Data()), nil
}

func appErr(bp types.BlueprintId, format string, args ...interface{}) error {
	return &types.ApplicationError{Blueprint: bp, Message: fmt.Sprintf(format, args...)}
}

// single returns the one node a value owns.
func single(bp types.BlueprintId, v *substate.IndexedValue) (types.NodeId, error) {
	owned := v.OwnedNodes()
	if len(owned) != 1 {
		return types.ZeroNodeId, appErr(bp, "expect one owned node, got %d", len(owned))
	}
	return owned[0], nil
}

// Register adds the mock blueprints to r.
func Register(r *blueprint.Registry) {
	registerVault(r)
	registerAccount(r)
	registerProof(r)
}

func registerVault(r *blueprint.Registry) {
	r.Register(Package, &blueprint.Definition{
		Name: VaultBlueprint.Name,
		Functions: map[string]*blueprint.FunctionDef{
			"new":      {Access: blueprint.AllowAll()},
			"balance":  {Receiver: true, Access: blueprint.AllowAll()},
			"take":     {Receiver: true, Access: blueprint.AllowAll()},
			"put":      {Receiver: true, Access: blueprint.AllowAll()},
			"lock_fee": {Receiver: true, Access: blueprint.AllowAll()},
		},
	}, map[string]blueprint.Handler{
		"new":      vaultNew,
		"balance":  vaultBalance,
		"take":     vaultTake,
		"put":      vaultPut,
		"lock_fee": vaultLockFee,
	})
}

// newVault creates a vault node owned by the active frame.
func newVault(api contract.API, amount uint64) (types.NodeId, error) {
	id, err := api.AllocateNodeId(types.EntityInternalFungibleVault)
	if err != nil {
		return id, err
	}
	content := blueprint.NodeContent(VaultBlueprint).
		SetField(types.MainBasePartition, balanceField, Amount(amount))
	return id, api.CreateNode(id, content)
}

func vaultNew(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	amount, err := DecodeAmount(args)
	if err != nil {
		return nil, err
	}
	id, err := newVault(api, amount)
	if err != nil {
		return nil, err
	}
	return substate.NewIndexedValue(nil, []types.NodeId{id}, nil)
}

// updateBalance applies f to the balance of vault under a lock with flags.
func updateBalance(api contract.API, vault types.NodeId, flags types.LockFlags, f func(uint64) (uint64, error)) (uint64, error) {
	h, err := api.OpenSubstate(vault, types.MainBasePartition, types.NewFieldKey(balanceField), flags)
	if err != nil {
		return 0, err
	}
	v, err := api.ReadSubstate(h)
	if err != nil {
		return 0, err
	}
	balance, err := DecodeAmount(v)
	if err != nil {
		return 0, err
	}
	if f != nil {
		if balance, err = f(balance); err != nil {
			return 0, err
		}
		if err := api.WriteSubstate(h, Amount(balance)); err != nil {
			return 0, err
		}
	}
	return balance, api.CloseSubstate(h)
}

func vaultBalance(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	balance, err := updateBalance(api, api.Actor().Receiver, types.LockReadOnly, nil)
	if err != nil {
		return nil, err
	}
	return Amount(balance), nil
}

func withdraw(amount uint64) func(uint64) (uint64, error) {
	return func(balance uint64) (uint64, error) {
		if balance < amount {
			return 0, appErr(VaultBlueprint, "insufficient balance %d < %d", balance, amount)
		}
		return balance - amount, nil
	}
}

func vaultTake(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	amount, err := DecodeAmount(args)
	if err != nil {
		return nil, err
	}
	if _, err := updateBalance(api, api.Actor().Receiver, types.LockMutable, withdraw(amount)); err != nil {
		return nil, err
	}
	return vaultNew(api, Amount(amount))
}

func vaultPut(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	bucket, err := single(VaultBlueprint, args)
	if err != nil {
		return nil, err
	}
	bp, err := api.GetBlueprint(bucket)
	if err != nil {
		return nil, err
	}
	if bp != VaultBlueprint {
		return nil, appErr(VaultBlueprint, "cannot put %s", bp)
	}
	amount, err := updateBalance(api, bucket, types.LockReadOnly, nil)
	if err != nil {
		return nil, err
	}
	if _, err := api.DropNode(bucket); err != nil {
		return nil, err
	}
	_, err = updateBalance(api, api.Actor().Receiver, types.LockMutable, func(balance uint64) (uint64, error) {
		return balance + amount, nil
	})
	return substate.Empty(), err
}

// vaultLockFee moves amount out of the vault with a write that survives a
// failed transaction, and credits it as fee.
func vaultLockFee(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	amount, err := DecodeAmount(args)
	if err != nil {
		return nil, err
	}
	vault := api.Actor().Receiver
	flags := types.LockMutable | types.LockForceWrite | types.LockUnmodifiedBase
	h, err := api.OpenSubstate(vault, types.MainBasePartition, types.NewFieldKey(balanceField), flags)
	if err != nil {
		return nil, err
	}
	v, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	balance, err := DecodeAmount(v)
	if err != nil {
		return nil, err
	}
	if balance, err = withdraw(amount)(balance); err != nil {
		return nil, err
	}
	if err := api.WriteSubstate(h, Amount(balance)); err != nil {
		return nil, err
	}
	if err := api.CreditCostUnits(vault, amount); err != nil {
		return nil, err
	}
	return substate.Empty(), api.CloseSubstate(h)
}
