package mock

import (
	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

func registerProof(r *blueprint.Registry) {
	r.Register(Package, &blueprint.Definition{
		Name: ProofBlueprint.Name,
		Functions: map[string]*blueprint.FunctionDef{
			"create": {Access: blueprint.AllowAll()},
			// check creates a proof and lets the frame exit with it
			"check": {Access: blueprint.AllowAll()},
		},
		AutoDrop: true,
	}, map[string]blueprint.Handler{
		"create": proofCreate,
		"check":  proofCheck,
	})
}

func proofCreate(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	id, err := api.AllocateNodeId(types.EntityInternalGenericComponent)
	if err != nil {
		return nil, err
	}
	if err := api.CreateNode(id, blueprint.NodeContent(ProofBlueprint)); err != nil {
		return nil, err
	}
	return substate.NewIndexedValue(nil, []types.NodeId{id}, nil)
}

func proofCheck(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	if _, err := api.CallFunction(ProofBlueprint, "create", substate.Empty()); err != nil {
		return nil, err
	}
	return substate.Empty(), nil
}
