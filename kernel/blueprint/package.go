package blueprint

import (
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// PackageBlueprint is the blueprint of package nodes.
var PackageBlueprint = types.NewBlueprintId(SystemPackage, "Package")

const PackageCodeField uint8 = 0

func CodeLocation(pkg types.NodeId) types.SubstateLocation {
	return types.NewLocation(pkg, types.PackageCodePartition, types.NewFieldKey(PackageCodeField))
}

func DefinitionLocation(bp types.BlueprintId) types.SubstateLocation {
	return types.NewLocation(bp.Package, types.PackageBlueprintPartition, types.NewMapKey([]byte(bp.Name)))
}

// PackageContent builds the substates of a code package holding defs.
func PackageContent(code []byte, defs ...*Definition) (substate.NodeSubstates, error) {
	content := NodeContent(PackageBlueprint)
	content.SetField(types.PackageCodePartition, PackageCodeField, substate.FromData(code))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		data, err := d.Marshal()
		if err != nil {
			return nil, err
		}
		content.Set(types.PackageBlueprintPartition, types.NewMapKey([]byte(d.Name)), substate.FromData(data))
	}
	return content, nil
}
