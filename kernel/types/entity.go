package types

import "fmt"

// EntityType is the leading byte of every NodeId.
type EntityType byte

const (
	EntityGlobalPackage                    EntityType = 0x0d
	EntityGlobalConsensusManager           EntityType = 0x86
	EntityGlobalFungibleResourceManager    EntityType = 0x5d
	EntityGlobalNonFungibleResourceManager EntityType = 0x9a
	EntityGlobalAccount                    EntityType = 0xc1
	EntityGlobalVirtualAccount             EntityType = 0xd1
	EntityGlobalGenericComponent           EntityType = 0xc0
	EntityInternalFungibleVault            EntityType = 0x58
	EntityInternalNonFungibleVault         EntityType = 0x98
	EntityInternalGenericComponent         EntityType = 0xf8
	EntityInternalKeyValueStore            EntityType = 0xb0
)

type entityInfo struct {
	name    string
	hrp     string
	global  bool
	virtual bool
	vault   bool
}

var entities = map[EntityType]entityInfo{
	EntityGlobalPackage:                    {name: "GlobalPackage", hrp: "package_", global: true},
	EntityGlobalConsensusManager:           {name: "GlobalConsensusManager", hrp: "consensusmanager_", global: true},
	EntityGlobalFungibleResourceManager:    {name: "GlobalFungibleResourceManager", hrp: "resource_", global: true},
	EntityGlobalNonFungibleResourceManager: {name: "GlobalNonFungibleResourceManager", hrp: "resource_", global: true},
	EntityGlobalAccount:                    {name: "GlobalAccount", hrp: "account_", global: true},
	EntityGlobalVirtualAccount:             {name: "GlobalVirtualAccount", hrp: "account_", global: true, virtual: true},
	EntityGlobalGenericComponent:           {name: "GlobalGenericComponent", hrp: "component_", global: true},
	EntityInternalFungibleVault:            {name: "InternalFungibleVault", hrp: "internal_vault_", vault: true},
	EntityInternalNonFungibleVault:         {name: "InternalNonFungibleVault", hrp: "internal_vault_", vault: true},
	EntityInternalGenericComponent:         {name: "InternalGenericComponent", hrp: "internal_component_"},
	EntityInternalKeyValueStore:            {name: "InternalKeyValueStore", hrp: "internal_keyvaluestore_"},
}

func (e EntityType) IsValid() bool {
	_, ok := entities[e]
	return ok
}

func (e EntityType) IsGlobal() bool {
	return entities[e].global
}

func (e EntityType) IsInternal() bool {
	return e.IsValid() && !entities[e].global
}

// IsVirtual reports whether nodes of this type may be referenced before they
// exist; the first access materialises them.
func (e EntityType) IsVirtual() bool {
	return entities[e].virtual
}

func (e EntityType) IsVault() bool {
	return entities[e].vault
}

func (e EntityType) IsKeyValueStore() bool {
	return e == EntityInternalKeyValueStore
}

func (e EntityType) Hrp() string {
	if info, ok := entities[e]; ok {
		return info.hrp
	}
	return "unknown_"
}

func (e EntityType) String() string {
	if info, ok := entities[e]; ok {
		return info.name
	}
	return fmt.Sprintf("EntityType(0x%02x)", byte(e))
}
