package contract

import (
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// API is the system interface the kernel offers to blueprint code. Every
// call runs against the active call frame.
type API interface {
	NodeAPI
	SubstateAPI
	InvokeAPI

	// Actor is the actor of the active frame.
	Actor() types.Actor
	// Depth is the depth of the active frame, the root being 0.
	Depth() int

	EmitEvent(name string, data []byte) error
	Log(level LogLevel, message string) error
	ConsumeCostUnits(units uint32, reason string) error
	// CreditCostUnits records fee locked from vault. The caller has already
	// force-written the vault balance.
	CreditCostUnits(vault types.NodeId, amount uint64) error
}

type NodeAPI interface {
	AllocateNodeId(entity types.EntityType) (types.NodeId, error)
	// CreateNode creates a node owned by the active frame. id must have been
	// allocated in this transaction or be the address of a lazy load.
	CreateNode(id types.NodeId, content substate.NodeSubstates) error
	DropNode(id types.NodeId) (substate.NodeSubstates, error)
	Globalize(id types.NodeId) error
	// GetBlueprint reads the type info of a visible node.
	GetBlueprint(id types.NodeId) (types.BlueprintId, error)
}

type SubstateAPI interface {
	OpenSubstate(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, flags types.LockFlags) (types.LockHandle, error)
	// OpenSubstateOrDefault opens the substate, creating it from def when absent.
	OpenSubstateOrDefault(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, flags types.LockFlags, def *substate.IndexedValue) (types.LockHandle, error)
	ReadSubstate(handle types.LockHandle) (*substate.IndexedValue, error)
	WriteSubstate(handle types.LockHandle, value *substate.IndexedValue) error
	CloseSubstate(handle types.LockHandle) error

	SetEntry(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey, value *substate.IndexedValue) error
	RemoveEntry(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, error)
	ScanEntries(node types.NodeId, partition types.PartitionNumber, limit int) ([]substate.Entry, error)
}

type InvokeAPI interface {
	CallMethod(receiver types.NodeId, module types.ModuleId, ident string, args *substate.IndexedValue) (*substate.IndexedValue, error)
	CallFunction(blueprint types.BlueprintId, ident string, args *substate.IndexedValue) (*substate.IndexedValue, error)
}

type LogLevel uint8

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	case LogTrace:
		return "TRACE"
	}
	return "UNKNOWN"
}
