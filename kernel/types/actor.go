package types

import "fmt"

// ModuleId selects which attached module of an object a method targets.
type ModuleId uint8

const (
	ModuleMain ModuleId = iota
	ModuleMetadata
	ModuleRoyalty
	ModuleRoleAssignment
)

func (m ModuleId) String() string {
	switch m {
	case ModuleMain:
		return "Main"
	case ModuleMetadata:
		return "Metadata"
	case ModuleRoyalty:
		return "Royalty"
	case ModuleRoleAssignment:
		return "RoleAssignment"
	}
	return fmt.Sprintf("ModuleId(%d)", uint8(m))
}

// BlueprintId names a blueprint inside a package.
type BlueprintId struct {
	Package NodeId `json:"package"`
	Name    string `json:"name"`
}

func NewBlueprintId(pkg NodeId, name string) BlueprintId {
	return BlueprintId{Package: pkg, Name: name}
}

func (b BlueprintId) String() string {
	return fmt.Sprintf("%s:%s", b.Package, b.Name)
}

type ActorKind uint8

const (
	ActorRoot ActorKind = iota
	ActorMethod
	ActorFunction
	ActorVirtualLazyLoad
)

func (k ActorKind) String() string {
	switch k {
	case ActorRoot:
		return "Root"
	case ActorMethod:
		return "Method"
	case ActorFunction:
		return "Function"
	case ActorVirtualLazyLoad:
		return "VirtualLazyLoad"
	}
	return fmt.Sprintf("ActorKind(%d)", uint8(k))
}

// Actor identifies the code running in a frame. Receiver is set for methods
// and for lazy loads (the address being materialised). Blueprint is filled
// during resolution for methods.
type Actor struct {
	Kind      ActorKind
	Receiver  NodeId
	Module    ModuleId
	Blueprint BlueprintId
	Ident     string
}

func RootActor() Actor {
	return Actor{Kind: ActorRoot}
}

func MethodActor(receiver NodeId, module ModuleId, ident string) Actor {
	return Actor{Kind: ActorMethod, Receiver: receiver, Module: module, Ident: ident}
}

func FunctionActor(blueprint BlueprintId, ident string) Actor {
	return Actor{Kind: ActorFunction, Blueprint: blueprint, Ident: ident}
}

func VirtualLazyLoadActor(blueprint BlueprintId, ident string, address NodeId) Actor {
	return Actor{Kind: ActorVirtualLazyLoad, Blueprint: blueprint, Ident: ident, Receiver: address}
}

func (a Actor) IsRoot() bool {
	return a.Kind == ActorRoot
}

func (a Actor) String() string {
	switch a.Kind {
	case ActorRoot:
		return "Root"
	case ActorMethod:
		return fmt.Sprintf("Method(%s,%s,%s)", a.Receiver, a.Module, a.Ident)
	case ActorFunction:
		return fmt.Sprintf("Function(%s,%s)", a.Blueprint, a.Ident)
	case ActorVirtualLazyLoad:
		return fmt.Sprintf("VirtualLazyLoad(%s,%s,%s)", a.Blueprint, a.Ident, a.Receiver)
	}
	return a.Kind.String()
}
