package vm

// WasmEngine compiles package code. Implementations live outside the kernel.
type WasmEngine interface {
	Compile(code []byte) (CompiledModule, error)
}

// CompiledModule is reusable across invocations; every call gets a fresh
// instance.
type CompiledModule interface {
	Instantiate() (Instance, error)
}

type Instance interface {
	// Invoke runs export with the encoded argument value and returns the
	// encoded result value. Host calls go through rt.
	Invoke(export string, args []byte, rt Runtime) ([]byte, error)
}

// Runtime is the host interface offered to wasm code. Node ids, keys and
// values cross it in their byte encodings.
type Runtime interface {
	Actor() (kind uint8, receiver []byte, blueprint string)

	AllocateNodeId(entity uint8) ([]byte, error)
	CreateNode(id []byte, partitions map[uint8][][2][]byte) error
	DropNode(id []byte) error
	Globalize(id []byte) error

	OpenSubstate(node []byte, partition uint8, key []byte, flags uint8) (uint32, error)
	ReadSubstate(handle uint32) ([]byte, error)
	WriteSubstate(handle uint32, value []byte) error
	CloseSubstate(handle uint32) error

	CallMethod(receiver []byte, module uint8, ident string, args []byte) ([]byte, error)
	CallFunction(pkg []byte, blueprint, ident string, args []byte) ([]byte, error)

	EmitEvent(name string, data []byte) error
	Log(level uint8, message string) error
	ConsumeCostUnits(units uint32) error
}
