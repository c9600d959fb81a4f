package mock

import (
	"fmt"
	"sync"

	"github.com/xuperchain/xkernel/kernel/vm"
)

// WasmFunc is one scripted export.
type WasmFunc func(args []byte, rt vm.Runtime) ([]byte, error)

// WasmEngine treats code as the name of a program registered with Add.
type WasmEngine struct {
	mutex    sync.Mutex
	programs map[string]map[string]WasmFunc
	compiles int
}

func NewWasmEngine() *WasmEngine {
	return &WasmEngine{programs: make(map[string]map[string]WasmFunc)}
}

// Add registers a program; code for it is []byte(name).
func (e *WasmEngine) Add(name string, exports map[string]WasmFunc) []byte {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.programs[name] = exports
	return []byte(name)
}

// Compiles reports how many times code was compiled.
func (e *WasmEngine) Compiles() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.compiles
}

func (e *WasmEngine) Compile(code []byte) (vm.CompiledModule, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	exports, ok := e.programs[string(code)]
	if !ok {
		return nil, fmt.Errorf("invalid module %q", code)
	}
	e.compiles++
	return wasmModule(exports), nil
}

type wasmModule map[string]WasmFunc

func (m wasmModule) Instantiate() (vm.Instance, error) {
	return m, nil
}

func (m wasmModule) Invoke(export string, args []byte, rt vm.Runtime) ([]byte, error) {
	f, ok := m[export]
	if !ok {
		return nil, fmt.Errorf("export %s not found", export)
	}
	return f(args, rt)
}
