package vm

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/tmthrgd/go-hex"
	"golang.org/x/crypto/blake2b"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

const defaultModuleExpiration = 10 * time.Minute

// StateReader reads substates outside of any call frame.
type StateReader interface {
	Get(loc types.SubstateLocation) (*substate.IndexedValue, bool, error)
}

// VM dispatches invocations to native handlers or to wasm packages.
type VM struct {
	registry *blueprint.Registry
	engine   WasmEngine
	// compiled modules by code hash
	modules *cache.Cache
}

// New creates a VM. engine may be nil, wasm packages then fail to load.
func New(registry *blueprint.Registry, engine WasmEngine) *VM {
	return &VM{
		registry: registry,
		engine:   engine,
		// no janitor goroutine, expired entries are dropped by Purge
		modules: cache.New(defaultModuleExpiration, 0),
	}
}

func (v *VM) Registry() *blueprint.Registry {
	return v.registry
}

// Purge drops expired compiled modules.
func (v *VM) Purge() {
	v.modules.DeleteExpired()
}

// CachedModules reports how many compiled modules are cached.
func (v *VM) CachedModules() int {
	return v.modules.ItemCount()
}

// Definition loads the definition of bp from the registry or from its
// package node.
func (v *VM) Definition(r StateReader, bp types.BlueprintId) (*blueprint.Definition, error) {
	if v.registry.IsNative(bp.Package) {
		return v.registry.Definition(bp)
	}
	value, ok, err := r.Get(blueprint.DefinitionLocation(bp))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(types.ErrBlueprintNotFound, "%s", bp)
	}
	return blueprint.UnmarshalDefinition(value.Data())
}

func (v *VM) Execute(api contract.API, inv *contract.Invocation) (*substate.IndexedValue, error) {
	if v.registry.IsNative(inv.Blueprint.Package) {
		handler, err := v.registry.Handler(inv.Blueprint, inv.Ident)
		if err != nil {
			return nil, err
		}
		return handler(api, inv.Args)
	}
	return v.executeWasm(api, inv)
}

func (v *VM) readField(api contract.API, loc types.SubstateLocation) (*substate.IndexedValue, error) {
	h, err := api.OpenSubstate(loc.Node, loc.Partition, loc.Key, types.LockReadOnly)
	if err != nil {
		return nil, err
	}
	value, err := api.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	return value, api.CloseSubstate(h)
}

func (v *VM) executeWasm(api contract.API, inv *contract.Invocation) (*substate.IndexedValue, error) {
	if v.engine == nil {
		return nil, errors.Wrapf(types.ErrBlueprintNotFound, "%s: no wasm engine", inv.Blueprint)
	}
	raw, err := v.readField(api, blueprint.DefinitionLocation(inv.Blueprint))
	if err != nil {
		if errors.Is(err, types.ErrSubstateNotFound) {
			return nil, errors.Wrapf(types.ErrBlueprintNotFound, "%s", inv.Blueprint)
		}
		return nil, err
	}
	def, err := blueprint.UnmarshalDefinition(raw.Data())
	if err != nil {
		return nil, err
	}
	fn, ok := def.Functions[inv.Ident]
	if !ok {
		return nil, errors.Wrapf(types.ErrFunctionNotFound, "%s.%s", inv.Blueprint, inv.Ident)
	}
	code, err := v.readField(api, blueprint.CodeLocation(inv.Blueprint.Package))
	if err != nil {
		return nil, err
	}
	module, err := v.compile(code.Data())
	if err != nil {
		return nil, err
	}
	instance, err := module.Instantiate()
	if err != nil {
		return nil, errors.Wrapf(types.ErrWasmTrap, "instantiate %s: %v", inv.Blueprint, err)
	}

	export := fn.Export
	if export == "" {
		export = inv.Ident
	}
	rt := newHostRuntime(api)
	out, err := instance.Invoke(export, inv.Args.Bytes(), rt)
	// a failed host call fails the export even when the guest swallowed it
	if rt.hostErr != nil {
		return nil, rt.hostErr
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrWasmTrap, "%s.%s: %v", inv.Blueprint, inv.Ident, err)
	}
	return substate.Decode(out)
}

func (v *VM) compile(code []byte) (CompiledModule, error) {
	sum := blake2b.Sum256(code)
	key := hex.EncodeToString(sum[:])
	if m, ok := v.modules.Get(key); ok {
		return m.(CompiledModule), nil
	}
	m, err := v.engine.Compile(code)
	if err != nil {
		return nil, errors.Wrapf(types.ErrWasmTrap, "compile %s: %v", key[:16], err)
	}
	v.modules.SetDefault(key, m)
	return m, nil
}
