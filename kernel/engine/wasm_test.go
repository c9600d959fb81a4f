package engine

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/blueprint/mock"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/kernel/vm"
)

var greeterPackage = types.NewNodeId(types.EntityGlobalPackage, []byte("greeter"))

func seedGreeter(t *testing.T, e *env) types.BlueprintId {
	t.Helper()
	stranger := types.NewNodeId(types.EntityGlobalAccount, []byte("stranger"))
	code := e.wasm.Add("greeter", map[string]mock.WasmFunc{
		"hello": func(args []byte, rt vm.Runtime) ([]byte, error) {
			v, err := substate.Decode(args)
			if err != nil {
				return nil, err
			}
			if err := rt.EmitEvent("greeted", v.Data()); err != nil {
				return nil, err
			}
			return substate.FromData([]byte("hello " + string(v.Data()))).Bytes(), nil
		},
		"boom": func([]byte, vm.Runtime) ([]byte, error) {
			return nil, fmt.Errorf("unreachable executed")
		},
		"peek": func(_ []byte, rt vm.Runtime) ([]byte, error) {
			if _, err := rt.OpenSubstate(stranger.Bytes(), uint8(types.MainBasePartition), types.NewFieldKey(0).Encode(), uint8(types.LockReadOnly)); err != nil {
				return nil, fmt.Errorf("host call failed")
			}
			return substate.Empty().Bytes(), nil
		},
		"shrug": func(_ []byte, rt vm.Runtime) ([]byte, error) {
			_, _ = rt.OpenSubstate(stranger.Bytes(), uint8(types.MainBasePartition), types.NewFieldKey(0).Encode(), uint8(types.LockReadOnly))
			return substate.Empty().Bytes(), nil
		},
		"relay": func(args []byte, rt vm.Runtime) ([]byte, error) {
			_, _ = rt.CallFunction(greeterPackage.Bytes(), "Greeter", "scribble", args)
			return substate.Empty().Bytes(), nil
		},
		"scribble": func(args []byte, rt vm.Runtime) ([]byte, error) {
			v, err := substate.Decode(args)
			if err != nil {
				return nil, err
			}
			h, err := rt.OpenSubstate(v.References()[0].Bytes(), uint8(types.MainBasePartition), types.NewFieldKey(0).Encode(), uint8(types.LockMutable))
			if err != nil {
				return nil, err
			}
			if err := rt.WriteSubstate(h, substate.FromData([]byte("dirty")).Bytes()); err != nil {
				return nil, err
			}
			if err := rt.CloseSubstate(h); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("unreachable executed")
		},
	})
	def := &blueprint.Definition{
		Name: "Greeter",
		Functions: map[string]*blueprint.FunctionDef{
			"hello":    {Access: blueprint.AllowAll()},
			"boom":     {Access: blueprint.AllowAll()},
			"peek":     {Access: blueprint.AllowAll()},
			"shrug":    {Access: blueprint.AllowAll()},
			"relay":    {Access: blueprint.AllowAll()},
			"scribble": {Access: blueprint.AllowAll()},
			"hidden":   {Access: blueprint.AllowAll(), Export: "missing"},
		},
	}
	content, err := blueprint.PackageContent(code, def)
	require.NoError(t, err)
	seed(t, e.db, greeterPackage, content)
	return types.NewBlueprintId(greeterPackage, def.Name)
}

func TestWasm_CallAndCompileCache(t *testing.T) {
	e := newEnv(t)
	bp := seedGreeter(t, e)

	for i := 0; i < 2; i++ {
		out, err := e.kernel.CallFunction(bp, "hello", substate.FromData([]byte("bob")))
		require.NoError(t, err)
		assert.Equal(t, "hello bob", string(out.Data()))
	}
	assert.Equal(t, 1, e.wasm.Compiles())
	assert.Equal(t, 1, e.vm.CachedModules())

	require.Len(t, e.events.Events(), 2)
	assert.Equal(t, "greeted", e.events.Events()[0].Name)
	assert.Equal(t, []byte("bob"), e.events.Events()[0].Data)
	assert.Equal(t, bp, e.events.Events()[0].Emitter.Blueprint)
	assertClean(t, e)
	assert.Equal(t, 0, e.io.Refs().Len())
}

func TestWasm_Errors(t *testing.T) {
	e := newEnv(t)
	bp := seedGreeter(t, e)

	_, err := e.kernel.CallFunction(bp, "boom", nil)
	assert.True(t, errors.Is(err, types.ErrWasmTrap), "got %v", err)

	// the host error wins over the trap it caused
	_, err = e.kernel.CallFunction(bp, "peek", nil)
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible), "got %v", err)
	assert.False(t, errors.Is(err, types.ErrWasmTrap))

	_, err = e.kernel.CallFunction(bp, "hidden", nil)
	assert.True(t, errors.Is(err, types.ErrWasmTrap), "got %v", err)

	_, err = e.kernel.CallFunction(types.NewBlueprintId(greeterPackage, "Nobody"), "hello", nil)
	assert.True(t, errors.Is(err, types.ErrBlueprintNotFound), "got %v", err)
	assertClean(t, e)
}

func TestWasm_SwallowedHostErrorFailsExport(t *testing.T) {
	e := newEnv(t)
	bp := seedGreeter(t, e)

	_, err := e.kernel.CallFunction(bp, "shrug", nil)
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible), "got %v", err)

	target := seedTarget(t, e, "greeted")
	args := substate.MustIndexedValue(nil, nil, []types.NodeId{target})
	_, err = e.kernel.CallFunction(bp, "relay", args)
	assert.True(t, errors.Is(err, types.ErrWasmTrap), "got %v", err)
	assert.Contains(t, err.Error(), "scribble")
	assertClean(t, e)

	e.track.RevertNonForceWrites()
	assert.Equal(t, "clean", e.field0(t, target))
	assert.Equal(t, 0, e.track.Updates().Len())
}
