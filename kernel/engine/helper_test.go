package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/blueprint/mock"
	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/ids"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/modules/events"
	"github.com/xuperchain/xkernel/kernel/store"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/track"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/kernel/vm"
)

var (
	testerPackage = types.NewNodeId(types.EntityGlobalPackage, []byte("tester"))
	testerBp      = types.NewBlueprintId(testerPackage, "Tester")
)

func registerTester(r *blueprint.Registry) {
	fn := func() *blueprint.FunctionDef { return &blueprint.FunctionDef{Access: blueprint.AllowAll()} }
	r.Register(testerPackage, &blueprint.Definition{
		Name: testerBp.Name,
		Functions: map[string]*blueprint.FunctionDef{
			"recurse":  fn(),
			"leak":     fn(),
			"dangle":   fn(),
			"echo":     fn(),
			"fail":     fn(),
			"emit":     fn(),
			"swallow":  fn(),
			"touch":    {Receiver: true, Access: blueprint.AllowAll()},
			"scribble": {Receiver: true, Access: blueprint.AllowAll()},
		},
	}, map[string]blueprint.Handler{
		"recurse": testerRecurse,
		"leak":    testerLeak,
		"dangle":  testerDangle,
		"echo": func(_ contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
			return args, nil
		},
		"fail": func(contract.API, *substate.IndexedValue) (*substate.IndexedValue, error) {
			return nil, &types.ApplicationError{Blueprint: testerBp, Message: "boom"}
		},
		"emit":    testerEmit,
		"swallow": testerSwallow,
		"touch":   testerTouch,
		"scribble": func(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
			if _, err := testerTouch(api, args); err != nil {
				return nil, err
			}
			return nil, &types.ApplicationError{Blueprint: testerBp, Message: "scribbled"}
		},
	})
}

func newNode(api contract.API) (types.NodeId, error) {
	id, err := api.AllocateNodeId(types.EntityInternalGenericComponent)
	if err != nil {
		return id, err
	}
	content := blueprint.NodeContent(testerBp).SetField(types.MainBasePartition, 0, substate.FromData([]byte("n")))
	return id, api.CreateNode(id, content)
}

// testerRecurse creates a node at every level and calls itself until the
// kernel refuses.
func testerRecurse(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	id, err := newNode(api)
	if err != nil {
		return nil, err
	}
	if _, err := api.CallFunction(testerBp, "recurse", args); err != nil {
		return nil, err
	}
	_, err = api.DropNode(id)
	return substate.Empty(), err
}

func testerLeak(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	_, err := newNode(api)
	return substate.Empty(), err
}

func testerDangle(api contract.API, _ *substate.IndexedValue) (*substate.IndexedValue, error) {
	id, err := newNode(api)
	if err != nil {
		return nil, err
	}
	if _, err := api.OpenSubstate(id, types.MainBasePartition, types.NewFieldKey(0), types.LockReadOnly); err != nil {
		return nil, err
	}
	return substate.NewIndexedValue(nil, []types.NodeId{id}, nil)
}

func testerEmit(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	if err := api.EmitEvent("emitted", args.Data()); err != nil {
		return nil, err
	}
	if err := api.Log(contract.LogInfo, "emitted"); err != nil {
		return nil, err
	}
	if string(args.Data()) == "fail" {
		return nil, &types.ApplicationError{Blueprint: testerBp, Message: "after emit"}
	}
	return substate.Empty(), nil
}

// testerTouch rewrites field 0 of the receiver.
func testerTouch(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	h, err := api.OpenSubstate(api.Actor().Receiver, types.MainBasePartition, types.NewFieldKey(0), types.LockMutable)
	if err != nil {
		return nil, err
	}
	if err := api.WriteSubstate(h, substate.FromData(args.Data())); err != nil {
		return nil, err
	}
	return substate.Empty(), api.CloseSubstate(h)
}

// testerSwallow calls the method named by the data on the referenced node
// and drops whatever error it returns.
func testerSwallow(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	if len(args.References()) != 1 {
		return nil, &types.ApplicationError{Blueprint: testerBp, Message: "swallow needs a target"}
	}
	_, _ = api.CallMethod(args.References()[0], types.ModuleMain, string(args.Data()), substate.FromData([]byte("dirty")))
	return substate.Empty(), nil
}

// seedTarget commits a global node of the tester blueprint holding "clean".
func seedTarget(t *testing.T, e *env, name string) types.NodeId {
	t.Helper()
	id := types.NewNodeId(types.EntityGlobalGenericComponent, []byte(name))
	seed(t, e.db, id, blueprint.NodeContent(testerBp).SetField(types.MainBasePartition, 0, substate.FromData([]byte("clean"))))
	require.NoError(t, e.kernel.Stack().Root().AddGlobalReference(e.io, id))
	return id
}

// field0 reads field 0 of id through the track.
func (e *env) field0(t *testing.T, id types.NodeId) string {
	t.Helper()
	v, ok, err := e.io.Get(types.NewLocation(id, types.MainBasePartition, types.NewFieldKey(0)))
	require.NoError(t, err)
	require.True(t, ok)
	return string(v.Data())
}

type env struct {
	db       *store.MemDatabase
	track    *track.Track
	io       *substateio.SubstateIO
	registry *blueprint.Registry
	wasm     *mock.WasmEngine
	vm       *vm.VM
	events   *events.Events
	kernel   *Kernel
}

type envOption func(*xconfig.KernelConf, *Params)

func withModules(mods ...modules.Module) envOption {
	return func(_ *xconfig.KernelConf, p *Params) {
		p.Modules = modules.NewMixer(mods...)
	}
}

func withMeter(m modules.CostMeter) envOption {
	return func(_ *xconfig.KernelConf, p *Params) { p.Meter = m }
}

func withMaxDepth(depth int) envOption {
	return func(c *xconfig.KernelConf, _ *Params) { c.MaxCallDepth = depth }
}

func newEnvWithDb(t *testing.T, db *store.MemDatabase, opts ...envOption) *env {
	t.Helper()
	tr, err := track.New(db, 16)
	require.NoError(t, err)
	io := substateio.New(heap.New(), tr, substateio.NewNodeRefs(), substateio.Limits{MaxKeySize: 1024, MaxValueSize: 1 << 16})

	registry := blueprint.NewRegistry()
	blueprint.RegisterSystem(registry)
	mock.Register(registry)
	registerTester(registry)
	wasm := mock.NewWasmEngine()
	machine := vm.New(registry, wasm)
	ev := events.New()

	conf := xconfig.GetDefKernelConf()
	p := &Params{
		Conf:      conf,
		IO:        io,
		Allocator: ids.NewAllocator([]byte(t.Name())),
		VM:        machine,
		Modules:   modules.NewMixer(ev),
		Events:    ev,
	}
	for _, opt := range opts {
		opt(conf, p)
	}
	k, err := New(p)
	require.NoError(t, err)
	return &env{db: db, track: tr, io: io, registry: registry, wasm: wasm, vm: machine, events: ev, kernel: k}
}

func newEnv(t *testing.T, opts ...envOption) *env {
	return newEnvWithDb(t, store.NewMemDatabase(), opts...)
}

// seed commits a node straight to the database.
func seed(t *testing.T, db store.SubstateDatabase, id types.NodeId, content substate.NodeSubstates) {
	t.Helper()
	updates := store.NewStateUpdates()
	for _, p := range content.Partitions() {
		for _, e := range content[p] {
			updates.Set(types.NewLocation(id, p, e.Key), e.Value)
		}
	}
	require.NoError(t, db.Commit(updates))
}

// newAccount funds a vault and wraps it in a global account from the root.
func (e *env) newAccount(t *testing.T, amount uint64) types.NodeId {
	t.Helper()
	bucket, err := e.kernel.CallFunction(mock.VaultBlueprint, "new", mock.Amount(amount))
	require.NoError(t, err)
	out, err := e.kernel.CallFunction(mock.AccountBlueprint, "create", bucket)
	require.NoError(t, err)
	require.Len(t, out.References(), 1)
	return out.References()[0]
}

func (e *env) balance(t *testing.T, account types.NodeId) uint64 {
	t.Helper()
	out, err := e.kernel.CallMethod(account, types.ModuleMain, "balance", nil)
	require.NoError(t, err)
	amount, err := mock.DecodeAmount(out)
	require.NoError(t, err)
	return amount
}
