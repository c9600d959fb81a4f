package engine

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/blueprint/mock"
	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/modules/auth"
	"github.com/xuperchain/xkernel/kernel/modules/costing"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// assertClean checks that nothing is left behind by unwound frames.
func assertClean(t *testing.T, e *env) {
	t.Helper()
	assert.Equal(t, 0, e.kernel.Stack().Depth())
	assert.Equal(t, 0, e.io.Heap().Len())
	assert.Empty(t, e.io.Locks())
	assert.Empty(t, e.kernel.Stack().Root().OwnedNodes())
}

func TestInvoke_MoveAndGlobalize(t *testing.T) {
	e := newEnv(t)
	account := e.newAccount(t, 100)

	assert.Equal(t, types.EntityGlobalAccount, account.EntityType())
	exists, err := e.track.NodeExists(account)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, e.kernel.Stack().Root().IsVisible(account))
	assert.Equal(t, uint64(100), e.balance(t, account))

	bucket, err := e.kernel.CallMethod(account, types.ModuleMain, "withdraw", mock.Amount(30))
	require.NoError(t, err)
	require.Len(t, bucket.OwnedNodes(), 1)
	assert.True(t, e.kernel.Stack().Root().IsOwned(bucket.OwnedNodes()[0]))
	assert.Equal(t, uint64(70), e.balance(t, account))

	_, err = e.kernel.CallMethod(account, types.ModuleMain, "deposit", bucket)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), e.balance(t, account))
	assertClean(t, e)
	assert.NoError(t, e.kernel.Stack().CloseRoot())
}

func TestInvoke_DepthCeilingUnwindsEverything(t *testing.T) {
	e := newEnv(t, withMaxDepth(4))
	_, err := e.kernel.CallFunction(testerBp, "recurse", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMaxCallDepthExceeded))
	assert.Equal(t, types.KindStructural, types.KindOf(err))
	assertClean(t, e)
	assert.Equal(t, 0, e.io.Refs().Len())
	assert.Equal(t, uint32(4), e.kernel.Allocator().Count())
}

func TestInvoke_OrphanFailsFrame(t *testing.T) {
	e := newEnv(t)
	_, err := e.kernel.CallFunction(testerBp, "leak", nil)
	var orphan *types.OrphanError
	require.True(t, errors.As(err, &orphan))
	assert.Len(t, orphan.Nodes, 1)
	assert.Equal(t, testerBp, orphan.Actor.Blueprint)
	assertClean(t, e)
}

func TestInvoke_DanglingLockFailsFrame(t *testing.T) {
	e := newEnv(t)
	_, err := e.kernel.CallFunction(testerBp, "dangle", nil)
	assert.True(t, errors.Is(err, types.ErrDanglingLock))
	assertClean(t, e)
}

func TestInvoke_AutoDrop(t *testing.T) {
	e := newEnv(t)
	_, err := e.kernel.CallFunction(mock.ProofBlueprint, "check", nil)
	require.NoError(t, err)
	assertClean(t, e)

	// a proof returned to the caller is dropped when that frame exits
	out, err := e.kernel.CallFunction(mock.ProofBlueprint, "create", nil)
	require.NoError(t, err)
	assert.Len(t, out.OwnedNodes(), 1)
	_, err = e.kernel.DropNode(out.OwnedNodes()[0])
	assert.NoError(t, err)
}

func TestInvoke_EchoMovesBack(t *testing.T) {
	e := newEnv(t)
	bucket, err := e.kernel.CallFunction(mock.VaultBlueprint, "new", mock.Amount(5))
	require.NoError(t, err)
	out, err := e.kernel.CallFunction(testerBp, "echo", bucket)
	require.NoError(t, err)
	assert.Equal(t, bucket.OwnedNodes(), out.OwnedNodes())
	assert.True(t, e.kernel.Stack().Root().IsOwned(out.OwnedNodes()[0]))

	// moving it again after it was moved back works the same
	out, err = e.kernel.CallFunction(testerBp, "echo", out)
	require.NoError(t, err)
	_, err = e.kernel.DropNode(out.OwnedNodes()[0])
	assert.NoError(t, err)
	assertClean(t, e)
}

func TestInvoke_ResolutionErrorsPushNothing(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown function", func() error {
			_, err := e.kernel.CallFunction(testerBp, "missing", nil)
			return err
		}, types.ErrFunctionNotFound},
		{"method called as function", func() error {
			_, err := e.kernel.CallFunction(testerBp, "touch", nil)
			return err
		}, types.ErrFunctionNotFound},
		{"unknown blueprint", func() error {
			_, err := e.kernel.CallFunction(types.NewBlueprintId(testerPackage, "Nope"), "run", nil)
			return err
		}, types.ErrBlueprintNotFound},
		{"invisible receiver", func() error {
			_, err := e.kernel.CallMethod(types.NewNodeId(types.EntityGlobalAccount, []byte("x")), types.ModuleMain, "balance", nil)
			return err
		}, types.ErrNodeNotVisible},
		{"root actor", func() error {
			_, err := e.kernel.Invoke(types.RootActor(), nil, e.vm)
			return err
		}, types.ErrFunctionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assertClean(t, e)
		})
	}
}

func TestInvoke_VirtualLazyLoad(t *testing.T) {
	e := newEnv(t)
	addr := types.NewNodeId(types.EntityGlobalVirtualAccount, []byte("alice"))
	require.NoError(t, e.kernel.Stack().Root().AddGlobalReference(e.io, addr))

	exists, err := e.io.NodeExists(addr)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, uint64(0), e.balance(t, addr))
	exists, err = e.io.NodeExists(addr)
	require.NoError(t, err)
	assert.True(t, exists)

	bp, err := e.kernel.GetBlueprint(addr)
	require.NoError(t, err)
	assert.Equal(t, mock.AccountBlueprint, bp)

	allocated := e.kernel.Allocator().Count()
	assert.Equal(t, uint64(0), e.balance(t, addr))
	assert.Equal(t, allocated, e.kernel.Allocator().Count())
	assertClean(t, e)
}

func TestInvoke_Unauthorized(t *testing.T) {
	e := newEnv(t, withModules(auth.New(nil)))
	account := e.newAccount(t, 10)
	_, err := e.kernel.CallMethod(account, types.ModuleMain, "withdraw", mock.Amount(1))
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
	assertClean(t, e)

	e = newEnv(t, withModules(auth.New([]string{mock.OwnerBadge})))
	account = e.newAccount(t, 10)
	bucket, err := e.kernel.CallMethod(account, types.ModuleMain, "withdraw", mock.Amount(1))
	require.NoError(t, err)
	_, err = e.kernel.CallMethod(account, types.ModuleMain, "deposit", bucket)
	assert.NoError(t, err)
}

func TestInvoke_MetadataModule(t *testing.T) {
	e := newEnv(t)
	account := e.newAccount(t, 1)
	entry, err := json.Marshal(blueprint.MetadataEntry{Key: "name", Value: "alice"})
	require.NoError(t, err)

	_, err = e.kernel.CallMethod(account, types.ModuleMetadata, "set", substate.FromData(entry))
	require.NoError(t, err)
	out, err := e.kernel.CallMethod(account, types.ModuleMetadata, "get", substate.FromData([]byte("name")))
	require.NoError(t, err)
	assert.Equal(t, "alice", string(out.Data()))

	out, err = e.kernel.CallMethod(account, types.ModuleMetadata, "get", substate.FromData([]byte("missing")))
	require.NoError(t, err)
	assert.Empty(t, out.Data())

	_, err = e.kernel.CallMethod(account, types.ModuleRoyalty, "claim", nil)
	assert.True(t, errors.Is(err, types.ErrBlueprintNotFound))
	assertClean(t, e)
}

func TestInvoke_FailedFrameDropsEvents(t *testing.T) {
	e := newEnv(t)
	_, err := e.kernel.CallFunction(testerBp, "emit", substate.FromData([]byte("ok")))
	require.NoError(t, err)
	_, err = e.kernel.CallFunction(testerBp, "emit", substate.FromData([]byte("fail")))
	var appErr *types.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.KindDelegated, types.KindOf(err))

	require.Len(t, e.events.Events(), 1)
	assert.Equal(t, []byte("ok"), e.events.Events()[0].Data)
	assert.Len(t, e.events.Logs(), 1)
}

func TestCreateNode_RequiresAllocatedId(t *testing.T) {
	e := newEnv(t)
	id := types.NewNodeId(types.EntityInternalGenericComponent, []byte("forged"))
	err := e.kernel.CreateNode(id, blueprint.NodeContent(testerBp))
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible))

	id, err = e.kernel.AllocateNodeId(types.EntityInternalGenericComponent)
	require.NoError(t, err)
	err = e.kernel.CreateNode(id, substate.NewNodeSubstates())
	assert.True(t, errors.Is(err, types.ErrDecodePayload))
	require.NoError(t, e.kernel.CreateNode(id, blueprint.NodeContent(testerBp)))

	// an id is good for one node
	err = e.kernel.CreateNode(id, blueprint.NodeContent(testerBp))
	assert.True(t, errors.Is(err, types.ErrNodeNotVisible))
	_, err = e.kernel.DropNode(id)
	assert.NoError(t, err)
}

func TestCreditCostUnits_RequiresForceWriteLock(t *testing.T) {
	conf := xconfig.GetDefKernelConf().Costing
	c := costing.New(conf, 0)
	e := newEnv(t, withMeter(c), withModules(c))
	account := e.newAccount(t, 100000)

	vault := types.NewNodeId(types.EntityInternalFungibleVault, []byte("v"))
	err := e.kernel.CreditCostUnits(vault, 10)
	assert.True(t, errors.Is(err, types.ErrUnauthorized))

	// fees lock only from state that existed before the transaction
	_, err = e.kernel.CallMethod(account, types.ModuleMain, "lock_fee", mock.Amount(1))
	assert.True(t, errors.Is(err, types.ErrSubstateModified))
	_, err = e.track.Commit()
	require.NoError(t, err)

	_, err = e.kernel.CallMethod(account, types.ModuleMain, "lock_fee", mock.Amount(50000))
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), c.Summary().Credited)
	assert.Equal(t, uint64(50000), e.balance(t, account))
	assert.NoError(t, c.Repay())
}

func TestInvoke_CostLimitFailsFrame(t *testing.T) {
	conf := xconfig.GetDefKernelConf().Costing
	conf.CostUnitLimit = 150
	conf.SystemLoan = 1000
	c := costing.New(conf, 0)
	e := newEnv(t, withMeter(c), withModules(c))
	_, err := e.kernel.CallFunction(testerBp, "recurse", nil)
	assert.True(t, errors.Is(err, types.ErrCostUnitLimitExceeded))
	assertClean(t, e)
}

func TestInvoke_SwallowedFailureFailsCaller(t *testing.T) {
	tests := []struct {
		name   string
		ident  string
		failed bool
	}{
		// the callee ran and wrote before failing
		{name: "callee failed", ident: "scribble", failed: true},
		// resolution refused the call before any frame was pushed
		{name: "never pushed", ident: "missing", failed: false},
		{name: "callee succeeded", ident: "touch", failed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			target := seedTarget(t, e, tt.name)
			args := substate.MustIndexedValue([]byte(tt.ident), nil, []types.NodeId{target})

			_, err := e.kernel.CallFunction(testerBp, "swallow", args)
			if !tt.failed {
				require.NoError(t, err)
				assertClean(t, e)
				return
			}
			var appErr *types.ApplicationError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, "scribbled", appErr.Message)
			assertClean(t, e)
			assert.Equal(t, 1, e.io.Refs().Count(target))

			// a failed transaction keeps none of the callee writes
			e.track.RevertNonForceWrites()
			assert.Equal(t, "clean", e.field0(t, target))
			assert.Equal(t, 0, e.track.Updates().Len())
		})
	}
}

func TestInvoke_RootContinuesAfterSwallowedFailure(t *testing.T) {
	e := newEnv(t)
	target := seedTarget(t, e, "outer")
	args := substate.MustIndexedValue([]byte("scribble"), nil, []types.NodeId{target})

	_, err := e.kernel.CallFunction(testerBp, "swallow", args)
	require.Error(t, err)
	out, err := e.kernel.CallFunction(testerBp, "echo", substate.FromData([]byte("after")))
	require.NoError(t, err)
	assert.Equal(t, "after", string(out.Data()))
	assertClean(t, e)
}

type vetoModule struct {
	modules.BaseModule
	afterErr error
	popErr   error
	pops     int
	unwinds  int
}

func (v *vetoModule) Name() string { return "veto" }

func (v *vetoModule) AfterInvoke(*modules.InvokeInfo, int) error { return v.afterErr }

func (v *vetoModule) OnPopFrame(_ int, _ types.Actor, success bool) error {
	if !success {
		v.unwinds++
		return nil
	}
	v.pops++
	return v.popErr
}

func TestInvoke_LateVetoDiscardsOutput(t *testing.T) {
	veto := errors.New("veto")
	tests := []struct {
		name    string
		module  *vetoModule
		pops    int
		unwinds int
	}{
		{name: "after invoke", module: &vetoModule{afterErr: veto}, pops: 0, unwinds: 1},
		{name: "pop frame", module: &vetoModule{popErr: veto}, pops: 1, unwinds: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, withModules(tt.module))
			out, err := e.kernel.CallFunction(mock.VaultBlueprint, "new", mock.Amount(5))
			assert.Nil(t, out)
			assert.True(t, errors.Is(err, veto), "got %v", err)
			assert.Equal(t, tt.pops, tt.module.pops)
			assert.Equal(t, tt.unwinds, tt.module.unwinds)
			assertClean(t, e)
			assert.Equal(t, 0, e.io.Refs().Len())
		})
	}
}
