package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/lib/logs"
)

func TestTracing_CountsFrames(t *testing.T) {
	tr := New(logs.NewDiscardLogger(), true)
	actor := types.FunctionActor(types.BlueprintId{Name: "Counter"}, "new")

	assert.NoError(t, tr.BeforeInvoke(&modules.InvokeInfo{Actor: actor, Depth: 1}))
	assert.NoError(t, tr.OnPushFrame(1, actor, callframe.Message{}))
	assert.NoError(t, tr.OnPushFrame(2, actor, callframe.Message{}))
	assert.NoError(t, tr.OnOpenLock(types.SubstateLocation{}, types.LockMutable, 8))
	assert.NoError(t, tr.OnPopFrame(2, actor, false))
	assert.NoError(t, tr.OnPopFrame(1, actor, true))
	assert.NoError(t, tr.OnPopFrame(1, actor, true))

	total, failed := tr.Invocations()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, failed)
}
