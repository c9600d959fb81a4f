package contract

import (
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Invocation is what the kernel hands an executor after actor resolution.
type Invocation struct {
	Actor     types.Actor
	Blueprint types.BlueprintId
	Ident     string
	Args      *substate.IndexedValue
}

// Executor runs blueprint code for one invocation. The callee frame is
// active for the duration of Execute.
type Executor interface {
	Execute(api API, inv *Invocation) (*substate.IndexedValue, error)
}

type ExecutorFunc func(api API, inv *Invocation) (*substate.IndexedValue, error)

func (f ExecutorFunc) Execute(api API, inv *Invocation) (*substate.IndexedValue, error) {
	return f(api, inv)
}
