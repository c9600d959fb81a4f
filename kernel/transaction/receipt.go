package transaction

import (
	"github.com/xuperchain/xkernel/kernel/modules/costing"
	"github.com/xuperchain/xkernel/kernel/modules/events"
	"github.com/xuperchain/xkernel/kernel/store"
	"github.com/xuperchain/xkernel/kernel/substate"
)

type Outcome int

const (
	// OutcomeCommit: every write committed.
	OutcomeCommit Outcome = iota
	// OutcomeFailure: only force writes committed, the fee is charged.
	OutcomeFailure
	// OutcomeReject: nothing written, no fee.
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommit:
		return "commit"
	case OutcomeFailure:
		return "failure"
	case OutcomeReject:
		return "reject"
	}
	return "unknown"
}

type Receipt struct {
	LogId   string
	Outcome Outcome
	// set for failure and reject
	Error error
	// outputs of the instructions that ran
	Outputs []*substate.IndexedValue
	// committed writes, nil on reject
	Updates *store.StateUpdates
	Events  []events.Event
	Logs    []events.Log
	// nil on reject
	Fee *costing.FeeSummary
	// phase timings
	Costs string
}

func (r *Receipt) IsCommit() bool {
	return r.Outcome == OutcomeCommit
}
