package transaction

import (
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/kernel/engine"
	"github.com/xuperchain/xkernel/kernel/heap"
	"github.com/xuperchain/xkernel/kernel/ids"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/modules/auth"
	"github.com/xuperchain/xkernel/kernel/modules/costing"
	"github.com/xuperchain/xkernel/kernel/modules/events"
	"github.com/xuperchain/xkernel/kernel/modules/tracing"
	"github.com/xuperchain/xkernel/kernel/store"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/track"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/lib/logs"
	"github.com/xuperchain/xkernel/lib/metrics"
	"github.com/xuperchain/xkernel/lib/timer"
	"github.com/xuperchain/xkernel/lib/utils"
)

// Executor runs transactions one at a time against db.
type Executor struct {
	db   store.SubstateDatabase
	conf *xconfig.KernelConf
	vm   engine.Dispatcher
	log  logs.Logger
}

func NewExecutor(db store.SubstateDatabase, conf *xconfig.KernelConf, vm engine.Dispatcher, log logs.Logger) (*Executor, error) {
	if db == nil || vm == nil {
		return nil, errors.New("new executor: nil db or vm")
	}
	if conf == nil {
		conf = xconfig.GetDefKernelConf()
	}
	if log == nil && conf.LogConf != "" {
		lg, err := logs.GetLogFitter(conf.LogConf)
		if err != nil {
			return nil, errors.WithMessage(err, "new executor")
		}
		log = lg
	}
	if log == nil {
		log = logs.NewDiscardLogger()
	}
	if conf.MetricSwitch {
		metrics.RegisterMetrics()
	}
	return &Executor{db: db, conf: conf, vm: vm, log: log}, nil
}

// run holds the per transaction state.
type run struct {
	tx      *Transaction
	log     logs.Logger
	xTimer  *timer.XTimer
	receipt *Receipt

	track  *track.Track
	kernel *engine.Kernel
	fee    *costing.Costing
	events *events.Events
}

// Execute runs tx and settles its outcome in the store. It never panics on
// a bad transaction; every problem ends up in the receipt.
func (e *Executor) Execute(tx *Transaction) *Receipt {
	logId := utils.GenLogId()
	r := &run{
		tx:      tx,
		log:     e.log.Fork(logId),
		xTimer:  timer.NewXTimer(),
		receipt: &Receipt{LogId: logId},
	}
	defer e.report(r)

	if tx == nil {
		return e.reject(r, errors.Wrap(ErrNoInstructions, "nil transaction"))
	}
	if err := tx.Validate(); err != nil {
		return e.reject(r, err)
	}
	tr, err := track.New(e.db, e.conf.TrackCacheSize)
	if err != nil {
		return e.reject(r, err)
	}
	r.track = tr
	if err := checkReferences(tr, tx.References); err != nil {
		return e.reject(r, err)
	}
	r.xTimer.Mark("validate")

	if err := e.newKernel(r); err != nil {
		return e.reject(r, err)
	}
	r.xTimer.Mark("new_kernel")

	runErr := e.runInstructions(r)
	if runErr == nil {
		runErr = r.kernel.Stack().CloseRoot()
	}
	r.xTimer.Mark("run")

	if err := r.fee.Repay(); err != nil {
		if runErr == nil {
			runErr = err
		}
		return e.reject(r, runErr)
	}
	if runErr != nil {
		return e.fail(r, runErr)
	}
	return e.commit(r)
}

func checkReferences(tr *track.Track, refs []types.NodeId) error {
	for _, ref := range refs {
		if ref.EntityType().IsVirtual() {
			continue
		}
		exists, err := tr.NodeExists(ref)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Wrapf(ErrReferenceNotFound, "%s", ref)
		}
	}
	return nil
}

func (e *Executor) newKernel(r *run) error {
	io := substateio.New(heap.New(), r.track, substateio.NewNodeRefs(), substateio.Limits{
		MaxKeySize:   int(e.conf.MaxSubstateKeySize),
		MaxValueSize: int(e.conf.MaxSubstateValueSize),
	})
	r.fee = costing.New(e.conf.Costing, r.tx.CostUnitLimit)
	r.events = events.New()
	mixer := modules.NewMixer(
		tracing.New(r.log, e.conf.MetricSwitch),
		r.fee,
		auth.New(r.tx.SignerBadges),
		r.events,
	)
	k, err := engine.New(&engine.Params{
		Conf:      e.conf,
		IO:        io,
		Allocator: ids.NewAllocatorWithLimit(r.tx.IntentHash, e.conf.MaxNodeIds),
		VM:        e.vm,
		Modules:   mixer,
		Meter:     r.fee,
		Events:    r.events,
		Log:       r.log,
	})
	if err != nil {
		return err
	}
	root := k.Stack().Root()
	for _, ref := range r.tx.References {
		if err := root.AddGlobalReference(io, ref); err != nil {
			return err
		}
	}
	r.kernel = k
	return nil
}

func (e *Executor) runInstructions(r *run) error {
	var prev *substate.IndexedValue
	for idx, ins := range r.tx.Instructions {
		args := ins.Args
		if ins.UsePrevious {
			args = prev
		}
		var (
			out *substate.IndexedValue
			err error
		)
		switch ins.Kind {
		case CallFunction:
			out, err = r.kernel.CallFunction(ins.Blueprint, ins.Ident, args)
		case CallMethod:
			out, err = r.kernel.CallMethod(ins.Receiver, ins.Module, ins.Ident, args)
		}
		if err != nil {
			r.log.Warn("instruction failed", "index", idx, "instruction", ins, "err", err)
			return errors.WithMessagef(err, "instruction %d", idx)
		}
		r.receipt.Outputs = append(r.receipt.Outputs, out)
		prev = out
	}
	return nil
}

func (e *Executor) reject(r *run, err error) *Receipt {
	if r.track != nil {
		r.track.Discard()
	}
	r.receipt.Outcome = OutcomeReject
	r.receipt.Error = err
	return r.receipt
}

// fail keeps the force writes, which carry the locked fee.
func (e *Executor) fail(r *run, err error) *Receipt {
	r.track.RevertNonForceWrites()
	updates, cerr := r.track.Commit()
	if cerr != nil {
		r.log.Error("commit force writes failed", "err", cerr)
		return e.reject(r, cerr)
	}
	r.events.Clear()
	r.receipt.Outcome = OutcomeFailure
	r.receipt.Error = err
	r.receipt.Updates = updates
	r.receipt.Fee = r.fee.Summary()
	return r.receipt
}

func (e *Executor) commit(r *run) *Receipt {
	updates, err := r.track.Commit()
	if err != nil {
		r.log.Error("commit failed", "err", err)
		return e.reject(r, err)
	}
	r.receipt.Outcome = OutcomeCommit
	r.receipt.Updates = updates
	r.receipt.Events = r.events.Events()
	r.receipt.Logs = r.events.Logs()
	r.receipt.Fee = r.fee.Summary()
	return r.receipt
}

func (e *Executor) report(r *run) {
	r.xTimer.Mark("settle")
	r.receipt.Costs = r.xTimer.Print()
	ctx := []interface{}{"outcome", r.receipt.Outcome, "costs", r.receipt.Costs}
	if r.receipt.Fee != nil {
		ctx = append(ctx, "consumed", r.receipt.Fee.Consumed, "cost", r.receipt.Fee.Cost)
	}
	if r.receipt.Error != nil {
		ctx = append(ctx, "err", r.receipt.Error)
	}
	r.log.Info("transaction executed", ctx...)

	if !e.conf.MetricSwitch {
		return
	}
	metrics.TxOutcomeCounter.WithLabelValues(r.receipt.Outcome.String()).Inc()
	if r.fee != nil {
		metrics.CostUnitsHistogram.Observe(float64(r.fee.Consumed()))
	}
	for _, p := range r.xTimer.Points() {
		metrics.CallMethodHistogram.WithLabelValues(p.Tag).Observe(p.Delta.Seconds())
	}
}
