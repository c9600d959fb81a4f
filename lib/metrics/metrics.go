package metrics

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "xkernel"

	SubsystemKernel      = "kernel"
	SubsystemTransaction = "transaction"
	SubsystemStore       = "store"
	SubsystemTimer       = "timer"

	LabelActorKind = "actor_kind"
	LabelBlueprint = "blueprint"
	LabelIdent     = "ident"
	LabelResult    = "result"

	LabelLockType = "lock"

	LabelOutcome = "outcome"

	LabelTimerMark = "mark"
	LabelEngine    = "engine"
)

// kernel
var (
	InvokeCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemKernel,
			Name:      "invoke_total",
			Help:      "Total number of kernel invocations.",
		},
		[]string{LabelActorKind, LabelBlueprint, LabelIdent, LabelResult})
	InvokeHistogram = prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemKernel,
			Name:      "invoke_seconds",
			Help:      "Histogram of kernel invocation latency.",
			Buckets:   prom.DefBuckets,
		},
		[]string{LabelActorKind, LabelBlueprint})
	FrameDepthHistogram = prom.NewHistogram(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemKernel,
			Name:      "frame_depth",
			Help:      "Depth of pushed call frames.",
			Buckets:   prom.LinearBuckets(1, 1, 16),
		})
	LockCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemKernel,
			Name:      "lock_total",
			Help:      "Total number of substate locks.",
		},
		[]string{LabelLockType})
)

// transaction
var (
	TxOutcomeCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTransaction,
			Name:      "outcome_total",
			Help:      "Total number of executed transactions by outcome.",
		},
		[]string{LabelOutcome})
	CostUnitsHistogram = prom.NewHistogram(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTransaction,
			Name:      "cost_units",
			Help:      "Histogram of consumed cost units.",
			Buckets:   prom.ExponentialBuckets(100, 4, 10),
		})
	CallMethodHistogram = prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemTimer,
			Name:      "cost_seconds",
			Help:      "Histogram of transaction phase latency.",
			Buckets:   prom.DefBuckets,
		},
		[]string{LabelTimerMark})
)

// store
var (
	StoreCommitCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "commit_writes_total",
			Help:      "Total number of substate writes committed.",
		},
		[]string{LabelEngine})
)

var registerOnce sync.Once

// RegisterMetrics registers every collector on the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		// kernel
		prom.MustRegister(InvokeCounter)
		prom.MustRegister(InvokeHistogram)
		prom.MustRegister(FrameDepthHistogram)
		prom.MustRegister(LockCounter)
		// transaction
		prom.MustRegister(TxOutcomeCounter)
		prom.MustRegister(CostUnitsHistogram)
		prom.MustRegister(CallMethodHistogram)
		// store
		prom.MustRegister(StoreCommitCounter)
	})
}
