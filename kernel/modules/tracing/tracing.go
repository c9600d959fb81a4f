// Package tracing logs kernel activity and feeds the prometheus collectors.
package tracing

import (
	"time"

	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/lib/logs"
	"github.com/xuperchain/xkernel/lib/metrics"
)

const Name = "tracing"

type Tracing struct {
	modules.BaseModule
	log          logs.Logger
	metricSwitch bool
	starts       []time.Time
	invocations  int
	failures     int
}

func New(log logs.Logger, metricSwitch bool) *Tracing {
	if metricSwitch {
		metrics.RegisterMetrics()
	}
	return &Tracing{log: log, metricSwitch: metricSwitch}
}

func (t *Tracing) Name() string { return Name }

// Invocations reports pushed frames and how many of them failed.
func (t *Tracing) Invocations() (total int, failed int) {
	return t.invocations, t.failures
}

func (t *Tracing) BeforeInvoke(info *modules.InvokeInfo) error {
	t.log.Debug("invoke", "actor", info.Actor, "blueprint", info.Blueprint, "depth", info.Depth, "args", info.ArgsSize)
	return nil
}

func (t *Tracing) OnPushFrame(depth int, actor types.Actor, msg callframe.Message) error {
	t.starts = append(t.starts, time.Now())
	t.invocations++
	t.log.Trace("push frame", "depth", depth, "actor", actor, "move", len(msg.Move), "refs", len(msg.CopyRef))
	if t.metricSwitch {
		metrics.FrameDepthHistogram.Observe(float64(depth))
	}
	return nil
}

func (t *Tracing) OnPopFrame(depth int, actor types.Actor, success bool) error {
	var elapsed time.Duration
	if n := len(t.starts); n > 0 {
		elapsed = time.Since(t.starts[n-1])
		t.starts = t.starts[:n-1]
	}
	result := "ok"
	if !success {
		result = "failed"
		t.failures++
		t.log.Warn("frame failed", "depth", depth, "actor", actor, "cost", elapsed)
	} else {
		t.log.Trace("pop frame", "depth", depth, "actor", actor, "cost", elapsed)
	}
	if t.metricSwitch {
		kind, bp := actor.Kind.String(), actor.Blueprint.Name
		metrics.InvokeCounter.WithLabelValues(kind, bp, actor.Ident, result).Inc()
		metrics.InvokeHistogram.WithLabelValues(kind, bp).Observe(elapsed.Seconds())
	}
	return nil
}

func (t *Tracing) OnCreateNode(id types.NodeId, size int) error {
	t.log.Trace("create node", "node", id, "size", size)
	return nil
}

func (t *Tracing) OnDropNode(id types.NodeId) error {
	t.log.Trace("drop node", "node", id)
	return nil
}

func (t *Tracing) OnOpenLock(loc types.SubstateLocation, flags types.LockFlags, size int) error {
	t.log.Trace("open lock", "location", loc, "flags", flags, "size", size)
	if t.metricSwitch {
		metrics.LockCounter.WithLabelValues(flags.String()).Inc()
	}
	return nil
}
