// Package engine drives invocations: it resolves actors, pushes and pops
// call frames around executors and offers the system API to them.
package engine

import (
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/blueprint"
	"github.com/xuperchain/xkernel/kernel/callframe"
	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/ids"
	"github.com/xuperchain/xkernel/kernel/modules"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/substateio"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/kernel/vm"
	"github.com/xuperchain/xkernel/lib/logs"
)

// Dispatcher runs blueprint code and knows blueprint definitions.
type Dispatcher interface {
	contract.Executor
	Definition(r vm.StateReader, bp types.BlueprintId) (*blueprint.Definition, error)
	Registry() *blueprint.Registry
}

type Params struct {
	Conf      *xconfig.KernelConf
	IO        *substateio.SubstateIO
	Allocator *ids.Allocator
	VM        Dispatcher
	Modules   *modules.Mixer
	// optional
	Meter  modules.CostMeter
	Events modules.EventSink
	Log    logs.Logger
}

// Kernel runs one transaction. It is not safe for concurrent use.
type Kernel struct {
	conf    *xconfig.KernelConf
	io      *substateio.SubstateIO
	stack   *callframe.Stack
	ids     *ids.Allocator
	vm      Dispatcher
	modules *modules.Mixer
	meter   modules.CostMeter
	sink    modules.EventSink
	log     logs.Logger

	// allocated ids not yet used by a node
	allocated types.NodeSet
}

var _ contract.API = (*Kernel)(nil)

func New(p *Params) (*Kernel, error) {
	if p == nil || p.Conf == nil || p.IO == nil || p.Allocator == nil || p.VM == nil {
		return nil, errors.New("new kernel: missing params")
	}
	k := &Kernel{
		conf:      p.Conf,
		io:        p.IO,
		stack:     callframe.NewStack(p.IO),
		ids:       p.Allocator,
		vm:        p.VM,
		modules:   p.Modules,
		meter:     p.Meter,
		sink:      p.Events,
		log:       p.Log,
		allocated: types.NewNodeSet(),
	}
	if k.modules == nil {
		k.modules = modules.NewMixer()
	}
	if k.log == nil {
		k.log = logs.NewDiscardLogger()
	}
	if err := k.modules.OnInit(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Kernel) Stack() *callframe.Stack       { return k.stack }
func (k *Kernel) IO() *substateio.SubstateIO    { return k.io }
func (k *Kernel) Allocator() *ids.Allocator     { return k.ids }
func (k *Kernel) Modules() *modules.Mixer       { return k.modules }
func (k *Kernel) current() *callframe.CallFrame { return k.stack.Current() }

// resolution is an actor with its blueprint and function definition.
type resolution struct {
	actor types.Actor
	def   *blueprint.Definition
	fn    *blueprint.FunctionDef
	// the callee needs a reference to its code package
	packageRef bool
}

func (k *Kernel) typeInfo(id types.NodeId) (*blueprint.TypeInfo, error) {
	v, ok, err := k.io.Get(blueprint.TypeInfoLocation(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(types.ErrNodeNotFound, "type info of %s", id)
	}
	return blueprint.DecodeTypeInfo(v)
}

func (k *Kernel) resolve(actor types.Actor, msg *callframe.Message) (*resolution, error) {
	var method bool
	switch actor.Kind {
	case types.ActorMethod:
		method = true
		if !k.current().IsVisible(actor.Receiver) {
			return nil, errors.Wrapf(types.ErrNodeNotVisible, "receiver %s", actor.Receiver)
		}
		if err := k.ensureLoaded(actor.Receiver); err != nil {
			return nil, err
		}
		if actor.Module == types.ModuleMain {
			info, err := k.typeInfo(actor.Receiver)
			if err != nil {
				return nil, err
			}
			actor.Blueprint = info.Blueprint
		} else {
			bp, ok := blueprint.ModuleBlueprint(actor.Module)
			if !ok {
				return nil, errors.Wrapf(types.ErrBlueprintNotFound, "module %s", actor.Module)
			}
			actor.Blueprint = bp
		}
		msg.AddRefs(actor.Receiver)
	case types.ActorFunction, types.ActorVirtualLazyLoad:
	default:
		return nil, errors.Wrapf(types.ErrFunctionNotFound, "cannot invoke %s", actor)
	}

	def, err := k.vm.Definition(k.io, actor.Blueprint)
	if err != nil {
		return nil, err
	}
	fn, err := def.Function(actor.Ident, method)
	if err != nil {
		return nil, err
	}
	return &resolution{
		actor:      actor,
		def:        def,
		fn:         fn,
		packageRef: !k.vm.Registry().IsNative(actor.Blueprint.Package),
	}, nil
}

// ensureLoaded materialises a missing virtual global node through the
// virtualize function of its blueprint.
func (k *Kernel) ensureLoaded(id types.NodeId) error {
	if !id.EntityType().IsVirtual() {
		return nil
	}
	exists, err := k.io.NodeExists(id)
	if err != nil || exists {
		return err
	}
	bp, ok := k.vm.Registry().VirtualBlueprint(id.EntityType())
	if !ok {
		return errors.Wrapf(types.ErrNodeNotFound, "no blueprint virtualizes %s", id)
	}
	def, err := k.vm.Definition(k.io, bp)
	if err != nil {
		return err
	}
	if def.Virtualize == nil {
		return errors.Wrapf(types.ErrFunctionNotFound, "%s has no virtualize function", bp)
	}
	actor := types.VirtualLazyLoadActor(bp, def.Virtualize.Function, id)
	if _, err := k.Invoke(actor, substate.FromData(id.Bytes()), k.vm); err != nil {
		return err
	}
	exists, err = k.io.NodeExists(id)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(types.ErrNodeNotFound, "lazy load did not create %s", id)
	}
	k.log.Debug("virtual node loaded", "node", id, "blueprint", bp)
	return nil
}

// Invoke runs executor for actor in a new call frame. Nodes owned by args
// move to the callee, nodes owned by the result move back. On any error
// the callee frame is discarded and the error returned unchanged. Once the
// callee frame was pushed, its failure also fails the calling frame.
func (k *Kernel) Invoke(actor types.Actor, args *substate.IndexedValue, executor contract.Executor) (*substate.IndexedValue, error) {
	if args == nil {
		args = substate.Empty()
	}
	msg := callframe.MessageFromValue(args)
	depth := k.stack.Depth() + 1
	if depth > k.conf.MaxCallDepth {
		return nil, errors.Wrapf(types.ErrMaxCallDepthExceeded, "%s at depth %d, max %d", actor, depth, k.conf.MaxCallDepth)
	}
	res, err := k.resolve(actor, &msg)
	if err != nil {
		return nil, err
	}
	info := &modules.InvokeInfo{
		Actor:     res.actor,
		Blueprint: res.actor.Blueprint,
		Function:  res.fn,
		Depth:     depth,
		ArgsSize:  args.Size(),
	}
	if err := k.modules.BeforeInvoke(info); err != nil {
		return nil, err
	}
	if _, err := k.stack.Push(res.actor, msg); err != nil {
		return nil, err
	}
	if err := k.modules.OnPushFrame(depth, res.actor, msg); err != nil {
		k.unwind(err)
		return nil, err
	}

	output, err := k.run(res, info, args, executor)
	if err != nil {
		k.fail(err)
		_ = k.modules.OnPopFrame(depth, res.actor, false)
		return nil, err
	}
	// the pop is validated before modules see it succeed
	if err := k.modules.OnPopFrame(depth, res.actor, true); err != nil {
		k.fail(err)
		return nil, err
	}
	if _, err := k.stack.PopSuccess(callframe.MessageFromValue(output)); err != nil {
		k.fail(err)
		return nil, err
	}
	return output, nil
}

// run executes the pushed frame and checks it can return output. Every
// error leaves the callee frame live for unwinding.
func (k *Kernel) run(res *resolution, info *modules.InvokeInfo, args *substate.IndexedValue, executor contract.Executor) (*substate.IndexedValue, error) {
	if res.packageRef {
		if err := k.current().AddGlobalReference(k.io, res.actor.Blueprint.Package); err != nil {
			return nil, err
		}
	}
	output, err := executor.Execute(k, &contract.Invocation{
		Actor:     res.actor,
		Blueprint: res.actor.Blueprint,
		Ident:     res.actor.Ident,
		Args:      args,
	})
	if err != nil {
		return nil, err
	}
	if output == nil {
		output = substate.Empty()
	}
	if err := k.autoDrop(output); err != nil {
		return nil, err
	}
	if err := k.modules.AfterInvoke(info, output.Size()); err != nil {
		return nil, err
	}
	if err := k.stack.CheckPopSuccess(callframe.MessageFromValue(output)); err != nil {
		return nil, err
	}
	return output, nil
}

// fail discards the active frame after cause and marks its caller, which
// then cannot return successfully either.
func (k *Kernel) fail(cause error) {
	k.unwind(cause)
	k.current().MarkFailed(cause)
}

// unwind discards the active frame after cause.
func (k *Kernel) unwind(cause error) {
	frame := k.current()
	if err := k.stack.PopFailure(); err != nil {
		k.log.Error("pop failed frame", "frame", frame, "cause", cause, "err", err)
	}
}

// autoDrop drops the owned nodes of auto drop blueprints the output does
// not carry back to the caller.
func (k *Kernel) autoDrop(output *substate.IndexedValue) error {
	frame := k.current()
	for _, id := range frame.OwnedNodes() {
		if output.Owns(id) {
			continue
		}
		info, err := k.typeInfo(id)
		if err != nil {
			return err
		}
		def, err := k.vm.Definition(k.io, info.Blueprint)
		if err != nil {
			return err
		}
		if !def.AutoDrop {
			continue
		}
		if _, err := k.DropNode(id); err != nil {
			return err
		}
	}
	return nil
}

// CallMethod invokes a method from the active frame through the VM.
func (k *Kernel) CallMethod(receiver types.NodeId, module types.ModuleId, ident string, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	return k.Invoke(types.MethodActor(receiver, module, ident), args, k.vm)
}

func (k *Kernel) CallFunction(bp types.BlueprintId, ident string, args *substate.IndexedValue) (*substate.IndexedValue, error) {
	return k.Invoke(types.FunctionActor(bp, ident), args, k.vm)
}
