package blueprint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/contract"
	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
)

// Handler is the native implementation of one blueprint function.
type Handler func(api contract.API, args *substate.IndexedValue) (*substate.IndexedValue, error)

type native struct {
	def      *Definition
	handlers map[string]Handler
}

// Registry holds the blueprints implemented in Go.
type Registry struct {
	mutex      sync.RWMutex
	blueprints map[types.BlueprintId]*native
	packages   map[types.NodeId]bool
	virtuals   map[types.EntityType]types.BlueprintId
}

func NewRegistry() *Registry {
	return &Registry{
		blueprints: make(map[types.BlueprintId]*native),
		packages:   make(map[types.NodeId]bool),
		virtuals:   make(map[types.EntityType]types.BlueprintId),
	}
}

// Register adds a native blueprint to pkg. It panics on an invalid
// definition, a duplicate or a function without a handler.
func (r *Registry) Register(pkg types.NodeId, def *Definition, handlers map[string]Handler) types.BlueprintId {
	if err := def.Validate(); err != nil {
		panic(err.Error())
	}
	for ident := range def.Functions {
		if handlers[ident] == nil {
			panic(fmt.Sprintf("blueprint %s function %s has no handler", def.Name, ident))
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := types.NewBlueprintId(pkg, def.Name)
	if _, exists := r.blueprints[id]; exists {
		panic(fmt.Sprintf("blueprint %s exists", id))
	}
	if v := def.Virtualize; v != nil {
		if other, exists := r.virtuals[v.Entity]; exists {
			panic(fmt.Sprintf("entity %s already virtualized by %s", v.Entity, other))
		}
		r.virtuals[v.Entity] = id
	}
	r.blueprints[id] = &native{def: def, handlers: handlers}
	r.packages[pkg] = true
	return id
}

// IsNative reports whether pkg has blueprints in the registry.
func (r *Registry) IsNative(pkg types.NodeId) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.packages[pkg]
}

func (r *Registry) get(bp types.BlueprintId) (*native, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	n, ok := r.blueprints[bp]
	if !ok {
		return nil, errors.Wrapf(types.ErrBlueprintNotFound, "native %s", bp)
	}
	return n, nil
}

func (r *Registry) Definition(bp types.BlueprintId) (*Definition, error) {
	n, err := r.get(bp)
	if err != nil {
		return nil, err
	}
	return n.def, nil
}

func (r *Registry) Handler(bp types.BlueprintId, ident string) (Handler, error) {
	n, err := r.get(bp)
	if err != nil {
		return nil, err
	}
	h, ok := n.handlers[ident]
	if !ok {
		return nil, errors.Wrapf(types.ErrFunctionNotFound, "%s.%s", bp, ident)
	}
	return h, nil
}

// VirtualBlueprint returns the blueprint that materialises nodes of entity.
func (r *Registry) VirtualBlueprint(entity types.EntityType) (types.BlueprintId, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	id, ok := r.virtuals[entity]
	return id, ok
}

func (r *Registry) Blueprints() []types.BlueprintId {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ids := make([]types.BlueprintId, 0, len(r.blueprints))
	for id := range r.blueprints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if c := types.CompareNodeIds(ids[i].Package, ids[j].Package); c != 0 {
			return c < 0
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}
