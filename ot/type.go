package ot

import (
	"sort"
	"sync"
)

// Side breaks ties when two operations insert at the same position.
// The operation transformed with SideLeft ends up first.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Type is the capability a document type provides to the model: creating
// empty content, transforming concurrent operations and applying them.
// Implementations must be deterministic and safe for concurrent use.
type Type interface {
	Name() string
	Create() any
	Transform(op, other any, side Side) (any, error)
	Apply(content, op any) (any, error)

	// DecodeOp and DecodeContent turn JSON produced from this type's values
	// back into them. Gateways that serialize records rely on these.
	DecodeOp(data []byte) (any, error)
	DecodeContent(data []byte) (any, error)
}

// Sizer is implemented by types that can report the size of their content.
type Sizer interface {
	Size(content any) int
}

// Registry maps type names to implementations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type)}
	for _, t := range types {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any type registered under the same name.
func (r *Registry) Register(t Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name()] = t
}

func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
