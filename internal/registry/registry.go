package registry

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
)

// Module is the interface that all bundles must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// RegisteredType holds the compiled Go parts of a loadable model type.
type RegisteredType struct {
	// New returns a pointer to a fresh zero value of the type.
	New func() any
	// Statics are precomputed singletons exposed under a field name, the
	// way a mapper publishes its INSTANCE.
	Statics map[string]any
	// Shared marks a type that belongs to the host's own dependency graph.
	Shared bool

	goType reflect.Type
}

// GoType returns the reflect.Type of the values produced by New.
func (t *RegisteredType) GoType() reflect.Type {
	return t.goType
}

// Registry holds all the registered model types for a single application
// instance.
type Registry struct {
	types map[string]*RegisteredType
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		types: make(map[string]*RegisteredType),
	}
}

// RegisterType registers the Go factory for a model type under key.
func (r *Registry) RegisterType(key string, t *RegisteredType) {
	if _, exists := r.types[key]; exists {
		panic(fmt.Sprintf("model type with key '%s' already registered", key))
	}
	if t == nil || t.New == nil {
		panic(fmt.Sprintf("model type '%s' has no factory", key))
	}
	t.goType = reflect.TypeOf(t.New())
	slog.Debug("Registering model type.", "key", key, "go_type", t.goType.String(), "shared", t.Shared)
	r.types[key] = t
}

// Lookup returns the type registered under key.
func (r *Registry) Lookup(key string) (*RegisteredType, bool) {
	t, ok := r.types[key]
	return t, ok
}

// Keys returns every registered key in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.types))
	for k := range r.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Shared returns the keys of all types flagged as part of the host's own
// dependency graph, sorted.
func (r *Registry) Shared() []string {
	var keys []string
	for k, t := range r.types {
		if t.Shared {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
