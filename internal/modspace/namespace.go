package modspace

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vk/dapgrid/internal/ctxlog"
	"github.com/vk/dapgrid/internal/registry"
)

// DefaultMapperInstance is the static field a pipeline reads its conversion
// singleton from when the manifest does not name one.
const DefaultMapperInstance = "INSTANCE"

// Symbol is a qualified name resolved inside one namespace. It is the
// handle the invocation layer constructs and calls through.
type Symbol struct {
	name  string
	key   string
	ns    *Namespace
	typ   *registry.RegisteredType
	roles map[string]string
}

// Name returns the fully-qualified name the symbol was exported under.
func (s *Symbol) Name() string { return s.name }

// Key returns the registry key of the compiled type behind the symbol.
func (s *Symbol) Key() string { return s.key }

// Namespace returns the namespace that defined the symbol.
func (s *Symbol) Namespace() *Namespace { return s.ns }

// GoType returns the pointer type of values built for this symbol.
func (s *Symbol) GoType() reflect.Type { return s.typ.GoType() }

// Factory returns the constructor of the compiled type.
func (s *Symbol) Factory() func() any { return s.typ.New }

// Static returns a precomputed static value published by the type.
func (s *Symbol) Static(field string) (any, bool) {
	v, ok := s.typ.Statics[field]
	return v, ok
}

// Operation returns the method a role tag is dispatched to.
func (s *Symbol) Operation(tag string) (string, bool) {
	op, ok := s.roles[tag]
	return op, ok
}

// Roles returns the declared role tags in sorted order.
func (s *Symbol) Roles() []string {
	tags := make([]string, 0, len(s.roles))
	for t := range s.roles {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Valid reports whether the defining namespace is still open.
func (s *Symbol) Valid() bool { return !s.ns.Released() }

func (s *Symbol) String() string {
	return fmt.Sprintf("%s@%s", s.name, s.ns.ID())
}

// Pipeline names the symbols and operations the assembler wires together.
type Pipeline struct {
	Name           string
	RequestInfo    string
	Target         string
	Mapper         string
	MapperInstance string
	Convert        string
	SetRequestInfo string
	Entity         string
	SetDecision    string
	GetDecision    string
}

// Namespace is an isolated set of symbols plus a parent for everything it
// does not define itself.
type Namespace struct {
	id        string
	parent    *Namespace
	locations []Location
	symbols   map[string]*Symbol
	byType    map[reflect.Type]*Symbol
	pipelines map[string]*Pipeline
	released  atomic.Bool
}

func newNamespace(parent *Namespace, locations []Location) *Namespace {
	return &Namespace{
		id:        uuid.NewString(),
		parent:    parent,
		locations: locations,
		symbols:   make(map[string]*Symbol),
		byType:    make(map[reflect.Type]*Symbol),
		pipelines: make(map[string]*Pipeline),
	}
}

// NewHost builds the root namespace holding every shared type of the
// catalog, each exported under its registry key.
func NewHost(catalog *registry.Registry) *Namespace {
	ns := newNamespace(nil, nil)
	for _, key := range catalog.Shared() {
		t, _ := catalog.Lookup(key)
		sym := &Symbol{name: key, key: key, ns: ns, typ: t, roles: map[string]string{}}
		ns.symbols[key] = sym
		ns.byType[t.GoType()] = sym
	}
	return ns
}

// Initialize builds a namespace from the manifests found at locations.
// Names are resolved in the namespace first and then through parent. The
// returned error wraps ErrInit and is fatal to the caller.
//
// When several locations export the same qualified name the earliest
// location wins. Within one location a duplicate is an error.
func Initialize(ctx context.Context, locations []Location, parent *Namespace, catalog *registry.Registry) (*Namespace, error) {
	logger := ctxlog.FromContext(ctx)
	if catalog == nil {
		return nil, fmt.Errorf("%w: no type catalog", ErrInit)
	}
	if parent != nil && parent.Released() {
		return nil, fmt.Errorf("%w: parent %w", ErrInit, ErrReleased)
	}

	manifests, err := loadManifests(ctx, locations)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	ns := newNamespace(parent, append([]Location(nil), locations...))
	origin := make(map[string]Location)
	var errs []string

	for _, m := range manifests {
		for _, def := range m.config.Symbols {
			if prev, ok := origin[def.Name]; ok {
				if prev.Path == m.location.Path {
					errs = append(errs, fmt.Sprintf("%s: symbol %q declared more than once", m.path, def.Name))
				} else {
					logger.Warn("Symbol shadowed by an earlier module location, skipping.", "symbol", def.Name, "kept", prev.Path, "skipped", m.location.Path)
				}
				continue
			}
			origin[def.Name] = m.location

			t, ok := catalog.Lookup(def.Type)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s: symbol %q refers to unregistered type %q", m.path, def.Name, def.Type))
				continue
			}
			if other, dup := ns.byType[t.GoType()]; dup {
				errs = append(errs, fmt.Sprintf("%s: type %q is already exported as %q", m.path, def.Type, other.name))
				continue
			}

			sym := &Symbol{name: def.Name, key: def.Type, ns: ns, typ: t, roles: make(map[string]string)}
			for _, role := range def.Roles {
				if _, dup := sym.roles[role.Tag]; dup {
					errs = append(errs, fmt.Sprintf("%s: symbol %q declares role %q more than once", m.path, def.Name, role.Tag))
					continue
				}
				if err := checkSingleArgMethod(t.GoType(), role.Operation); err != nil {
					errs = append(errs, fmt.Sprintf("%s: role %q of %q: %v", m.path, role.Tag, def.Name, err))
					continue
				}
				sym.roles[role.Tag] = role.Operation
			}
			ns.symbols[def.Name] = sym
			ns.byType[t.GoType()] = sym
		}

		for _, def := range m.config.Pipelines {
			if _, dup := ns.pipelines[def.Name]; dup {
				errs = append(errs, fmt.Sprintf("%s: pipeline %q declared more than once", m.path, def.Name))
				continue
			}
			p := &Pipeline{
				Name:           def.Name,
				RequestInfo:    def.RequestInfo,
				Target:         def.Target,
				Mapper:         def.Mapper,
				MapperInstance: def.MapperInstance,
				Convert:        def.Convert,
				SetRequestInfo: def.SetRequestInfo,
				Entity:         def.Entity,
				SetDecision:    def.SetDecision,
				GetDecision:    def.GetDecision,
			}
			if p.MapperInstance == "" {
				p.MapperInstance = DefaultMapperInstance
			}
			ns.pipelines[def.Name] = p
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w:\n- %s", ErrInit, strings.Join(errs, "\n- "))
	}
	if len(ns.symbols) == 0 {
		logger.Warn("Namespace exports no symbols.", "locations", len(locations))
	}

	logger.Info("Namespace initialized.", "id", ns.id, "symbols", len(ns.symbols), "pipelines", len(ns.pipelines), "manifests", len(manifests))
	return ns, nil
}

// checkSingleArgMethod reports whether the pointer type exposes an exported
// method taking exactly one argument.
func checkSingleArgMethod(t reflect.Type, name string) error {
	m, ok := t.MethodByName(name)
	if !ok {
		return fmt.Errorf("type %s has no method %q", t, name)
	}
	if m.Type.NumIn() != 2 {
		return fmt.Errorf("method %s.%s must take exactly one argument", t, name)
	}
	return nil
}

// ID returns the unique identifier of the namespace.
func (ns *Namespace) ID() string { return ns.id }

// Parent returns the namespace names fall back to, or nil for a root.
func (ns *Namespace) Parent() *Namespace { return ns.parent }

// Locations returns the locations the namespace was built from.
func (ns *Namespace) Locations() []Location {
	return append([]Location(nil), ns.locations...)
}

// Released reports whether Release has been called.
func (ns *Namespace) Released() bool { return ns.released.Load() }

// Resolve looks a qualified name up in the namespace, then in its parent
// chain. Resolving the same name twice returns the same Symbol.
func (ns *Namespace) Resolve(name string) (*Symbol, error) {
	if ns.Released() {
		return nil, fmt.Errorf("resolve %q: %w", name, ErrReleased)
	}
	for cur := ns; cur != nil; cur = cur.parent {
		if sym, ok := cur.symbols[name]; ok {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
}

// SymbolOf returns the symbol whose values have the Go type t, searching the
// parent chain the same way Resolve does.
func (ns *Namespace) SymbolOf(t reflect.Type) (*Symbol, error) {
	if ns.Released() {
		return nil, fmt.Errorf("symbol of %s: %w", t, ErrReleased)
	}
	for cur := ns; cur != nil; cur = cur.parent {
		if sym, ok := cur.byType[t]; ok {
			return sym, nil
		}
	}
	return nil, fmt.Errorf("%w: no symbol for Go type %s", ErrSymbolNotFound, t)
}

// Names returns the names the namespace defines itself, sorted.
func (ns *Namespace) Names() []string {
	names := make([]string, 0, len(ns.symbols))
	for n := range ns.symbols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pipeline returns the pipeline declared under name.
func (ns *Namespace) Pipeline(name string) (*Pipeline, error) {
	if ns.Released() {
		return nil, fmt.Errorf("pipeline %q: %w", name, ErrReleased)
	}
	p, ok := ns.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	cp := *p
	return &cp, nil
}

// Release invalidates the namespace and every symbol it defined. The parent
// is left untouched. A second call returns ErrAlreadyReleased.
func (ns *Namespace) Release() error {
	if !ns.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	return nil
}

type nsKey struct{}

// WithNamespace returns a context carrying ns as the current namespace.
func WithNamespace(ctx context.Context, ns *Namespace) context.Context {
	return context.WithValue(ctx, nsKey{}, ns)
}

// Current returns the namespace attached to ctx, or nil.
func Current(ctx context.Context) *Namespace {
	if ctx == nil {
		return nil
	}
	ns, _ := ctx.Value(nsKey{}).(*Namespace)
	return ns
}
