package invoke

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/dapgrid/internal/modspace"
	"github.com/vk/dapgrid/internal/registry"
)

type gadget struct {
	Label string
}

type widget struct {
	Gadget *gadget
	calls  int
}

var errBroken = errors.New("broken")

func (w *widget) SetGadget(g *gadget)             { w.Gadget = g; w.calls++ }
func (w *widget) Fail(*gadget) error              { return errBroken }
func (w *widget) Echo(g *gadget) (*gadget, error) { return g, nil }
func (w *widget) Explode(*gadget)                 { panic("kaboom") }
func (w *widget) Calls() int                      { return w.calls }
func (w *widget) Nothing() *gadget                { return nil }
func (w *widget) Pair(a *gadget, b *gadget)       {}
func (w *widget) Check() error                    { return errBroken }
func (w *widget) Share(s *shared)                 { w.calls += s.N }

var singleton = &widget{calls: 42}

const testManifest = `
symbol "test.Widget" {
  type = "test.widget"
}

symbol "test.Gadget" {
  type = "test.gadget"
}

symbol "test.Fragile" {
  type = "test.fragile"
}
`

func newCatalog() *registry.Registry {
	r := registry.New()
	r.RegisterType("test.widget", &registry.RegisteredType{
		New: func() any { return new(widget) },
		Statics: map[string]any{
			"INSTANCE": singleton,
			"WRONG":    &gadget{},
		},
	})
	r.RegisterType("test.gadget", &registry.RegisteredType{
		New: func() any { return new(gadget) },
	})
	r.RegisterType("test.shared", &registry.RegisteredType{
		New:    func() any { return new(shared) },
		Shared: true,
	})
	// The registry calls the factory once to learn its type; later calls panic.
	built := 0
	r.RegisterType("test.fragile", &registry.RegisteredType{
		New: func() any {
			built++
			if built > 1 {
				panic("out of parts")
			}
			return new(fragile)
		},
	})
	return r
}

type shared struct{ N int }

type fragile struct{}

// newNamespaces builds two sibling namespaces from the same manifest.
func newNamespaces(t *testing.T) (*modspace.Namespace, *modspace.Namespace) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.hcl"), []byte(testManifest), 0o644))

	catalog := newCatalog()
	host := modspace.NewHost(catalog)
	locs := []modspace.Location{{Path: dir}}
	a, err := modspace.Initialize(context.Background(), locs, host, catalog)
	require.NoError(t, err)
	b, err := modspace.Initialize(context.Background(), locs, host, catalog)
	require.NoError(t, err)
	return a, b
}

func resolve(t *testing.T, ns *modspace.Namespace, name string) *modspace.Symbol {
	t.Helper()
	sym, err := ns.Resolve(name)
	require.NoError(t, err)
	return sym
}

func build(t *testing.T, ns *modspace.Namespace, name string) *Instance {
	t.Helper()
	inst, err := NewInstance(resolve(t, ns, name))
	require.NoError(t, err)
	return inst
}

func TestNewInstance(t *testing.T) {
	ns, _ := newNamespaces(t)
	sym := resolve(t, ns, "test.Widget")

	a, err := NewInstance(sym)
	require.NoError(t, err)
	b, err := NewInstance(sym)
	require.NoError(t, err)

	assert.Same(t, sym, a.Symbol())
	assert.IsType(t, &widget{}, a.Value())
	assert.NotSame(t, a.Value(), b.Value())

	_, err = NewInstance(nil)
	assert.ErrorIs(t, err, ErrInvocation)
}

func TestNewInstance_ConstructorPanics(t *testing.T) {
	ns, _ := newNamespaces(t)

	_, err := NewInstance(resolve(t, ns, "test.Fragile"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvocation)
	assert.Contains(t, err.Error(), "out of parts")
}

func TestInvoke(t *testing.T) {
	ns, _ := newNamespaces(t)
	w := build(t, ns, "test.Widget")
	gadgetSym := resolve(t, ns, "test.Gadget")
	g := build(t, ns, "test.Gadget")
	g.Value().(*gadget).Label = "g1"

	res, err := Invoke(w, "SetGadget", gadgetSym, g)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Same(t, g.Value(), w.Value().(*widget).Gadget)

	res, err = Invoke(w, "Echo", gadgetSym, g)
	require.NoError(t, err)
	assert.Same(t, g.Value(), res)

	res, err = Invoke(w, "SetGadget", gadgetSym, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, w.Value().(*widget).Gadget)
}

func TestInvoke_Failures(t *testing.T) {
	ns, other := newNamespaces(t)
	w := build(t, ns, "test.Widget")
	gadgetSym := resolve(t, ns, "test.Gadget")
	widgetSym := resolve(t, ns, "test.Widget")
	g := build(t, ns, "test.Gadget")
	foreign := build(t, other, "test.Gadget")

	tests := []struct {
		name    string
		method  string
		argType *modspace.Symbol
		arg     *Instance
		cause   error
	}{
		{name: "missing operation", method: "Missing", argType: gadgetSym, arg: g},
		{name: "wrong arity", method: "Pair", argType: gadgetSym, arg: g},
		{name: "wrong argument type", method: "SetGadget", argType: widgetSym, arg: w},
		{name: "instance from another namespace", method: "SetGadget", argType: gadgetSym, arg: foreign},
		{name: "argument type from another namespace", method: "SetGadget", argType: resolve(t, other, "test.Gadget"), arg: g},
		{name: "argument and type from another namespace", method: "SetGadget", argType: resolve(t, other, "test.Gadget"), arg: foreign},
		{name: "operation returns error", method: "Fail", argType: gadgetSym, arg: g, cause: errBroken},
		{name: "operation panics", method: "Explode", argType: gadgetSym, arg: g},
		{name: "no argument type", method: "SetGadget", argType: nil, arg: g},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Invoke(w, tc.method, tc.argType, tc.arg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvocation)
			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, "invoke", ie.Op)
			if tc.cause != nil {
				assert.ErrorIs(t, err, tc.cause)
			}
		})
	}

	_, err := Invoke(nil, "SetGadget", gadgetSym, g)
	assert.ErrorIs(t, err, ErrInvocation)
	assert.Nil(t, w.Value().(*widget).Gadget, "no failed call may write into the target")
}

func TestInvoke_SharedParentType(t *testing.T) {
	ns, other := newNamespaces(t)
	sharedSym := resolve(t, ns, "test.shared")
	require.Same(t, sharedSym, resolve(t, other, "test.shared"))

	arg := build(t, other, "test.shared")
	arg.Value().(*shared).N = 5
	w := build(t, ns, "test.Widget")

	_, err := Invoke(w, "Share", sharedSym, arg)
	require.NoError(t, err)
	assert.Equal(t, 5, w.Value().(*widget).calls)
}

func TestInvokeNoArgs(t *testing.T) {
	ns, _ := newNamespaces(t)
	w := build(t, ns, "test.Widget")
	w.Value().(*widget).calls = 3

	res, err := InvokeNoArgs(w, "Calls")
	require.NoError(t, err)
	assert.Equal(t, 3, res)

	res, err = InvokeNoArgs(w, "Nothing")
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = InvokeNoArgs(w, "Check")
	assert.ErrorIs(t, err, errBroken)
	assert.ErrorIs(t, err, ErrInvocation)

	_, err = InvokeNoArgs(w, "SetGadget")
	assert.ErrorIs(t, err, ErrInvocation)

	_, err = InvokeNoArgs(w, "Missing")
	assert.ErrorIs(t, err, ErrInvocation)
}

func TestReadStaticSingleton(t *testing.T) {
	ns, _ := newNamespaces(t)
	sym := resolve(t, ns, "test.Widget")

	inst, err := ReadStaticSingleton(sym, "INSTANCE")
	require.NoError(t, err)
	assert.Same(t, singleton, inst.Value())
	assert.Same(t, sym, inst.Symbol())

	again, err := ReadStaticSingleton(sym, "INSTANCE")
	require.NoError(t, err)
	assert.Same(t, inst.Value(), again.Value())

	_, err = ReadStaticSingleton(sym, "MISSING")
	assert.ErrorIs(t, err, ErrInvocation)

	_, err = ReadStaticSingleton(sym, "WRONG")
	assert.ErrorIs(t, err, ErrInvocation)
}

func TestBind(t *testing.T) {
	ns, other := newNamespaces(t)
	v := &shared{N: 1}

	a, err := Bind(ns, v)
	require.NoError(t, err)
	b, err := Bind(other, v)
	require.NoError(t, err)
	assert.Same(t, a.Symbol(), b.Symbol(), "shared types resolve through the common parent")
	assert.Same(t, v, a.Value())

	_, err = Bind(ns, &struct{}{})
	assert.ErrorIs(t, err, ErrInvocation)
	_, err = Bind(ns, nil)
	assert.ErrorIs(t, err, ErrInvocation)
}

func TestReleasedNamespace(t *testing.T) {
	ns, _ := newNamespaces(t)
	sym := resolve(t, ns, "test.Widget")
	gadgetSym := resolve(t, ns, "test.Gadget")
	w := build(t, ns, "test.Widget")
	g := build(t, ns, "test.Gadget")

	require.NoError(t, ns.Release())

	_, err := NewInstance(sym)
	assert.ErrorIs(t, err, modspace.ErrReleased)
	_, err = Invoke(w, "SetGadget", gadgetSym, g)
	assert.ErrorIs(t, err, modspace.ErrReleased)
	_, err = InvokeNoArgs(w, "Calls")
	assert.ErrorIs(t, err, modspace.ErrReleased)
	_, err = ReadStaticSingleton(sym, "INSTANCE")
	assert.ErrorIs(t, err, modspace.ErrReleased)
}

func TestCheckOperation(t *testing.T) {
	ns, _ := newNamespaces(t)
	widgetSym := resolve(t, ns, "test.Widget")
	gadgetSym := resolve(t, ns, "test.Gadget")

	assert.NoError(t, CheckOperation(widgetSym, "SetGadget", gadgetSym))
	assert.NoError(t, CheckOperation(widgetSym, "Calls", nil))

	assert.ErrorIs(t, CheckOperation(widgetSym, "Missing", gadgetSym), ErrInvocation)
	assert.ErrorIs(t, CheckOperation(widgetSym, "SetGadget", widgetSym), ErrInvocation)
	assert.ErrorIs(t, CheckOperation(widgetSym, "SetGadget", nil), ErrInvocation)
	assert.ErrorIs(t, CheckOperation(widgetSym, "Calls", gadgetSym), ErrInvocation)
	assert.ErrorIs(t, CheckOperation(nil, "Calls", nil), ErrInvocation)
}
