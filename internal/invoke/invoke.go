// Package invoke is the generic invocation layer. It constructs values of
// symbols resolved in a namespace and calls their operations by name, so that
// the host never needs compile-time knowledge of a bundle's types.
//
// Every failure is reported as an *Error matching ErrInvocation.
package invoke

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/vk/dapgrid/internal/modspace"
)

// ErrInvocation matches every error produced by this package.
var ErrInvocation = errors.New("invocation failed")

// Error describes one failed construction, call or static read.
type Error struct {
	Op     string
	Symbol string
	Member string
	Err    error
}

func (e *Error) Error() string {
	target := e.Symbol
	if e.Member != "" {
		target += "." + e.Member
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrInvocation.
func (e *Error) Is(target error) bool { return target == ErrInvocation }

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Instance is a value of a namespace symbol. It remembers the symbol so that
// values built in different namespaces are never mixed.
type Instance struct {
	sym *modspace.Symbol
	val reflect.Value
}

// Symbol returns the symbol the instance was built from.
func (i *Instance) Symbol() *modspace.Symbol { return i.sym }

// Value returns the underlying pointer value.
func (i *Instance) Value() any { return i.val.Interface() }

func (i *Instance) String() string { return i.sym.String() }

func checkValid(op string, sym *modspace.Symbol, member string) error {
	if sym == nil {
		return &Error{Op: op, Symbol: "<nil>", Member: member, Err: errors.New("no symbol")}
	}
	if !sym.Valid() {
		return &Error{Op: op, Symbol: sym.Name(), Member: member, Err: modspace.ErrReleased}
	}
	return nil
}

// NewInstance builds a fresh value of sym.
func NewInstance(sym *modspace.Symbol) (inst *Instance, err error) {
	if err := checkValid("new", sym, ""); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, &Error{Op: "new", Symbol: sym.Name(), Err: fmt.Errorf("constructor panicked: %v", r)}
		}
	}()

	v := reflect.ValueOf(sym.Factory()())
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, &Error{Op: "new", Symbol: sym.Name(), Err: errors.New("type is not instantiable")}
	}
	if v.Type() != sym.GoType() {
		return nil, &Error{Op: "new", Symbol: sym.Name(), Err: fmt.Errorf("constructor returned %s, want %s", v.Type(), sym.GoType())}
	}
	return &Instance{sym: sym, val: v}, nil
}

// Bind wraps a value the host already holds, such as a shared entity, as an
// instance of the symbol ns resolves for its Go type.
func Bind(ns *modspace.Namespace, v any) (*Instance, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, &Error{Op: "bind", Symbol: fmt.Sprintf("%T", v), Err: errors.New("value must be a non-nil pointer")}
	}
	sym, err := ns.SymbolOf(rv.Type())
	if err != nil {
		return nil, &Error{Op: "bind", Symbol: rv.Type().String(), Err: err}
	}
	return &Instance{sym: sym, val: rv}, nil
}

// Invoke calls the one-argument operation method on target. argType is the
// symbol the argument must be an instance of; a nil arg passes the zero
// value. The method's first non-error result is returned, or nil when it
// has none. A non-nil trailing error result fails the call.
func Invoke(target *Instance, method string, argType *modspace.Symbol, arg *Instance) (any, error) {
	if target == nil {
		return nil, &Error{Op: "invoke", Symbol: "<nil>", Member: method, Err: errors.New("no target")}
	}
	if err := checkValid("invoke", target.sym, method); err != nil {
		return nil, err
	}
	name := target.sym.Name()
	switch {
	case argType == nil:
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: errors.New("no argument type")}
	case !argType.Valid():
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("argument type %s: %w", argType.Name(), modspace.ErrReleased)}
	}
	// The argument type must be the one the target's namespace sees under
	// that name: its own symbol or one shared through a parent.
	if visible, err := target.sym.Namespace().Resolve(argType.Name()); err != nil || visible != argType {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("argument type %s is not visible from %s", argType, target.sym)}
	}

	m := target.val.MethodByName(method)
	if !m.IsValid() {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: errors.New("no such operation")}
	}
	mt := m.Type()
	if mt.NumIn() != 1 {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("operation takes %d arguments, want 1", mt.NumIn())}
	}
	if !argType.GoType().AssignableTo(mt.In(0)) {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("operation does not accept %s", argType.Name())}
	}

	var in reflect.Value
	if arg == nil {
		in = reflect.Zero(mt.In(0))
	} else {
		if arg.sym != argType {
			return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("argument is an instance of %s, not %s", arg.sym, argType)}
		}
		in = arg.val
	}
	return call(name, method, m, []reflect.Value{in})
}

// InvokeNoArgs calls a no-argument operation on target.
func InvokeNoArgs(target *Instance, method string) (any, error) {
	if target == nil {
		return nil, &Error{Op: "invoke", Symbol: "<nil>", Member: method, Err: errors.New("no target")}
	}
	if err := checkValid("invoke", target.sym, method); err != nil {
		return nil, err
	}
	name := target.sym.Name()
	m := target.val.MethodByName(method)
	if !m.IsValid() {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: errors.New("no such operation")}
	}
	if n := m.Type().NumIn(); n != 0 {
		return nil, &Error{Op: "invoke", Symbol: name, Member: method, Err: fmt.Errorf("operation takes %d arguments, want 0", n)}
	}
	return call(name, method, m, nil)
}

// ReadStaticSingleton reads the static field of sym holding its singleton.
func ReadStaticSingleton(sym *modspace.Symbol, field string) (*Instance, error) {
	if err := checkValid("read static", sym, field); err != nil {
		return nil, err
	}
	v, ok := sym.Static(field)
	if !ok {
		return nil, &Error{Op: "read static", Symbol: sym.Name(), Member: field, Err: errors.New("no such static field")}
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
		return nil, &Error{Op: "read static", Symbol: sym.Name(), Member: field, Err: errors.New("static field is nil")}
	}
	if rv.Type() != sym.GoType() {
		return nil, &Error{Op: "read static", Symbol: sym.Name(), Member: field, Err: fmt.Errorf("static field holds %s, want %s", rv.Type(), sym.GoType())}
	}
	return &Instance{sym: sym, val: rv}, nil
}

func call(symbol, method string, m reflect.Value, in []reflect.Value) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &Error{Op: "invoke", Symbol: symbol, Member: method, Err: fmt.Errorf("operation panicked: %v", r)}
		}
	}()

	out := m.Call(in)
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if e := out[n-1]; !e.IsNil() {
			return nil, &Error{Op: "invoke", Symbol: symbol, Member: method, Err: e.Interface().(error)}
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	r := out[0]
	switch r.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if r.IsNil() {
			return nil, nil
		}
	}
	return r.Interface(), nil
}

// CheckOperation verifies, without calling anything, that values of sym
// expose method and that it accepts an instance of argType. A nil argType
// checks for a no-argument operation.
func CheckOperation(sym *modspace.Symbol, method string, argType *modspace.Symbol) error {
	if err := checkValid("check", sym, method); err != nil {
		return err
	}
	m, ok := sym.GoType().MethodByName(method)
	if !ok {
		return &Error{Op: "check", Symbol: sym.Name(), Member: method, Err: errors.New("no such operation")}
	}
	// m.Type includes the receiver.
	if argType == nil {
		if m.Type.NumIn() != 1 {
			return &Error{Op: "check", Symbol: sym.Name(), Member: method, Err: fmt.Errorf("operation takes %d arguments, want 0", m.Type.NumIn()-1)}
		}
		return nil
	}
	if m.Type.NumIn() != 2 {
		return &Error{Op: "check", Symbol: sym.Name(), Member: method, Err: fmt.Errorf("operation takes %d arguments, want 1", m.Type.NumIn()-1)}
	}
	if !argType.GoType().AssignableTo(m.Type.In(1)) {
		return &Error{Op: "check", Symbol: sym.Name(), Member: method, Err: fmt.Errorf("operation does not accept %s", argType.Name())}
	}
	return nil
}
