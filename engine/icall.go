package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// nativeCall is an internal call adapted to raw interpreter values.
type nativeCall func(rt *Runtime, args []any) (any, error)

type icallRegistry struct {
	funcs   map[string]nativeCall
	aliases map[string]string
}

func newICallRegistry() *icallRegistry {
	return &icallRegistry{
		funcs:   make(map[string]nativeCall),
		aliases: make(map[string]string),
	}
}

func normalizeCallName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "")
}

func (r *icallRegistry) add(name string, fn nativeCall) {
	r.funcs[normalizeCallName(name)] = fn
}

func (r *icallRegistry) alias(name, target string) {
	r.aliases[normalizeCallName(name)] = normalizeCallName(target)
}

// lookup finds the binding of m: by full signature, then by
// "Class::Name", then through the dll map.
func (r *icallRegistry) lookup(m *Method) nativeCall {
	keys := []string{m.fullName, m.class.fullName + "::" + m.name}
	for _, k := range keys {
		if fn := r.funcs[k]; fn != nil {
			return fn
		}
	}
	for _, k := range keys {
		if target, ok := r.aliases[k]; ok {
			if fn := r.funcs[target]; fn != nil {
				return fn
			}
		}
	}
	return nil
}

var (
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	objectType = reflect.TypeOf((*clr.Object)(nil)).Elem()
	anyType    = reflect.TypeOf((*any)(nil)).Elem()
)

// adaptNative wraps fn as an internal call. fn is a clr.NativeFunc or a Go
// function whose parameters are primitives, string, clr.Object or any, and
// whose results are at most one value followed by an optional error.
func adaptNative(fn any) (nativeCall, error) {
	switch f := fn.(type) {
	case nil:
		return nil, errors.InvalidInput(errors.PhaseHost, "function is nil")
	case clr.NativeFunc:
		return wrapNativeFunc(f), nil
	case func([]any) (any, error):
		return wrapNativeFunc(f), nil
	}

	rv := reflect.ValueOf(fn)
	ft := rv.Type()
	if ft.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Type(ft.String()).
			Detail("handler must be a function").
			Build()
	}
	if ft.IsVariadic() {
		return nil, errors.Unsupported(errors.PhaseHost, "variadic internal calls")
	}

	hasErr := ft.NumOut() > 0 && ft.Out(ft.NumOut()-1) == errorType
	values := ft.NumOut()
	if hasErr {
		values--
	}
	if values > 1 {
		return nil, errors.Unsupported(errors.PhaseHost, fmt.Sprintf("internal call with %d results", ft.NumOut()))
	}

	return func(rt *Runtime, args []any) (any, error) {
		if len(args) != ft.NumIn() {
			return nil, errors.InvalidInput(errors.PhaseInvoke,
				fmt.Sprintf("internal call takes %d arguments, got %d", ft.NumIn(), len(args)))
		}
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			v, err := nativeArg(a, ft.In(i))
			if err != nil {
				return nil, err
			}
			in[i] = v
		}

		out := rv.Call(in)
		if hasErr {
			if e := out[len(out)-1]; !e.IsNil() {
				return nil, e.Interface().(error)
			}
		}
		if values == 0 {
			return nil, nil
		}
		return out[0].Interface(), nil
	}, nil
}

func wrapNativeFunc(f func([]any) (any, error)) nativeCall {
	return func(rt *Runtime, args []any) (any, error) {
		out := make([]any, len(args))
		for i, a := range args {
			out[i] = export(a)
		}
		return f(out)
	}
}

// nativeArg converts a raw interpreter value to parameter type t.
func nativeArg(v any, t reflect.Type) (reflect.Value, error) {
	o, isObj := v.(*object)
	switch {
	case t == objectType:
		if !isObj || o == nil {
			if v == nil {
				return reflect.Zero(t), nil
			}
			return reflect.Value{}, castError(fmt.Sprintf("%T", v), "clr.Object")
		}
		return reflect.ValueOf(clr.Object(o.ref())), nil
	case t == anyType:
		if v == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(export(v)), nil
	case t.Kind() == reflect.String:
		if v == nil {
			return reflect.Zero(t), nil
		}
		if s, ok := unboxed(v).(string); ok {
			return reflect.ValueOf(s).Convert(t), nil
		}
		return reflect.Value{}, castError(fmt.Sprintf("%T", v), "string")
	}

	c, err := convertPrimitive(unboxed(v), t)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(c), nil
}

// AddInternalCall binds fn to the internal call name.
func (r *Runtime) AddInternalCall(name string, fn any) error {
	if strings.TrimSpace(name) == "" {
		return errors.InvalidInput(errors.PhaseHost, "internal call name cannot be empty")
	}
	if _, err := image.ParseMemberRef(name); err != nil {
		return errors.Registration(name, err)
	}
	call, err := adaptNative(fn)
	if err != nil {
		return errors.Registration(name, err)
	}
	r.icalls.add(name, call)
	debugf("icall registered: %s", name)
	return nil
}

// Host groups internal calls of one managed class. Every exported method
// except ClassName is bound as "ClassName::Method".
type Host interface {
	ClassName() string
}

// RegisterHost binds the exported methods of h.
func (r *Runtime) RegisterHost(h Host) error {
	class := h.ClassName()
	if class == "" {
		return errors.InvalidInput(errors.PhaseHost, "class name cannot be empty")
	}
	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "ClassName" {
			continue
		}
		if err := r.AddInternalCall(class+"::"+method.Name, rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// callNative runs an internal call. Go errors become managed exceptions.
func (r *Runtime) callNative(m *Method, args []any) any {
	fn := r.icalls.lookup(m)
	if fn == nil {
		r.throwNew("System.MissingMethodException", "Internal call not bound: "+m.fullName+".")
	}

	ret, err := r.runNative(fn, args)
	if err != nil {
		var thrown *ThrownError
		switch {
		case errors.As(err, &thrown):
			exc, uerr := unwrapObject(thrown.Exception)
			if uerr != nil {
				r.throwNew("System.InvalidOperationException", uerr.Error())
			}
			r.raise(exc)
		case errors.HasKind(err, errors.KindFatal):
			panic(&fatalSignal{err: err})
		case errors.HasKind(err, errors.KindInvalidInput), errors.HasKind(err, errors.KindTypeMismatch):
			r.throwNew("System.ArgumentException", err.Error())
		case errors.HasKind(err, errors.KindUnsupported):
			r.throwNew("System.NotSupportedException", err.Error())
		default:
			r.throwNew("System.Exception", err.Error())
		}
	}
	if m.isVoid() {
		return nil
	}
	return r.cast(r.coerce(m.class.img, ret, m.ret))
}

// runNative calls fn, converting a Go panic into an error. Interpreter
// signals pass through.
func (r *Runtime) runNative(fn nativeCall, args []any) (ret any, err error) {
	defer func() {
		if p := recover(); p != nil {
			switch p.(type) {
			case *throwSignal, *fatalSignal:
				panic(p)
			}
			err = errors.New(errors.PhaseInvoke, errors.KindUnsupported).
				Detail("internal call panicked: %v", p).
				Build()
		}
	}()
	return fn(r, args)
}

// instantiateAttributes constructs custom attribute objects.
func (r *Runtime) instantiateAttributes(img *Image, defs []image.AttributeDef) ([]clr.Object, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]clr.Object, 0, len(defs))
	base := len(r.tempRoots)
	defer func() { r.tempRoots = r.tempRoots[:base] }()
	for _, def := range defs {
		c := img.resolve(def.Type)
		if c == nil {
			return nil, unresolved(img, "attribute", def.Type)
		}
		var ctor *Method
		for _, m := range c.methods {
			if m.name == ".ctor" && !m.def.Static && len(m.params) == len(def.Args) {
				ctor = m
				break
			}
		}
		if ctor == nil {
			return nil, errors.NotFound(errors.PhaseReflect, "attribute constructor",
				fmt.Sprintf("%s with %d arguments", c.fullName, len(def.Args)))
		}

		args := make([]any, len(def.Args))
		for i, a := range def.Args {
			v, err := attributeArg(a, ctor.params[i])
			if err != nil {
				return nil, errors.Wrap(errors.PhaseReflect, errors.KindTypeMismatch, err, "attribute "+c.fullName)
			}
			args[i] = v
		}

		obj, err := r.heap.allocate(c, 0)
		if err != nil {
			return nil, err
		}
		r.tempRoots = append(r.tempRoots, obj)
		_, exc, err := r.invoke(ctor, obj.ref(), args)
		if err != nil {
			return nil, err
		}
		if exc != nil {
			return nil, &ThrownError{Exception: exc}
		}
		out = append(out, obj.ref())
	}
	return out, nil
}

// attributeArg parses an attribute argument literal for parameter t.
func attributeArg(s string, t *Type) (any, error) {
	switch t.elem {
	case "System.Boolean":
		return strconv.ParseBool(s)
	case "System.Double", "System.Single":
		return strconv.ParseFloat(s, 64)
	case "System.Char":
		rs := []rune(s)
		if len(rs) != 1 {
			return nil, fmt.Errorf("char literal %q", s)
		}
		return rs[0], nil
	case image.TypeString, image.TypeObject:
		return s, nil
	}
	if isPrimitive(t.elem) {
		return strconv.ParseInt(s, 0, 64)
	}
	if c := t.resolve(); c != nil && c.IsEnum() {
		return strconv.ParseInt(s, 0, 32)
	}
	return s, nil
}
