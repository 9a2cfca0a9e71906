package managed

import (
	"fmt"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// Object is a managed object kept reachable from Go through a GC handle.
//
// The address of a pinned object never changes, so it is read once and
// cached. Movable and weak objects resolve their target through the
// runtime on every access, which keeps them valid across collections.
// A weak object's target may be collected; accessors then return a
// collected error.
//
// Objects are used by pointer. Use Clone for a second reference; a value
// copy shares the handle and stops resolving once either copy is freed.
type Object struct {
	ctx    *Context
	class  clr.Class
	pinned clr.Object
	handle clr.GCHandle
	kind   clr.HandleKind
	addr   uintptr
}

// newObject takes a GC handle of the given kind to raw.
func newObject(ctx *Context, raw clr.Object, kind clr.HandleKind) (*Object, error) {
	if raw == nil {
		return nil, errors.InvalidInput(errors.PhaseGC, "null object reference")
	}
	h, err := ctx.sys.rt.GC().NewHandle(raw, kind)
	if err != nil {
		return nil, err
	}
	o := &Object{
		ctx:    ctx,
		class:  raw.Class(),
		handle: h,
		kind:   kind,
	}
	if kind == clr.Pinned {
		o.pinned = raw
		o.addr = raw.Address()
	}
	return o, nil
}

// Raw returns the runtime object at its current address. For a weak
// handle whose target was collected it returns nil and a collected error.
func (o *Object) Raw() (clr.Object, error) {
	if o == nil || o.handle == 0 {
		return nil, errors.InvalidHandle("managed object (freed)")
	}
	if o.ctx.destroyed {
		return nil, errors.InvalidHandle("managed object (context destroyed)")
	}
	gc := o.ctx.sys.rt.GC()
	if o.kind == clr.Pinned {
		if _, ok := gc.Kind(o.handle); !ok {
			return nil, errors.InvalidHandle("managed object (handle released)")
		}
		return o.pinned, nil
	}
	return gc.Target(o.handle)
}

// Address returns the object's current address, or 0 when the object
// cannot be resolved.
func (o *Object) Address() uintptr {
	if o == nil || o.handle == 0 {
		return 0
	}
	raw, err := o.Raw()
	if err != nil {
		return 0
	}
	if o.kind == clr.Pinned {
		return o.addr
	}
	return raw.Address()
}

func (o *Object) Class() clr.Class { return o.class }
func (o *Object) Kind() clr.HandleKind { return o.kind }
func (o *Object) Handle() clr.GCHandle { return o.handle }
func (o *Object) Context() *Context { return o.ctx }

// Alive reports whether the object still resolves to a live target.
func (o *Object) Alive() bool {
	_, err := o.Raw()
	return err == nil
}

// Clone returns a new object holding its own handle of the same kind to
// the same target.
func (o *Object) Clone() (*Object, error) {
	return o.WithKind(o.kind)
}

// WithKind returns a new object holding a handle of the given kind to the
// same target.
func (o *Object) WithKind(kind clr.HandleKind) (*Object, error) {
	raw, err := o.Raw()
	if err != nil {
		return nil, err
	}
	return newObject(o.ctx, raw, kind)
}

// Free releases the GC handle. The object is unusable afterwards. Freeing
// twice is a no-op.
func (o *Object) Free() {
	if o == nil || o.handle == 0 {
		return
	}
	if !o.ctx.sys.closed {
		o.ctx.sys.rt.GC().FreeHandle(o.handle)
	}
	o.handle = 0
	o.pinned = nil
}

// Value returns the Go form of a boxed primitive or string, or the raw
// object for other instances. It returns nil when the object cannot be
// resolved.
func (o *Object) Value() any {
	raw, err := o.Raw()
	if err != nil {
		return nil
	}
	return raw.Value()
}

// ToString runs the object's ToString.
func (o *Object) ToString() (string, error) {
	raw, err := o.Raw()
	if err != nil {
		return "", err
	}
	return raw.ToString()
}

func (o *Object) String() string {
	if o == nil || o.class == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s handle %d)", o.class.FullName(), o.kind, o.handle)
}

// GetField reads an instance or static field by name. The field is looked
// up on the object's class and its ancestors.
func (o *Object) GetField(name string) (any, error) {
	raw, err := o.Raw()
	if err != nil {
		return nil, err
	}
	f := rawField(o.class, name)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseReflect, "field", o.class.FullName()+"::"+name)
	}
	return f.Get(raw)
}

// SetField writes a field by name. v may be a Go value, a raw runtime
// object or an *Object.
func (o *Object) SetField(name string, v any) error {
	raw, err := o.Raw()
	if err != nil {
		return err
	}
	f := rawField(o.class, name)
	if f == nil {
		return errors.NotFound(errors.PhaseReflect, "field", o.class.FullName()+"::"+name)
	}
	arg, err := rawArg(v)
	if err != nil {
		return err
	}
	return f.Set(raw, arg)
}

// GetProperty runs the property getter. Exceptions are reported through
// the object's context.
func (o *Object) GetProperty(name string) (*Object, error) {
	p := rawProperty(o.class, name)
	if p == nil || p.Getter() == nil {
		return nil, errors.NotFound(errors.PhaseReflect, "property getter", o.class.FullName()+"::"+name)
	}
	return o.invokeRaw(p.Getter(), nil)
}

// SetProperty runs the property setter with v.
func (o *Object) SetProperty(name string, v any) error {
	p := rawProperty(o.class, name)
	if p == nil || p.Setter() == nil {
		return errors.NotFound(errors.PhaseReflect, "property setter", o.class.FullName()+"::"+name)
	}
	_, err := o.invokeRaw(p.Setter(), []any{v})
	return err
}

// Invoke calls m with the object as receiver.
func (o *Object) Invoke(m *Method, args ...any) (*Object, error) {
	return m.Call(o, args...)
}

// InvokeMethod calls the first method named name on the object's class.
func (o *Object) InvokeMethod(name string, args ...any) (*Object, error) {
	m := rawMethod(o.class, name, len(args))
	if m == nil {
		return nil, errors.NotFound(errors.PhaseReflect, "method", o.class.FullName()+"::"+name)
	}
	return o.invokeRaw(m, args)
}

func (o *Object) invokeRaw(m clr.Method, args []any) (*Object, error) {
	raw, err := o.Raw()
	if err != nil {
		return nil, err
	}
	in, err := rawArgs(args)
	if err != nil {
		return nil, err
	}
	ret, exc, err := m.Invoke(raw, in)
	return o.ctx.complete(nil, ret, exc, err)
}

func rawField(c clr.Class, name string) clr.Field {
	for ; c != nil; c = c.Parent() {
		for _, f := range c.Fields() {
			if f.Name() == name {
				return f
			}
		}
	}
	return nil
}

func rawProperty(c clr.Class, name string) clr.Property {
	for ; c != nil; c = c.Parent() {
		for _, p := range c.Properties() {
			if p.Name() == name {
				return p
			}
		}
	}
	return nil
}

func rawMethod(c clr.Class, name string, nargs int) clr.Method {
	for ; c != nil; c = c.Parent() {
		for _, m := range c.Methods() {
			if m.Name() == name && !m.IsStatic() && len(m.Params()) == nargs {
				return m
			}
		}
	}
	return nil
}

// rawArg unwraps *Object arguments to their runtime objects.
func rawArg(v any) (any, error) {
	if o, ok := v.(*Object); ok {
		if o == nil {
			return nil, nil
		}
		return o.Raw()
	}
	return v, nil
}

func rawArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		v, err := rawArg(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
