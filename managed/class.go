package managed

import (
	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Class is a cached class descriptor. Its members, attributes, layout and
// kind flags are read once when the owning assembly is populated.
type Class struct {
	handle.Base

	assembly  *Assembly
	raw       clr.Class
	namespace string
	name      string

	methods    []*Method
	fields     []*Field
	properties []*Property
	attributes []*Object

	// accessors holds property accessors not declared by the class itself.
	accessors []*Method

	size      uint32
	align     uint32
	numCtors  int
	kind      clr.ClassKind
	valueType bool
	nullable  bool
}

func newClass(a *Assembly, raw clr.Class) *Class {
	return &Class{
		assembly:  a,
		raw:       raw,
		namespace: raw.Namespace(),
		name:      raw.Name(),
	}
}

// populate reads members and attributes. On error the partially built
// children are released and the class is left empty.
func (c *Class) populate() error {
	rawMethods := c.raw.Methods()
	c.methods = make([]*Method, 0, len(rawMethods))
	for _, m := range rawMethods {
		c.methods = append(c.methods, newMethod(c, m))
		if m.Name() == ".ctor" && !m.IsStatic() {
			c.numCtors++
		}
	}

	rawFields := c.raw.Fields()
	c.fields = make([]*Field, 0, len(rawFields))
	for _, f := range rawFields {
		c.fields = append(c.fields, newField(c, f))
	}

	rawProps := c.raw.Properties()
	c.properties = make([]*Property, 0, len(rawProps))
	for _, p := range rawProps {
		c.properties = append(c.properties, newProperty(c, p))
	}

	attrs, err := c.raw.Attributes()
	if err != nil {
		c.release()
		return errors.New(errors.PhaseReflect, errors.KindLoadFailure).
			Type(c.raw.FullName()).
			Detail("read class attributes").
			Cause(err).
			Build()
	}
	if c.attributes, err = c.ctx().pinAll(attrs); err != nil {
		c.release()
		return err
	}

	c.size, c.align = c.raw.Layout()
	c.kind = c.raw.Kind()
	c.valueType = c.raw.IsValueType()
	c.nullable = c.raw.IsNullable()
	return nil
}

// methodFor returns the descriptor of raw, creating one for accessors
// inherited from another class.
func (c *Class) methodFor(raw clr.Method) *Method {
	if raw == nil {
		return nil
	}
	for _, m := range c.methods {
		if m.raw == raw {
			return m
		}
	}
	m := newMethod(c, raw)
	c.accessors = append(c.accessors, m)
	return m
}

func (c *Class) ctx() *Context { return c.assembly.ctx }

func (c *Class) Namespace() string { return c.namespace }
func (c *Class) Name() string { return c.name }
func (c *Class) Assembly() *Assembly { return c.assembly }
func (c *Class) Raw() clr.Class { return c.raw }

func (c *Class) FullName() string {
	if c.namespace == "" {
		return c.name
	}
	return c.namespace + "." + c.name
}

// Type returns the descriptor of the class used as a value in signatures.
func (c *Class) Type() *Type { return TypeOf(c.raw) }

func (c *Class) Methods() []*Method { return c.methods }
func (c *Class) Fields() []*Field { return c.fields }
func (c *Class) Properties() []*Property { return c.properties }
func (c *Class) Attributes() []*Object { return c.attributes }

// Layout and kind queries on an invalidated class return zero values.

func (c *Class) DataSize() uint32 {
	if !c.Alive() {
		return 0
	}
	return c.size
}

func (c *Class) Alignment() uint32 {
	if !c.Alive() {
		return 0
	}
	return c.align
}

func (c *Class) NumConstructors() int {
	if !c.Alive() {
		return 0
	}
	return c.numCtors
}

func (c *Class) Kind() clr.ClassKind {
	if !c.Alive() {
		return clr.KindClass
	}
	return c.kind
}

func (c *Class) IsValueType() bool { return c.Alive() && c.valueType }
func (c *Class) IsDelegate() bool { return c.Alive() && c.kind == clr.KindDelegate }
func (c *Class) IsEnum() bool { return c.Alive() && c.kind == clr.KindEnum }
func (c *Class) IsNullable() bool { return c.Alive() && c.nullable }
func (c *Class) IsInterface() bool { return c.Alive() && c.kind == clr.KindInterface }

// FindMethod returns the first method named name in declaration order, or
// nil. With overloads the choice is the first declared; use
// FindMethodBySignature to pick one.
func (c *Class) FindMethod(name string) *Method {
	if !c.Alive() {
		return nil
	}
	for _, m := range c.methods {
		if m.name == name {
			return m
		}
	}
	return nil
}

// FindMethodBySignature returns the method named name whose parameter
// types equal params.
func (c *Class) FindMethodBySignature(name string, params ...*Type) *Method {
	if !c.Alive() {
		return nil
	}
	for _, m := range c.methods {
		if m.name == name && m.MatchSignature(params...) {
			return m
		}
	}
	return nil
}

// FindMethods returns every overload named name.
func (c *Class) FindMethods(name string) []*Method {
	if !c.Alive() {
		return nil
	}
	var out []*Method
	for _, m := range c.methods {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

func (c *Class) FindField(name string) *Field {
	if !c.Alive() {
		return nil
	}
	for _, f := range c.fields {
		if f.name == name {
			return f
		}
	}
	return nil
}

func (c *Class) FindProperty(name string) *Property {
	if !c.Alive() {
		return nil
	}
	for _, p := range c.properties {
		if p.name == name {
			return p
		}
	}
	return nil
}

// CreateInstance allocates an object, runs the constructor whose
// parameter types equal sig, and returns the object under a pinned
// handle.
func (c *Class) CreateInstance(sig []*Type, args ...any) (*Object, error) {
	return c.CreateInstanceWithKind(clr.Pinned, sig, args...)
}

// CreateInstanceWithKind is CreateInstance with an explicit handle kind.
func (c *Class) CreateInstanceWithKind(kind clr.HandleKind, sig []*Type, args ...any) (*Object, error) {
	if !c.Alive() {
		return nil, errors.InvalidHandle("class " + c.FullName())
	}
	ctx := c.ctx()
	if err := ctx.usable(); err != nil {
		return nil, err
	}

	var ctor *Method
	for _, m := range c.methods {
		if m.name == ".ctor" && !m.IsStatic() && m.MatchSignature(sig...) {
			ctor = m
			break
		}
	}
	if ctor == nil {
		return nil, errors.SignatureMismatch(errors.PhaseInvoke, c.FullName()+"::.ctor",
			"no constructor matches "+typeList(sig))
	}

	raw, err := ctx.domain.NewObject(c.raw)
	if err != nil {
		return nil, err
	}
	obj, err := newObject(ctx, raw, kind)
	if err != nil {
		return nil, err
	}
	if _, err := ctor.Call(obj, args...); err != nil {
		obj.Free()
		return nil, err
	}
	Logger().Debug("instance created",
		zap.String("class", c.FullName()),
		zap.Stringer("handle_kind", kind),
	)
	return obj, nil
}

// ImplementsInterface reports whether the class or one of its ancestors
// implements iface, directly or through interface inheritance.
func (c *Class) ImplementsInterface(iface *Class) bool {
	if !c.Alive() || iface == nil || !iface.IsInterface() {
		return false
	}
	return c.raw.IsSubclassOf(iface.raw, true)
}

// DerivedFromClass reports whether base is a proper ancestor of the class.
func (c *Class) DerivedFromClass(base *Class) bool {
	if !c.Alive() || base == nil || !base.Alive() || base.raw == c.raw {
		return false
	}
	return c.raw.IsSubclassOf(base.raw, false)
}

// is compares the class against a core library class.
func (c *Class) is(namespace, name string) bool {
	if !c.Alive() {
		return false
	}
	sys := c.ctx().FindSystemClass(namespace, name)
	return sys != nil && sys == c.raw
}

func (c *Class) IsInt16() bool { return c.is("System", "Int16") }
func (c *Class) IsInt32() bool { return c.is("System", "Int32") }
func (c *Class) IsInt64() bool { return c.is("System", "Int64") }
func (c *Class) IsUInt16() bool { return c.is("System", "UInt16") }
func (c *Class) IsUInt32() bool { return c.is("System", "UInt32") }
func (c *Class) IsUInt64() bool { return c.is("System", "UInt64") }
func (c *Class) IsByte() bool { return c.is("System", "Byte") }
func (c *Class) IsChar() bool { return c.is("System", "Char") }
func (c *Class) IsBoolean() bool { return c.is("System", "Boolean") }
func (c *Class) IsDouble() bool { return c.is("System", "Double") }
func (c *Class) IsVoid() bool { return c.is("System", "Void") }
func (c *Class) IsIntPtr() bool { return c.is("System", "IntPtr") }
func (c *Class) IsUIntPtr() bool { return c.is("System", "UIntPtr") }
func (c *Class) IsThread() bool { return c.is("System.Threading", "Thread") }
func (c *Class) IsArray() bool { return c.is("System", "Array") }

// release frees the children without invalidating the class itself.
func (c *Class) release() {
	for _, m := range c.methods {
		m.invalidate()
	}
	for _, m := range c.accessors {
		m.invalidate()
	}
	for _, f := range c.fields {
		handle.Invalidate(f)
	}
	for _, p := range c.properties {
		handle.Invalidate(p)
	}
	for _, a := range c.attributes {
		a.Free()
	}
	c.methods = nil
	c.accessors = nil
	c.fields = nil
	c.properties = nil
	c.attributes = nil
}

// invalidate marks the class and every child descriptor invalid.
func (c *Class) invalidate() {
	handle.Invalidate(c)
	c.release()
}

func (c *Class) String() string { return c.FullName() }

func typeList(ts []*Type) string {
	s := "("
	for i, t := range ts {
		if i > 0 {
			s += ", "
		}
		if t == nil {
			s += "<nil>"
		} else {
			s += t.Name()
		}
	}
	return s + ")"
}
