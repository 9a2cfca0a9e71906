package engine

import (
	"strings"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// Method is a loaded method definition.
type Method struct {
	class    *Class
	def      *image.MethodDef
	ret      *Type
	resolved map[int]any
	name     string
	fullName string
	params   []*Type
	covered  []bool
	token    uint32
}

var _ clr.Method = (*Method)(nil)

func newMethod(c *Class, def *image.MethodDef, token uint32) *Method {
	m := &Method{
		class:    c,
		def:      def,
		name:     def.Name,
		fullName: image.MethodRef(c.fullName, def.Name, def.Params...),
		ret:      newType(c.img, def.ReturnType()),
		token:    token,
	}
	for _, p := range def.Params {
		m.params = append(m.params, newType(c.img, p))
	}
	return m
}

func (m *Method) hasParams(names []string) bool {
	if len(names) != len(m.def.Params) {
		return false
	}
	for i, n := range names {
		if strings.TrimSpace(n) != m.def.Params[i] {
			return false
		}
	}
	return true
}

func (m *Method) Name() string { return m.name }
func (m *Method) FullName() string { return m.fullName }
func (m *Method) Class() clr.Class { return m.class }
func (m *Method) Return() clr.Type { return m.ret }
func (m *Method) Token() uint32 { return m.token }
func (m *Method) IsStatic() bool { return m.def.Static }
func (m *Method) IsVirtual() bool { return m.def.Virtual }
func (m *Method) IsInternal() bool { return m.def.InternalCall }
func (m *Method) isVoid() bool { return m.ret.elem == image.TypeVoid }
func (m *Method) runtime() *Runtime { return m.class.img.rt }

func (m *Method) Params() []clr.Type {
	out := make([]clr.Type, len(m.params))
	for i, p := range m.params {
		out[i] = p
	}
	return out
}

func (m *Method) Attributes() ([]clr.Object, error) {
	return m.runtime().instantiateAttributes(m.class.img, m.def.Attributes)
}

// Body returns the IL of the method.
func (m *Method) Body() []image.Instruction {
	return m.def.Body
}

// Invoke runs the method with the interpreter.
func (m *Method) Invoke(self clr.Object, args []any) (ret, exc clr.Object, err error) {
	rt := m.runtime()
	if err := rt.check(); err != nil {
		return nil, nil, err
	}
	if err := m.class.usable(); err != nil {
		return nil, nil, err
	}
	return rt.invoke(m, self, args)
}

// Field is a loaded field definition.
type Field struct {
	class  *Class
	typ    *Type
	name   string
	index  int
	static bool
}

var _ clr.Field = (*Field)(nil)

func (f *Field) Name() string { return f.name }
func (f *Field) Class() clr.Class { return f.class }
func (f *Field) Type() clr.Type { return f.typ }
func (f *Field) IsStatic() bool { return f.static }

// Offset returns the byte offset of an instance field within the
// instance data.
func (f *Field) Offset() uint32 {
	return f.class.layout().offsets[f.name]
}

func (f *Field) Get(obj clr.Object) (any, error) {
	if err := f.class.usable(); err != nil {
		return nil, err
	}
	if f.static {
		return export(f.class.statics[f.index]), nil
	}
	o, err := f.instance(obj)
	if err != nil {
		return nil, err
	}
	return export(o.fields[f.index]), nil
}

func (f *Field) Set(obj clr.Object, v any) error {
	if err := f.class.usable(); err != nil {
		return err
	}
	rt := f.class.runtime()
	if err := rt.check(); err != nil {
		return err
	}
	val, err := rt.coerce(f.class.img, v, f.typ)
	if err != nil {
		return errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
			Path(f.class.fullName, f.name).
			Type(f.typ.name).
			Cause(err).
			Build()
	}
	if f.static {
		f.class.statics[f.index] = val
		return nil
	}
	o, err := f.instance(obj)
	if err != nil {
		return err
	}
	o.fields[f.index] = val
	return nil
}

func (f *Field) instance(obj clr.Object) (*object, error) {
	if obj == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "instance field "+f.name+" needs an object")
	}
	o, err := unwrapObject(obj)
	if err != nil {
		return nil, err
	}
	if !o.class.IsSubclassOf(f.class, false) {
		return nil, errors.TypeMismatch(errors.PhaseInvoke, []string{f.class.fullName, f.name}, o.class.fullName, f.class.fullName)
	}
	return o, nil
}

// Property is a loaded property definition.
type Property struct {
	class *Class
	def   *image.PropertyDef
}

var _ clr.Property = (*Property)(nil)

func (p *Property) Name() string { return p.def.Name }
func (p *Property) Class() clr.Class { return p.class }

func (p *Property) Getter() clr.Method { return p.accessor(p.def.Getter) }
func (p *Property) Setter() clr.Method { return p.accessor(p.def.Setter) }

func (p *Property) accessor(name string) clr.Method {
	if name == "" {
		return nil
	}
	for _, m := range p.class.methods {
		if m.name == name {
			return m
		}
	}
	return nil
}

// Type is a type as it appears in a signature.
type Type struct {
	scope    *Image
	class    *Class
	name     string
	elem     string
	decor    clr.TypeKind
	array    bool
	resolved bool
}

var _ clr.Type = (*Type)(nil)

func newType(scope *Image, name string) *Type {
	name = strings.TrimSpace(name)
	t := &Type{scope: scope, name: name, elem: image.ElementName(name)}
	switch {
	case strings.HasSuffix(name, "&"):
		t.decor = clr.TypeByRef
	case strings.HasSuffix(name, "*"):
		t.decor = clr.TypePointer
	case strings.HasSuffix(name, "[]"):
		t.array = true
	}
	return t
}

// resolve returns the element class. Misses are retried on the next call
// since the defining assembly may load later.
func (t *Type) resolve() *Class {
	if t.resolved {
		return t.class
	}
	name := t.elem
	if t.array {
		name = "System.Array"
	}
	if c := t.scope.resolve(name); c != nil {
		t.class = c
		t.resolved = true
	}
	return t.class
}

func (t *Type) Name() string { return t.name }

func (t *Type) Kind() clr.TypeKind {
	k := t.decor
	if t.elem == image.TypeVoid && k == 0 {
		return clr.TypeVoid
	}
	if k == 0 && !t.array && !isPrimitive(t.elem) {
		if c := t.resolve(); c != nil && c.IsValueType() && !c.IsEnum() {
			k |= clr.TypeStruct
		}
	}
	return k
}

func (t *Type) Class() clr.Class {
	if c := t.resolve(); c != nil {
		return c
	}
	return nil
}

// Equal reports whether both types denote the same runtime type.
func (t *Type) Equal(other clr.Type) bool {
	o, ok := other.(*Type)
	if !ok || o == nil {
		return false
	}
	if t == o {
		return true
	}
	return t.name == o.name && t.resolve() == o.resolve()
}

func isPrimitive(name string) bool {
	_, ok := primitiveLayouts[name]
	return ok && name != image.TypeVoid
}
