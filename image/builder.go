package image

import (
	"sort"
)

// Builder assembles an Image in memory.
type Builder struct {
	name    string
	classes []*ClassBuilder
}

// NewBuilder starts an image with the given assembly name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Class adds a class definition, or returns the existing one.
func (b *Builder) Class(namespace, name string) *ClassBuilder {
	for _, c := range b.classes {
		if c.def.Namespace == namespace && c.def.Name == name {
			return c
		}
	}
	c := &ClassBuilder{def: ClassDef{Namespace: namespace, Name: name, Kind: KindClass}}
	b.classes = append(b.classes, c)
	return c
}

// Build returns the image with its referenced type list computed.
func (b *Builder) Build() *Image {
	img := &Image{Name: b.name, Classes: make([]ClassDef, 0, len(b.classes))}
	for _, c := range b.classes {
		def := c.def
		def.Methods = make([]MethodDef, len(c.methods))
		for i, m := range c.methods {
			def.Methods[i] = m.def
		}
		img.Classes = append(img.Classes, def)
	}
	img.TypeRefs = CollectTypeRefs(img)
	return img
}

// ClassBuilder configures one class definition.
type ClassBuilder struct {
	def     ClassDef
	methods []*MethodBuilder
}

// Kind sets the class kind.
func (c *ClassBuilder) Kind(k ClassKind) *ClassBuilder {
	c.def.Kind = k
	return c
}

// Parent sets the base class.
func (c *ClassBuilder) Parent(name string) *ClassBuilder {
	c.def.Parent = name
	return c
}

// Implements adds interfaces.
func (c *ClassBuilder) Implements(names ...string) *ClassBuilder {
	c.def.Interfaces = append(c.def.Interfaces, names...)
	return c
}

// Attribute applies a custom attribute.
func (c *ClassBuilder) Attribute(typeName string, args ...string) *ClassBuilder {
	c.def.Attributes = append(c.def.Attributes, AttributeDef{Type: typeName, Args: args})
	return c
}

// Field adds an instance field.
func (c *ClassBuilder) Field(name, typeName string) *ClassBuilder {
	c.def.Fields = append(c.def.Fields, FieldDef{Name: name, Type: typeName})
	return c
}

// StaticField adds a static field.
func (c *ClassBuilder) StaticField(name, typeName string) *ClassBuilder {
	c.def.Fields = append(c.def.Fields, FieldDef{Name: name, Type: typeName, Static: true})
	return c
}

// Property adds a property with the named accessors.
func (c *ClassBuilder) Property(name, typeName, getter, setter string) *ClassBuilder {
	c.def.Properties = append(c.def.Properties, PropertyDef{
		Name:   name,
		Type:   typeName,
		Getter: getter,
		Setter: setter,
	})
	return c
}

// Method adds a method definition. Overloads are separate calls.
func (c *ClassBuilder) Method(name string) *MethodBuilder {
	m := &MethodBuilder{class: c, def: MethodDef{Name: name}}
	c.methods = append(c.methods, m)
	return m
}

// Ctor adds an instance constructor taking params.
func (c *ClassBuilder) Ctor(params ...string) *MethodBuilder {
	return c.Method(".ctor").Params(params...)
}

// MethodBuilder configures one method definition.
type MethodBuilder struct {
	class *ClassBuilder
	def   MethodDef
}

// Params sets the parameter types.
func (m *MethodBuilder) Params(types ...string) *MethodBuilder {
	m.def.Params = append([]string(nil), types...)
	return m
}

// Returns sets the return type.
func (m *MethodBuilder) Returns(t string) *MethodBuilder {
	m.def.Return = t
	return m
}

// Static marks the method static.
func (m *MethodBuilder) Static() *MethodBuilder {
	m.def.Static = true
	return m
}

// Virtual marks the method virtual.
func (m *MethodBuilder) Virtual() *MethodBuilder {
	m.def.Virtual = true
	return m
}

// InternalCall marks the method as implemented by the host.
func (m *MethodBuilder) InternalCall() *MethodBuilder {
	m.def.InternalCall = true
	return m
}

// Attribute applies a custom attribute to the method.
func (m *MethodBuilder) Attribute(typeName string, args ...string) *MethodBuilder {
	m.def.Attributes = append(m.def.Attributes, AttributeDef{Type: typeName, Args: args})
	return m
}

// Body sets the method body.
func (m *MethodBuilder) Body(code ...Instruction) *MethodBuilder {
	m.def.Body = append([]Instruction(nil), code...)
	return m
}

// Class returns the owning class builder.
func (m *MethodBuilder) Class() *ClassBuilder {
	return m.class
}

// CollectTypeRefs returns the sorted names of every type the image uses
// but does not define. An omitted parent (implicitly System.Object) is
// not a reference.
func CollectTypeRefs(img *Image) []string {
	local := make(map[string]bool, len(img.Classes))
	for i := range img.Classes {
		local[img.Classes[i].FullName()] = true
	}

	refs := make(map[string]bool)
	add := func(t string) {
		if t == "" {
			return
		}
		t = ElementName(t)
		if !local[t] {
			refs[t] = true
		}
	}
	addAttrs := func(attrs []AttributeDef) {
		for _, a := range attrs {
			add(a.Type)
		}
	}

	for i := range img.Classes {
		c := &img.Classes[i]
		add(c.Parent)
		for _, iface := range c.Interfaces {
			add(iface)
		}
		addAttrs(c.Attributes)
		for _, f := range c.Fields {
			add(f.Type)
		}
		for _, p := range c.Properties {
			add(p.Type)
		}
		for mi := range c.Methods {
			m := &c.Methods[mi]
			for _, p := range m.Params {
				add(p)
			}
			add(m.Return)
			addAttrs(m.Attributes)
			for _, ins := range m.Body {
				switch opOperands[ins.Op] {
				case operandMethod, operandField:
					ref, err := ParseMemberRef(ins.Str)
					if err != nil {
						continue
					}
					add(ref.Class)
					for _, p := range ref.Params {
						add(p)
					}
				}
			}
		}
	}

	out := make([]string, 0, len(refs))
	for r := range refs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
