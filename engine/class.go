package engine

import (
	"strings"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// Class is a loaded type definition.
type Class struct {
	img         *Image
	def         *image.ClassDef
	parent      *Class
	typ         *Type
	layoutCache layoutInfo
	namespace   string
	name        string
	fullName    string
	interfaces  []*Class
	methods     []*Method
	fields      []*Field
	properties  []*Property
	statics     []any
	slotCount   int
	token       uint32
	slotsDone   bool
	layoutDone  bool
}

var _ clr.Class = (*Class)(nil)

func newClass(img *Image, def *image.ClassDef, token uint32, methodTokens []uint32) *Class {
	c := &Class{
		img:       img,
		def:       def,
		namespace: def.Namespace,
		name:      def.Name,
		fullName:  def.FullName(),
		token:     token,
	}
	c.typ = newType(img, c.fullName)
	c.typ.class = c
	c.typ.resolved = true

	for i := range def.Methods {
		c.methods = append(c.methods, newMethod(c, &def.Methods[i], methodTokens[i]))
	}
	staticIdx := 0
	for i := range def.Fields {
		fd := &def.Fields[i]
		f := &Field{
			class:  c,
			name:   fd.Name,
			typ:    newType(img, fd.Type),
			static: fd.Static,
			index:  -1,
		}
		if f.static {
			f.index = staticIdx
			staticIdx++
		}
		c.fields = append(c.fields, f)
	}
	for i := range def.Properties {
		pd := &def.Properties[i]
		c.properties = append(c.properties, &Property{class: c, def: pd})
	}
	return c
}

// link resolves the parent and interfaces.
func (c *Class) link() error {
	parent := c.def.Parent
	if parent == "" && c.fullName != image.TypeObject && c.def.Kind != image.KindInterface {
		switch c.def.Kind {
		case image.KindStruct:
			parent = "System.ValueType"
		case image.KindEnum:
			parent = "System.Enum"
		case image.KindDelegate:
			parent = "System.MulticastDelegate"
		default:
			parent = image.TypeObject
		}
		if c.fullName == parent {
			parent = image.TypeObject
		}
	}
	if parent != "" {
		p := c.img.resolve(parent)
		if p == nil {
			return unresolved(c.img, "parent of "+c.fullName, parent)
		}
		c.parent = p
	}
	for _, name := range c.def.Interfaces {
		iface := c.img.resolve(name)
		if iface == nil {
			return unresolved(c.img, "interface of "+c.fullName, name)
		}
		c.interfaces = append(c.interfaces, iface)
	}
	return nil
}

func (c *Class) initStatics() {
	n := 0
	for _, f := range c.fields {
		if f.static {
			n++
		}
	}
	c.statics = make([]any, n)
	for _, f := range c.fields {
		if f.static {
			c.statics[f.index] = zeroValue(f.typ)
		}
	}
}

// ensureSlots assigns instance field slots after the parent's.
func (c *Class) ensureSlots() {
	if c.slotsDone {
		return
	}
	c.slotsDone = true
	base := 0
	if c.parent != nil {
		c.parent.ensureSlots()
		base = c.parent.slotCount
	}
	for _, f := range c.fields {
		if !f.static {
			f.index = base
			base++
		}
	}
	c.slotCount = base
}

func (c *Class) newInstanceFields() []any {
	c.ensureSlots()
	if c.slotCount == 0 {
		return nil
	}
	out := make([]any, c.slotCount)
	for k := c; k != nil; k = k.parent {
		for _, f := range k.fields {
			if !f.static {
				out[f.index] = zeroValue(f.typ)
			}
		}
	}
	return out
}

func (c *Class) runtime() *Runtime { return c.img.rt }

func (c *Class) Namespace() string { return c.namespace }
func (c *Class) Name() string { return c.name }
func (c *Class) FullName() string { return c.fullName }
func (c *Class) Image() clr.Image { return c.img }
func (c *Class) Type() clr.Type { return c.typ }

// Token returns the metadata token of the class.
func (c *Class) Token() uint32 { return c.token }

func (c *Class) Kind() clr.ClassKind {
	switch {
	case c.def.Kind == image.KindInterface:
		return clr.KindInterface
	case c.IsEnum():
		return clr.KindEnum
	case c.IsDelegate():
		return clr.KindDelegate
	case c.IsValueType():
		return clr.KindStruct
	}
	return clr.KindClass
}

func (c *Class) Parent() clr.Class {
	if c.parent == nil {
		return nil
	}
	return c.parent
}

func (c *Class) Interfaces() []clr.Class {
	out := make([]clr.Class, len(c.interfaces))
	for i, iface := range c.interfaces {
		out[i] = iface
	}
	return out
}

// IsValueType reports whether instances are copied by value.
func (c *Class) IsValueType() bool {
	switch c.def.Kind {
	case image.KindStruct, image.KindEnum:
		return true
	}
	switch c.fullName {
	case "System.ValueType", "System.Enum":
		return false
	}
	return c.derivesFrom("System.ValueType")
}

// IsEnum reports whether c is an enumeration.
func (c *Class) IsEnum() bool {
	return c.def.Kind == image.KindEnum || (c.fullName != "System.Enum" && c.parent != nil && c.parent.fullName == "System.Enum")
}

// IsDelegate reports whether c is a delegate type.
func (c *Class) IsDelegate() bool {
	if c.def.Kind == image.KindDelegate {
		return true
	}
	switch c.fullName {
	case "System.Delegate", "System.MulticastDelegate":
		return false
	}
	return c.derivesFrom("System.Delegate")
}

func (c *Class) IsNullable() bool {
	return c.fullName == "System.Nullable`1" || strings.HasPrefix(c.fullName, "System.Nullable`1<")
}

func (c *Class) derivesFrom(fullName string) bool {
	for p := c.parent; p != nil; p = p.parent {
		if p.fullName == fullName {
			return true
		}
	}
	return false
}

func (c *Class) Methods() []clr.Method {
	out := make([]clr.Method, len(c.methods))
	for i, m := range c.methods {
		out[i] = m
	}
	return out
}

func (c *Class) Fields() []clr.Field {
	out := make([]clr.Field, len(c.fields))
	for i, f := range c.fields {
		out[i] = f
	}
	return out
}

func (c *Class) Properties() []clr.Property {
	out := make([]clr.Property, len(c.properties))
	for i, p := range c.properties {
		out[i] = p
	}
	return out
}

func (c *Class) Attributes() ([]clr.Object, error) {
	return c.img.rt.instantiateAttributes(c.img, c.def.Attributes)
}

func (c *Class) Layout() (size, align uint32) {
	l := c.layout()
	return l.size, l.align
}

// IsSubclassOf reports whether c is base or derives from it.
func (c *Class) IsSubclassOf(base clr.Class, checkInterfaces bool) bool {
	b, ok := base.(*Class)
	if !ok || b == nil {
		return false
	}
	for k := c; k != nil; k = k.parent {
		if k == b {
			return true
		}
		if checkInterfaces && k.implements(b, map[*Class]bool{}) {
			return true
		}
	}
	return false
}

func (c *Class) implements(iface *Class, seen map[*Class]bool) bool {
	if seen[c] {
		return false
	}
	seen[c] = true
	for _, i := range c.interfaces {
		if i == iface || i.implements(iface, seen) {
			return true
		}
	}
	return false
}

// findMethod returns the method declared on c with the given name and
// parameter type names.
func (c *Class) findMethod(name string, params []string) *Method {
	for _, m := range c.methods {
		if m.name == name && m.hasParams(params) {
			return m
		}
	}
	return nil
}

// findVirtual searches c and its parents, most derived first.
func (c *Class) findVirtual(name string, params []string) *Method {
	for k := c; k != nil; k = k.parent {
		if m := k.findMethod(name, params); m != nil {
			return m
		}
	}
	return nil
}

// findField searches c and its parents.
func (c *Class) findField(name string) *Field {
	for k := c; k != nil; k = k.parent {
		for _, f := range k.fields {
			if f.name == name {
				return f
			}
		}
	}
	return nil
}

func (c *Class) usable() error {
	if c.img.closed {
		return errors.InvalidHandle("class " + c.fullName + " (assembly unloaded)")
	}
	return nil
}
