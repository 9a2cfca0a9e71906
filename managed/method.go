package managed

import (
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Method is a cached method descriptor. Its signature and attributes are
// read from the runtime on first use.
type Method struct {
	handle.Base

	class *Class
	raw   clr.Method
	name  string

	fullName   string
	params     []*Type
	ret        *Type
	attributes []*Object
	token      uint32
	populated  bool
	attrsRead  bool
}

func newMethod(c *Class, raw clr.Method) *Method {
	return &Method{class: c, raw: raw, name: raw.Name()}
}

// populate reports false for an invalidated method, whose runtime side may
// belong to a closed image.
func (m *Method) populate() bool {
	if !m.Alive() {
		return false
	}
	if m.populated {
		return true
	}
	raw := m.raw.Params()
	m.params = make([]*Type, len(raw))
	for i, p := range raw {
		m.params[i] = newType(p)
	}
	m.ret = newType(m.raw.Return())
	m.fullName = m.raw.FullName()
	m.token = m.raw.Token()
	m.populated = true
	return true
}

func (m *Method) Name() string { return m.name }
func (m *Method) Class() *Class { return m.class }

// Raw returns the runtime method.
func (m *Method) Raw() clr.Method { return m.raw }

func (m *Method) IsStatic() bool { return m.Alive() && m.raw.IsStatic() }

// FullName is the qualified name with parameter types.
func (m *Method) FullName() string {
	if !m.populate() {
		return ""
	}
	return m.fullName
}

func (m *Method) Token() uint32 {
	if !m.populate() {
		return 0
	}
	return m.token
}

func (m *Method) NumParams() int {
	if !m.populate() {
		return 0
	}
	return len(m.params)
}

func (m *Method) Params() []*Type {
	if !m.populate() {
		return nil
	}
	return m.params
}

func (m *Method) Return() *Type {
	if !m.populate() {
		return nil
	}
	return m.ret
}

// Attributes returns the custom attribute instances applied to the method.
// They are created once, pinned, and released with the method.
func (m *Method) Attributes() ([]*Object, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}
	if m.attrsRead {
		return m.attributes, nil
	}
	raw, err := m.raw.Attributes()
	if err != nil {
		return nil, err
	}
	attrs, err := m.class.ctx().pinAll(raw)
	if err != nil {
		return nil, err
	}
	m.attributes = attrs
	m.attrsRead = true
	return attrs, nil
}

// MatchSignature reports whether the method takes exactly the given
// parameter types. With no arguments it matches parameterless methods.
// An invalidated method matches nothing.
func (m *Method) MatchSignature(params ...*Type) bool {
	if !m.populate() {
		return false
	}
	if len(params) != len(m.params) {
		return false
	}
	for i, p := range m.params {
		if !p.Equal(params[i]) {
			return false
		}
	}
	return true
}

// MatchFullSignature also requires the return type to match.
func (m *Method) MatchFullSignature(ret *Type, params ...*Type) bool {
	return m.MatchSignature(params...) && m.Return().Equal(ret)
}

func (m *Method) usable() error {
	if !m.Alive() {
		return errors.InvalidHandle("method " + m.name)
	}
	return nil
}

// Invoke runs the method on self. A managed exception is returned in exc
// and is not reported; use Call to route it through the context.
func (m *Method) Invoke(self *Object, args []any) (ret, exc clr.Object, err error) {
	if err := m.usable(); err != nil {
		return nil, nil, err
	}
	var recv clr.Object
	if self != nil {
		if recv, err = self.Raw(); err != nil {
			return nil, nil, err
		}
	}
	in, err := rawArgs(args)
	if err != nil {
		return nil, nil, err
	}
	return m.raw.Invoke(recv, in)
}

// InvokeStatic runs a static method.
func (m *Method) InvokeStatic(args []any) (ret, exc clr.Object, err error) {
	return m.Invoke(nil, args)
}

// Call runs the method on self and wraps the result in a pinned Object.
// A managed exception is reported to the context's callbacks once and
// returned as a managed_exception error.
func (m *Method) Call(self *Object, args ...any) (*Object, error) {
	ret, exc, err := m.Invoke(self, args)
	return m.class.ctx().complete(m.class.assembly, ret, exc, err)
}

// CallStatic is Call for static methods.
func (m *Method) CallStatic(args ...any) (*Object, error) {
	return m.Call(nil, args...)
}

func (m *Method) invalidate() {
	for _, a := range m.attributes {
		a.Free()
	}
	m.attributes = nil
	m.attrsRead = false
	handle.Invalidate(m)
}

func (m *Method) String() string {
	if !m.Alive() {
		return m.name
	}
	return m.FullName()
}
