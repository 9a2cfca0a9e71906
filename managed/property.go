package managed

import (
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Property is a cached property descriptor holding its accessor methods.
type Property struct {
	handle.Base

	class  *Class
	raw    clr.Property
	name   string
	getter *Method
	setter *Method
}

func newProperty(c *Class, raw clr.Property) *Property {
	return &Property{
		class:  c,
		raw:    raw,
		name:   raw.Name(),
		getter: c.methodFor(raw.Getter()),
		setter: c.methodFor(raw.Setter()),
	}
}

func (p *Property) Name() string { return p.name }
func (p *Property) Class() *Class { return p.class }
func (p *Property) Raw() clr.Property { return p.raw }

// Getter returns the get accessor, or nil for a write-only property.
func (p *Property) Getter() *Method { return p.getter }

// Setter returns the set accessor, or nil for a read-only property.
func (p *Property) Setter() *Method { return p.setter }

// Get runs the getter on obj.
func (p *Property) Get(obj *Object) (*Object, error) {
	if !p.Alive() {
		return nil, errors.InvalidHandle("property " + p.name)
	}
	if p.getter == nil {
		return nil, errors.NotFound(errors.PhaseReflect, "property getter", p.name)
	}
	return p.getter.Call(obj)
}

// Set runs the setter on obj with v.
func (p *Property) Set(obj *Object, v any) error {
	if !p.Alive() {
		return errors.InvalidHandle("property " + p.name)
	}
	if p.setter == nil {
		return errors.NotFound(errors.PhaseReflect, "property setter", p.name)
	}
	_, err := p.setter.Call(obj, v)
	return err
}
