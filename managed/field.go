package managed

import (
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Field is a cached field descriptor.
type Field struct {
	handle.Base

	class *Class
	raw   clr.Field
	name  string
}

func newField(c *Class, raw clr.Field) *Field {
	return &Field{class: c, raw: raw, name: raw.Name()}
}

func (f *Field) Name() string { return f.name }
func (f *Field) Class() *Class { return f.class }
func (f *Field) Raw() clr.Field { return f.raw }

// Type returns nil once the field is invalidated.
func (f *Field) Type() *Type {
	if !f.Alive() {
		return nil
	}
	return newType(f.raw.Type())
}

func (f *Field) IsStatic() bool { return f.Alive() && f.raw.IsStatic() }

// Get reads the field from obj. obj is ignored for static fields.
func (f *Field) Get(obj *Object) (any, error) {
	if !f.Alive() {
		return nil, errors.InvalidHandle("field " + f.name)
	}
	raw, err := f.target(obj)
	if err != nil {
		return nil, err
	}
	return f.raw.Get(raw)
}

// Set writes v to the field of obj.
func (f *Field) Set(obj *Object, v any) error {
	if !f.Alive() {
		return errors.InvalidHandle("field " + f.name)
	}
	raw, err := f.target(obj)
	if err != nil {
		return err
	}
	arg, err := rawArg(v)
	if err != nil {
		return err
	}
	return f.raw.Set(raw, arg)
}

func (f *Field) target(obj *Object) (clr.Object, error) {
	if f.raw.IsStatic() || obj == nil {
		return nil, nil
	}
	return obj.Raw()
}
