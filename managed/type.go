package managed

import (
	"github.com/wippyai/clr-embed/clr"
)

// Type describes a type as used in a method signature. It is immutable.
type Type struct {
	raw  clr.Type
	name string
	kind clr.TypeKind
}

func newType(raw clr.Type) *Type {
	if raw == nil {
		return nil
	}
	return &Type{raw: raw, name: raw.Name(), kind: raw.Kind()}
}

// TypeOf returns the descriptor of a class used as a plain value type or
// reference type.
func TypeOf(c clr.Class) *Type {
	if c == nil {
		return nil
	}
	return newType(c.Type())
}

func (t *Type) Name() string { return t.name }
func (t *Type) Raw() clr.Type { return t.raw }

func (t *Type) IsStruct() bool { return t.kind&clr.TypeStruct != 0 }
func (t *Type) IsVoid() bool { return t.kind&clr.TypeVoid != 0 }
func (t *Type) IsByRef() bool { return t.kind&clr.TypeByRef != 0 }
func (t *Type) IsPointer() bool { return t.kind&clr.TypePointer != 0 }

// Class returns the element class, or nil when the runtime cannot resolve
// it.
func (t *Type) Class() clr.Class {
	return t.raw.Class()
}

// Equal reports whether both descriptors denote the same runtime type.
func (t *Type) Equal(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.raw.Equal(other.raw)
}

func (t *Type) String() string { return t.name }
