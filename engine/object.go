package engine

import (
	"fmt"
	"math"
	"strconv"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// object is a heap cell. addr changes when the collector relocates it.
type object struct {
	class *Class

	// value holds the payload of strings and boxed primitives.
	value  any
	fields []any

	addr   uintptr
	size   uintptr
	gen    int
	marked bool
	freed  bool
}

// Ref is a reference to an object at the address it had when the
// reference was taken.
type Ref struct {
	o    *object
	addr uintptr
}

var _ clr.Object = Ref{}

func (o *object) ref() Ref { return Ref{o: o, addr: o.addr} }

// Class returns the object's class.
func (r Ref) Class() clr.Class {
	if r.o == nil {
		return nil
	}
	return r.o.class
}

// Address returns the address the reference was taken at.
func (r Ref) Address() uintptr { return r.addr }

// Live reports whether the target is still at the referenced address.
func (r Ref) Live() bool {
	return r.o != nil && !r.o.freed && r.o.addr == r.addr
}

// Value returns the payload of strings and boxed primitives, or r itself.
func (r Ref) Value() any {
	if !r.Live() {
		return nil
	}
	if r.o.value != nil {
		return r.o.value
	}
	return r
}

// ToString runs the object's ToString.
func (r Ref) ToString() (string, error) {
	o, err := r.deref()
	if err != nil {
		return "", err
	}
	return o.class.runtime().toString(o)
}

func (r Ref) String() string {
	if !r.Live() {
		return "<stale>"
	}
	return fmt.Sprintf("%s@%#x", r.o.class.fullName, r.addr)
}

func (r Ref) deref() (*object, error) {
	switch {
	case r.o == nil:
		return nil, errors.InvalidInput(errors.PhaseInvoke, "null object reference")
	case r.o.freed:
		return nil, errors.New(errors.PhaseGC, errors.KindCollected).
			Type(r.o.class.fullName).
			Detail("object at %#x was collected", r.addr).
			Build()
	case r.o.addr != r.addr:
		return nil, errors.New(errors.PhaseGC, errors.KindInvalidHandle).
			Type(r.o.class.fullName).
			Detail("object moved from %#x; resolve it through its GC handle", r.addr).
			Build()
	}
	return r.o, nil
}

// unwrapObject extracts the heap cell behind a clr.Object.
func unwrapObject(v clr.Object) (*object, error) {
	r, ok := v.(Ref)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "engine object")
	}
	return r.deref()
}

// formatValue renders a primitive the way the managed ToString does.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'G', -1, bits)
}
