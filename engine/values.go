package engine

import (
	"fmt"
	"math"
	"reflect"
	"unicode/utf16"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// primitiveTypes maps primitive classes to their Go representation.
var primitiveTypes = map[string]reflect.Type{
	"System.Boolean": reflect.TypeOf(false),
	"System.Byte":    reflect.TypeOf(uint8(0)),
	"System.Char":    reflect.TypeOf(rune(0)),
	"System.Int16":   reflect.TypeOf(int16(0)),
	"System.UInt16":  reflect.TypeOf(uint16(0)),
	"System.Int32":   reflect.TypeOf(int32(0)),
	"System.UInt32":  reflect.TypeOf(uint32(0)),
	"System.Int64":   reflect.TypeOf(int64(0)),
	"System.UInt64":  reflect.TypeOf(uint64(0)),
	"System.Single":  reflect.TypeOf(float32(0)),
	"System.Double":  reflect.TypeOf(float64(0)),
	"System.IntPtr":  reflect.TypeOf(uintptr(0)),
	"System.UIntPtr": reflect.TypeOf(uintptr(0)),
}

var int32Type = primitiveTypes["System.Int32"]

// zeroValue returns the default value of a field or local of type t.
func zeroValue(t *Type) any {
	if t.decor != 0 {
		return uintptr(0)
	}
	if t.array {
		return nil
	}
	if pt, ok := primitiveTypes[t.elem]; ok {
		return reflect.Zero(pt).Interface()
	}
	if c := t.resolve(); c != nil && c.IsEnum() {
		return int32(0)
	}
	return nil
}

// coerce converts v to the representation of type t. Strings and boxed
// values are allocated as needed.
func (r *Runtime) coerce(scope *Image, v any, t *Type) (any, error) {
	if obj, ok := v.(clr.Object); ok {
		if obj == nil {
			v = nil
		} else {
			o, err := unwrapObject(obj)
			if err != nil {
				return nil, err
			}
			v = o
		}
	}

	if t.decor != 0 {
		return v, nil
	}
	if t.elem == image.TypeVoid {
		return nil, nil
	}

	if pt, ok := primitiveTypes[t.elem]; ok && !t.array {
		return convertPrimitive(unboxed(v), pt)
	}

	c := t.resolve()
	if c != nil && c.IsEnum() {
		if o, ok := v.(*object); ok && o != nil && o.class == c {
			return o.value, nil
		}
		return convertPrimitive(unboxed(v), int32Type)
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case *object:
		if c == nil || t.array || x.class.IsSubclassOf(c, true) {
			return x, nil
		}
		return nil, castError(x.class.fullName, t.name)
	case string:
		if c == nil || c.fullName == image.TypeString || c.fullName == image.TypeObject {
			return r.newString(x)
		}
		return nil, castError("string", t.name)
	default:
		if c != nil && (c.fullName == image.TypeObject || c.fullName == "System.ValueType") {
			return r.boxGo(x)
		}
		return nil, castError(fmt.Sprintf("%T", x), t.name)
	}
}

func unboxed(v any) any {
	if o, ok := v.(*object); ok && o != nil && o.value != nil {
		return o.value
	}
	return v
}

func castError(from, to string) error {
	return errors.TypeMismatch(errors.PhaseInvoke, nil, from, to)
}

// convertPrimitive converts between Go numeric and boolean kinds.
func convertPrimitive(v any, target reflect.Type) (any, error) {
	if v == nil {
		return nil, castError("null", target.String())
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == target {
		return v, nil
	}

	switch {
	case target.Kind() == reflect.Bool:
		switch {
		case rv.Kind() == reflect.Bool:
			return rv.Bool(), nil
		case isInteger(rv.Kind()):
			return !rv.IsZero(), nil
		}
	case isNumeric(target.Kind()):
		switch {
		case isNumeric(rv.Kind()):
			return rv.Convert(target).Interface(), nil
		case rv.Kind() == reflect.Bool:
			var n int64
			if rv.Bool() {
				n = 1
			}
			return reflect.ValueOf(n).Convert(target).Interface(), nil
		}
	}
	return nil, castError(rv.Type().String(), target.String())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

// export converts a stored value to the form handed to Go callers.
func export(v any) any {
	o, ok := v.(*object)
	if !ok {
		return v
	}
	if o == nil {
		return nil
	}
	if s, ok := o.value.(string); ok && o.class.fullName == image.TypeString {
		return s
	}
	return o.ref()
}

// newString allocates a managed string.
func (r *Runtime) newString(s string) (*object, error) {
	units := uint32(len(utf16.Encode([]rune(s))))
	o, err := r.heap.allocate(r.corlibClass(image.TypeString), units*2)
	if err != nil {
		return nil, err
	}
	o.value = s
	return o, nil
}

// newBoxed allocates a boxed value of class c.
func (r *Runtime) newBoxed(c *Class, v any) (*object, error) {
	o, err := r.heap.allocate(c, 0)
	if err != nil {
		return nil, err
	}
	o.value = v
	return o, nil
}

// box wraps a value of declared type t into an object.
func (r *Runtime) box(v any, t *Type) (*object, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *object:
		return x, nil
	case string:
		return r.newString(x)
	}
	if c := t.resolve(); c != nil && t.decor == 0 && (isPrimitive(c.fullName) || c.IsEnum()) {
		return r.newBoxed(c, v)
	}
	return r.boxGo(v)
}

// boxGo wraps a Go value into the corlib class matching its Go type.
func (r *Runtime) boxGo(v any) (*object, error) {
	var name string
	switch x := v.(type) {
	case string:
		return r.newString(x)
	case bool:
		name = "System.Boolean"
	case uint8:
		name = "System.Byte"
	case int8:
		v, name = int16(x), "System.Int16"
	case int16:
		name = "System.Int16"
	case uint16:
		name = "System.UInt16"
	case int32:
		name = "System.Int32"
	case uint32:
		name = "System.UInt32"
	case int64:
		name = "System.Int64"
	case uint64:
		name = "System.UInt64"
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			v, name = int32(x), "System.Int32"
		} else {
			v, name = int64(x), "System.Int64"
		}
	case uint:
		if x <= math.MaxUint32 {
			v, name = uint32(x), "System.UInt32"
		} else {
			v, name = uint64(x), "System.UInt64"
		}
	case float32:
		name = "System.Single"
	case float64:
		name = "System.Double"
	case uintptr:
		name = "System.IntPtr"
	default:
		return nil, errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("cannot box %T", v))
	}
	return r.newBoxed(r.corlibClass(name), v)
}
