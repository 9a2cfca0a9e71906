package engine

import (
	"fmt"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// frame is one activation of an interpreted method.
type frame struct {
	method *Method
	args   []any
	stack  []any
	pc     int
}

// throwSignal unwinds the interpreter with a managed exception.
type throwSignal struct {
	exc *object
}

// fatalSignal unwinds the interpreter after the runtime failed.
type fatalSignal struct {
	err error
}

// ThrownError carries a managed exception out of an internal call. An
// internal call returning it rethrows the exception in the caller.
type ThrownError struct {
	Exception clr.Object
}

func (e *ThrownError) Error() string {
	if e.Exception == nil {
		return "managed exception"
	}
	s, err := e.Exception.ToString()
	if err != nil {
		return "managed exception"
	}
	return s
}

// Throw wraps a managed exception for return from an internal call.
func Throw(exc clr.Object) error {
	return &ThrownError{Exception: exc}
}

// invoke is the boundary between Go callers and the interpreter. Managed
// exceptions and interpreter faults never escape it as panics.
func (r *Runtime) invoke(m *Method, self clr.Object, args []any) (ret, exc clr.Object, err error) {
	depth := len(r.frames)
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.frames = r.frames[:depth]
		ret = nil
		switch s := p.(type) {
		case *throwSignal:
			exc = s.exc.ref()
		case *fatalSignal:
			err = s.err
		default:
			o, e := r.newException("System.InvalidProgramException", fmt.Sprint(p))
			if e != nil {
				err = e
				return
			}
			exc = o.ref()
		}
	}()

	callArgs := r.boundaryArgs(m, self, args)
	v := r.call(m, callArgs)
	if m.isVoid() {
		return nil, nil, nil
	}
	o, berr := r.box(v, m.ret)
	if berr != nil {
		return nil, nil, berr
	}
	if o == nil {
		return nil, nil, nil
	}
	return o.ref(), nil, nil
}

func (r *Runtime) boundaryArgs(m *Method, self clr.Object, args []any) []any {
	if len(args) != len(m.params) {
		r.throwNew("System.Reflection.TargetParameterCountException",
			fmt.Sprintf("Parameter count mismatch: %s takes %d, got %d.", m.fullName, len(m.params), len(args)))
	}

	var out []any
	if !m.def.Static {
		if self == nil {
			r.throwNew("System.NullReferenceException", "Non-static method requires a target.")
		}
		o, err := unwrapObject(self)
		if err != nil {
			r.throwNew("System.ArgumentException", err.Error())
		}
		if !o.class.IsSubclassOf(m.class, true) {
			r.throwNew("System.ArgumentException",
				fmt.Sprintf("Object of type %s does not match target type %s.", o.class.fullName, m.class.fullName))
		}
		out = append(out, o)
	}
	for i, a := range args {
		v, err := r.coerce(m.class.img, a, m.params[i])
		r.guard(err, "System.ArgumentException")
		out = append(out, v)
	}
	return out
}

// guard throws excClass for a failed conversion. Fatal errors unwind the
// interpreter instead.
func (r *Runtime) guard(err error, excClass string) {
	if err == nil {
		return
	}
	if errors.HasKind(err, errors.KindFatal) {
		panic(&fatalSignal{err: err})
	}
	r.throwNew(excClass, err.Error())
}

// cast unwraps a conversion result, throwing InvalidCastException on
// failure.
func (r *Runtime) cast(v any, err error) any {
	r.guard(err, "System.InvalidCastException")
	return v
}

// call runs m with fully prepared arguments, this first for instance
// methods.
func (r *Runtime) call(m *Method, args []any) any {
	if m.class.img.closed {
		r.throwNew("System.MissingMethodException", "Method "+m.fullName+" belongs to an unloaded assembly.")
	}

	f := &frame{method: m, args: args}
	r.frames = append(r.frames, f)
	r.emit(clr.EventMethodEnter, m.fullName, 0)
	defer func() {
		r.frames = r.frames[:len(r.frames)-1]
		r.emit(clr.EventMethodLeave, m.fullName, 0)
	}()

	if m.def.InternalCall {
		return r.callNative(m, args)
	}
	return r.exec(f)
}

func (r *Runtime) exec(f *frame) any {
	m := f.method
	code := m.def.Body
	if m.covered == nil && len(code) > 0 {
		m.covered = make([]bool, len(code))
	}

	pop := func() any {
		if len(f.stack) == 0 {
			r.throwNew("System.InvalidProgramException", "Stack underflow in "+m.fullName+".")
		}
		v := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		return v
	}
	push := func(v any) { f.stack = append(f.stack, v) }

	for f.pc < len(code) {
		pc := f.pc
		ins := code[pc]
		f.pc++

		if !m.covered[pc] {
			m.covered[pc] = true
			r.emit(clr.EventCoverage, fmt.Sprintf("%s+%d", m.fullName, pc), 0)
		}

		switch ins.Op {
		case image.OpNop:

		case image.OpLdarg:
			push(f.args[r.argIndex(f, ins.Int)])

		case image.OpStarg:
			f.args[r.argIndex(f, ins.Int)] = pop()

		case image.OpLdcI4:
			push(int32(ins.Int))

		case image.OpLdcI8:
			push(ins.Int)

		case image.OpLdcR8:
			push(ins.Float)

		case image.OpLdstr:
			push(r.cast(r.newString(ins.Str)))

		case image.OpLdnull:
			push(nil)

		case image.OpLdfld:
			fld := r.resolveField(m, pc, ins.Str, false)
			o := r.instanceOf(pop(), fld)
			push(o.fields[fld.index])

		case image.OpStfld:
			fld := r.resolveField(m, pc, ins.Str, false)
			v := pop()
			o := r.instanceOf(pop(), fld)
			o.fields[fld.index] = r.cast(r.coerce(m.class.img, v, fld.typ))

		case image.OpLdsfld:
			fld := r.resolveField(m, pc, ins.Str, true)
			push(fld.class.statics[fld.index])

		case image.OpStsfld:
			fld := r.resolveField(m, pc, ins.Str, true)
			fld.class.statics[fld.index] = r.cast(r.coerce(m.class.img, pop(), fld.typ))

		case image.OpCall, image.OpCallvirt:
			callee := r.resolveMethod(m, pc, ins.Str)
			args := r.popArgs(f, callee, !callee.def.Static)
			if !callee.def.Static {
				recv, _ := args[0].(*object)
				if recv == nil {
					r.throwNew("System.NullReferenceException", "Object reference not set to an instance of an object.")
				}
				if ins.Op == image.OpCallvirt {
					if impl := recv.class.findVirtual(callee.name, callee.def.Params); impl != nil {
						callee = impl
					}
				}
			}
			ret := r.call(callee, args)
			if !callee.isVoid() {
				push(ret)
			}

		case image.OpNewobj:
			ctor := r.resolveMethod(m, pc, ins.Str)
			if ctor.def.Static || ctor.name != ".ctor" {
				r.throwNew("System.InvalidProgramException", "newobj requires an instance constructor, got "+ctor.fullName+".")
			}
			obj, err := r.heap.allocate(ctor.class, 0)
			if err != nil {
				panic(&fatalSignal{err: err})
			}
			args := r.popArgs(f, ctor, false)
			r.call(ctor, append([]any{obj}, args...))
			push(obj)

		case image.OpThrow:
			v := pop()
			exc, ok := v.(*object)
			if !ok || exc == nil {
				r.throwNew("System.NullReferenceException", "Object reference not set to an instance of an object.")
			}
			r.raise(exc)

		case image.OpRet:
			if m.isVoid() {
				return nil
			}
			return r.cast(r.coerce(m.class.img, pop(), m.ret))

		case image.OpAdd, image.OpSub, image.OpMul:
			b := pop()
			a := pop()
			push(r.arith(ins.Op, a, b))

		case image.OpDup:
			v := pop()
			push(v)
			push(v)

		case image.OpPop:
			pop()

		default:
			r.throwNew("System.InvalidProgramException", fmt.Sprintf("Unknown opcode %q in %s.", ins.Op, m.fullName))
		}
	}

	if !m.isVoid() {
		r.throwNew("System.InvalidProgramException", "Method "+m.fullName+" ended without ret.")
	}
	return nil
}

func (r *Runtime) argIndex(f *frame, i int64) int {
	if i < 0 || int(i) >= len(f.args) {
		r.throwNew("System.InvalidProgramException",
			fmt.Sprintf("Argument %d out of range in %s.", i, f.method.fullName))
	}
	return int(i)
}

// popArgs pops the parameters of callee (and the receiver when withThis)
// and converts them to the declared parameter types.
func (r *Runtime) popArgs(f *frame, callee *Method, withThis bool) []any {
	n := len(callee.params)
	if withThis {
		n++
	}
	if len(f.stack) < n {
		r.throwNew("System.InvalidProgramException", "Stack underflow calling "+callee.fullName+".")
	}
	args := append([]any(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]

	off := 0
	if withThis {
		off = 1
	}
	for i, p := range callee.params {
		args[off+i] = r.cast(r.coerce(f.method.class.img, args[off+i], p))
	}
	return args
}

func (r *Runtime) instanceOf(v any, fld *Field) *object {
	o, ok := v.(*object)
	if !ok || o == nil {
		r.throwNew("System.NullReferenceException", "Object reference not set to an instance of an object.")
	}
	if !o.class.IsSubclassOf(fld.class, false) {
		r.throwNew("System.InvalidCastException",
			fmt.Sprintf("Unable to cast object of type %s to type %s.", o.class.fullName, fld.class.fullName))
	}
	return o
}

func (r *Runtime) resolveMethod(m *Method, pc int, ref string) *Method {
	if v, ok := m.resolved[pc].(*Method); ok && !v.class.img.closed {
		return v
	}
	mr, err := image.ParseMemberRef(ref)
	if err != nil {
		r.throwNew("System.InvalidProgramException", err.Error())
	}
	c := m.class.img.resolve(mr.Class)
	if c == nil {
		r.throwNew("System.MissingMethodException", "Could not resolve type "+mr.Class+" for "+ref+".")
	}
	callee := c.findVirtual(mr.Name, mr.Params)
	if callee == nil {
		r.throwNew("System.MissingMethodException", "Method not found: "+ref+".")
	}
	if m.resolved == nil {
		m.resolved = make(map[int]any)
	}
	m.resolved[pc] = callee
	return callee
}

func (r *Runtime) resolveField(m *Method, pc int, ref string, static bool) *Field {
	if v, ok := m.resolved[pc].(*Field); ok && !v.class.img.closed {
		return v
	}
	fr, err := image.ParseMemberRef(ref)
	if err != nil {
		r.throwNew("System.InvalidProgramException", err.Error())
	}
	c := m.class.img.resolve(fr.Class)
	if c == nil {
		r.throwNew("System.MissingFieldException", "Could not resolve type "+fr.Class+" for "+ref+".")
	}
	fld := c.findField(fr.Name)
	if fld == nil || fld.static != static {
		r.throwNew("System.MissingFieldException", "Field not found: "+ref+".")
	}
	c.ensureSlots()
	fld.class.ensureSlots()
	if m.resolved == nil {
		m.resolved = make(map[int]any)
	}
	m.resolved[pc] = fld
	return fld
}

// arith applies a binary arithmetic opcode. Both operands must share a
// numeric representation, except int32 which widens to int64.
func (r *Runtime) arith(op image.Op, a, b any) any {
	switch x := a.(type) {
	case int32:
		if _, ok := b.(int64); ok {
			a = int64(x)
		}
	case int64:
		if y, ok := b.(int32); ok {
			b = int64(y)
		}
	}

	switch x := a.(type) {
	case int32:
		if y, ok := b.(int32); ok {
			switch op {
			case image.OpAdd:
				return x + y
			case image.OpSub:
				return x - y
			default:
				return x * y
			}
		}
	case int64:
		if y, ok := b.(int64); ok {
			switch op {
			case image.OpAdd:
				return x + y
			case image.OpSub:
				return x - y
			default:
				return x * y
			}
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch op {
			case image.OpAdd:
				return x + y
			case image.OpSub:
				return x - y
			default:
				return x * y
			}
		}
	}
	r.throwNew("System.InvalidProgramException", fmt.Sprintf("Operands %T and %T are not valid for %s.", a, b, op))
	return nil
}
