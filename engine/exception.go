package engine

import (
	"fmt"
	"strings"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/image"
)

const (
	excMessage    = "_message"
	excStackTrace = "_stackTraceString"
	excSource     = "_source"
)

// newException allocates an exception of the named corlib or loaded class
// with its message set.
func (r *Runtime) newException(className, msg string) (*object, error) {
	c := r.findClass(r.current, className)
	if c == nil {
		c = r.corlibClass("System.Exception")
	}
	o, err := r.heap.allocate(c, 0)
	if err != nil {
		return nil, err
	}
	s, err := r.newString(msg)
	if err != nil {
		return nil, err
	}
	r.setExceptionField(o, excMessage, s)
	return o, nil
}

func (r *Runtime) setExceptionField(o *object, name string, v any) {
	if f := o.class.findField(name); f != nil && !f.static {
		o.fields[f.index] = v
	}
}

func exceptionField(o *object, name string) string {
	f := o.class.findField(name)
	if f == nil || f.static {
		return ""
	}
	if s, ok := o.fields[f.index].(*object); ok && s != nil {
		if str, ok := s.value.(string); ok {
			return str
		}
	}
	return ""
}

func (r *Runtime) isException(o *object) bool {
	return o.class.fullName == "System.Exception" || o.class.derivesFrom("System.Exception")
}

// raise records the current call stack on exc and unwinds the
// interpreter.
func (r *Runtime) raise(exc *object) {
	if r.isException(exc) {
		if exceptionField(exc, excStackTrace) == "" {
			if s, err := r.newString(r.stackTrace()); err == nil {
				r.setExceptionField(exc, excStackTrace, s)
			}
		}
		if exceptionField(exc, excSource) == "" && len(r.frames) > 0 {
			top := r.frames[len(r.frames)-1]
			if s, err := r.newString(top.method.class.img.name); err == nil {
				r.setExceptionField(exc, excSource, s)
			}
		}
	}
	r.emit(clr.EventException, exc.class.fullName, 0)
	debugf("throw %s: %s", exc.class.fullName, exceptionField(exc, excMessage))
	panic(&throwSignal{exc: exc})
}

// throwNew raises a new exception of the named class.
func (r *Runtime) throwNew(className, msg string) {
	exc, err := r.newException(className, msg)
	if err != nil {
		panic(&fatalSignal{err: err})
	}
	r.raise(exc)
}

// stackTrace renders the interpreter frames, innermost first.
func (r *Runtime) stackTrace() string {
	var b strings.Builder
	for i := len(r.frames) - 1; i >= 0; i-- {
		f := r.frames[i]
		m := f.method
		fmt.Fprintf(&b, "  at %s.%s(%s)", m.class.fullName, m.name, strings.Join(m.def.Params, ", "))
		if r.debugging && !m.def.InternalCall {
			pc := f.pc - 1
			if pc < 0 {
				pc = 0
			}
			fmt.Fprintf(&b, " [IL_%04x]", pc)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// toString runs the managed ToString of o. Overrides declared in loaded
// assemblies are interpreted; corlib types format natively.
func (r *Runtime) toString(o *object) (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	m := o.class.findVirtual("ToString", nil)
	if m == nil || m.class.img == r.corlib {
		return r.builtinString(o), nil
	}
	ret, exc, err := r.invoke(m, o.ref(), nil)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", &ThrownError{Exception: exc}
	}
	if ret == nil {
		return "", nil
	}
	if s, ok := ret.Value().(string); ok {
		return s, nil
	}
	return fmt.Sprint(ret.Value()), nil
}

func (r *Runtime) builtinString(o *object) string {
	switch {
	case o.class.fullName == image.TypeString:
		s, _ := o.value.(string)
		return s
	case o.class.fullName == "System.Char":
		if c, ok := o.value.(rune); ok {
			return string(c)
		}
	case r.isException(o):
		s := o.class.fullName
		if msg := exceptionField(o, excMessage); msg != "" {
			s += ": " + msg
		}
		if trace := exceptionField(o, excStackTrace); trace != "" {
			s += "\n" + trace
		}
		return s
	}
	if o.value != nil {
		return formatValue(o.value)
	}
	return o.class.fullName
}
