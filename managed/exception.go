package managed

import (
	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// ExceptionDescriptor is the data extracted from a managed exception.
type ExceptionDescriptor struct {
	Message    string
	StackTrace string
	Source     string
	Class      string
	Namespace  string

	// String is the exception's ToString.
	String string
}

// FullName returns the qualified class name of the exception.
func (d ExceptionDescriptor) FullName() string {
	if d.Namespace == "" {
		return d.Class
	}
	return d.Namespace + "." + d.Class
}

// ExceptionCallback receives every exception reported in a context. a is
// the assembly the exception was reported for, or nil.
type ExceptionCallback func(ctx *Context, a *Assembly, exc clr.Object, d ExceptionDescriptor)

// CallbackID identifies a registered exception callback.
type CallbackID uint64

type exceptionCallback struct {
	fn ExceptionCallback
	id CallbackID
}

// describeException reads the descriptor fields through the exception's
// properties. Missing properties leave fields empty.
func describeException(exc clr.Object) ExceptionDescriptor {
	if exc == nil {
		return ExceptionDescriptor{}
	}
	var d ExceptionDescriptor
	if c := exc.Class(); c != nil {
		d.Class = c.Name()
		d.Namespace = c.Namespace()
	}
	d.Message = stringProperty(exc, "Message")
	d.StackTrace = stringProperty(exc, "StackTrace")
	d.Source = stringProperty(exc, "Source")
	if s, err := exc.ToString(); err == nil {
		d.String = s
	}
	return d
}

func stringProperty(obj clr.Object, name string) string {
	getter := findGetter(obj.Class(), name)
	if getter == nil {
		return ""
	}
	ret, exc, err := getter.Invoke(obj, nil)
	if err != nil || exc != nil || ret == nil {
		return ""
	}
	if s, ok := ret.Value().(string); ok {
		return s
	}
	return ""
}

func findGetter(c clr.Class, name string) clr.Method {
	for ; c != nil; c = c.Parent() {
		for _, p := range c.Properties() {
			if p.Name() == name {
				return p.Getter()
			}
		}
	}
	return nil
}

// exceptionError builds the error returned by calls that raised exc.
func exceptionError(exc clr.Object, d ExceptionDescriptor) error {
	return errors.ManagedException(exc, d.FullName(), d.Message)
}

func logException(d ExceptionDescriptor, callbacks int) {
	Logger().Debug("managed exception",
		zap.String("class", d.FullName()),
		zap.String("message", d.Message),
		zap.Int("callbacks", callbacks),
	)
}
