package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // image and assembly loading
	PhaseReflect  Phase = "reflect"  // reflection cache population and lookup
	PhaseInvoke   Phase = "invoke"   // managed method invocation
	PhaseGC       Phase = "gc"       // GC handles and collection
	PhaseConfig   Phase = "config"   // settings and runtime configuration
	PhaseHost     Phase = "host"     // native function registration
	PhaseRuntime  Phase = "runtime"  // runtime lifecycle
	PhaseValidate Phase = "validate" // whitelist validation
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindLoadFailure         Kind = "load_failure"
	KindSignatureMismatch   Kind = "signature_mismatch"
	KindManagedException    Kind = "managed_exception"
	KindFatal               Kind = "fatal"
	KindInvalidHandle       Kind = "invalid_handle"
	KindCollected           Kind = "collected"
	KindInvalidInput        Kind = "invalid_input"
	KindRegistration        Kind = "registration"
	KindUnsupported         Kind = "unsupported"
	KindNotInitialized      Kind = "not_initialized"
	KindTypeMismatch        Kind = "type_mismatch"
	KindUnresolvedReference Kind = "unresolved_reference"
)

// Error is the structured error type used throughout the library
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Type != "" {
		b.WriteString(": type ")
		b.WriteString(e.Type)
	}

	if e.Detail != "" {
		if e.Type != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HasKind reports whether err is an *Error of the given kind anywhere in its chain.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the lookup path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Type sets the managed type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// LoadFailure creates an image or assembly load error
func LoadFailure(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailure,
		Detail: fmt.Sprintf("load %q", path),
		Cause:  cause,
	}
}

// SignatureMismatch creates a signature mismatch error
func SignatureMismatch(phase Phase, method, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindSignatureMismatch,
		Path:   []string{method},
		Detail: detail,
	}
}

// ManagedException wraps a raised managed object.
// exc is the raw exception object; summary is a printable description.
func ManagedException(exc any, className, summary string) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindManagedException,
		Type:   className,
		Detail: summary,
		Value:  exc,
	}
}

// Fatal creates an unrecoverable runtime error
func Fatal(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFatal,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidHandle creates an error for access through an invalidated reference
func InvalidHandle(what string) *Error {
	return &Error{
		Phase:  PhaseReflect,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("%s is no longer valid", what),
	}
}

// Collected creates an error for a weakly held object reclaimed by the GC
func Collected(handle uint32) *Error {
	return &Error{
		Phase:  PhaseGC,
		Kind:   KindCollected,
		Detail: fmt.Sprintf("target of gc handle %d was collected", handle),
		Value:  handle,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a native function registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s", name),
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, got, want string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Type:   want,
		Detail: fmt.Sprintf("cannot use %s", got),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// UnlistedReference represents a referenced type missing from a whitelist
type UnlistedReference struct {
	Assembly  string
	Namespace string
	Name      string
}

// UnlistedReferencesError is returned when an assembly references types
// outside of an approved whitelist
type UnlistedReferencesError struct {
	References []UnlistedReference
}

// NewUnlistedReferencesError creates an error from fully qualified type names
func NewUnlistedReferencesError(assembly string, typeNames []string) *UnlistedReferencesError {
	result := &UnlistedReferencesError{
		References: make([]UnlistedReference, 0, len(typeNames)),
	}
	for _, name := range typeNames {
		ns, n := splitTypeName(name)
		result.References = append(result.References, UnlistedReference{
			Assembly:  assembly,
			Namespace: ns,
			Name:      n,
		})
	}
	return result
}

func splitTypeName(full string) (namespace, name string) {
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}

func (e *UnlistedReferencesError) Error() string {
	if len(e.References) == 0 {
		return "[validate] unresolved_reference: no references specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d referenced type(s) not in whitelist:\n", len(e.References)))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, ref := range e.References {
		ns := ref.Namespace
		if ns == "" {
			ns = "<global>"
		}
		if _, exists := byNS[ns]; !exists {
			nsOrder = append(nsOrder, ns)
		}
		byNS[ns] = append(byNS[ns], ref.Name)
	}
	sort.Strings(nsOrder)

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, n := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *UnlistedReferencesError) Is(target error) bool {
	_, ok := target.(*UnlistedReferencesError)
	return ok
}
