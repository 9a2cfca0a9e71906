// Package errors provides structured error types for the clr-embed library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the managed type name involved, a lookup path, the
// offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
//		Path("Sample", "Greeter", ".ctor").
//		Type("System.Int32").
//		Detail("no constructor takes 2 arguments").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseReflect, "class", "Sample.Greeter")
//	err := errors.LoadFailure("hello.dll", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
