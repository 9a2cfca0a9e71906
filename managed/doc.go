// Package managed caches reflection information of a managed runtime and
// keeps managed objects addressable from Go.
//
// A System owns a clr.Runtime. Each Context owns one domain and the
// assemblies loaded into it; each Assembly owns the Class, Method, Field
// and Property descriptors built from its image:
//
//	sys, _ := managed.NewSystem(engine.New(), managed.Settings{})
//	ctx, _ := sys.CreateContext("hello.dll")
//	greet := ctx.FindClass("Sample", "Greeter").FindMethod("Greet")
//	ret, err := greet.CallStatic()
//
// # Validity
//
// Every descriptor embeds handle.Base. Callers that keep a descriptor past
// an unload attach a handle.Handle and check it before use:
//
//	h := handle.New(ctx.FindClass("Sample", "Greeter"))
//	ctx.UnloadAssembly("hello.dll")
//	h.Valid() // false
//
// Lookups on torn-down descriptors return nil, and operations on them
// return an invalid_handle error.
//
// # Objects
//
// Object holds a GC handle. Pinned objects (the default for instances and
// call results) keep a fixed address. Movable and weak objects resolve the
// address through the runtime on each access; a weak object whose target
// was collected reports a collected error.
//
// # Exceptions
//
// Method.Invoke returns a raised exception unreported. Method.Call,
// Object.Invoke and the property helpers report it once to the context's
// exception callbacks, in registration order, and return a
// managed_exception error.
package managed
