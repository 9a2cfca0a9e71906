// Package clrembed embeds a managed (CLI) runtime behind a reflection cache
// with explicit lifetime and invalidation rules.
//
// Callers hold references to cached reflection entities (assemblies, classes,
// methods, fields, properties) while the runtime underneath may relocate
// objects, unload assemblies or tear a domain down. Every external reference
// either sees a live entity or observes an invalid state, never a dangling one.
//
// # Architecture Overview
//
//	clrembed/        Root package with the allocator vtable contract
//	├── managed/     Reflection cache, contexts, objects, exception pipeline
//	├── handle/      Entity/observer invalidation protocol
//	├── clr/         Runtime embedding API consumed by managed/
//	├── engine/      Reference in-process runtime implementing clr/
//	├── gchandle/    GC handle table (movable, pinned, weak)
//	├── image/       Assembly image model, binary and TOML forms
//	├── native/      WebAssembly-backed native functions (internal calls)
//	├── eventlog/    SQLite profiling event log
//	└── errors/      Structured error types
//
// # Quick Start
//
//	rt := engine.New()
//	sys, err := managed.NewSystem(rt, managed.Settings{DomainName: "app"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Close()
//
//	ctx, err := sys.CreateContext("hello.dll")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	greet := ctx.FindClass("Sample", "Greeter").FindMethod("Greet")
//	ret, err := greet.CallStatic()
//
// # Handles
//
// Attach a handle to keep a weak, self-invalidating reference:
//
//	h := handle.New(ctx.FindClass("Sample", "Greeter"))
//	ctx.UnloadAssembly("hello.dll")
//	h.Valid() // false
//
// # Thread Safety
//
// The core performs no internal locking. All operations on a System and its
// contexts must happen on the goroutine that owns the runtime domain.
package clrembed
