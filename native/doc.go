// Package native backs managed internal calls with WebAssembly exports.
//
// A module is compiled with wazero and described by WIT function
// signatures. Load checks every declared function against the export's
// core signature; only scalar WIT types are accepted. Bind registers each
// export as "Namespace.Class::Method", where the method name is the
// PascalCase form of the kebab-case export name:
//
//	m, err := native.Load(ctx, wasm, "add: func(a: s32, b: s32) -> s32;", "Sample.Native")
//	if err != nil {
//		return err
//	}
//	defer m.Close(ctx)
//	err = system.RegisterNativeModule(m)
package native
