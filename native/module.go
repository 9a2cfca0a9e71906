package native

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/managed"
)

// Module is a compiled WebAssembly module whose exports back the internal
// calls of one managed class.
type Module struct {
	runtime wazero.Runtime
	module  api.Module
	class   string
	ctx     context.Context
	funcs   map[string]*function
	order   []string
}

type function struct {
	sig    Signature
	method string
	fn     api.Function
}

var _ managed.NativeModule = (*Module)(nil)

// Load compiles wasm and checks each function declared in witText against
// the module's exports. class is the managed class ("Namespace.Name") whose
// internal calls the exports implement.
func Load(ctx context.Context, wasm []byte, witText, class string) (*Module, error) {
	if class == "" {
		return nil, errors.InvalidInput(errors.PhaseHost, "class name cannot be empty")
	}
	sigs, err := ParseSignatures(witText)
	if err != nil {
		return nil, err
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindLoadFailure, err, "compile native module for "+class)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(class))
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindLoadFailure, err, "instantiate native module for "+class)
	}

	m := &Module{
		runtime: r,
		module:  mod,
		class:   class,
		ctx:     ctx,
		funcs:   make(map[string]*function, len(sigs)),
	}
	for _, sig := range sigs {
		f, err := m.bindExport(sig)
		if err != nil {
			r.Close(ctx)
			return nil, err
		}
		m.funcs[sig.Name] = f
		m.order = append(m.order, sig.Name)
	}
	sort.Strings(m.order)

	Logger().Debug("native module loaded",
		zap.String("class", class),
		zap.Int("functions", len(m.funcs)))
	return m, nil
}

func (m *Module) bindExport(sig Signature) (*function, error) {
	fn := m.module.ExportedFunction(sig.Name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "export", sig.Name)
	}
	if len(sig.Results) > 1 {
		return nil, errors.Unsupported(errors.PhaseHost,
			fmt.Sprintf("%s: %d results", sig.Name, len(sig.Results)))
	}

	def := fn.Definition()
	want := make([]api.ValueType, 0, len(sig.Params))
	for _, p := range sig.Params {
		vt, err := coreType(p)
		if err != nil {
			return nil, errors.New(errors.PhaseHost, errors.KindUnsupported).
				Path(sig.Name).
				Cause(err).
				Build()
		}
		want = append(want, vt)
	}
	if !sameTypes(def.ParamTypes(), want) {
		return nil, errors.SignatureMismatch(errors.PhaseLoad, sig.Name,
			fmt.Sprintf("export takes %s, declared %s", typeNames(def.ParamTypes()), typeNames(want)))
	}

	var wantResults []api.ValueType
	for _, r := range sig.Results {
		vt, err := coreType(r)
		if err != nil {
			return nil, errors.New(errors.PhaseHost, errors.KindUnsupported).
				Path(sig.Name).
				Cause(err).
				Build()
		}
		wantResults = append(wantResults, vt)
	}
	if !sameTypes(def.ResultTypes(), wantResults) {
		return nil, errors.SignatureMismatch(errors.PhaseLoad, sig.Name,
			fmt.Sprintf("export returns %s, declared %s", typeNames(def.ResultTypes()), typeNames(wantResults)))
	}

	return &function{sig: sig, method: MethodName(sig.Name), fn: fn}, nil
}

// Class returns the managed class the module is bound to.
func (m *Module) Class() string { return m.class }

// Functions returns the export names in sorted order.
func (m *Module) Functions() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Bind registers every export as "Class::Method".
func (m *Module) Bind(r managed.NativeRegistrar) error {
	for _, name := range m.order {
		f := m.funcs[name]
		call := m.nativeFunc(f)
		if err := r.RegisterNativeFunction(m.class+"::"+f.method, call); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) nativeFunc(f *function) clr.NativeFunc {
	return func(args []any) (any, error) {
		return m.call(m.ctx, f, args)
	}
}

// Call invokes the export name directly.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseInvoke, "native function", name)
	}
	return m.call(ctx, f, args)
}

func (m *Module) call(ctx context.Context, f *function, args []any) (any, error) {
	if len(args) != len(f.sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseInvoke,
			fmt.Sprintf("%s takes %d arguments, got %d", f.sig.Name, len(f.sig.Params), len(args)))
	}
	in := make([]uint64, len(args))
	for i, a := range args {
		v, err := encode(a, f.sig.Params[i])
		if err != nil {
			return nil, err
		}
		in[i] = v
	}

	out, err := f.fn.Call(ctx, in...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInvoke, errors.KindFatal, err, "call "+f.sig.Name)
	}
	if len(f.sig.Results) == 0 {
		return nil, nil
	}
	return decode(out[0], f.sig.Results[0]), nil
}

// Close releases the wazero runtime.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

func coreType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.S8, wit.U8, wit.S16, wit.U16, wit.S32, wit.U32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.S64, wit.U64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	}
	return 0, errors.Unsupported(errors.PhaseHost, fmt.Sprintf("WIT type %T", t))
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(types []api.ValueType) string {
	s := "("
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s + ")"
}

// encode converts a Go argument to its core wasm representation.
func encode(v any, t wit.Type) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "bool")
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case wit.F32:
		f, ok := toFloat(v)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "f32")
		}
		return api.EncodeF32(float32(f)), nil
	case wit.F64:
		f, ok := toFloat(v)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "f64")
		}
		return api.EncodeF64(f), nil
	case wit.S64, wit.U64:
		n, ok := toInt(v)
		if !ok {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "i64")
		}
		return api.EncodeI64(n), nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseInvoke, nil, fmt.Sprintf("%T", v), "i32")
	}
	return api.EncodeI32(int32(n)), nil
}

// decode converts a core wasm result to the Go type matching t.
func decode(v uint64, t wit.Type) any {
	switch t.(type) {
	case wit.Bool:
		return uint32(v) != 0
	case wit.S8:
		return int8(v)
	case wit.U8:
		return uint8(v)
	case wit.S16:
		return int16(v)
	case wit.U16:
		return uint16(v)
	case wit.U32:
		return uint32(v)
	case wit.Char:
		return rune(uint32(v))
	case wit.S64:
		return int64(v)
	case wit.U64:
		return v
	case wit.F32:
		return api.DecodeF32(v)
	case wit.F64:
		return api.DecodeF64(v)
	}
	return api.DecodeI32(v)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	return 0, false
}
