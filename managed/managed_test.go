package managed

import (
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/engine"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
	"github.com/wippyai/clr-embed/image"
)

const (
	helloPath = "hello.dll"
	ioPath    = "io.dll"
)

func helloImage() *image.Image {
	b := image.NewBuilder("hello")

	b.Class("Sample", "IGreeter").Kind(image.KindInterface)

	g := b.Class("Sample", "Greeter").Implements("Sample.IGreeter").
		Field("_name", image.TypeString).
		Property("Name", image.TypeString, "get_Name", "set_Name").
		Attribute("Sample.TagAttribute", "greeter")
	g.Ctor().Body(image.Ret())
	g.Ctor(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld("Sample.Greeter::_name"),
		image.Ret(),
	)
	g.Method("Greet").Returns(image.TypeString).Static().Body(
		image.Ldstr("hi"),
		image.Ret(),
	)
	g.Method("Throw").Static().Body(
		image.Ldstr("bad"),
		image.Newobj("System.InvalidOperationException::.ctor(System.String)"),
		image.Throw(),
	)
	g.Method("ThrowPlain").Static().Body(
		image.Ldstr("plain"),
		image.Newobj("System.Exception::.ctor(System.String)"),
		image.Throw(),
	)
	g.Method("Foo").Params("System.Int32").Returns("System.Int32").Static().Body(
		image.Ldarg(0),
		image.LdcI4(1),
		image.Add(),
		image.Ret(),
	)
	g.Method("Foo").Params(image.TypeString).Returns(image.TypeString).Static().Body(
		image.Ldarg(0),
		image.Ldstr("!"),
		image.Call("System.String::Concat(System.String,System.String)"),
		image.Ret(),
	)
	g.Method("Hello").Returns(image.TypeString).Attribute("Sample.TagAttribute", "hello").Body(
		image.Ldstr("hello "),
		image.Ldarg(0),
		image.Ldfld("Sample.Greeter::_name"),
		image.Call("System.String::Concat(System.String,System.String)"),
		image.Ret(),
	)
	g.Method("get_Name").Returns(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldfld("Sample.Greeter::_name"),
		image.Ret(),
	)
	g.Method("set_Name").Params(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld("Sample.Greeter::_name"),
		image.Ret(),
	)

	loud := b.Class("Sample", "Loud").Parent("Sample.Greeter")
	loud.Ctor().Body(image.Ldarg(0), image.Call("Sample.Greeter::.ctor()"), image.Ret())

	b.Class("Sample", "Point").Kind(image.KindStruct).
		Field("X", "System.Int32").
		Field("Y", "System.Int32")

	tag := b.Class("Sample", "TagAttribute").Parent("System.Attribute").Field("Name", image.TypeString)
	tag.Ctor(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld("Sample.TagAttribute::Name"),
		image.Ret(),
	)
	return b.Build()
}

// ioImage references exactly System.String, System.Int32 and System.IO.File.
func ioImage() *image.Image {
	b := image.NewBuilder("io")
	b.Class("Sample", "Reader").Method("Check").Params(image.TypeString).Returns("System.Int32").Static().Body(
		image.Ldarg(0),
		image.Call("System.IO.File::Exists(System.String)"),
		image.Pop(),
		image.LdcI4(1),
		image.Ret(),
	)
	return b.Build()
}

func newRuntime(t *testing.T) *engine.Runtime {
	t.Helper()
	rt := engine.New(engine.WithOutput(io.Discard))
	if err := rt.RegisterImage(helloPath, helloImage()); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	if err := rt.RegisterImage(ioPath, ioImage()); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	return rt
}

func newSystem(t *testing.T, s Settings) (*System, *engine.Runtime) {
	t.Helper()
	rt := newRuntime(t)
	sys, err := NewSystem(rt, s)
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	t.Cleanup(func() { _ = sys.Close() })
	return sys, rt
}

func newTestContext(t *testing.T) (*Context, *System) {
	t.Helper()
	sys, _ := newSystem(t, Settings{})
	ctx, err := sys.CreateContext(helloPath)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	return ctx, sys
}

func mustClass(t *testing.T, ctx *Context, ns, name string) *Class {
	t.Helper()
	c := ctx.FindClass(ns, name)
	if c == nil {
		t.Fatalf("class %s.%s not found", ns, name)
	}
	return c
}

func systemType(t *testing.T, ctx *Context, ns, name string) *Type {
	t.Helper()
	c := ctx.FindSystemClass(ns, name)
	if c == nil {
		t.Fatalf("system class %s.%s not found", ns, name)
	}
	return TypeOf(c)
}

func TestScenario_LoadFindInvoke(t *testing.T) {
	ctx, _ := newTestContext(t)

	greet := mustClass(t, ctx, "Sample", "Greeter").FindMethod("Greet")
	if greet == nil {
		t.Fatal("Greet not found")
	}
	ret, exc, err := greet.InvokeStatic(nil)
	if err != nil {
		t.Fatalf("InvokeStatic: %v", err)
	}
	if exc != nil {
		t.Fatalf("unexpected exception %v", exc)
	}
	s, err := ret.ToString()
	if err != nil || s != "hi" {
		t.Errorf("Greet() = %q, %v; want %q", s, err, "hi")
	}

	obj, err := greet.CallStatic()
	if err != nil {
		t.Fatalf("CallStatic: %v", err)
	}
	defer obj.Free()
	if obj.Kind() != clr.Pinned {
		t.Errorf("result handle kind = %s, want pinned", obj.Kind())
	}
	if obj.Value() != "hi" {
		t.Errorf("Value() = %v", obj.Value())
	}
}

func TestScenario_MissingMethod(t *testing.T) {
	ctx, _ := newTestContext(t)
	if m := mustClass(t, ctx, "Sample", "Greeter").FindMethod("DoesNotExist"); m != nil {
		t.Errorf("FindMethod(DoesNotExist) = %v, want nil", m)
	}
	if c := ctx.FindClass("Sample", "Missing"); c != nil {
		t.Errorf("FindClass(Missing) = %v, want nil", c)
	}
	if c := ctx.FindClass("Other", "Greeter"); c != nil {
		t.Errorf("FindClass with wrong namespace = %v, want nil", c)
	}
}

func TestScenario_UnloadInvalidates(t *testing.T) {
	ctx, _ := newTestContext(t)
	greeter := mustClass(t, ctx, "Sample", "Greeter")
	greet := greeter.FindMethod("Greet")
	name := greeter.FindProperty("Name")

	hc := handle.New(greeter)
	hm := handle.New(greet)
	hp := handle.New(name)
	if !hc.Valid() || !hm.Valid() || !hp.Valid() {
		t.Fatal("handles should start valid")
	}

	if !ctx.UnloadAssembly(helloPath) {
		t.Fatal("UnloadAssembly returned false")
	}
	for label, valid := range map[string]bool{"class": hc.Valid(), "method": hm.Valid(), "property": hp.Valid()} {
		if valid {
			t.Errorf("%s handle still valid after unload", label)
		}
	}
	if _, err := hc.Get(); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("Get after unload: %v, want invalid_handle", err)
	}
	if _, _, err := greet.InvokeStatic(nil); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("invoke after unload: %v, want invalid_handle", err)
	}
	if ctx.FindClass("Sample", "Greeter") != nil {
		t.Error("class still found after unload")
	}
	if ctx.UnloadAssembly(helloPath) {
		t.Error("second UnloadAssembly returned true")
	}
	if len(ctx.Assemblies()) != 0 {
		t.Errorf("assemblies = %d, want 0", len(ctx.Assemblies()))
	}
}

func TestUnload_RejectsDescriptorReads(t *testing.T) {
	ctx, _ := newTestContext(t)
	greeter := mustClass(t, ctx, "Sample", "Greeter")
	iface := mustClass(t, ctx, "Sample", "IGreeter")
	loud := mustClass(t, ctx, "Sample", "Loud")
	point := mustClass(t, ctx, "Sample", "Point")
	greet := greeter.FindMethod("Greet")
	foo := greeter.FindMethod("Foo")
	field := greeter.FindField("_name")
	int32Type := systemType(t, ctx, "System", "Int32")

	if !greeter.ImplementsInterface(iface) || !loud.DerivedFromClass(greeter) {
		t.Fatal("hierarchy checks should pass before unload")
	}
	if point.DataSize() == 0 || !point.IsValueType() {
		t.Fatal("point layout should be known before unload")
	}
	if greet.FullName() == "" {
		t.Fatal("method name should be known before unload")
	}

	if !ctx.UnloadAssembly(helloPath) {
		t.Fatal("UnloadAssembly returned false")
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"implements interface", greeter.ImplementsInterface(iface), false},
		{"derived from class", loud.DerivedFromClass(greeter), false},
		{"data size", point.DataSize(), uint32(0)},
		{"alignment", point.Alignment(), uint32(0)},
		{"value type", point.IsValueType(), false},
		{"constructors", greeter.NumConstructors(), 0},
		{"interface kind", iface.IsInterface(), false},
		{"method full name", greet.FullName(), ""},
		{"unpopulated params", len(foo.Params()), 0},
		{"match signature", foo.MatchSignature(int32Type), false},
		{"static", greet.IsStatic(), false},
		{"field static", field.IsStatic(), false},
		{"field type", field.Type() == nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestScenario_Whitelist(t *testing.T) {
	ctx, _ := newTestContext(t)
	if ctx.UnloadAssembly(helloPath) != true {
		t.Fatal("UnloadAssembly(hello)")
	}
	a, err := ctx.LoadAssembly(ioPath)
	if err != nil {
		t.Fatalf("LoadAssembly: %v", err)
	}

	want := []string{"System.IO.File", "System.Int32", "System.String"}
	if got := a.ReferencedTypes(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ReferencedTypes = %v, want %v", got, want)
	}

	tests := []struct {
		name string
		list Whitelist
		want bool
	}{
		{"missing file", NewWhitelist("System.String", "System.Int32"), false},
		{"complete", NewWhitelist("System.String", "System.Int32", "System.IO.File"), true},
		{"empty", NewWhitelist(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ctx.ValidateAgainstWhitelist(tt.list); got != tt.want {
				t.Errorf("ValidateAgainstWhitelist = %v, want %v", got, tt.want)
			}
			if got := a.ValidateAgainstWhitelist(tt.list); got != tt.want {
				t.Errorf("Assembly.ValidateAgainstWhitelist = %v, want %v", got, tt.want)
			}
		})
	}

	err2 := a.UnlistedReferences(NewWhitelist("System.String", "System.Int32"))
	if err2 == nil || len(err2.References) != 1 {
		t.Fatalf("UnlistedReferences = %v", err2)
	}
	if r := err2.References[0]; r.Namespace != "System.IO" || r.Name != "File" {
		t.Errorf("unlisted = %+v", r)
	}
}

func TestWhitelist_LogsViolations(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger = prev })

	ctx, _ := newTestContext(t)
	a, err := ctx.LoadAssembly(ioPath)
	if err != nil {
		t.Fatalf("LoadAssembly: %v", err)
	}
	if a.ValidateAgainstWhitelist(NewWhitelist("System.String")) {
		t.Fatal("whitelist should reject")
	}

	entries := logs.FilterMessage("assembly references types outside the whitelist").All()
	if len(entries) != 1 {
		t.Fatalf("got %d warnings, want 1", len(entries))
	}
	if path := entries[0].ContextMap()["path"]; path != ioPath {
		t.Errorf("logged path = %v", path)
	}
	if entries[0].LoggerName != "managed" {
		t.Errorf("logger name = %q", entries[0].LoggerName)
	}
}

func TestScenario_ExceptionCapture(t *testing.T) {
	ctx, _ := newTestContext(t)
	throw := mustClass(t, ctx, "Sample", "Greeter").FindMethod("Throw")

	var got []ExceptionDescriptor
	var origin *Assembly
	ctx.RegisterExceptionCallback(func(c *Context, a *Assembly, exc clr.Object, d ExceptionDescriptor) {
		if c != ctx {
			t.Errorf("callback context mismatch")
		}
		if exc == nil {
			t.Errorf("callback got nil exception")
		}
		origin = a
		got = append(got, d)
	})

	_, err := throw.CallStatic()
	if !errors.HasKind(err, errors.KindManagedException) {
		t.Fatalf("CallStatic error = %v, want managed_exception", err)
	}
	if len(got) != 1 {
		t.Fatalf("callbacks fired %d times, want 1", len(got))
	}
	d := got[0]
	if d.Message != "bad" {
		t.Errorf("Message = %q", d.Message)
	}
	if d.Class != "InvalidOperationException" || d.Namespace != "System" {
		t.Errorf("class = %s.%s", d.Namespace, d.Class)
	}
	if d.StackTrace == "" || !strings.Contains(d.StackTrace, "Sample.Greeter.Throw") {
		t.Errorf("StackTrace = %q", d.StackTrace)
	}
	if d.Source != "hello" {
		t.Errorf("Source = %q", d.Source)
	}
	if !strings.HasPrefix(d.String, "System.InvalidOperationException: bad") {
		t.Errorf("String = %q", d.String)
	}
	if origin == nil || origin.Path() != helloPath {
		t.Errorf("origin assembly = %v", origin)
	}

	// The raw path does not report.
	_, exc, err := throw.InvokeStatic(nil)
	if err != nil || exc == nil {
		t.Fatalf("InvokeStatic = %v, %v", exc, err)
	}
	if len(got) != 1 {
		t.Errorf("raw invoke reported the exception")
	}
	if desc := ctx.ExceptionDescriptor(exc); desc.Message != "bad" {
		t.Errorf("ExceptionDescriptor.Message = %q", desc.Message)
	}
}

func TestScenario_PlainExceptionDescriptor(t *testing.T) {
	ctx, _ := newTestContext(t)
	var got []ExceptionDescriptor
	ctx.RegisterExceptionCallback(func(_ *Context, _ *Assembly, _ clr.Object, d ExceptionDescriptor) {
		got = append(got, d)
	})

	_, err := mustClass(t, ctx, "Sample", "Greeter").FindMethod("ThrowPlain").CallStatic()
	if !errors.HasKind(err, errors.KindManagedException) {
		t.Fatalf("CallStatic error = %v, want managed_exception", err)
	}
	if len(got) != 1 {
		t.Fatalf("callbacks fired %d times, want 1", len(got))
	}
	d := got[0]
	if d.FullName() != "System.Exception" || d.Message != "plain" {
		t.Errorf("descriptor = %s %q", d.FullName(), d.Message)
	}
	if !strings.Contains(d.StackTrace, "Sample.Greeter.ThrowPlain") {
		t.Errorf("StackTrace = %q", d.StackTrace)
	}
	if d.Source != "hello" {
		t.Errorf("Source = %q", d.Source)
	}
	if !strings.HasPrefix(d.String, "System.Exception: plain\n") {
		t.Errorf("String = %q", d.String)
	}
}

func TestScenario_SignatureOverload(t *testing.T) {
	ctx, _ := newTestContext(t)
	greeter := mustClass(t, ctx, "Sample", "Greeter")
	intType := systemType(t, ctx, "System", "Int32")
	strType := systemType(t, ctx, "System", "String")

	var matches int
	for _, m := range greeter.Methods() {
		if m.Name() != "Foo" {
			continue
		}
		if m.MatchSignature(intType) {
			matches++
			if !m.MatchFullSignature(intType, intType) {
				t.Error("int overload should fully match (Int32) Int32")
			}
			if m.MatchFullSignature(strType, intType) {
				t.Error("int overload should not match return String")
			}
		}
	}
	if matches != 1 {
		t.Errorf("int overloads = %d, want 1", matches)
	}
	if n := len(greeter.FindMethods("Foo")); n != 2 {
		t.Errorf("FindMethods(Foo) = %d, want 2", n)
	}

	fooInt := greeter.FindMethodBySignature("Foo", intType)
	fooStr := greeter.FindMethodBySignature("Foo", strType)
	if fooInt == nil || fooStr == nil || fooInt == fooStr {
		t.Fatalf("FindMethodBySignature = %v, %v", fooInt, fooStr)
	}
	ret, err := fooInt.CallStatic(int32(41))
	if err != nil || ret.Value() != int32(42) {
		t.Errorf("Foo(41) = %v, %v", ret.Value(), err)
	}
	ret, err = fooStr.CallStatic("a")
	if err != nil || ret.Value() != "a!" {
		t.Errorf("Foo(a) = %v, %v", ret.Value(), err)
	}
	if m := greeter.FindMethodBySignature("Greet", intType); m != nil {
		t.Errorf("Greet(Int32) = %v, want nil", m)
	}
	if !greeter.FindMethod("Greet").MatchSignature() {
		t.Error("Greet should match the empty signature")
	}
}

func TestExceptionCallbacks_Order(t *testing.T) {
	ctx, _ := newTestContext(t)
	throw := mustClass(t, ctx, "Sample", "Greeter").FindMethod("Throw")

	var order []string
	first := ctx.RegisterExceptionCallback(func(*Context, *Assembly, clr.Object, ExceptionDescriptor) {
		order = append(order, "first")
	})
	ctx.RegisterExceptionCallback(func(*Context, *Assembly, clr.Object, ExceptionDescriptor) {
		order = append(order, "second")
	})
	ctx.RegisterExceptionCallback(func(*Context, *Assembly, clr.Object, ExceptionDescriptor) {
		order = append(order, "third")
	})

	_, _ = throw.CallStatic()
	if got := strings.Join(order, ","); got != "first,second,third" {
		t.Errorf("order = %s", got)
	}

	if !ctx.UnregisterExceptionCallback(first) {
		t.Fatal("UnregisterExceptionCallback returned false")
	}
	if ctx.UnregisterExceptionCallback(first) {
		t.Error("second unregister returned true")
	}
	order = nil
	_, _ = throw.CallStatic()
	if got := strings.Join(order, ","); got != "second,third" {
		t.Errorf("order after unregister = %s", got)
	}
}

func TestAssembly_PopulateRoundTrip(t *testing.T) {
	ctx, _ := newTestContext(t)
	a := ctx.FindAssembly(helloPath)
	if a == nil || !a.Populated() {
		t.Fatal("assembly not populated")
	}

	type counts struct{ methods, fields, props int }
	snapshot := func() map[string]counts {
		out := make(map[string]counts)
		for _, c := range a.Classes() {
			if c.Methods() == nil || c.Fields() == nil || c.Properties() == nil {
				t.Errorf("%s has nil member collections", c.FullName())
			}
			out[c.FullName()] = counts{len(c.Methods()), len(c.Fields()), len(c.Properties())}
		}
		return out
	}
	before := snapshot()
	if len(before) != 5 {
		t.Errorf("classes = %d, want 5", len(before))
	}
	for _, raw := range a.Raw().Image().Classes() {
		if a.FindClass(raw.Namespace(), raw.Name()) == nil {
			t.Errorf("populated assembly misses %s", raw.FullName())
		}
	}

	h := handle.New(a)
	old := a.FindClass("Sample", "Greeter")
	a.DisposeReflectionInfo()
	if a.Populated() || len(a.Classes()) != 0 || a.FindClass("Sample", "Greeter") != nil {
		t.Error("dispose left cached classes")
	}
	if h.Valid() || old.Alive() {
		t.Error("dispose should invalidate observers and classes")
	}

	if err := a.PopulateReflectionInfo(); err != nil {
		t.Fatalf("repopulate: %v", err)
	}
	if err := a.PopulateReflectionInfo(); err != nil {
		t.Fatalf("second populate: %v", err)
	}
	after := snapshot()
	if len(after) != len(before) {
		t.Fatalf("classes after round trip = %d, want %d", len(after), len(before))
	}
	for name, c := range before {
		if after[name] != c {
			t.Errorf("%s: %+v after round trip, want %+v", name, after[name], c)
		}
	}
	if h.Valid() {
		t.Error("observer dropped by dispose became valid again")
	}
	if !handle.New(a).Valid() {
		t.Error("new observer of repopulated assembly should be valid")
	}
	if old.FindMethod("Greet") != nil {
		t.Error("stale class still answers lookups")
	}
}

func TestContext_ClearReflectionInfo(t *testing.T) {
	ctx, _ := newTestContext(t)
	h := handle.New(mustClass(t, ctx, "Sample", "Greeter").FindMethod("Greet"))

	ctx.ClearReflectionInfo()
	if h.Valid() {
		t.Error("method handle valid after ClearReflectionInfo")
	}
	if ctx.FindClass("Sample", "Greeter") != nil {
		t.Error("class found after ClearReflectionInfo")
	}

	a := ctx.FindAssembly(helloPath)
	if a == nil {
		t.Fatal("assembly should stay loaded")
	}
	if err := a.PopulateReflectionInfo(); err != nil {
		t.Fatalf("PopulateReflectionInfo: %v", err)
	}
	if ctx.FindClass("Sample", "Greeter") == nil {
		t.Error("class missing after repopulation")
	}
}

func TestContext_LoadAssembly(t *testing.T) {
	ctx, _ := newTestContext(t)

	again, err := ctx.LoadAssembly(helloPath)
	if err != nil {
		t.Fatalf("LoadAssembly again: %v", err)
	}
	if again != ctx.FindAssembly(helloPath) || len(ctx.Assemblies()) != 1 {
		t.Error("loading a loaded path should return the existing assembly")
	}

	ctx.ClearReflectionInfo()
	again, err = ctx.LoadAssembly(helloPath)
	if err != nil {
		t.Fatalf("LoadAssembly after ClearReflectionInfo: %v", err)
	}
	if !again.Populated() {
		t.Error("reloaded assembly not populated")
	}
	if ctx.FindClass("Sample", "Greeter") == nil {
		t.Error("class missing after reloading a cleared assembly")
	}

	_, err = ctx.LoadAssembly("missing.dll")
	if !errors.HasKind(err, errors.KindLoadFailure) {
		t.Errorf("missing assembly error = %v, want load_failure", err)
	}
	if len(ctx.Assemblies()) != 1 {
		t.Errorf("failed load changed assemblies: %d", len(ctx.Assemblies()))
	}

	reader, err := ctx.LoadAssembly(ioPath)
	if err != nil {
		t.Fatalf("LoadAssembly(io): %v", err)
	}
	if c := ctx.FindClassIn(reader, "Sample", "Reader"); c == nil {
		t.Error("FindClassIn(io, Reader) = nil")
	}
	if c := ctx.FindClassIn(reader, "Sample", "Greeter"); c != nil {
		t.Error("FindClassIn(io, Greeter) should miss")
	}
	if got := ctx.Assemblies(); len(got) != 2 || got[0].Path() != helloPath || got[1].Path() != ioPath {
		t.Errorf("assemblies not in load order: %v", got)
	}
	if !ctx.UnloadAssembly("io") {
		t.Error("UnloadAssembly by assembly name failed")
	}
}

func TestContext_InitIdempotent(t *testing.T) {
	ctx, _ := newTestContext(t)
	for i := 0; i < 2; i++ {
		if err := ctx.Init(); err != nil {
			t.Fatalf("Init #%d: %v", i, err)
		}
	}
	if ctx.BaseImage() != helloPath {
		t.Errorf("BaseImage = %q", ctx.BaseImage())
	}
}
