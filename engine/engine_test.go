package engine

import (
	"strings"
	"testing"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

const helloPath = "hello.dll"

func sampleImage() *image.Image {
	b := image.NewBuilder("hello")

	b.Class("Sample", "IGreeter").Kind(image.KindInterface)

	g := b.Class("Sample", "Greeter").Implements("Sample.IGreeter").
		StaticField("Count", "System.Int32")
	g.Ctor().Body(image.Ret())
	g.Method("Greet").Returns(image.TypeString).Static().Body(
		image.Ldstr("hi"),
		image.Ret(),
	)
	g.Method("Throw").Static().Body(
		image.Ldstr("bad"),
		image.Newobj("System.InvalidOperationException::.ctor(System.String)"),
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
	g.Method("Bump").Returns("System.Int32").Static().Body(
		image.Ldsfld("Sample.Greeter::Count"),
		image.LdcI4(1),
		image.Add(),
		image.Dup(),
		image.Stsfld("Sample.Greeter::Count"),
		image.Ret(),
	)
	g.Method("BadStore").Static().Body(
		image.Ldstr("seven"),
		image.Stsfld("Sample.Greeter::Count"),
		image.Ret(),
	)
	g.Method("File").Params(image.TypeString).Returns("System.Boolean").Static().Body(
		image.Ldarg(0),
		image.Call("System.IO.File::Exists(System.String)"),
		image.Ret(),
	)

	box := b.Class("Sample", "Box").Field("Value", image.TypeObject)
	box.Ctor(image.TypeObject).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld("Sample.Box::Value"),
		image.Ret(),
	)
	box.Method("Get").Returns(image.TypeObject).Body(
		image.Ldarg(0),
		image.Ldfld("Sample.Box::Value"),
		image.Ret(),
	)

	b.Class("Sample", "Point").Kind(image.KindStruct).
		Field("X", "System.Int32").
		Field("Y", "System.Int32").
		Field("B", "System.Byte")

	animal := b.Class("Sample", "Animal")
	animal.Ctor().Body(image.Ret())
	animal.Method("Speak").Returns(image.TypeString).Virtual().Body(image.Ldstr("..."), image.Ret())
	animal.Method("Call").Params("Sample.Animal").Returns(image.TypeString).Static().Body(
		image.Ldarg(0),
		image.Callvirt("Sample.Animal::Speak()"),
		image.Ret(),
	)

	dog := b.Class("Sample", "Dog").Parent("Sample.Animal")
	dog.Ctor().Body(image.Ldarg(0), image.Call("Sample.Animal::.ctor()"), image.Ret())
	dog.Method("Speak").Returns(image.TypeString).Virtual().Body(image.Ldstr("woof"), image.Ret())
	dog.Method("ToString").Returns(image.TypeString).Virtual().Body(image.Ldstr("dog"), image.Ret())

	tag := b.Class("Sample", "TagAttribute").Parent("System.Attribute").Field("Name", image.TypeString)
	tag.Ctor(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld("Sample.TagAttribute::Name"),
		image.Ret(),
	)
	b.Class("Sample", "Tagged").Attribute("Sample.TagAttribute", "x")

	return b.Build()
}

// startRuntime starts a runtime with the sample image opened in the root
// domain.
func startRuntime(t *testing.T, opts ...Option) (*Runtime, clr.Domain, clr.Image) {
	t.Helper()
	rt := New(opts...)
	if err := rt.RegisterImage(helloPath, sampleImage()); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	d, err := rt.Start("test")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = rt.Shutdown() })

	a, err := d.OpenAssembly(helloPath)
	if err != nil {
		t.Fatalf("OpenAssembly: %v", err)
	}
	return rt, d, a.Image()
}

func mustClass(t *testing.T, img clr.Image, ns, name string) clr.Class {
	t.Helper()
	c := img.ClassFromName(ns, name)
	if c == nil {
		t.Fatalf("class %s.%s not found", ns, name)
	}
	return c
}

func mustMethod(t *testing.T, c clr.Class, name string, params ...string) clr.Method {
	t.Helper()
	for _, m := range c.Methods() {
		if m.Name() != name || len(m.Params()) != len(params) {
			continue
		}
		match := true
		for i, p := range m.Params() {
			if p.Name() != params[i] {
				match = false
			}
		}
		if match {
			return m
		}
	}
	t.Fatalf("method %s::%s%v not found", c.FullName(), name, params)
	return nil
}

func invoke(t *testing.T, m clr.Method, self clr.Object, args ...any) (clr.Object, clr.Object) {
	t.Helper()
	ret, exc, err := m.Invoke(self, args)
	if err != nil {
		t.Fatalf("Invoke %s: %v", m.FullName(), err)
	}
	return ret, exc
}

func TestInvoke_Greet(t *testing.T) {
	_, _, img := startRuntime(t)
	greet := mustMethod(t, mustClass(t, img, "Sample", "Greeter"), "Greet")

	ret, exc := invoke(t, greet, nil)
	if exc != nil {
		t.Fatalf("unexpected exception: %v", exc)
	}
	if ret == nil {
		t.Fatal("Greet returned nil")
	}
	s, err := ret.ToString()
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	if s != "hi" {
		t.Errorf("Greet() = %q, want %q", s, "hi")
	}
	if ret.Value() != "hi" {
		t.Errorf("Value() = %v", ret.Value())
	}
}

func TestInvoke_InvalidCast(t *testing.T) {
	_, _, img := startRuntime(t)
	store := mustMethod(t, mustClass(t, img, "Sample", "Greeter"), "BadStore")

	_, exc := invoke(t, store, nil)
	if exc == nil {
		t.Fatal("expected exception")
	}
	if got := exc.Class().FullName(); got != "System.InvalidCastException" {
		t.Errorf("exception class = %s", got)
	}
	if trace := mustProperty(t, exc, "StackTrace"); !strings.Contains(trace, "at Sample.Greeter.BadStore()") {
		t.Errorf("StackTrace = %q", trace)
	}
}

func TestInvoke_Throw(t *testing.T) {
	_, _, img := startRuntime(t)
	throw := mustMethod(t, mustClass(t, img, "Sample", "Greeter"), "Throw")

	ret, exc := invoke(t, throw, nil)
	if ret != nil {
		t.Errorf("ret = %v, want nil", ret)
	}
	if exc == nil {
		t.Fatal("expected exception")
	}
	if got := exc.Class().FullName(); got != "System.InvalidOperationException" {
		t.Errorf("exception class = %s", got)
	}

	msg := mustProperty(t, exc, "Message")
	if msg != "bad" {
		t.Errorf("Message = %q, want %q", msg, "bad")
	}
	trace := mustProperty(t, exc, "StackTrace")
	if !strings.Contains(trace, "at Sample.Greeter.Throw()") {
		t.Errorf("StackTrace = %q", trace)
	}
	if src := mustProperty(t, exc, "Source"); src != "hello" {
		t.Errorf("Source = %q, want hello", src)
	}

	s, err := exc.ToString()
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	if !strings.HasPrefix(s, "System.InvalidOperationException: bad\n") {
		t.Errorf("ToString = %q", s)
	}
}

func mustProperty(t *testing.T, obj clr.Object, name string) string {
	t.Helper()
	for c := obj.Class(); c != nil; c = c.Parent() {
		for _, p := range c.Properties() {
			if p.Name() != name {
				continue
			}
			ret, exc, err := p.Getter().Invoke(obj, nil)
			if err != nil || exc != nil {
				t.Fatalf("get %s: err=%v exc=%v", name, err, exc)
			}
			if ret == nil {
				return ""
			}
			s, _ := ret.Value().(string)
			return s
		}
	}
	t.Fatalf("property %s not found", name)
	return ""
}

func TestInvoke_Overloads(t *testing.T) {
	_, _, img := startRuntime(t)
	greeter := mustClass(t, img, "Sample", "Greeter")

	ret, exc := invoke(t, mustMethod(t, greeter, "Foo", "System.Int32"), nil, int32(41))
	if exc != nil {
		t.Fatalf("exception: %v", exc)
	}
	if ret.Value() != int32(42) {
		t.Errorf("Foo(41) = %v", ret.Value())
	}

	ret, exc = invoke(t, mustMethod(t, greeter, "Foo", image.TypeString), nil, "hey")
	if exc != nil {
		t.Fatalf("exception: %v", exc)
	}
	if ret.Value() != "hey!" {
		t.Errorf("Foo(hey) = %v", ret.Value())
	}
}

func TestInvoke_ArgumentErrors(t *testing.T) {
	_, _, img := startRuntime(t)
	greeter := mustClass(t, img, "Sample", "Greeter")
	foo := mustMethod(t, greeter, "Foo", "System.Int32")

	tests := []struct {
		name string
		args []any
		exc  string
	}{
		{"too few", nil, "System.Reflection.TargetParameterCountException"},
		{"too many", []any{int32(1), int32(2)}, "System.Reflection.TargetParameterCountException"},
		{"wrong type", []any{"x"}, "System.ArgumentException"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, exc := invoke(t, foo, nil, tt.args...)
			if exc == nil {
				t.Fatal("expected exception")
			}
			if got := exc.Class().FullName(); got != tt.exc {
				t.Errorf("exception = %s, want %s", got, tt.exc)
			}
		})
	}

	get := mustMethod(t, mustClass(t, img, "Sample", "Box"), "Get")
	_, exc := invoke(t, get, nil)
	if exc == nil || exc.Class().FullName() != "System.NullReferenceException" {
		t.Errorf("instance call without receiver: exc = %v", exc)
	}
}

func TestInvoke_StaticField(t *testing.T) {
	_, _, img := startRuntime(t)
	greeter := mustClass(t, img, "Sample", "Greeter")
	bump := mustMethod(t, greeter, "Bump")

	for want := int32(1); want <= 3; want++ {
		ret, exc := invoke(t, bump, nil)
		if exc != nil {
			t.Fatalf("exception: %v", exc)
		}
		if ret.Value() != want {
			t.Errorf("Bump() = %v, want %d", ret.Value(), want)
		}
	}

	var count clr.Field
	for _, f := range greeter.Fields() {
		if f.Name() == "Count" {
			count = f
		}
	}
	if count == nil || !count.IsStatic() {
		t.Fatal("static field Count not found")
	}
	v, err := count.Get(nil)
	if err != nil || v != int32(3) {
		t.Errorf("Count = %v, %v", v, err)
	}
}

func TestInvoke_VirtualDispatch(t *testing.T) {
	_, d, img := startRuntime(t)
	dog := mustClass(t, img, "Sample", "Dog")
	call := mustMethod(t, mustClass(t, img, "Sample", "Animal"), "Call", "Sample.Animal")

	obj, err := d.NewObject(dog)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	ret, exc := invoke(t, call, nil, obj)
	if exc != nil {
		t.Fatalf("exception: %v", exc)
	}
	if ret.Value() != "woof" {
		t.Errorf("Call(dog) = %v, want woof", ret.Value())
	}

	s, err := obj.ToString()
	if err != nil || s != "dog" {
		t.Errorf("ToString() = %q, %v", s, err)
	}

	_, exc = invoke(t, call, nil, nil)
	if exc == nil || exc.Class().FullName() != "System.NullReferenceException" {
		t.Errorf("callvirt on null: exc = %v", exc)
	}
}

func TestClass_Hierarchy(t *testing.T) {
	_, _, img := startRuntime(t)
	greeter := mustClass(t, img, "Sample", "Greeter")
	iface := mustClass(t, img, "Sample", "IGreeter")
	animal := mustClass(t, img, "Sample", "Animal")
	dog := mustClass(t, img, "Sample", "Dog")

	tests := []struct {
		name   string
		c      clr.Class
		base   clr.Class
		ifaces bool
		want   bool
	}{
		{"self", dog, dog, false, true},
		{"parent", dog, animal, false, true},
		{"not child", animal, dog, false, false},
		{"interface unchecked", greeter, iface, false, false},
		{"interface", greeter, iface, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.IsSubclassOf(tt.base, tt.ifaces); got != tt.want {
				t.Errorf("IsSubclassOf = %v, want %v", got, tt.want)
			}
		})
	}

	if dog.Parent() != animal {
		t.Error("Dog parent should be Animal")
	}
	if p := animal.Parent(); p == nil || p.FullName() != image.TypeObject {
		t.Errorf("Animal parent = %v", p)
	}
	if iface.Kind() != clr.KindInterface {
		t.Errorf("IGreeter kind = %v", iface.Kind())
	}
}

func TestClass_Layout(t *testing.T) {
	_, _, img := startRuntime(t)
	point := mustClass(t, img, "Sample", "Point")

	if !point.IsValueType() {
		t.Fatal("Point should be a value type")
	}
	size, align := point.Layout()
	if size != 12 || align != 4 {
		t.Errorf("Layout() = (%d, %d), want (12, 4)", size, align)
	}
	if point.Type().Kind()&clr.TypeStruct == 0 {
		t.Error("Point type should carry the struct bit")
	}

	offsets := map[string]uint32{"X": 0, "Y": 4, "B": 8}
	for _, f := range point.Fields() {
		if got := f.(*Field).Offset(); got != offsets[f.Name()] {
			t.Errorf("offset of %s = %d, want %d", f.Name(), got, offsets[f.Name()])
		}
	}
}

func TestClass_Attributes(t *testing.T) {
	_, _, img := startRuntime(t)
	tagged := mustClass(t, img, "Sample", "Tagged")

	attrs, err := tagged.Attributes()
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if len(attrs) != 1 {
		t.Fatalf("got %d attributes, want 1", len(attrs))
	}
	if attrs[0].Class().FullName() != "Sample.TagAttribute" {
		t.Errorf("attribute class = %s", attrs[0].Class().FullName())
	}
	name := attrs[0].Class().Fields()[0]
	v, err := name.Get(attrs[0])
	if err != nil || v != "x" {
		t.Errorf("Name = %v, %v", v, err)
	}
}

func TestType_Kinds(t *testing.T) {
	_, _, img := startRuntime(t)
	scope := img.(*Image)

	tests := []struct {
		name string
		want clr.TypeKind
	}{
		{"System.Void", clr.TypeVoid},
		{"System.Int32", 0},
		{"System.Int32&", clr.TypeByRef},
		{"System.Byte*", clr.TypePointer},
		{"Sample.Point", clr.TypeStruct},
		{"Sample.Box", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newType(scope, tt.name).Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}

	a, b := newType(scope, "Sample.Box"), newType(scope, "Sample.Box")
	if !a.Equal(b) {
		t.Error("same type should be equal")
	}
	if a.Equal(newType(scope, "Sample.Point")) {
		t.Error("different types should not be equal")
	}
}

func TestDomain_Assemblies(t *testing.T) {
	rt, d, _ := startRuntime(t)

	again, err := d.OpenAssembly(helloPath)
	if err != nil {
		t.Fatalf("second OpenAssembly: %v", err)
	}
	if again.Image() == nil || again.Name() != "hello" {
		t.Errorf("unexpected assembly %v", again)
	}

	_, err = d.OpenAssembly("missing.dll")
	if !errors.HasKind(err, errors.KindLoadFailure) {
		t.Errorf("missing assembly: err = %v, want load failure", err)
	}

	if err := d.Unload(); err == nil {
		t.Error("root domain unload should fail before shutdown")
	}

	child, err := rt.CreateDomain("child")
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	a, err := child.OpenAssembly(helloPath)
	if err != nil {
		t.Fatalf("OpenAssembly: %v", err)
	}
	greet := mustMethod(t, mustClass(t, a.Image(), "Sample", "Greeter"), "Greet")

	if err := child.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, _, err := greet.Invoke(nil, nil); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("invoke after unload: err = %v", err)
	}
	if _, err := child.OpenAssembly(helloPath); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("open in unloaded domain: err = %v", err)
	}
}

func TestRuntime_Lifecycle(t *testing.T) {
	rt := New()
	if _, err := rt.CreateDomain("early"); !errors.HasKind(err, errors.KindNotInitialized) {
		t.Errorf("CreateDomain before Start: err = %v", err)
	}
	if _, err := rt.Start(""); err == nil {
		t.Error("empty root domain name should fail")
	}

	d, err := rt.Start("root")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if again, _ := rt.Start("other"); again != d {
		t.Error("second Start should return the root domain")
	}
	if err := rt.ParseConfig("", false); err == nil {
		t.Error("ParseConfig after Start should fail")
	}
	if err := rt.EnableDebugging(); err == nil {
		t.Error("EnableDebugging after Start should fail")
	}
	if d.Corlib() == nil || d.Corlib().Name() != corlibName {
		t.Errorf("Corlib() = %v", d.Corlib())
	}

	if err := rt.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := rt.GC().Collect(0); !errors.HasKind(err, errors.KindNotInitialized) {
		t.Errorf("Collect after shutdown: err = %v", err)
	}
}

func TestDomain_Box(t *testing.T) {
	_, d, _ := startRuntime(t)

	tests := []struct {
		in    any
		class string
		want  any
	}{
		{int32(7), "System.Int32", int32(7)},
		{7, "System.Int32", int32(7)},
		{int64(1) << 40, "System.Int64", int64(1) << 40},
		{true, "System.Boolean", true},
		{2.5, "System.Double", 2.5},
		{"s", image.TypeString, "s"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			obj, err := d.Box(tt.in)
			if err != nil {
				t.Fatalf("Box(%v): %v", tt.in, err)
			}
			if obj.Class().FullName() != tt.class {
				t.Errorf("class = %s, want %s", obj.Class().FullName(), tt.class)
			}
			if obj.Value() != tt.want {
				t.Errorf("Value() = %v, want %v", obj.Value(), tt.want)
			}
		})
	}

	if _, err := d.Box(struct{}{}); !errors.HasKind(err, errors.KindUnsupported) {
		t.Errorf("Box(struct): err = %v", err)
	}
}
