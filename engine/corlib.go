package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/wippyai/clr-embed/image"
)

const (
	typeInt32   = "System.Int32"
	typeBoolean = "System.Boolean"
	typeExc     = "System.Exception"
)

var corlibPrimitives = []string{
	"Boolean", "Byte", "Char", "Int16", "UInt16", "Int32", "UInt32",
	"Int64", "UInt64", "Single", "Double", "IntPtr", "UIntPtr",
}

// corlibExceptions lists the exception classes the runtime raises itself,
// with their parents.
var corlibExceptions = [][2]string{
	{"System.SystemException", typeExc},
	{"System.InvalidOperationException", "System.SystemException"},
	{"System.ArgumentException", "System.SystemException"},
	{"System.ArgumentNullException", "System.ArgumentException"},
	{"System.NullReferenceException", "System.SystemException"},
	{"System.MissingMemberException", "System.SystemException"},
	{"System.MissingMethodException", "System.MissingMemberException"},
	{"System.MissingFieldException", "System.MissingMemberException"},
	{"System.InvalidCastException", "System.SystemException"},
	{"System.NotSupportedException", "System.SystemException"},
	{"System.OutOfMemoryException", "System.SystemException"},
	{"System.InvalidProgramException", "System.SystemException"},
	{"System.Reflection.TargetParameterCountException", "System.SystemException"},
}

// corlibImage builds the core library every domain resolves against.
func corlibImage() *image.Image {
	b := image.NewBuilder(corlibName)

	obj := b.Class("System", "Object")
	obj.Ctor().Body(image.Ret())
	obj.Method("ToString").Returns(image.TypeString).Virtual().InternalCall()
	obj.Method("Equals").Params(image.TypeObject).Returns(typeBoolean).Virtual().InternalCall()

	b.Class("System", "ValueType").Parent(image.TypeObject)
	b.Class("System", "Enum").Parent("System.ValueType")
	b.Class("System", "Delegate").Parent(image.TypeObject)
	b.Class("System", "MulticastDelegate").Parent("System.Delegate")
	b.Class("System", "Nullable`1").Kind(image.KindStruct).Parent("System.ValueType")
	b.Class("System", "Attribute").Parent(image.TypeObject).Ctor().Body(image.Ret())
	b.Class("System", "Void").Kind(image.KindStruct).Parent("System.ValueType")
	b.Class("System", "Array").Parent(image.TypeObject)
	for _, p := range corlibPrimitives {
		b.Class("System", p).Kind(image.KindStruct).Parent("System.ValueType")
	}

	str := b.Class("System", "String").Parent(image.TypeObject)
	str.Method("Concat").Params(image.TypeString, image.TypeString).Returns(image.TypeString).Static().InternalCall()
	str.Method("IsNullOrEmpty").Params(image.TypeString).Returns(typeBoolean).Static().InternalCall()
	str.Method("get_Length").Returns(typeInt32).InternalCall()
	str.Property("Length", typeInt32, "get_Length", "")

	exc := b.Class("System", "Exception").Parent(image.TypeObject).
		Field(excMessage, image.TypeString).
		Field(excStackTrace, image.TypeString).
		Field(excSource, image.TypeString).
		Property("Message", image.TypeString, "get_Message", "").
		Property("StackTrace", image.TypeString, "get_StackTrace", "").
		Property("Source", image.TypeString, "get_Source", "")
	exc.Ctor().Body(image.Ret())
	exc.Ctor(image.TypeString).Body(
		image.Ldarg(0),
		image.Ldarg(1),
		image.Stfld(typeExc+"::"+excMessage),
		image.Ret(),
	)
	for _, acc := range [][2]string{
		{"get_Message", excMessage},
		{"get_StackTrace", excStackTrace},
		{"get_Source", excSource},
	} {
		exc.Method(acc[0]).Returns(image.TypeString).Virtual().Body(
			image.Ldarg(0),
			image.Ldfld(typeExc+"::"+acc[1]),
			image.Ret(),
		)
	}
	exc.Method("ToString").Returns(image.TypeString).Virtual().InternalCall()

	for _, e := range corlibExceptions {
		ns, name := image.SplitName(e[0])
		c := b.Class(ns, name).Parent(e[1])
		c.Ctor().Body(
			image.Ldarg(0),
			image.Call(image.MethodRef(e[1], ".ctor")),
			image.Ret(),
		)
		c.Ctor(image.TypeString).Body(
			image.Ldarg(0),
			image.Ldarg(1),
			image.Call(image.MethodRef(e[1], ".ctor", image.TypeString)),
			image.Ret(),
		)
	}

	b.Class("System.Threading", "Thread").
		Method("Sleep").Params(typeInt32).Static().InternalCall()
	b.Class("System.IO", "File").
		Method("Exists").Params(image.TypeString).Returns(typeBoolean).Static().InternalCall()

	gc := b.Class("System", "GC").Property("MaxGeneration", typeInt32, "get_MaxGeneration", "")
	gc.Method("Collect").Static().InternalCall()
	gc.Method("Collect").Params(typeInt32).Static().InternalCall()
	gc.Method("get_MaxGeneration").Returns(typeInt32).Static().InternalCall()

	console := b.Class("System", "Console")
	console.Method("WriteLine").Params(image.TypeString).Static().InternalCall()
	console.Method("WriteLine").Params(image.TypeObject).Static().InternalCall()
	console.Method("Write").Params(image.TypeString).Static().InternalCall()

	return b.Build()
}

// registerCorlibCalls binds the internal calls of the core library.
func registerCorlibCalls(r *Runtime) {
	str := func(v any) string {
		s, _ := unboxed(v).(string)
		return s
	}
	self := func(args []any) *object {
		o, _ := args[0].(*object)
		return o
	}

	r.icalls.add("System.Object::ToString()", func(rt *Runtime, args []any) (any, error) {
		return rt.builtinString(self(args)), nil
	})
	r.icalls.add("System.Object::Equals(System.Object)", func(rt *Runtime, args []any) (any, error) {
		other, _ := args[1].(*object)
		return self(args) == other, nil
	})
	r.icalls.add("System.Exception::ToString()", func(rt *Runtime, args []any) (any, error) {
		return rt.builtinString(self(args)), nil
	})

	r.icalls.add("System.String::Concat(System.String,System.String)", func(rt *Runtime, args []any) (any, error) {
		return str(args[0]) + str(args[1]), nil
	})
	r.icalls.add("System.String::IsNullOrEmpty(System.String)", func(rt *Runtime, args []any) (any, error) {
		return str(args[0]) == "", nil
	})
	r.icalls.add("System.String::get_Length()", func(rt *Runtime, args []any) (any, error) {
		return int32(len([]rune(str(args[0])))), nil
	})

	r.icalls.add("System.Threading.Thread::Sleep(System.Int32)", func(rt *Runtime, args []any) (any, error) {
		if ms, _ := args[0].(int32); ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		return nil, nil
	})
	r.icalls.add("System.IO.File::Exists(System.String)", func(rt *Runtime, args []any) (any, error) {
		path := str(args[0])
		if path == "" {
			return false, nil
		}
		st, err := os.Stat(path)
		return err == nil && !st.IsDir(), nil
	})

	r.icalls.add("System.GC::Collect()", func(rt *Runtime, args []any) (any, error) {
		return nil, rt.heap.collect(rt.heap.maxGen)
	})
	r.icalls.add("System.GC::Collect(System.Int32)", func(rt *Runtime, args []any) (any, error) {
		gen, _ := args[0].(int32)
		return nil, rt.heap.collect(int(gen))
	})
	r.icalls.add("System.GC::get_MaxGeneration()", func(rt *Runtime, args []any) (any, error) {
		return int32(rt.heap.maxGen), nil
	})

	r.icalls.add("System.Console::WriteLine(System.String)", func(rt *Runtime, args []any) (any, error) {
		_, err := fmt.Fprintln(rt.out, str(args[0]))
		return nil, err
	})
	r.icalls.add("System.Console::WriteLine(System.Object)", func(rt *Runtime, args []any) (any, error) {
		o, _ := args[0].(*object)
		if o == nil {
			_, err := fmt.Fprintln(rt.out)
			return nil, err
		}
		s, err := rt.toString(o)
		if err != nil {
			return nil, err
		}
		_, err = fmt.Fprintln(rt.out, s)
		return nil, err
	})
	r.icalls.add("System.Console::Write(System.String)", func(rt *Runtime, args []any) (any, error) {
		_, err := fmt.Fprint(rt.out, str(args[0]))
		return nil, err
	})
}

