package clr

import (
	"time"

	clrembed "github.com/wippyai/clr-embed"
)

// Runtime is the process-level entry point of a managed runtime.
type Runtime interface {
	// SetAllocator routes heap allocations through a. Must be called
	// before Start.
	SetAllocator(a clrembed.Allocator) error

	// ParseConfig applies runtime configuration. When isFile is true, data
	// is a path to the configuration file; otherwise it is the text itself.
	ParseConfig(data string, isFile bool) error

	// Start initializes the runtime and returns the root domain.
	Start(rootDomain string) (Domain, error)

	// EnableDebugging turns on debugger support. Must precede Start.
	EnableDebugging() error

	// SetProfiler installs the profiler callback for the given events.
	SetProfiler(flags ProfileFlags, fn func(ProfileEvent))

	// AddInternalCall binds fn to a method declared as an internal call.
	// name has the form "Namespace.Class::Method". fn is a NativeFunc or
	// any Go function whose parameters and results map onto managed values.
	AddInternalCall(name string, fn any) error

	// CreateDomain creates a child domain.
	CreateDomain(name string) (Domain, error)

	// GC returns the collector interface.
	GC() GC

	// Shutdown releases every domain and the heap.
	Shutdown() error

	// Failed returns the fatal error that stopped the runtime, if any.
	Failed() error
}

// GC exposes collection control and GC handles.
type GC interface {
	MaxGeneration() int
	Collect(generation int) error
	HeapSize() uint64
	UsedHeapSize() uint64

	// NewHandle creates a handle of the given kind to obj.
	NewHandle(obj Object, kind HandleKind) (GCHandle, error)

	// Target resolves a handle to its object at the current address.
	// Weak handles whose target was collected return a collected error.
	Target(h GCHandle) (Object, error)

	// Kind returns the kind of a live handle.
	Kind(h GCHandle) (HandleKind, bool)

	// FreeHandle releases a handle. Freeing an unknown handle is a no-op.
	FreeHandle(h GCHandle)
}

// Domain is an isolation unit owning loaded assemblies.
type Domain interface {
	Name() string

	// Activate makes this the current domain of the calling thread.
	Activate() error

	// OpenAssembly loads the image at path into the domain.
	OpenAssembly(path string) (Assembly, error)

	// Corlib returns the core library image.
	Corlib() Image

	// NewObject allocates an instance of c without running a constructor.
	NewObject(c Class) (Object, error)

	// NewString allocates a managed string.
	NewString(s string) (Object, error)

	// Box wraps a Go value into a managed object of the matching class.
	Box(v any) (Object, error)

	// Unload releases the domain and every assembly it holds.
	Unload() error
}

// Assembly is a loaded unit of managed code.
type Assembly interface {
	Name() string
	Path() string
	Image() Image
	Close() error
}

// Image is the metadata of an assembly.
type Image interface {
	Name() string
	Classes() []Class

	// TypeRefs returns the fully qualified names of every type the image
	// references from other images.
	TypeRefs() []string

	ClassFromName(namespace, name string) Class
}

// ClassKind distinguishes type definitions.
type ClassKind uint8

const (
	KindClass ClassKind = iota
	KindStruct
	KindInterface
	KindEnum
	KindDelegate
)

func (k ClassKind) String() string {
	switch k {
	case KindStruct:
		return "struct"
	case KindInterface:
		return "interface"
	case KindEnum:
		return "enum"
	case KindDelegate:
		return "delegate"
	default:
		return "class"
	}
}

// Class is a type definition.
type Class interface {
	Namespace() string
	Name() string
	FullName() string
	Image() Image
	Kind() ClassKind
	Parent() Class
	Interfaces() []Class

	IsValueType() bool
	IsNullable() bool

	Methods() []Method
	Fields() []Field
	Properties() []Property

	// Attributes instantiates the custom attributes applied to the class.
	Attributes() ([]Object, error)

	// Layout returns the instance data size and alignment in bytes.
	Layout() (size, align uint32)

	// IsSubclassOf reports whether the class derives from base, directly
	// or transitively. With checkInterfaces, implemented interfaces count.
	IsSubclassOf(base Class, checkInterfaces bool) bool

	Type() Type
}

// Method is a method definition.
type Method interface {
	Name() string

	// FullName is "Namespace.Class::Name(ParamType,...)".
	FullName() string
	Class() Class
	Params() []Type
	Return() Type
	Token() uint32
	IsStatic() bool
	Attributes() ([]Object, error)

	// Invoke runs the method. self is nil for static methods. A managed
	// exception is returned in exc with a nil ret; err reports failures
	// outside the managed exception flow.
	Invoke(self Object, args []any) (ret, exc Object, err error)
}

// Field is a field definition.
type Field interface {
	Name() string
	Class() Class
	Type() Type
	IsStatic() bool

	// Get reads the field. obj is ignored for static fields.
	Get(obj Object) (any, error)
	Set(obj Object, v any) error
}

// Property is a property definition.
type Property interface {
	Name() string
	Class() Class
	Getter() Method
	Setter() Method
}

// TypeKind is a set of type attribute bits.
type TypeKind uint8

const (
	TypeStruct TypeKind = 1 << iota
	TypeVoid
	TypeByRef
	TypePointer
)

// Type is a use of a type in a signature.
type Type interface {
	// Name is the fully qualified name, including & and * suffixes.
	Name() string
	Kind() TypeKind

	// Class returns the element class, or nil when it cannot be resolved.
	Class() Class

	Equal(other Type) bool
}

// Object is a reference to a managed object.
type Object interface {
	Class() Class
	Address() uintptr

	// Live reports whether the reference still points at its target.
	Live() bool

	// Value returns the Go form of a boxed primitive or string, or the
	// object itself for other instances.
	Value() any

	// ToString runs the object's ToString and returns the result.
	ToString() (string, error)
}

// HandleKind is the strength of a GC handle.
type HandleKind uint8

const (
	Movable HandleKind = iota
	Pinned
	Weak
)

func (k HandleKind) String() string {
	switch k {
	case Pinned:
		return "pinned"
	case Weak:
		return "weak"
	default:
		return "movable"
	}
}

// GCHandle identifies a GC handle. Zero is never a valid handle.
type GCHandle uint32

// NativeFunc is the generic form of an internal call.
type NativeFunc func(args []any) (any, error)

// ProfileFlags selects profiler events.
type ProfileFlags uint32

const (
	ProfileCalls ProfileFlags = 1 << iota
	ProfileCoverage
	ProfileAllocations
	ProfileDomain
	ProfileContext
	ProfileAssembly
	ProfileImage
	ProfileExceptions
	ProfileGC
	ProfileThread
)

// ProfileAll selects every event.
const ProfileAll = ProfileCalls | ProfileCoverage | ProfileAllocations | ProfileDomain |
	ProfileContext | ProfileAssembly | ProfileImage | ProfileExceptions | ProfileGC | ProfileThread

// EventKind identifies a profiler event.
type EventKind uint8

const (
	EventMethodEnter EventKind = iota + 1
	EventMethodLeave
	EventCoverage
	EventAlloc
	EventMove
	EventDomainLoad
	EventDomainUnload
	EventContextLoad
	EventContextUnload
	EventAssemblyLoad
	EventAssemblyUnload
	EventImageLoad
	EventImageUnload
	EventException
	EventGCStart
	EventGCEnd
	EventThreadStart
	EventThreadEnd
)

var eventNames = map[EventKind]string{
	EventMethodEnter:    "method_enter",
	EventMethodLeave:    "method_leave",
	EventCoverage:       "coverage",
	EventAlloc:          "alloc",
	EventMove:           "move",
	EventDomainLoad:     "domain_load",
	EventDomainUnload:   "domain_unload",
	EventContextLoad:    "context_load",
	EventContextUnload:  "context_unload",
	EventAssemblyLoad:   "assembly_load",
	EventAssemblyUnload: "assembly_unload",
	EventImageLoad:      "image_load",
	EventImageUnload:    "image_unload",
	EventException:      "exception",
	EventGCStart:        "gc_start",
	EventGCEnd:          "gc_end",
	EventThreadStart:    "thread_start",
	EventThreadEnd:      "thread_end",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Flag returns the profile flag that enables k.
func (k EventKind) Flag() ProfileFlags {
	switch k {
	case EventMethodEnter, EventMethodLeave:
		return ProfileCalls
	case EventCoverage:
		return ProfileCoverage
	case EventAlloc, EventMove:
		return ProfileAllocations
	case EventDomainLoad, EventDomainUnload:
		return ProfileDomain
	case EventContextLoad, EventContextUnload:
		return ProfileContext
	case EventAssemblyLoad, EventAssemblyUnload:
		return ProfileAssembly
	case EventImageLoad, EventImageUnload:
		return ProfileImage
	case EventException:
		return ProfileExceptions
	case EventGCStart, EventGCEnd:
		return ProfileGC
	case EventThreadStart, EventThreadEnd:
		return ProfileThread
	}
	return 0
}

// ProfileEvent is delivered to the profiler callback.
type ProfileEvent struct {
	Time time.Time

	// Name is the subject: a method, domain, assembly or class name.
	Name  string
	Bytes uint64
	Kind  EventKind
}
