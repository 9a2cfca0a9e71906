package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	clrembed "github.com/wippyai/clr-embed"
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/gchandle"
	"github.com/wippyai/clr-embed/image"
)

type handleEntry = gchandle.Entry[*object]

// Runtime is an in-process managed runtime: domains, images, an IL
// interpreter, a moving generational collector and GC handles.
type Runtime struct {
	cfg       Config
	alloc     clrembed.Allocator
	heap      *heap
	handles   *gchandle.Table[*object]
	icalls    *icallRegistry
	images    map[string]*image.Image
	corlib    *Image
	root      *Domain
	current   *Domain
	profileFn func(clr.ProfileEvent)
	failed    error
	out       io.Writer
	now       func() time.Time
	domains   []*Domain
	frames    []*frame
	tempRoots []any
	profile   clr.ProfileFlags
	debugging bool
	started   bool
	closed    bool
}

var _ clr.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithOutput sets the writer behind System.Console.
func WithOutput(w io.Writer) Option {
	return func(r *Runtime) { r.out = w }
}

// WithClock sets the time source for profiler events.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates a runtime with default configuration.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		cfg:     DefaultConfig(),
		handles: gchandle.NewTable[*object](),
		icalls:  newICallRegistry(),
		images:  make(map[string]*image.Image),
		out:     os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	registerCorlibCalls(r)
	return r
}

// SetAllocator routes heap allocations through a.
func (r *Runtime) SetAllocator(a clrembed.Allocator) error {
	if r.started {
		return errors.Unsupported(errors.PhaseRuntime, "allocator must be set before start")
	}
	if a == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "allocator is nil")
	}
	r.alloc = a
	return nil
}

// ParseConfig applies configuration text or a configuration file.
func (r *Runtime) ParseConfig(data string, isFile bool) error {
	if r.started {
		return errors.Unsupported(errors.PhaseConfig, "configuration must be parsed before start")
	}
	cfg, err := LoadConfig(data, isFile)
	if err != nil {
		return err
	}
	r.cfg = cfg
	if cfg.Debug.Enabled {
		r.debugging = true
	}
	return nil
}

// Config returns the active configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// EnableDebugging turns on debugger support. Stack traces then carry IL
// offsets.
func (r *Runtime) EnableDebugging() error {
	if r.started {
		return errors.Unsupported(errors.PhaseRuntime, "debugging must be enabled before start")
	}
	r.debugging = true
	return nil
}

// Debugging reports whether debugger support is on.
func (r *Runtime) Debugging() bool {
	return r.debugging
}

// SetProfiler installs the profiler callback. A nil fn disables profiling.
func (r *Runtime) SetProfiler(flags clr.ProfileFlags, fn func(clr.ProfileEvent)) {
	r.profile = flags
	r.profileFn = fn
}

// RegisterImage makes img loadable under path without touching the file
// system.
func (r *Runtime) RegisterImage(path string, img *image.Image) error {
	if err := img.Validate(); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "register image "+path)
	}
	r.images[path] = img
	return nil
}

// Start initializes the heap and corlib and creates the root domain.
func (r *Runtime) Start(rootDomain string) (clr.Domain, error) {
	if r.closed {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime (shut down)")
	}
	if r.started {
		return r.root, nil
	}
	if rootDomain == "" {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "root domain name cannot be empty")
	}

	if r.alloc == nil {
		r.alloc = clrembed.NewArena(r.cfg.Heap.Limit)
	}
	r.heap = newHeap(r, r.alloc, r.cfg.GC.MaxGeneration)

	corlib, err := newImage(r, nil, corlibName, corlibImage())
	if err != nil {
		return nil, errors.Fatal(errors.PhaseRuntime, "load corlib", err)
	}
	r.corlib = corlib

	for _, m := range r.cfg.DllMap {
		r.icalls.alias(m.Name, m.Target)
	}

	r.started = true
	r.emit(clr.EventThreadStart, "main", 0)

	root := r.newDomain(rootDomain)
	r.root = root
	r.current = root

	Logger().Info("runtime started",
		zap.String("domain", rootDomain),
		zap.Int("max_generation", r.cfg.GC.MaxGeneration),
		zap.Bool("debugging", r.debugging),
	)
	return root, nil
}

// CreateDomain creates a child domain.
func (r *Runtime) CreateDomain(name string) (clr.Domain, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "domain name cannot be empty")
	}
	return r.newDomain(name), nil
}

func (r *Runtime) newDomain(name string) *Domain {
	d := &Domain{
		rt:         r,
		name:       name,
		assemblies: make(map[string]*Assembly),
	}
	r.domains = append(r.domains, d)
	r.emit(clr.EventDomainLoad, name, 0)
	r.emit(clr.EventContextLoad, name, 0)
	return d
}

func (r *Runtime) removeDomain(d *Domain) {
	for i, x := range r.domains {
		if x == d {
			r.domains = append(r.domains[:i], r.domains[i+1:]...)
			break
		}
	}
	if r.current == d {
		r.current = r.root
	}
}

// GC returns the collector interface.
func (r *Runtime) GC() clr.GC {
	return (*gcHandle)(r)
}

// Shutdown unloads every domain and releases the heap.
func (r *Runtime) Shutdown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.started {
		return nil
	}

	for len(r.domains) > 0 {
		d := r.domains[len(r.domains)-1]
		if err := d.unload(); err != nil {
			Logger().Warn("domain unload failed", zap.String("domain", d.name), zap.Error(err))
			r.removeDomain(d)
		}
	}

	r.emit(clr.EventThreadEnd, "main", 0)
	_ = r.handles.Close()
	if r.heap != nil {
		r.heap.releaseAll()
	}
	Logger().Info("runtime shut down")
	return nil
}

// Failed returns the fatal error that stopped the runtime, if any.
func (r *Runtime) Failed() error {
	return r.failed
}

func (r *Runtime) fail(err error) {
	if r.failed == nil {
		r.failed = err
		Logger().Error("runtime failed", zap.Error(err))
	}
}

func (r *Runtime) check() error {
	switch {
	case r.failed != nil:
		return r.failed
	case r.closed:
		return errors.NotInitialized(errors.PhaseRuntime, "runtime (shut down)")
	case !r.started:
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	return nil
}

func (r *Runtime) emit(kind clr.EventKind, name string, bytes uint64) {
	if r.profileFn == nil || r.profile&kind.Flag() == 0 {
		return
	}
	r.profileFn(clr.ProfileEvent{
		Time:  r.now(),
		Kind:  kind,
		Name:  name,
		Bytes: bytes,
	})
}

// eachStatic visits every static field value of every loaded class.
func (r *Runtime) eachStatic(fn func(any)) {
	visit := func(img *Image) {
		for _, c := range img.classes {
			for _, v := range c.statics {
				fn(v)
			}
		}
	}
	if r.corlib != nil {
		visit(r.corlib)
	}
	for _, d := range r.domains {
		for _, a := range d.order {
			visit(a.image)
		}
	}
}

// findClass resolves a fully qualified class name: corlib first, then
// the assemblies of the domain in load order.
func (r *Runtime) findClass(d *Domain, fullName string) *Class {
	if r.corlib != nil {
		if c := r.corlib.byName[fullName]; c != nil {
			return c
		}
	}
	if d == nil {
		return nil
	}
	for _, a := range d.order {
		if c := a.image.byName[fullName]; c != nil {
			return c
		}
	}
	return nil
}

// corlibClass returns a corlib class that must exist.
func (r *Runtime) corlibClass(fullName string) *Class {
	c := r.corlib.byName[fullName]
	if c == nil {
		panic(fmt.Sprintf("engine: corlib class %s missing", fullName))
	}
	return c
}

// Collections returns how many times generation gen has been collected.
func (r *Runtime) Collections(gen int) int {
	if r.heap == nil || gen < 0 || gen >= len(r.heap.collections) {
		return 0
	}
	return r.heap.collections[gen]
}

// gcHandle adapts Runtime to clr.GC.
type gcHandle Runtime

func (g *gcHandle) rt() *Runtime { return (*Runtime)(g) }

func (g *gcHandle) MaxGeneration() int {
	return g.rt().cfg.GC.MaxGeneration
}

func (g *gcHandle) Collect(generation int) error {
	r := g.rt()
	if err := r.check(); err != nil {
		return err
	}
	return r.heap.collect(generation)
}

func (g *gcHandle) HeapSize() uint64 {
	if g.heap == nil {
		return 0
	}
	return g.heap.heapSize()
}

func (g *gcHandle) UsedHeapSize() uint64 {
	if g.heap == nil {
		return 0
	}
	return g.heap.used
}

func (g *gcHandle) NewHandle(obj clr.Object, kind clr.HandleKind) (clr.GCHandle, error) {
	r := g.rt()
	if err := r.check(); err != nil {
		return 0, err
	}
	o, err := unwrapObject(obj)
	if err != nil {
		return 0, err
	}
	h := r.handles.New(kind, o)
	if h == 0 {
		return 0, errors.NotInitialized(errors.PhaseGC, "handle table")
	}
	return h, nil
}

func (g *gcHandle) Target(h clr.GCHandle) (clr.Object, error) {
	e, ok := g.handles.Get(h)
	if !ok {
		return nil, errors.New(errors.PhaseGC, errors.KindInvalidHandle).
			Value(h).
			Detail("gc handle %d is not allocated", h).
			Build()
	}
	if e.Cleared || e.Target == nil || e.Target.freed {
		return nil, errors.Collected(uint32(h))
	}
	return e.Target.ref(), nil
}

func (g *gcHandle) Kind(h clr.GCHandle) (clr.HandleKind, bool) {
	e, ok := g.handles.Get(h)
	return e.Kind, ok
}

func (g *gcHandle) FreeHandle(h clr.GCHandle) {
	g.handles.Free(h)
}

// SubscribeHandles registers an observer of GC handle lifecycle events.
// The returned function removes it.
func (r *Runtime) SubscribeHandles(o gchandle.Observer) func() {
	return r.handles.Subscribe(o)
}

// NumHandles returns the number of allocated GC handles.
func (r *Runtime) NumHandles() int {
	return r.handles.Len()
}
