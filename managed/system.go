package managed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// NativeRegistrar binds native functions as internal calls.
type NativeRegistrar interface {
	RegisterNativeFunction(name string, fn any) error
}

// NativeModule is a set of native functions registered together.
type NativeModule interface {
	Bind(r NativeRegistrar) error
}

// System is the top-level owner of a managed runtime and its contexts.
//
// The runtime is started by the first CreateContext. Allocator overrides,
// configuration and profiling are applied by NewSystem.
type System struct {
	rt       clr.Runtime
	root     clr.Domain
	settings Settings
	profile  *profileStack
	contexts []*Context

	failed    error
	seq       int
	allocator bool
	started   bool
	closed    bool
}

// NewSystem configures rt according to s. rt must not have been started.
func NewSystem(rt clr.Runtime, s Settings) (*System, error) {
	if rt == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "runtime is nil")
	}
	if s.Profiling.Flags == 0 && len(s.Profiling.Events) > 0 {
		flags, err := ParseProfileFlags(s.Profiling.Events)
		if err != nil {
			return nil, err
		}
		s.Profiling.Flags = flags
	}

	sys := &System{
		rt:       rt,
		settings: s,
		profile:  newProfileStack(),
	}

	if vt := acquireAllocator(s.Allocator); vt != nil {
		sys.allocator = true
		if err := rt.SetAllocator(vt); err != nil {
			releaseAllocator()
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindFatal, err, "install allocator")
		}
	}

	if s.Config != "" {
		if err := rt.ParseConfig(s.Config, s.ConfigIsFile); err != nil {
			sys.release()
			return nil, err
		}
	}
	if s.Debug {
		if err := rt.EnableDebugging(); err != nil {
			sys.release()
			return nil, err
		}
	}
	rt.SetProfiler(s.Profiling.Flags, sys.onEvent)
	return sys, nil
}

func (s *System) release() {
	if s.allocator {
		releaseAllocator()
		s.allocator = false
	}
}

// Runtime returns the underlying runtime.
func (s *System) Runtime() clr.Runtime { return s.rt }

// check returns the fatal error that stopped the system, if any.
func (s *System) check() error {
	if s.closed {
		return errors.NotInitialized(errors.PhaseRuntime, "system (closed)")
	}
	if s.failed != nil {
		return s.failed
	}
	if err := s.rt.Failed(); err != nil {
		s.failed = errors.Fatal(errors.PhaseRuntime, "runtime failed", err)
		Logger().Error("system failed", zap.Error(err))
		return s.failed
	}
	return nil
}

func (s *System) start() error {
	if s.started {
		return nil
	}
	root, err := s.rt.Start(s.settings.domainName())
	if err != nil {
		s.failed = errors.Fatal(errors.PhaseRuntime, "start runtime", err)
		return s.failed
	}
	s.root = root
	s.started = true
	Logger().Info("system started", zap.String("domain", root.Name()))
	return nil
}

// CreateContext creates a context in a new domain and loads baseImage into
// it. An empty baseImage creates an empty context.
func (s *System) CreateContext(baseImage string) (*Context, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.start(); err != nil {
		return nil, err
	}

	s.seq++
	d, err := s.rt.CreateDomain(fmt.Sprintf("%s-%d", s.settings.domainName(), s.seq))
	if err != nil {
		return nil, err
	}
	ctx := newContext(s, d, baseImage)
	if err := ctx.Init(); err != nil {
		_ = d.Unload()
		return nil, err
	}
	if baseImage != "" {
		if _, err := ctx.LoadAssembly(baseImage); err != nil {
			_ = ctx.destroy()
			return nil, err
		}
	}
	s.contexts = append(s.contexts, ctx)
	Logger().Info("context created",
		zap.String("domain", d.Name()),
		zap.String("base_image", baseImage),
	)
	return ctx, nil
}

// DestroyContext unloads every assembly of ctx and its domain.
func (s *System) DestroyContext(ctx *Context) error {
	for i, c := range s.contexts {
		if c == ctx {
			s.contexts = append(s.contexts[:i], s.contexts[i+1:]...)
			Logger().Info("context destroyed", zap.String("domain", ctx.domain.Name()))
			return ctx.destroy()
		}
	}
	return errors.NotFound(errors.PhaseRuntime, "context", fmt.Sprintf("%p", ctx))
}

func (s *System) NumActiveContexts() int { return len(s.contexts) }

// Contexts returns the active contexts in creation order.
func (s *System) Contexts() []*Context { return s.contexts }

func (s *System) HeapSize() uint64 { return s.rt.GC().HeapSize() }
func (s *System) UsedHeapSize() uint64 { return s.rt.GC().UsedHeapSize() }
func (s *System) MaxGCGeneration() int { return s.rt.GC().MaxGeneration() }

// RunGCCollect collects generations 0 through gen.
func (s *System) RunGCCollect(gen int) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.started {
		return nil
	}
	if err := s.rt.GC().Collect(gen); err != nil {
		return err
	}
	Logger().Debug("gc collect", zap.Int("generation", gen))
	return s.check()
}

// RunGCCollectAll collects every generation.
func (s *System) RunGCCollectAll() error {
	return s.RunGCCollect(s.MaxGCGeneration())
}

// RegisterNativeFunction binds fn to the internal call name, which has the
// form "Namespace.Class::Method".
func (s *System) RegisterNativeFunction(name string, fn any) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.rt.AddInternalCall(name, fn); err != nil {
		return err
	}
	Logger().Debug("native function registered", zap.String("name", name))
	return nil
}

// RegisterNativeModule registers every function of m.
func (s *System) RegisterNativeModule(m NativeModule) error {
	if m == nil {
		return errors.InvalidInput(errors.PhaseHost, "native module is nil")
	}
	return m.Bind(s)
}

// EnableDebugging turns on debugger support. Once the first context exists
// the call does nothing.
func (s *System) EnableDebugging() {
	if s.started || len(s.contexts) > 0 {
		Logger().Debug("debugging toggle ignored after first context")
		return
	}
	if err := s.rt.EnableDebugging(); err != nil {
		Logger().Debug("debugging toggle ignored", zap.Error(err))
		return
	}
	s.settings.Debug = true
}

// IsDebuggingEnabled reports whether debugger support is on, either through
// the settings, EnableDebugging or the runtime configuration.
func (s *System) IsDebuggingEnabled() bool {
	if d, ok := s.rt.(interface{ Debugging() bool }); ok {
		return d.Debugging()
	}
	return s.settings.Debug
}

// Close destroys every context, newest first, and shuts the runtime down.
func (s *System) Close() error {
	if s.closed {
		return nil
	}
	for len(s.contexts) > 0 {
		ctx := s.contexts[len(s.contexts)-1]
		if err := s.DestroyContext(ctx); err != nil {
			Logger().Warn("context destroy failed", zap.Error(err))
		}
	}
	err := s.rt.Shutdown()
	s.closed = true
	s.release()
	Logger().Info("system closed")
	return err
}
