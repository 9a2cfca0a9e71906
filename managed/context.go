package managed

import (
	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Context owns a runtime domain and the assemblies loaded into it.
type Context struct {
	handle.Base

	sys        *System
	domain     clr.Domain
	baseImage  string
	assemblies []*Assembly
	callbacks  []exceptionCallback
	nextID     CallbackID

	initialized bool
	destroyed   bool
}

func newContext(sys *System, d clr.Domain, baseImage string) *Context {
	return &Context{sys: sys, domain: d, baseImage: baseImage}
}

func (c *Context) System() *System { return c.sys }
func (c *Context) Domain() clr.Domain { return c.domain }
func (c *Context) BaseImage() string { return c.baseImage }
func (c *Context) Assemblies() []*Assembly { return c.assemblies }

func (c *Context) usable() error {
	if c.destroyed {
		return errors.InvalidHandle("context (destroyed)")
	}
	return c.sys.check()
}

// Init activates the context's domain. Calling it again is a no-op.
func (c *Context) Init() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.initialized {
		return nil
	}
	if err := c.domain.Activate(); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindLoadFailure, err, "activate domain "+c.domain.Name())
	}
	c.initialized = true
	return nil
}

// LoadAssembly opens the image at path, adds the assembly to the context
// and populates its reflection cache. Loading a path that is already
// loaded returns the existing assembly, repopulated if its cache was
// cleared. On failure the context is left as it was.
func (c *Context) LoadAssembly(path string) (*Assembly, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if a := c.FindAssembly(path); a != nil {
		if err := a.PopulateReflectionInfo(); err != nil {
			return nil, errors.LoadFailure(path, err)
		}
		return a, nil
	}

	raw, err := c.domain.OpenAssembly(path)
	if err != nil {
		Logger().Warn("assembly load failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	a := newAssembly(c, raw, path)
	c.assemblies = append(c.assemblies, a)
	if err := a.PopulateReflectionInfo(); err != nil {
		c.removeAssembly(a)
		a.unloaded = true
		_ = raw.Close()
		return nil, errors.LoadFailure(path, err)
	}
	Logger().Info("assembly loaded",
		zap.String("path", path),
		zap.String("name", raw.Name()),
		zap.String("domain", c.domain.Name()),
	)
	return a, nil
}

// UnloadAssembly unloads the assembly loaded from name, or whose assembly
// name is name. It returns false when no such assembly is loaded.
func (c *Context) UnloadAssembly(name string) bool {
	a := c.FindAssembly(name)
	if a == nil {
		for _, x := range c.assemblies {
			if x.Name() == name {
				a = x
				break
			}
		}
	}
	if a == nil {
		return false
	}
	if err := a.Unload(); err != nil {
		Logger().Warn("assembly unload failed", zap.String("path", a.path), zap.Error(err))
	}
	return true
}

func (c *Context) removeAssembly(a *Assembly) {
	for i, x := range c.assemblies {
		if x == a {
			c.assemblies = append(c.assemblies[:i], c.assemblies[i+1:]...)
			return
		}
	}
}

// FindAssembly returns the assembly loaded from exactly path, or nil.
func (c *Context) FindAssembly(path string) *Assembly {
	for _, a := range c.assemblies {
		if a.path == path {
			return a
		}
	}
	return nil
}

// FindClass searches the loaded assemblies in load order and returns the
// first class with the given namespace and name, or nil.
func (c *Context) FindClass(namespace, name string) *Class {
	for _, a := range c.assemblies {
		if cls := a.FindClass(namespace, name); cls != nil {
			return cls
		}
	}
	return nil
}

// FindClassIn looks up a class in one assembly.
func (c *Context) FindClassIn(a *Assembly, namespace, name string) *Class {
	if a == nil || a.ctx != c {
		return nil
	}
	return a.FindClass(namespace, name)
}

// FindSystemClass returns the core library class without caching a
// descriptor for it.
func (c *Context) FindSystemClass(namespace, name string) clr.Class {
	if c.destroyed {
		return nil
	}
	corlib := c.domain.Corlib()
	if corlib == nil {
		return nil
	}
	return corlib.ClassFromName(namespace, name)
}

// ClearReflectionInfo disposes the reflection cache of every assembly.
// The assemblies stay loaded; they are populated again by
// PopulateReflectionInfo.
func (c *Context) ClearReflectionInfo() {
	for _, a := range c.assemblies {
		a.DisposeReflectionInfo()
	}
}

// ValidateAgainstWhitelist reports whether every loaded assembly only
// references types in w.
func (c *Context) ValidateAgainstWhitelist(w Whitelist) bool {
	ok := true
	for _, a := range c.assemblies {
		if !a.ValidateAgainstWhitelist(w) {
			ok = false
		}
	}
	return ok
}

// ExceptionDescriptor extracts the descriptor of a raised object.
func (c *Context) ExceptionDescriptor(exc clr.Object) ExceptionDescriptor {
	return describeException(exc)
}

// ReportException dispatches exc to every registered callback in
// registration order. a is the originating assembly and may be nil.
func (c *Context) ReportException(exc clr.Object, a *Assembly) {
	c.dispatch(exc, a)
}

func (c *Context) dispatch(exc clr.Object, a *Assembly) ExceptionDescriptor {
	d := describeException(exc)
	logException(d, len(c.callbacks))
	// callbacks may register further callbacks; they run from the next report
	callbacks := append([]exceptionCallback(nil), c.callbacks...)
	for _, cb := range callbacks {
		cb.fn(c, a, exc, d)
	}
	return d
}

// RegisterExceptionCallback appends cb to the callback list and returns an
// id for UnregisterExceptionCallback.
func (c *Context) RegisterExceptionCallback(cb ExceptionCallback) CallbackID {
	c.nextID++
	c.callbacks = append(c.callbacks, exceptionCallback{fn: cb, id: c.nextID})
	return c.nextID
}

// UnregisterExceptionCallback removes the callback registered under id.
func (c *Context) UnregisterExceptionCallback(id CallbackID) bool {
	for i, cb := range c.callbacks {
		if cb.id == id {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// NewString allocates a managed string under a pinned handle.
func (c *Context) NewString(s string) (*Object, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	raw, err := c.domain.NewString(s)
	if err != nil {
		return nil, err
	}
	return newObject(c, raw, clr.Pinned)
}

// Box wraps a Go value into a managed object held by a handle of kind.
func (c *Context) Box(v any, kind clr.HandleKind) (*Object, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	raw, err := c.domain.Box(v)
	if err != nil {
		return nil, err
	}
	return newObject(c, raw, kind)
}

// Wrap takes a handle of kind to a raw runtime object.
func (c *Context) Wrap(raw clr.Object, kind clr.HandleKind) (*Object, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return newObject(c, raw, kind)
}

// complete finishes an invocation: an exception is reported once and
// returned as an error, a result is wrapped under a pinned handle.
func (c *Context) complete(a *Assembly, ret, exc clr.Object, err error) (*Object, error) {
	if err != nil {
		return nil, err
	}
	if exc != nil {
		d := c.dispatch(exc, a)
		return nil, exceptionError(exc, d)
	}
	if ret == nil {
		return nil, nil
	}
	return newObject(c, ret, clr.Pinned)
}

// pinAll wraps raw objects under pinned handles. On error the handles
// taken so far are released.
func (c *Context) pinAll(raw []clr.Object) ([]*Object, error) {
	out := make([]*Object, 0, len(raw))
	for _, r := range raw {
		o, err := newObject(c, r, clr.Pinned)
		if err != nil {
			for _, done := range out {
				done.Free()
			}
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// destroy unloads every assembly, newest first, and then the domain.
func (c *Context) destroy() error {
	if c.destroyed {
		return nil
	}
	for len(c.assemblies) > 0 {
		a := c.assemblies[len(c.assemblies)-1]
		if err := a.Unload(); err != nil {
			Logger().Warn("assembly unload failed", zap.String("path", a.path), zap.Error(err))
		}
	}
	c.callbacks = nil
	handle.Invalidate(c)
	c.destroyed = true
	return c.domain.Unload()
}
