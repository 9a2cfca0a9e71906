package managed

import (
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/handle"
)

// Assembly is a loaded assembly and the reflection cache built from its
// image. The cache is either empty or complete.
type Assembly struct {
	handle.Base

	ctx  *Context
	raw  clr.Assembly
	path string

	classes []*Class

	// byName maps a simple class name to every class carrying it; nested
	// and generic types may share a simple name.
	byName map[string][]*Class

	populated bool
	unloaded  bool
}

func newAssembly(ctx *Context, raw clr.Assembly, path string) *Assembly {
	return &Assembly{ctx: ctx, raw: raw, path: path}
}

func (a *Assembly) Name() string { return a.raw.Name() }
func (a *Assembly) Path() string { return a.path }
func (a *Assembly) Raw() clr.Assembly { return a.raw }
func (a *Assembly) Context() *Context { return a.ctx }
func (a *Assembly) Populated() bool { return a.populated }
func (a *Assembly) Classes() []*Class { return a.classes }

// PopulateReflectionInfo builds a Class for every type in the image.
// Calling it on a populated assembly is a no-op. On failure nothing of the
// partial population stays visible.
func (a *Assembly) PopulateReflectionInfo() error {
	if a.unloaded {
		return errors.InvalidHandle("assembly " + a.path + " (unloaded)")
	}
	if a.populated {
		return nil
	}

	raw := a.raw.Image().Classes()
	classes := make([]*Class, 0, len(raw))
	byName := make(map[string][]*Class, len(raw))
	for _, rc := range raw {
		c := newClass(a, rc)
		if err := c.populate(); err != nil {
			handle.Invalidate(c)
			for _, done := range classes {
				done.invalidate()
			}
			Logger().Warn("assembly population failed",
				zap.String("path", a.path),
				zap.String("class", rc.FullName()),
				zap.Error(err),
			)
			return err
		}
		classes = append(classes, c)
		byName[c.name] = append(byName[c.name], c)
	}

	a.classes = classes
	a.byName = byName
	a.populated = true
	a.Revive()
	Logger().Debug("assembly populated",
		zap.String("path", a.path),
		zap.Int("classes", len(classes)),
	)
	return nil
}

// DisposeReflectionInfo invalidates and drops every cached class. The
// assembly stays loaded and may be populated again.
func (a *Assembly) DisposeReflectionInfo() {
	for _, c := range a.classes {
		c.invalidate()
	}
	a.classes = nil
	a.byName = nil
	a.populated = false
	handle.Invalidate(a)
}

// FindClass returns the class with the given namespace and name, or nil.
func (a *Assembly) FindClass(namespace, name string) *Class {
	for _, c := range a.byName[name] {
		if c.namespace == namespace {
			return c
		}
	}
	return nil
}

// ReferencedTypes returns the sorted qualified names of the types the
// image references from other assemblies.
func (a *Assembly) ReferencedTypes() []string {
	refs := append([]string(nil), a.raw.Image().TypeRefs()...)
	sort.Strings(refs)
	return refs
}

// ValidateAgainstWhitelist reports whether every referenced type is in w.
func (a *Assembly) ValidateAgainstWhitelist(w Whitelist) bool {
	return a.UnlistedReferences(w) == nil
}

// UnlistedReferences returns an error listing the referenced types
// missing from w, or nil.
func (a *Assembly) UnlistedReferences(w Whitelist) *errors.UnlistedReferencesError {
	var missing []string
	for _, ref := range a.ReferencedTypes() {
		if !w.Contains(ref) {
			missing = append(missing, ref)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	Logger().Warn("assembly references types outside the whitelist",
		zap.String("path", a.path),
		zap.Strings("types", missing),
	)
	return errors.NewUnlistedReferencesError(a.Name(), missing)
}

// ReportException dispatches exc to the context's exception callbacks with
// this assembly as the origin.
func (a *Assembly) ReportException(exc clr.Object) {
	a.ctx.ReportException(exc, a)
}

// Unload disposes the reflection cache, removes the assembly from its
// context and closes the runtime assembly. The assembly is unusable
// afterwards.
func (a *Assembly) Unload() error {
	if a.unloaded {
		return nil
	}
	a.DisposeReflectionInfo()
	a.ctx.removeAssembly(a)
	a.unloaded = true
	if err := a.raw.Close(); err != nil {
		return err
	}
	Logger().Info("assembly unloaded", zap.String("path", a.path))
	return nil
}

func (a *Assembly) String() string { return a.path }
