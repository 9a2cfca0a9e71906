package engine

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

// Domain is an isolation unit holding a set of assemblies.
type Domain struct {
	rt         *Runtime
	assemblies map[string]*Assembly
	name       string
	order      []*Assembly
	unloaded   bool
}

var _ clr.Domain = (*Domain)(nil)

func (d *Domain) Name() string { return d.name }

func (d *Domain) usable() error {
	if err := d.rt.check(); err != nil {
		return err
	}
	if d.unloaded {
		return errors.InvalidHandle("domain " + d.name + " (unloaded)")
	}
	return nil
}

// Activate makes d the current domain.
func (d *Domain) Activate() error {
	if err := d.usable(); err != nil {
		return err
	}
	d.rt.current = d
	return nil
}

// OpenAssembly loads an image into d. Registered images take precedence
// over files; relative paths are also tried against the configured
// search paths. Opening a path twice returns the same assembly.
func (d *Domain) OpenAssembly(path string) (clr.Assembly, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "assembly path cannot be empty")
	}
	if a, ok := d.assemblies[path]; ok {
		return a, nil
	}

	def, err := d.rt.readImage(path)
	if err != nil {
		return nil, err
	}
	img, err := newImage(d.rt, d, path, def)
	if err != nil {
		return nil, errors.LoadFailure(path, err)
	}

	a := &Assembly{domain: d, image: img, path: path}
	d.assemblies[path] = a
	d.order = append(d.order, a)

	d.rt.emit(clr.EventImageLoad, img.name, 0)
	d.rt.emit(clr.EventAssemblyLoad, img.name, 0)
	Logger().Debug("assembly loaded",
		zap.String("domain", d.name),
		zap.String("assembly", img.name),
		zap.String("path", path),
		zap.Int("classes", len(img.classes)),
	)
	return a, nil
}

// readImage locates and decodes the image for path.
func (r *Runtime) readImage(path string) (*image.Image, error) {
	if def, ok := r.images[path]; ok {
		return def, nil
	}

	candidates := []string{path}
	if !filepath.IsAbs(path) {
		for _, dir := range r.cfg.Assemblies.SearchPaths {
			candidates = append(candidates, filepath.Join(dir, path))
		}
	}
	for _, p := range candidates {
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			continue
		}
		def, err := image.ReadFile(p)
		if err != nil {
			return nil, errors.LoadFailure(path, err)
		}
		if err := def.Validate(); err != nil {
			return nil, errors.LoadFailure(path, err)
		}
		return def, nil
	}
	return nil, errors.LoadFailure(path, os.ErrNotExist)
}

func (d *Domain) removeAssembly(a *Assembly) {
	delete(d.assemblies, a.path)
	for i, x := range d.order {
		if x == a {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *Domain) Corlib() clr.Image {
	return d.rt.corlib
}

// NewObject allocates an instance of c with default field values. No
// constructor runs.
func (d *Domain) NewObject(c clr.Class) (clr.Object, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	k, ok := c.(*Class)
	if !ok || k == nil {
		return nil, errors.InvalidHandle("class")
	}
	if err := k.usable(); err != nil {
		return nil, err
	}
	if k.def.Kind == image.KindInterface {
		return nil, errors.Unsupported(errors.PhaseInvoke, "cannot instantiate interface "+k.fullName)
	}
	o, err := d.rt.heap.allocate(k, 0)
	if err != nil {
		return nil, err
	}
	return o.ref(), nil
}

func (d *Domain) NewString(s string) (clr.Object, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	o, err := d.rt.newString(s)
	if err != nil {
		return nil, err
	}
	return o.ref(), nil
}

// Box wraps a Go primitive or string. Managed objects are returned as is.
func (d *Domain) Box(v any) (clr.Object, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if obj, ok := v.(clr.Object); ok {
		return obj, nil
	}
	o, err := d.rt.boxGo(v)
	if err != nil {
		return nil, err
	}
	return o.ref(), nil
}

// Unload closes every assembly of d. The root domain only unloads at
// shutdown.
func (d *Domain) Unload() error {
	if d.unloaded {
		return nil
	}
	if d == d.rt.root && !d.rt.closed {
		return errors.Unsupported(errors.PhaseRuntime, "the root domain unloads at shutdown")
	}
	return d.unload()
}

func (d *Domain) unload() error {
	for len(d.order) > 0 {
		if err := d.order[len(d.order)-1].Close(); err != nil {
			return err
		}
	}
	d.unloaded = true
	d.rt.removeDomain(d)
	d.rt.emit(clr.EventContextUnload, d.name, 0)
	d.rt.emit(clr.EventDomainUnload, d.name, 0)
	return nil
}
