package engine

import (
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/image"
)

const corlibName = "mscorlib"

// Image is a loaded image: resolved classes over an image definition.
type Image struct {
	rt       *Runtime
	domain   *Domain
	def      *image.Image
	byName   map[string]*Class
	name     string
	classes  []*Class
	typeRefs []string
	closed   bool
}

var _ clr.Image = (*Image)(nil)

func newImage(rt *Runtime, d *Domain, path string, def *image.Image) (*Image, error) {
	img := &Image{
		rt:     rt,
		domain: d,
		def:    def,
		name:   def.Name,
		byName: make(map[string]*Class, len(def.Classes)),
	}
	if img.name == "" {
		img.name = path
	}

	img.typeRefs = def.TypeRefs
	if img.typeRefs == nil {
		img.typeRefs = image.CollectTypeRefs(def)
	}

	tokens := def.MethodTokens()
	img.classes = make([]*Class, len(def.Classes))
	for i := range def.Classes {
		c := newClass(img, &def.Classes[i], image.ClassToken(i), tokens[i])
		img.classes[i] = c
		img.byName[c.fullName] = c
	}

	for _, c := range img.classes {
		if err := c.link(); err != nil {
			return nil, err
		}
	}
	for _, c := range img.classes {
		c.initStatics()
	}
	return img, nil
}

// resolve finds a class visible from this image.
func (img *Image) resolve(fullName string) *Class {
	if c := img.byName[fullName]; c != nil {
		return c
	}
	return img.rt.findClass(img.domain, fullName)
}

func (img *Image) Name() string { return img.name }

func (img *Image) Classes() []clr.Class {
	out := make([]clr.Class, len(img.classes))
	for i, c := range img.classes {
		out[i] = c
	}
	return out
}

func (img *Image) TypeRefs() []string {
	return append([]string(nil), img.typeRefs...)
}

func (img *Image) ClassFromName(namespace, name string) clr.Class {
	if c := img.byName[image.JoinName(namespace, name)]; c != nil {
		return c
	}
	return nil
}

// Definition returns the underlying image definition.
func (img *Image) Definition() *image.Image {
	return img.def
}

// Assembly is an image opened in a domain.
type Assembly struct {
	domain *Domain
	image  *Image
	path   string
}

var _ clr.Assembly = (*Assembly)(nil)

func (a *Assembly) Name() string { return a.image.name }
func (a *Assembly) Path() string { return a.path }
func (a *Assembly) Image() clr.Image { return a.image }

// Close unloads the assembly from its domain. Its classes stop resolving
// and its static fields stop rooting objects.
func (a *Assembly) Close() error {
	if a.image.closed {
		return nil
	}
	a.domain.removeAssembly(a)
	a.image.closed = true
	for _, c := range a.image.classes {
		for i := range c.statics {
			c.statics[i] = nil
		}
	}

	rt := a.domain.rt
	rt.emit(clr.EventAssemblyUnload, a.image.name, 0)
	rt.emit(clr.EventImageUnload, a.image.name, 0)
	return nil
}

func unresolved(img *Image, what, name string) error {
	return errors.New(errors.PhaseLoad, errors.KindUnresolvedReference).
		Path(img.name).
		Type(name).
		Detail("cannot resolve %s", what).
		Build()
}
