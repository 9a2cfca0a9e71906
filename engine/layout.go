package engine

import (
	"github.com/wippyai/clr-embed/clr"
)

const (
	pointerSize  uint32 = 8
	objectHeader uint32 = 16
)

// layoutInfo is the instance data layout of a class.
type layoutInfo struct {
	offsets map[string]uint32
	size    uint32
	align   uint32
}

var primitiveLayouts = map[string]layoutInfo{
	"System.Boolean": {size: 1, align: 1},
	"System.Byte":    {size: 1, align: 1},
	"System.Char":    {size: 2, align: 2},
	"System.Int16":   {size: 2, align: 2},
	"System.UInt16":  {size: 2, align: 2},
	"System.Int32":   {size: 4, align: 4},
	"System.UInt32":  {size: 4, align: 4},
	"System.Single":  {size: 4, align: 4},
	"System.Int64":   {size: 8, align: 8},
	"System.UInt64":  {size: 8, align: 8},
	"System.Double":  {size: 8, align: 8},
	"System.IntPtr":  {size: pointerSize, align: pointerSize},
	"System.UIntPtr": {size: pointerSize, align: pointerSize},
	"System.Void":    {size: 0, align: 1},
}

// alignTo rounds offset up to a multiple of align.
func alignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// layout returns the cached instance layout of c.
func (c *Class) layout() layoutInfo {
	if c.layoutDone {
		return c.layoutCache
	}
	c.layoutDone = true
	c.layoutCache = c.calculateLayout(map[*Class]bool{})
	return c.layoutCache
}

func (c *Class) calculateLayout(visiting map[*Class]bool) layoutInfo {
	if info, ok := primitiveLayouts[c.fullName]; ok {
		return info
	}
	if c.IsEnum() {
		for _, f := range c.fields {
			if !f.static {
				return c.fieldLayout(f.typ, visiting)
			}
		}
		return primitiveLayouts["System.Int32"]
	}

	visiting[c] = true
	defer delete(visiting, c)

	offsets := make(map[string]uint32)
	maxAlign := uint32(1)
	offset := uint32(0)

	if p := c.parent; p != nil && !c.IsValueType() {
		base := p.calculateLayout(visiting)
		for name, off := range base.offsets {
			offsets[name] = off
		}
		offset = base.size
		maxAlign = base.align
	}

	for _, f := range c.fields {
		if f.static {
			continue
		}
		fl := c.fieldLayout(f.typ, visiting)

		offset = alignTo(offset, fl.align)
		offsets[f.name] = offset

		if fl.align > maxAlign {
			maxAlign = fl.align
		}
		offset += fl.size
	}

	return layoutInfo{
		size:    alignTo(offset, maxAlign),
		align:   maxAlign,
		offsets: offsets,
	}
}

func (c *Class) fieldLayout(t *Type, visiting map[*Class]bool) layoutInfo {
	if t.decor&(clr.TypeByRef|clr.TypePointer) != 0 {
		return layoutInfo{size: pointerSize, align: pointerSize}
	}
	if info, ok := primitiveLayouts[t.elem]; ok {
		return info
	}
	fc := t.resolve()
	if fc == nil || !fc.IsValueType() || visiting[fc] {
		return layoutInfo{size: pointerSize, align: pointerSize}
	}
	return fc.calculateLayout(visiting)
}

// objectSize returns the heap footprint of an instance with extra trailing
// bytes.
func (c *Class) objectSize(extra uint32) uintptr {
	l := c.layout()
	return uintptr(alignTo(objectHeader+l.size+extra, pointerSize))
}
