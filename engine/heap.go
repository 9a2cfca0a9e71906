package engine

import (
	"fmt"

	"go.uber.org/zap"

	clrembed "github.com/wippyai/clr-embed"
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
)

// heap owns every object and runs the generational, compacting collector.
// Memory comes from the allocator vtable; objects are kept in a Go map so
// that addresses stay opaque tokens.
type heap struct {
	rt          *Runtime
	alloc       clrembed.Allocator
	objects     map[*object]struct{}
	collections []int
	used        uint64
	total       uint64
	maxGen      int
}

func newHeap(rt *Runtime, alloc clrembed.Allocator, maxGen int) *heap {
	return &heap{
		rt:          rt,
		alloc:       alloc,
		objects:     make(map[*object]struct{}),
		collections: make([]int, maxGen+1),
		maxGen:      maxGen,
	}
}

// allocate creates an instance of c with zeroed fields. extra is the
// payload size in bytes beyond the field data.
func (h *heap) allocate(c *Class, extra uint32) (*object, error) {
	size := c.objectSize(extra)
	addr, err := h.alloc.Malloc(size)
	if err != nil {
		fatal := errors.Fatal(errors.PhaseGC, fmt.Sprintf("allocate %d bytes for %s", size, c.fullName), err)
		h.rt.fail(fatal)
		return nil, fatal
	}

	o := &object{
		class:  c,
		addr:   addr,
		size:   size,
		fields: c.newInstanceFields(),
	}
	h.objects[o] = struct{}{}
	h.used += uint64(size)
	h.total += uint64(size)

	h.rt.emit(clr.EventAlloc, c.fullName, uint64(size))
	return o, nil
}

func (h *heap) free(o *object) {
	if o.freed {
		return
	}
	h.alloc.Free(o.addr)
	o.freed = true
	o.fields = nil
	o.value = nil
	h.used -= uint64(o.size)
	delete(h.objects, o)
}

func (h *heap) heapSize() uint64 {
	if s, ok := h.alloc.(clrembed.HeapStats); ok {
		return s.Reserved()
	}
	return h.total
}

// collect runs a collection of generations 0..gen.
func (h *heap) collect(gen int) error {
	if gen < 0 || gen > h.maxGen {
		return errors.New(errors.PhaseGC, errors.KindInvalidInput).
			Value(gen).
			Detail("generation must be between 0 and %d", h.maxGen).
			Build()
	}

	label := fmt.Sprintf("gen%d", gen)
	h.rt.emit(clr.EventGCStart, label, h.used)

	h.mark(gen)

	var freed, freedBytes int
	for o := range h.objects {
		if o.gen <= gen && !o.marked {
			freedBytes += int(o.size)
			freed++
			h.free(o)
		}
	}

	cleared := h.rt.handles.ClearWeak(func(o *object) bool { return o == nil || o.freed })

	pinned := h.pinnedSet()
	var moved int
	for o := range h.objects {
		o.marked = false
		if o.gen > gen {
			continue
		}
		if !pinned[o] && h.relocate(o) {
			moved++
		}
		if o.gen < h.maxGen {
			o.gen++
		}
	}

	for g := 0; g <= gen; g++ {
		h.collections[g]++
	}

	h.rt.emit(clr.EventGCEnd, label, h.used)
	Logger().Debug("gc collect",
		zap.Int("generation", gen),
		zap.Int("freed", freed),
		zap.Int("freed_bytes", freedBytes),
		zap.Int("moved", moved),
		zap.Int("weak_cleared", cleared),
	)
	return nil
}

// relocate moves o to a fresh block. It keeps o in place when the
// allocator cannot provide one.
func (h *heap) relocate(o *object) bool {
	addr, err := h.alloc.Malloc(o.size)
	if err != nil {
		debugf("gc: cannot relocate %s: %v", o.class.fullName, err)
		return false
	}
	h.alloc.Free(o.addr)
	o.addr = addr
	h.rt.emit(clr.EventMove, o.class.fullName, uint64(o.size))
	return true
}

func (h *heap) pinnedSet() map[*object]bool {
	pinned := make(map[*object]bool)
	h.rt.handles.Each(func(_ clr.GCHandle, e handleEntry) bool {
		if e.Kind == clr.Pinned && e.Target != nil {
			pinned[e.Target] = true
		}
		return true
	})
	return pinned
}

// mark flags every object reachable from the roots of a collection of
// generations 0..gen. Objects in older generations are treated as roots.
func (h *heap) mark(gen int) {
	var work []*object
	push := func(v any) {
		if o, ok := v.(*object); ok && o != nil && !o.marked && !o.freed {
			o.marked = true
			work = append(work, o)
		}
	}

	for _, o := range h.rt.handles.Roots() {
		push(o)
	}
	for o := range h.objects {
		if o.gen > gen {
			push(o)
		}
	}
	h.rt.eachStatic(push)
	for _, f := range h.rt.frames {
		for _, v := range f.args {
			push(v)
		}
		for _, v := range f.stack {
			push(v)
		}
	}
	for _, v := range h.rt.tempRoots {
		push(v)
	}

	for len(work) > 0 {
		o := work[len(work)-1]
		work = work[:len(work)-1]
		for _, v := range o.fields {
			push(v)
		}
	}
}

// releaseAll frees every object, used at shutdown.
func (h *heap) releaseAll() {
	for o := range h.objects {
		h.free(o)
	}
}
