package handle

import (
	"github.com/wippyai/clr-embed/errors"
)

// Entity is implemented by every type that embeds Base.
type Entity interface {
	handleBase() *Base
}

// Base carries the observer links of an entity.
// The zero value is a live entity with no observers.
type Base struct {
	observers map[*Observer]struct{}
	dead      bool
}

func (b *Base) handleBase() *Base { return b }

// Alive reports whether the entity has not been invalidated.
func (b *Base) Alive() bool { return !b.dead }

// NumObservers returns the number of observers currently linked.
func (b *Base) NumObservers() int { return len(b.observers) }

// Revive marks an invalidated entity live again. Observers dropped by the
// invalidation stay invalid.
func (b *Base) Revive() { b.dead = false }

// Observer is the caller side of an entity link.
type Observer struct {
	entity *Base

	// OnInvalidate, when set, runs once each time the observer is
	// invalidated by its entity.
	OnInvalidate func()

	release func()
	valid   bool
}

// Valid reports whether the observed entity is live.
func (o *Observer) Valid() bool { return o.valid }

// Attach links o to e and sets o's validity to e's.
// Attaching twice to the same entity is a no-op. Attaching to a different
// entity detaches from the previous one first.
func Attach(e Entity, o *Observer) {
	b := e.handleBase()
	if o.entity == b {
		o.valid = !b.dead
		return
	}
	if o.entity != nil {
		detach(o)
	}
	if b.dead {
		o.valid = false
		return
	}
	if b.observers == nil {
		b.observers = make(map[*Observer]struct{})
	}
	b.observers[o] = struct{}{}
	o.entity = b
	o.valid = true
}

// Detach removes the link between e and o and marks o invalid.
// Safe to call on a pair that is not linked.
func Detach(e Entity, o *Observer) {
	switch o.entity {
	case e.handleBase():
		detach(o)
	case nil:
		o.valid = false
	}
}

func detach(o *Observer) {
	delete(o.entity.observers, o)
	o.entity = nil
	o.valid = false
}

// Invalidate marks e dead and every attached observer invalid, then drops
// the links.
func Invalidate(e Entity) {
	b := e.handleBase()
	b.dead = true
	observers := b.observers
	b.observers = nil
	for o := range observers {
		o.entity = nil
		o.valid = false
		if o.release != nil {
			o.release()
		}
		if o.OnInvalidate != nil {
			o.OnInvalidate()
		}
	}
}

// Handle is a typed observer that also remembers the entity it observes.
type Handle[T Entity] struct {
	target T
	obs    Observer
}

// New returns a handle attached to e.
func New[T Entity](e T) *Handle[T] {
	h := &Handle[T]{}
	h.Attach(e)
	return h
}

// Attach points the handle at e. The handle stays invalid when e is.
func (h *Handle[T]) Attach(e T) {
	Attach(e, &h.obs)
	var zero T
	h.target = zero
	if h.obs.valid {
		h.target = e
		h.obs.release = h.clear
	}
}

func (h *Handle[T]) clear() {
	var zero T
	h.target = zero
}

// Detach drops the link and leaves the handle invalid.
func (h *Handle[T]) Detach() {
	if h.obs.entity != nil {
		detach(&h.obs)
	}
	h.obs.valid = false
	var zero T
	h.target = zero
}

// Valid reports whether the observed entity is still live.
func (h *Handle[T]) Valid() bool { return h.obs.valid }

// Get returns the observed entity, or an invalid_handle error when it has
// been torn down or the handle was never attached.
func (h *Handle[T]) Get() (T, error) {
	if !h.obs.valid {
		var zero T
		return zero, errors.InvalidHandle("handle target")
	}
	return h.target, nil
}

// MustGet returns the observed entity and panics when it is invalid.
func (h *Handle[T]) MustGet() T {
	v, err := h.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// OnInvalidate registers fn to run when the entity invalidates the handle.
func (h *Handle[T]) OnInvalidate(fn func()) {
	h.obs.OnInvalidate = fn
}
