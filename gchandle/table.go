package gchandle

import (
	"sync"

	"github.com/wippyai/clr-embed/clr"
)

// Table maps GC handles to targets of type T.
type Table[T any] struct {
	backend   *backend[T]
	observers []subscription
	nextSub   uint64
	obsMu     sync.RWMutex
}

// NewTable creates an empty handle table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{backend: newBackend[T]()}
}

// New creates a handle of the given kind. It returns 0 after Close.
func (t *Table[T]) New(kind clr.HandleKind, target T) clr.GCHandle {
	h, err := t.backend.create(Entry[T]{Target: target, Kind: kind})
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: h,
		Kind:   kind,
		Target: target,
	})
	return h
}

// Get returns the entry of a live handle.
func (t *Table[T]) Get(h clr.GCHandle) (Entry[T], bool) {
	return t.backend.get(h)
}

// Free releases a handle and returns its last entry.
func (t *Table[T]) Free(h clr.GCHandle) (Entry[T], bool) {
	e, ok := t.backend.drop(h)
	if !ok {
		return Entry[T]{}, false
	}

	t.notify(Event{
		Type:   EventFreed,
		Handle: h,
		Kind:   e.Kind,
		Target: e.Target,
	})
	return e, true
}

// Each calls fn for every live handle until fn returns false.
func (t *Table[T]) Each(fn func(clr.GCHandle, Entry[T]) bool) {
	t.backend.each(fn)
}

// Roots returns the targets of every movable and pinned handle.
func (t *Table[T]) Roots() []T {
	var out []T
	t.backend.each(func(_ clr.GCHandle, e Entry[T]) bool {
		if e.Kind != clr.Weak {
			out = append(out, e.Target)
		}
		return true
	})
	return out
}

// ClearWeak clears every weak handle whose target dead reports true and
// returns the number of handles cleared.
func (t *Table[T]) ClearWeak(dead func(T) bool) int {
	var victims []clr.GCHandle
	t.backend.each(func(h clr.GCHandle, e Entry[T]) bool {
		if e.Kind == clr.Weak && !e.Cleared && dead(e.Target) {
			victims = append(victims, h)
		}
		return true
	})

	for _, h := range victims {
		old, ok := t.backend.clear(h)
		if !ok {
			continue
		}
		t.notify(Event{
			Type:   EventCleared,
			Handle: h,
			Kind:   clr.Weak,
			Target: old.Target,
		})
	}
	return len(victims)
}

type subscription struct {
	id  uint64
	obs Observer
}

// Subscribe adds an observer for lifecycle events. The returned function
// removes it; calling it more than once is a no-op.
func (t *Table[T]) Subscribe(o Observer) (cancel func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{id: id, obs: o})
	return func() { t.unsubscribe(id) }
}

func (t *Table[T]) unsubscribe(id uint64) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, s := range t.observers {
		if s.id == id {
			t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	return t.backend.len()
}

// Clear frees every handle.
func (t *Table[T]) Clear() {
	var handles []clr.GCHandle
	t.backend.each(func(h clr.GCHandle, _ Entry[T]) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Free(h)
	}
}

// Close frees every handle and stops accepting new ones.
func (t *Table[T]) Close() error {
	t.Clear()
	t.backend.close()
	return nil
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, s := range t.observers {
		s.obs.OnHandleEvent(e)
	}
}
