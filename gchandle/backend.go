package gchandle

import (
	"errors"
	"sync"

	"github.com/wippyai/clr-embed/clr"
)

var (
	ErrClosed = errors.New("gc handle table closed")
	ErrFull   = errors.New("gc handle table full")
)

// A handle packs the slot index plus one in the low indexBits and the
// slot generation in the remaining high bits. Freeing a slot bumps its
// generation, so a stale copy of a freed handle never resolves to the
// slot's next occupant until the generation wraps.
const (
	indexBits = 24
	indexMask = 1<<indexBits - 1
	maxSlots  = indexMask
)

func encode(idx int, gen uint8) clr.GCHandle {
	return clr.GCHandle(uint32(gen)<<indexBits | uint32(idx+1))
}

func decode(h clr.GCHandle) (idx int, gen uint8) {
	return int(h&indexMask) - 1, uint8(h >> indexBits)
}

// backend is the slot storage with a free list.
type backend[T any] struct {
	entries  []slot[T]
	freeList []int
	mu       sync.RWMutex
	closed   bool
}

type slot[T any] struct {
	entry Entry[T]
	gen   uint8
	valid bool
}

func newBackend[T any]() *backend[T] {
	return &backend[T]{
		entries:  make([]slot[T], 0, 64),
		freeList: make([]int, 0, 16),
	}
}

func (b *backend[T]) create(e Entry[T]) (clr.GCHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if len(b.freeList) > 0 {
		idx := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		s := &b.entries[idx]
		s.entry = e
		s.valid = true
		return encode(idx, s.gen), nil
	}

	if len(b.entries) >= maxSlots {
		return 0, ErrFull
	}
	b.entries = append(b.entries, slot[T]{entry: e, valid: true})
	return encode(len(b.entries)-1, 0), nil
}

// lookup returns the live slot h refers to, or nil. Callers hold b.mu.
func (b *backend[T]) lookup(h clr.GCHandle) (*slot[T], int) {
	if h == 0 {
		return nil, -1
	}
	idx, gen := decode(h)
	if idx < 0 || idx >= len(b.entries) {
		return nil, -1
	}
	s := &b.entries[idx]
	if !s.valid || s.gen != gen {
		return nil, -1
	}
	return s, idx
}

func (b *backend[T]) get(h clr.GCHandle) (Entry[T], bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, _ := b.lookup(h)
	if s == nil {
		return Entry[T]{}, false
	}
	return s.entry, true
}

func (b *backend[T]) drop(h clr.GCHandle) (Entry[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, idx := b.lookup(h)
	if s == nil {
		return Entry[T]{}, false
	}

	e := s.entry
	*s = slot[T]{gen: s.gen + 1}
	b.freeList = append(b.freeList, idx)
	return e, true
}

// clear zeroes the target of a live weak handle.
func (b *backend[T]) clear(h clr.GCHandle) (Entry[T], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, _ := b.lookup(h)
	if s == nil || s.entry.Kind != clr.Weak || s.entry.Cleared {
		return Entry[T]{}, false
	}

	old := s.entry
	var zero T
	s.entry.Target = zero
	s.entry.Cleared = true
	return old, true
}

func (b *backend[T]) each(fn func(clr.GCHandle, Entry[T]) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, s := range b.entries {
		if s.valid {
			if !fn(encode(i, s.gen), s.entry) {
				break
			}
		}
	}
}

func (b *backend[T]) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries) - len(b.freeList)
}

func (b *backend[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.entries = nil
	b.freeList = nil
}
