package clrembed

import (
	"errors"
	"sync"
)

// ErrOutOfMemory is returned when an allocator cannot satisfy a request.
var ErrOutOfMemory = errors.New("allocator: out of memory")

// Allocator is the allocator vtable used by the managed runtime for its heap.
// Addresses are opaque; 0 is never a valid allocation.
type Allocator interface {
	Malloc(size uintptr) (uintptr, error)
	Realloc(ptr, size uintptr) (uintptr, error)
	Free(ptr uintptr)
	Calloc(count, size uintptr) (uintptr, error)
}

// HeapStats is optionally implemented by allocators that track usage.
type HeapStats interface {
	Reserved() uint64
	Used() uint64
}

// AllocatorFuncs overrides individual allocator entry points.
// Nil entries fall through to Fallback. A function returning 0 signals failure.
type AllocatorFuncs struct {
	Fallback Allocator
	Malloc   func(size uintptr) uintptr
	Realloc  func(ptr, size uintptr) uintptr
	Free     func(ptr uintptr)
	Calloc   func(count, size uintptr) uintptr
}

// Empty reports whether no override is set.
func (f *AllocatorFuncs) Empty() bool {
	return f == nil || (f.Malloc == nil && f.Realloc == nil && f.Free == nil && f.Calloc == nil)
}

// Vtable returns an Allocator that dispatches to the overrides.
// A nil Fallback is replaced by a fresh Arena.
func (f *AllocatorFuncs) Vtable() Allocator {
	fb := f.Fallback
	if fb == nil {
		fb = NewArena(0)
	}
	return &funcsAllocator{funcs: *f, fallback: fb}
}

type funcsAllocator struct {
	fallback Allocator
	funcs    AllocatorFuncs
}

func (a *funcsAllocator) Malloc(size uintptr) (uintptr, error) {
	if a.funcs.Malloc == nil {
		return a.fallback.Malloc(size)
	}
	if p := a.funcs.Malloc(size); p != 0 {
		return p, nil
	}
	return 0, ErrOutOfMemory
}

func (a *funcsAllocator) Realloc(ptr, size uintptr) (uintptr, error) {
	if a.funcs.Realloc == nil {
		return a.fallback.Realloc(ptr, size)
	}
	if p := a.funcs.Realloc(ptr, size); p != 0 {
		return p, nil
	}
	return 0, ErrOutOfMemory
}

func (a *funcsAllocator) Free(ptr uintptr) {
	if a.funcs.Free == nil {
		a.fallback.Free(ptr)
		return
	}
	a.funcs.Free(ptr)
}

func (a *funcsAllocator) Calloc(count, size uintptr) (uintptr, error) {
	if a.funcs.Calloc == nil {
		return a.fallback.Calloc(count, size)
	}
	if p := a.funcs.Calloc(count, size); p != 0 {
		return p, nil
	}
	return 0, ErrOutOfMemory
}

const (
	arenaBase  uintptr = 0x10000
	arenaAlign uintptr = 16
)

// Arena is the default allocator. It hands out aligned, never-reused
// addresses and tracks live block sizes.
type Arena struct {
	live     map[uintptr]uintptr
	next     uintptr
	used     uint64
	reserved uint64
	limit    uint64
	mu       sync.Mutex
}

// NewArena creates an arena. limit caps live bytes; 0 means unlimited.
func NewArena(limit uint64) *Arena {
	return &Arena{
		live:  make(map[uintptr]uintptr),
		next:  arenaBase,
		limit: limit,
	}
}

func (a *Arena) Malloc(size uintptr) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc(size)
}

func (a *Arena) alloc(size uintptr) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	rounded := alignUp(size, arenaAlign)
	if a.limit > 0 && a.used+uint64(rounded) > a.limit {
		return 0, ErrOutOfMemory
	}
	p := a.next
	a.next += rounded
	a.live[p] = rounded
	a.used += uint64(rounded)
	a.reserved += uint64(rounded)
	return p, nil
}

func (a *Arena) Realloc(ptr, size uintptr) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old, ok := a.live[ptr]
	if ok && alignUp(size, arenaAlign) <= old {
		return ptr, nil
	}
	p, err := a.alloc(size)
	if err != nil {
		return 0, err
	}
	if ok {
		delete(a.live, ptr)
		a.used -= uint64(old)
	}
	return p, nil
}

func (a *Arena) Free(ptr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if size, ok := a.live[ptr]; ok {
		delete(a.live, ptr)
		a.used -= uint64(size)
	}
}

func (a *Arena) Calloc(count, size uintptr) (uintptr, error) {
	if count != 0 && size > ^uintptr(0)/count {
		return 0, ErrOutOfMemory
	}
	return a.Malloc(count * size)
}

// Used returns the number of live bytes.
func (a *Arena) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Reserved returns the total number of bytes ever handed out.
func (a *Arena) Reserved() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved
}

// Live returns the number of live blocks.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
