package clrembed

import (
	"errors"
	"testing"
)

func TestArena_MallocFree(t *testing.T) {
	a := NewArena(0)

	p1, err := a.Malloc(10)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	p2, err := a.Malloc(40)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if p1 == 0 || p2 == 0 || p1 == p2 {
		t.Fatalf("unexpected addresses %x %x", p1, p2)
	}
	if p1%arenaAlign != 0 || p2%arenaAlign != 0 {
		t.Errorf("addresses not aligned: %x %x", p1, p2)
	}
	if a.Used() != 16+48 {
		t.Errorf("Used = %d, want 64", a.Used())
	}

	a.Free(p1)
	if a.Used() != 48 {
		t.Errorf("Used after free = %d, want 48", a.Used())
	}
	if a.Live() != 1 {
		t.Errorf("Live = %d, want 1", a.Live())
	}

	// double free is ignored
	a.Free(p1)
	if a.Used() != 48 {
		t.Errorf("Used after double free = %d, want 48", a.Used())
	}
}

func TestArena_Realloc(t *testing.T) {
	a := NewArena(0)
	p, _ := a.Malloc(8)

	same, err := a.Realloc(p, 12)
	if err != nil {
		t.Fatalf("Realloc failed: %v", err)
	}
	if same != p {
		t.Errorf("Realloc within block should keep address")
	}

	moved, err := a.Realloc(p, 100)
	if err != nil {
		t.Fatalf("Realloc failed: %v", err)
	}
	if moved == p {
		t.Errorf("Realloc beyond block should move")
	}
	if a.Live() != 1 {
		t.Errorf("Live = %d, want 1", a.Live())
	}
}

func TestArena_Limit(t *testing.T) {
	a := NewArena(32)
	if _, err := a.Malloc(32); err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if _, err := a.Malloc(1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestArena_CallocOverflow(t *testing.T) {
	a := NewArena(0)
	if _, err := a.Calloc(^uintptr(0), 2); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestAllocatorFuncs(t *testing.T) {
	fb := NewArena(0)
	var mallocs, frees int
	funcs := &AllocatorFuncs{
		Fallback: fb,
		Malloc: func(size uintptr) uintptr {
			mallocs++
			p, _ := fb.Malloc(size)
			return p
		},
		Free: func(ptr uintptr) {
			frees++
			fb.Free(ptr)
		},
	}
	if funcs.Empty() {
		t.Fatal("funcs should not be empty")
	}

	vt := funcs.Vtable()
	p, err := vt.Malloc(16)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	vt.Free(p)
	if _, err := vt.Calloc(2, 8); err != nil {
		t.Fatalf("Calloc failed: %v", err)
	}

	if mallocs != 1 || frees != 1 {
		t.Errorf("mallocs=%d frees=%d, want 1/1", mallocs, frees)
	}
	if fb.Live() != 1 {
		t.Errorf("fallback Live = %d, want 1 (calloc block)", fb.Live())
	}
}

func TestAllocatorFuncs_Failure(t *testing.T) {
	funcs := &AllocatorFuncs{
		Malloc: func(uintptr) uintptr { return 0 },
	}
	if _, err := funcs.Vtable().Malloc(8); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", err)
	}
	var empty *AllocatorFuncs
	if !empty.Empty() {
		t.Error("nil funcs should be empty")
	}
}
