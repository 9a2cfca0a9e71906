package engine

import (
	"testing"

	clrembed "github.com/wippyai/clr-embed"
	"github.com/wippyai/clr-embed/clr"
	"github.com/wippyai/clr-embed/errors"
	"github.com/wippyai/clr-embed/gchandle"
)

func newBox(t *testing.T, d clr.Domain, img clr.Image) clr.Object {
	t.Helper()
	obj, err := d.NewObject(mustClass(t, img, "Sample", "Box"))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return obj
}

func TestGC_MovableHandleFollowsRelocation(t *testing.T) {
	rt, d, img := startRuntime(t)
	gc := rt.GC()

	obj := newBox(t, d, img)
	value := obj.Class().Fields()[0]
	if err := value.Set(obj, "payload"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	h, err := gc.NewHandle(obj, clr.Movable)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if err := gc.Collect(0); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if obj.Live() {
		t.Error("reference taken before the collection should be stale")
	}
	if _, err := value.Get(obj); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("Get through stale reference: err = %v", err)
	}

	moved, err := gc.Target(h)
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if moved.Address() == obj.Address() {
		t.Error("movable target should have been relocated")
	}
	v, err := value.Get(moved)
	if err != nil || v != "payload" {
		t.Errorf("field after relocation = %v, %v", v, err)
	}
	if rt.Collections(0) != 1 {
		t.Errorf("Collections(0) = %d, want 1", rt.Collections(0))
	}
}

func TestGC_PinnedHandleKeepsAddress(t *testing.T) {
	rt, d, img := startRuntime(t)
	gc := rt.GC()

	obj := newBox(t, d, img)
	h, err := gc.NewHandle(obj, clr.Pinned)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	for gen := 0; gen <= gc.MaxGeneration(); gen++ {
		if err := gc.Collect(gen); err != nil {
			t.Fatalf("Collect(%d): %v", gen, err)
		}
		target, err := gc.Target(h)
		if err != nil {
			t.Fatalf("Target: %v", err)
		}
		if target.Address() != obj.Address() {
			t.Fatalf("pinned address changed: %#x -> %#x", obj.Address(), target.Address())
		}
	}
	if !obj.Live() {
		t.Error("pinned reference should stay live")
	}
}

func TestGC_WeakHandleCleared(t *testing.T) {
	rt, d, img := startRuntime(t)
	gc := rt.GC()

	var events []gchandle.EventType
	rt.SubscribeHandles(gchandle.ObserverFunc(func(e gchandle.Event) {
		events = append(events, e.Type)
	}))

	h, err := gc.NewHandle(newBox(t, d, img), clr.Weak)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if kind, ok := gc.Kind(h); !ok || kind != clr.Weak {
		t.Errorf("Kind = %v, %v", kind, ok)
	}

	if err := gc.Collect(gc.MaxGeneration()); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, err := gc.Target(h); !errors.HasKind(err, errors.KindCollected) {
		t.Errorf("Target after collection: err = %v, want collected", err)
	}

	gc.FreeHandle(h)
	if _, err := gc.Target(h); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("Target after free: err = %v", err)
	}

	want := []gchandle.EventType{gchandle.EventCreated, gchandle.EventCleared, gchandle.EventFreed}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestGC_UnrootedObjectCollected(t *testing.T) {
	rt, d, img := startRuntime(t)
	gc := rt.GC()

	used := gc.UsedHeapSize()
	obj := newBox(t, d, img)
	if gc.UsedHeapSize() <= used {
		t.Fatal("allocation should grow the used heap")
	}
	if err := gc.Collect(0); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if obj.Live() {
		t.Error("unrooted object should be collected")
	}
	if _, err := obj.ToString(); !errors.HasKind(err, errors.KindCollected) {
		t.Errorf("ToString on collected object: err = %v", err)
	}
	if gc.UsedHeapSize() != used {
		t.Errorf("UsedHeapSize = %d, want %d", gc.UsedHeapSize(), used)
	}
}

func TestGC_ReachableThroughFields(t *testing.T) {
	rt, d, img := startRuntime(t)
	gc := rt.GC()

	outer := newBox(t, d, img)
	inner := newBox(t, d, img)
	value := outer.Class().Fields()[0]
	if err := value.Set(outer, inner); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h, _ := gc.NewHandle(outer, clr.Pinned)

	if err := gc.Collect(0); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	target, _ := gc.Target(h)
	v, err := value.Get(target)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	child, ok := v.(clr.Object)
	if !ok || child == nil {
		t.Fatalf("field = %v", v)
	}
	if child.Address() == inner.Address() {
		t.Error("unpinned child should have moved")
	}
	if !child.Live() {
		t.Error("child reachable from a root should survive")
	}
}

func TestGC_CollectValidation(t *testing.T) {
	rt, d, _ := startRuntime(t)
	gc := rt.GC()

	for _, gen := range []int{-1, gc.MaxGeneration() + 1} {
		if err := gc.Collect(gen); !errors.HasKind(err, errors.KindInvalidInput) {
			t.Errorf("Collect(%d): err = %v", gen, err)
		}
	}
	if _, err := d.NewString("grow"); err != nil {
		t.Fatalf("NewString: %v", err)
	}
	if gc.HeapSize() == 0 || gc.HeapSize() < gc.UsedHeapSize() {
		t.Errorf("HeapSize = %d, UsedHeapSize = %d", gc.HeapSize(), gc.UsedHeapSize())
	}
}

func TestGC_AllocatorFailureIsFatal(t *testing.T) {
	rt := New()
	if err := rt.SetAllocator(clrembed.NewArena(16)); err != nil {
		t.Fatalf("SetAllocator: %v", err)
	}
	if err := rt.RegisterImage(helloPath, sampleImage()); err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	d, err := rt.Start("oom")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Shutdown()

	a, err := d.OpenAssembly(helloPath)
	if err != nil {
		t.Fatalf("OpenAssembly: %v", err)
	}
	greet := mustMethod(t, mustClass(t, a.Image(), "Sample", "Greeter"), "Greet")

	_, exc, err := greet.Invoke(nil, nil)
	if exc != nil {
		t.Errorf("unexpected exception %v", exc)
	}
	if !errors.HasKind(err, errors.KindFatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if rt.Failed() == nil {
		t.Error("runtime should be marked failed")
	}
	if err := rt.GC().Collect(0); !errors.HasKind(err, errors.KindFatal) {
		t.Errorf("Collect after failure: err = %v", err)
	}
}

func TestGC_ManagedCollect(t *testing.T) {
	rt, d, img := startRuntime(t)

	box := mustClass(t, img, "Sample", "Box")
	obj, err := d.NewObject(box)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	h, _ := rt.GC().NewHandle(obj, clr.Movable)
	target, _ := rt.GC().Target(h)

	collect := mustMethod(t, d.Corlib().ClassFromName("System", "GC"), "Collect")
	if _, exc := invoke(t, collect, nil); exc != nil {
		t.Fatalf("GC.Collect threw %v", exc)
	}
	if rt.Collections(rt.GC().MaxGeneration()) != 1 {
		t.Error("GC.Collect() should collect every generation")
	}
	if target.Live() {
		t.Error("movable target should have moved")
	}
}
