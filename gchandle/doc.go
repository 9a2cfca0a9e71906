// Package gchandle provides the GC handle table.
//
// A GC handle is an integer exchanged with native code that keeps a
// managed object reachable (movable and pinned handles) or tracks it
// without keeping it alive (weak handles). Handle 0 is reserved and always
// invalid.
//
//	table := gchandle.NewTable[*object]()
//
//	h := table.New(clr.Pinned, obj)
//	e, ok := table.Get(h)    // e.Target == obj, e.Kind == clr.Pinned
//
//	table.Free(h)
//
// # Collection
//
// The collector walks strong handles with Each to find roots, then calls
// ClearWeak with a predicate reporting which targets died. Cleared weak
// handles stay allocated with Entry.Cleared set until they are freed.
//
// # Observers
//
// Observers receive Created, Freed and Cleared events:
//
//	cancel := table.Subscribe(obs)
//	defer cancel()
//
// Slots of freed handles are reused under a new generation, so a copy of a
// freed handle stays invalid after its slot is taken again.
package gchandle
