// Package engine is an in-process managed runtime implementing the clr
// embedding API.
//
// It loads image definitions (built with image.Builder, decoded from the
// binary form or parsed from TOML source) into domains, interprets their IL
// on a stack machine and keeps objects on a generational, compacting heap
// whose memory comes from a clrembed.Allocator.
//
// # Objects and addresses
//
// Every object has an address handed out by the allocator. A collection
// relocates surviving objects that are not pinned by a GC handle, so a
// Ref taken before a collection may go stale; Ref.Live reports this and
// accessors reject stale references. Long-lived references go through
// GC handles:
//
//	h, _ := rt.GC().NewHandle(obj, clr.Movable)
//	rt.GC().Collect(0)
//	obj, _ = rt.GC().Target(h) // current address
//
// # Internal calls
//
// Methods marked as internal calls are bound by name:
//
//	rt.AddInternalCall("Sample.Native::Add", func(a, b int32) int32 { return a + b })
//
// Go errors returned by an internal call become managed exceptions; a
// *ThrownError rethrows a managed exception unchanged.
//
// # Configuration
//
// ParseConfig accepts TOML; see Config for the keys.
package engine
