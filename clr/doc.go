// Package clr defines the embedding surface of a managed runtime.
//
// The managed package is written against these interfaces only. The engine
// package provides the in-process implementation; other runtimes can be
// plugged in by implementing Runtime and the reflection interfaces it
// hands out.
//
// # Values
//
// Arguments passed to Method.Invoke and values returned by Field.Get and
// Object.Value use plain Go types:
//
//	System.Boolean  bool
//	System.Byte     uint8
//	System.Char     rune
//	System.Int16    int16
//	System.UInt16   uint16
//	System.Int32    int32
//	System.UInt32   uint32
//	System.Int64    int64
//	System.UInt64   uint64
//	System.Single   float32
//	System.Double   float64
//	System.IntPtr   uintptr
//	System.String   string
//	everything else Object
//
// Method results are always boxed into an Object (nil for void methods)
// so they can be held through a GC handle.
//
// # Objects
//
// An Object is a reference valid at the address it was obtained at. A
// moving collector may relocate the target afterwards; a relocated Object
// reports Live() == false and rejects access. Resolve a fresh reference
// through GC.Target for every access that may span a collection, or hold
// the target through a pinned handle.
package clr
