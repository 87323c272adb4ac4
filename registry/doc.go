// Package registry keeps native handle identity on the managed side.
//
// A Registry maps raw handle values to live Objects. Every handle has at
// most one live Object at a time, so repeated observations of the same
// handle return the same instance:
//
//	reg := registry.New(freeFn)
//	button := reg.Types.Register(registry.Type{Name: "Gfx.Button", Parent: "Gfx.Widget", Free: "gfx_object_unref"})
//
//	a, _ := reg.Wrap(h, button, registry.Full)
//	b, _ := reg.Wrap(h, button, registry.Borrowed)
//	// a.Object == b.Object, two references
//
// # Ownership
//
// An Object records whether the managed side owns its handle. Every Wrap
// returns a new Reference and counts it; Release drops that Reference
// only, so releasing it twice cannot consume another caller's reference.
// When the last counted reference is released the Object is torn down
// and, only if it is Full, the native free function runs exactly once.
//
// Borrow returns an uncounted Reference for values that are only valid
// while native code lends them, such as callback arguments.
//
// Consume marks a Reference whose ownership moved to the native side. A
// refcounted Object holding several native references gives up one of
// them and stays live; otherwise the Object leaves the table without a
// free, and any later use reports an ownership violation.
//
// # Unreachable objects
//
// The table holds weak pointers. When the Go side drops every reference to
// an Object without releasing it, a cleanup queues the native free. Queued
// frees run on the goroutine that calls Drain, never on the cleanup
// goroutine, because native code is not assumed to be thread-safe.
//
// # Observers
//
// Observers receive lifecycle events (wrapped, released, freed, consumed,
// collected) for tracing and leak tests.
package registry
