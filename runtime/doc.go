// Package runtime marshals calls between Go and native libraries.
//
// # Sessions
//
// A Session owns one engine, the libraries loaded into it, the object
// registry and the trampoline table:
//
//	s, err := runtime.NewSession(ctx, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(ctx)
//
//	if _, err := s.LoadLibrary(ctx, "geom", wasmBytes, engine.LibraryConfig{}); err != nil {
//	    log.Fatal(err)
//	}
//
// # Calls
//
// Invoke takes one Arg per native parameter, in native order, and the
// return descriptor:
//
//	res, err := s.Invoke(ctx, "geom", "geom_distance", []runtime.Arg{
//	    runtime.In(abi.F64(), 3.0),
//	    runtime.In(abi.F64(), 4.0),
//	}, abi.F64())
//	d := runtime.Get[float64](res.Value)
//
// Out and InOut arguments get scratch storage whose address is passed to
// native code; their values come back in Result.Outs. Arguments the
// runtime computes itself (array lengths, destroy notifiers, closure data)
// are passed as Implicit.
//
// # Go values
//
//	Descriptor kind   Go value
//	──────────────────────────────────────────
//	bool              bool
//	int, enum, flags  int8 .. uint64 by width and sign
//	float             float32, float64
//	string            string (nil when nullable and null)
//	pointer           Handle
//	struct, boxed,
//	object, interface Ref (nil when nullable and null)
//	callback          Callback
//	array             typed slice of the element value
//
// # Ownership
//
// Handle values returned by native code are wrapped through the session's
// registry: one registry Object per handle, a managed reference per
// observation. Each Ref releases its own reference once; copies of a Ref
// share it. Full transfers are freed once, when the last reference is
// released or the Object becomes unreachable. Passing a handle with full
// transfer consumes it.
//
// # Callbacks
//
// Callback arguments are turned into trampolines: function pointers that
// route native calls back to Go. A trampoline lives for its scope (the
// call, one async completion, until its destroy notifier runs, or the
// session). Invoking a released trampoline traps the native call and
// poisons the session.
//
// Borrowed handles passed to a callback are lent for the duration of the
// call and take no reference. Use Ref.Retain to keep one afterwards.
//
// # Thread Safety
//
// Session bookkeeping is safe for concurrent use. Native calls are not
// serialized; thread safety of a library is the library's contract.
package runtime
