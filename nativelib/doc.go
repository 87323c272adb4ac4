// Package nativelib builds native libraries out of Go functions.
//
// A shim library looks exactly like a compiled C library to the rest of
// nativebind: a wasm32 module with its own linear memory, an exported
// malloc/free pair and exported symbols. Its symbols are Go functions that
// read and write that memory through a Call.
//
//	lib := nativelib.New("geom").
//		Func("geom_point_len", nativelib.Sig(nativelib.I32).Returns(nativelib.F64),
//			func(c *nativelib.Call, stack []uint64) {
//				p := api.DecodeU32(stack[0])
//				x, _ := c.Memory().ReadF64(p)
//				y, _ := c.Memory().ReadF64(p + 8)
//				stack[0] = api.EncodeF64(math.Hypot(x, y))
//			}).
//		Build()
//
//	e.LoadShim(ctx, lib, engine.LibraryConfig{})
//
// # Heap
//
// Heap is a first-fit allocator over the library memory that grows the
// memory on demand. Allocations are 8-byte aligned and zeroed.
//
// # Objects
//
// Objects adds a small GObject-style instance model: every instance starts
// with a {type id, refcount} header, type ids form a single-parent
// hierarchy with interfaces, and signals dispatch through function
// pointers. It exports nb_type_check, nb_type_of, nb_object_ref,
// nb_object_unref, nb_signal_connect and nb_signal_disconnect.
//
// # Function pointers
//
// Call.Invoke calls a function pointer the managed side passed in, through
// the nativebind trampoline import, exactly like compiled native code does.
package nativelib
