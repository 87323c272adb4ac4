// Package engine loads native libraries into a wazero runtime.
//
// A native library is a wasm32 core module. Its linear memory is native
// memory, its exported functions are native symbols and its exported
// allocator (malloc/free by default) manages native heap storage.
//
// # Architecture
//
//	Engine   - owns the wazero runtime and the "nativebind" host module
//	Library  - one instantiated native library with cached symbols
//	Memory   - bounds-checked little-endian view of a library's memory
//
// # Host module
//
// Every engine instantiates a host module named "nativebind" before any
// library. It exports one function:
//
//	trampoline(fnptr i32, args_ptr i32, ret_ptr i32)
//
// Native code calls it to invoke a function pointer handed out by the
// managed side. Arguments are packed in 8-byte little-endian slots at
// args_ptr; ret_ptr addresses an 8-byte result slot, or is 0 for void.
// The engine forwards each call to the installed Dispatcher along with the
// calling module, so the dispatcher can read the caller's memory.
//
// # Shim libraries
//
// LoadShim accepts any Shim: a Go-implemented library that installs its own
// host functions and returns a synthetic module wrapping them. Tests and
// examples use shims to exercise the full marshaling path without a C
// toolchain.
//
// # WASI
//
// Libraries compiled against wasi-libc import wasi_snapshot_preview1.
// Config.EnableWASI instantiates it once per engine before the first
// library loads.
package engine
