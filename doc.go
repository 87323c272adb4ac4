// Package nativebind generates Go bindings for native libraries and
// marshals calls across the native boundary at run time.
//
// A native library is described by a normalized introspection model (the
// IR). The generator turns the IR into one Go source file per record, class
// and interface plus aggregate files for functions, enumerations, constants
// and callbacks. Generated call sites go through the marshaling runtime,
// which converts Go values to the native calling convention and back while
// enforcing the ownership contract recorded in the IR.
//
// Native libraries are WebAssembly core modules executed by wazero. A handle
// is a linear-memory address, allocation goes through the library's exported
// allocator, and callbacks reach Go through the "nativebind" host module.
//
// # Architecture Overview
//
//	nativebind/          Root package with Handle, Memory and Allocator
//	├── ir/              Normalized IR: model, JSON loading, validation, lookup
//	│   └── witimport/   Builds IR from decoded WIT type definitions
//	├── abi/             Closed set of native ABI descriptors
//	├── typemap/         IR type reference to ABI descriptor and Go surface type
//	├── resolve/         Method sets, interface flattening, emission order
//	├── bindgen/         Binding generators and output index
//	├── runtime/         Marshaling runtime: invoke, fields, trampolines, pending results
//	├── registry/        Handle to wrapper identity and ownership bookkeeping
//	├── engine/          wazero integration: libraries, symbols, trampoline host module
//	├── nativelib/       Go-implemented libraries packaged as wasm modules
//	├── errors/          Structured error types
//	└── cmd/nbgen/       Generator command line
//
// # Quick Start
//
// Generate bindings:
//
//	ns, err := ir.LoadFile("geom.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := bindgen.New(bindgen.Config{Package: "geom"}).Generate(ns)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = out.Write(ctx, "./geom")
//
// Call into a library from generated code:
//
//	s, err := runtime.NewSession(ctx, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close(ctx)
//
//	_, err = s.LoadLibrary(ctx, "geom", wasmBytes, engine.LibraryConfig{})
//	geom.RegisterTypes(s)
//	shape, err := geom.NewCircle(ctx, s, 2.5)
package nativebind
