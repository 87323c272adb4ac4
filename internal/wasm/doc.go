// Package wasm encodes the small synthetic core modules nativebind needs.
//
// A shim library is a module that owns a linear memory and re-exports host
// functions through thin wrappers. The wrappers matter: a host function
// called through them receives the synthetic module as its caller, so it
// can reach the library memory.
//
// Encoding follows the WebAssembly binary format: magic and version, then
// sections in id order (type, import, function, memory, export, code), each
// prefixed with its unsigned LEB128 byte length.
package wasm
