// Package layout computes native struct layouts for the wasm32 C ABI.
//
// Every scalar is aligned to its own size, pointers are 4 bytes, inline
// nested records and fixed arrays take the alignment of their widest
// member, and a record's size is rounded up to its alignment. Offsets
// declared explicitly in the IR always win over computed ones.
package layout
