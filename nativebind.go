package nativebind

// Handle identifies a native memory location or instance. On the wasm32
// targets nativebind loads, a handle is a linear-memory address and the
// zero value is the null handle.
type Handle uint32

// Null is the null handle.
const Null Handle = 0

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool {
	return h == Null
}

// Memory represents native (linear) memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of native memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates memory through the native library's allocator
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
