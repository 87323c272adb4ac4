package engine

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nativebind"
	"github.com/wippyai/nativebind/errors"
)

// Memory adapts a library's wazero memory to nativebind.Memory.
type Memory struct {
	mem   api.Memory
	phase errors.Phase
}

// WrapMemory wraps mem. Out-of-bounds accesses report errors in phase.
func WrapMemory(mem api.Memory, phase errors.Phase) *Memory {
	if mem == nil {
		return nil
	}
	return &Memory{mem: mem, phase: phase}
}

// Raw returns the underlying wazero memory.
func (m *Memory) Raw() api.Memory { return m.mem }

// Read returns a copy of length bytes at offset.
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.MemoryOutOfBounds(m.phase, offset, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// Write writes data at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.MemoryOutOfBounds(m.phase, offset, uint32(len(data)))
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 1)
	}
	return v, nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.mem.ReadUint16Le(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 2)
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 4)
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 8)
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 1)
	}
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Memory) WriteU16(offset uint32, value uint16) error {
	if !m.mem.WriteUint16Le(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 2)
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 4)
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 8)
	}
	return nil
}

// ReadF32 reads a little-endian float32.
func (m *Memory) ReadF32(offset uint32) (float32, error) {
	v, ok := m.mem.ReadFloat32Le(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 4)
	}
	return v, nil
}

// ReadF64 reads a little-endian float64.
func (m *Memory) ReadF64(offset uint32) (float64, error) {
	v, ok := m.mem.ReadFloat64Le(offset)
	if !ok {
		return 0, errors.MemoryOutOfBounds(m.phase, offset, 8)
	}
	return v, nil
}

// WriteF32 writes a little-endian float32.
func (m *Memory) WriteF32(offset uint32, value float32) error {
	if !m.mem.WriteFloat32Le(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 4)
	}
	return nil
}

// WriteF64 writes a little-endian float64.
func (m *Memory) WriteF64(offset uint32, value float64) error {
	if !m.mem.WriteFloat64Le(offset, value) {
		return errors.MemoryOutOfBounds(m.phase, offset, 8)
	}
	return nil
}

// ReadCString reads a NUL-terminated string starting at offset.
func (m *Memory) ReadCString(offset uint32) (string, error) {
	size := m.mem.Size()
	if offset >= size {
		return "", errors.MemoryOutOfBounds(m.phase, offset, 1)
	}
	data, _ := m.mem.Read(offset, size-offset)
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return "", errors.InvalidData(m.phase, nil, "unterminated string")
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ nativebind.Memory = (*Memory)(nil)
var _ nativebind.MemorySizer = (*Memory)(nil)
