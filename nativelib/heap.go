package nativelib

import (
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

const (
	pageSize  = 65536
	heapAlign = 8
)

type span struct {
	off  uint32
	size uint32
}

// Heap is a first-fit allocator over a library memory.
type Heap struct {
	used   map[uint32]uint32
	free   []span
	base   uint32
	top    uint32
	allocs uint64
	frees  uint64
	mu     sync.Mutex
}

// NewHeap creates a heap whose first allocation is at or above base.
func NewHeap(base uint32) *Heap {
	base = alignUp(base)
	return &Heap{
		used: make(map[uint32]uint32),
		base: base,
		top:  base,
	}
}

func alignUp(v uint32) uint32 {
	return (v + heapAlign - 1) &^ (heapAlign - 1)
}

// Malloc returns a zeroed block of at least size bytes, or 0 when mem
// cannot grow.
func (h *Heap) Malloc(mem api.Memory, size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	if size > 1<<31 {
		return 0
	}
	size = alignUp(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	ptr, ok := h.takeFree(size)
	if !ok {
		end := uint64(h.top) + uint64(size)
		if end > uint64(mem.Size()) {
			need := (end - uint64(mem.Size()) + pageSize - 1) / pageSize
			if _, grown := mem.Grow(uint32(need)); !grown {
				return 0
			}
		}
		ptr = h.top
		h.top += size
	}

	mem.Write(ptr, make([]byte, size))
	h.used[ptr] = size
	h.allocs++
	return ptr
}

// takeFree carves size bytes out of the first span large enough.
func (h *Heap) takeFree(size uint32) (uint32, bool) {
	for i, s := range h.free {
		if s.size < size {
			continue
		}
		if s.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{off: s.off + size, size: s.size - size}
		}
		return s.off, true
	}
	return 0, false
}

// Free returns ptr to the heap. It reports false for pointers the heap
// did not hand out or already took back.
func (h *Heap) Free(ptr uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	size, ok := h.used[ptr]
	if !ok {
		return false
	}
	delete(h.used, ptr)
	h.frees++

	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off > ptr })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = span{off: ptr, size: size}
	h.coalesce(i)

	if last := h.free[len(h.free)-1]; last.off+last.size == h.top {
		h.top = last.off
		h.free = h.free[:len(h.free)-1]
	}
	return true
}

func (h *Heap) coalesce(i int) {
	if i+1 < len(h.free) && h.free[i].off+h.free[i].size == h.free[i+1].off {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].off+h.free[i-1].size == h.free[i].off {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// Size returns the size of a live allocation.
func (h *Heap) Size(ptr uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	size, ok := h.used[ptr]
	return size, ok
}

// Live returns the number of live allocations.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.used)
}

// Stats returns the total number of allocations and frees.
func (h *Heap) Stats() (allocs, frees uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs, h.frees
}
