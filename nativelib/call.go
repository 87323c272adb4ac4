package nativelib

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/errors"
)

// Call is the context of one shim function invocation.
type Call struct {
	Ctx    context.Context
	Module api.Module
	lib    *Library
}

// Library returns the shim library being called.
func (c *Call) Library() *Library { return c.lib }

// Objects returns the library's instance model, or nil.
func (c *Call) Objects() *Objects { return c.lib.objects }

// Memory returns the library memory.
func (c *Call) Memory() *engine.Memory {
	return engine.WrapMemory(c.Module.Memory(), errors.PhaseInvoke)
}

// Malloc allocates from the library heap.
func (c *Call) Malloc(size uint32) uint32 {
	return c.lib.heap.Malloc(c.Module.Memory(), size)
}

// Free releases a heap block.
func (c *Call) Free(ptr uint32) bool {
	return c.lib.heap.Free(ptr)
}

// CString reads a NUL-terminated string; a null pointer reads as "".
func (c *Call) CString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s, err := c.Memory().ReadCString(ptr)
	if err != nil {
		panic(err)
	}
	return s
}

// NewCString copies s into a fresh heap block.
func (c *Call) NewCString(s string) uint32 {
	ptr := c.Malloc(uint32(len(s)) + 1)
	if ptr == 0 {
		panic(errors.AllocationFailed(errors.PhaseInvoke, uint32(len(s))+1, 1))
	}
	c.Module.Memory().Write(ptr, []byte(s))
	return ptr
}

// Invoke calls the function pointer fnptr with args packed in 8-byte slots.
// When hasResult is set the returned slot holds the callback's result.
func (c *Call) Invoke(fnptr uint32, args []uint64, hasResult bool) (uint64, error) {
	tramp := c.Module.ExportedFunction(TrampolineExport)
	if tramp == nil {
		return 0, fmt.Errorf("library %s does not export %s", c.lib.name, TrampolineExport)
	}

	mem := c.Module.Memory()
	var argsPtr, retPtr uint32
	if len(args) > 0 {
		argsPtr = c.Malloc(uint32(8 * len(args)))
		if argsPtr == 0 {
			return 0, errors.AllocationFailed(errors.PhaseTrampoline, uint32(8*len(args)), 8)
		}
		defer c.Free(argsPtr)
		for i, a := range args {
			mem.WriteUint64Le(argsPtr+uint32(8*i), a)
		}
	}
	if hasResult {
		retPtr = c.Malloc(8)
		if retPtr == 0 {
			return 0, errors.AllocationFailed(errors.PhaseTrampoline, 8, 8)
		}
		defer c.Free(retPtr)
	}

	if _, err := tramp.Call(c.Ctx, uint64(fnptr), uint64(argsPtr), uint64(retPtr)); err != nil {
		return 0, err
	}
	if !hasResult {
		return 0, nil
	}
	v, _ := mem.ReadUint64Le(retPtr)
	return v, nil
}

// MustInvoke is Invoke that traps the current native call on failure, the
// way a fault inside a callback aborts compiled native code.
func (c *Call) MustInvoke(fnptr uint32, args []uint64, hasResult bool) uint64 {
	v, err := c.Invoke(fnptr, args, hasResult)
	if err != nil {
		panic(err)
	}
	return v
}
