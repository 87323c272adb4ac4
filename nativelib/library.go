package nativelib

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/internal/wasm"
)

// Value types of shim function signatures.
const (
	I32 = api.ValueTypeI32
	I64 = api.ValueTypeI64
	F32 = api.ValueTypeF32
	F64 = api.ValueTypeF64
)

// TrampolineExport is the library export that forwards to the nativebind
// trampoline.
const TrampolineExport = "__nb_trampoline"

// DefaultHeapBase keeps low addresses unused so no allocation is mistaken
// for a null handle.
const DefaultHeapBase = 1024

// Signature is the flat wasm signature of a shim function.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Sig starts a signature with the given parameters.
func Sig(params ...api.ValueType) Signature {
	return Signature{Params: params}
}

// Returns sets the results.
func (s Signature) Returns(results ...api.ValueType) Signature {
	s.Results = results
	return s
}

// Func implements one shim symbol. Parameters arrive in stack and results
// are written back to it, as with api.GoModuleFunc.
type Func func(c *Call, stack []uint64)

type export struct {
	fn   Func
	name string
	sig  Signature
}

// Builder assembles a shim library.
type Builder struct {
	objects  *Objects
	name     string
	funcs    []export
	pages    uint32
	heapBase uint32
}

// New starts a shim library called name.
func New(name string) *Builder {
	return &Builder{name: name, pages: 2, heapBase: DefaultHeapBase}
}

// Func adds a symbol.
func (b *Builder) Func(name string, sig Signature, fn Func) *Builder {
	b.funcs = append(b.funcs, export{name: name, sig: sig, fn: fn})
	return b
}

// Memory sets the initial memory size in pages.
func (b *Builder) Memory(pages uint32) *Builder {
	b.pages = pages
	return b
}

// Objects enables the instance model.
func (b *Builder) Objects(o *Objects) *Builder {
	b.objects = o
	return b
}

// Build finalizes the library.
func (b *Builder) Build() *Library {
	lib := &Library{
		name:    b.name,
		pages:   b.pages,
		heap:    NewHeap(b.heapBase),
		objects: b.objects,
	}
	lib.funcs = append(lib.funcs,
		export{name: "malloc", sig: Sig(I32).Returns(I32), fn: shimMalloc},
		export{name: "free", sig: Sig(I32), fn: shimFree},
	)
	if b.objects != nil {
		lib.funcs = append(lib.funcs, b.objects.exports()...)
	}
	lib.funcs = append(lib.funcs, b.funcs...)
	return lib
}

// Library is a built shim library. It can be installed into one runtime.
type Library struct {
	heap    *Heap
	objects *Objects
	name    string
	funcs   []export
	pages   uint32
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Heap returns the library heap.
func (l *Library) Heap() *Heap { return l.heap }

// Objects returns the instance model, or nil.
func (l *Library) Objects() *Objects { return l.objects }

// Symbols returns the exported symbol names in declaration order.
func (l *Library) Symbols() []string {
	out := make([]string, len(l.funcs))
	for i, f := range l.funcs {
		out[i] = f.name
	}
	return out
}

// Install instantiates the host side of the library in r and returns the
// synthetic library module.
func (l *Library) Install(ctx context.Context, r wazero.Runtime) ([]byte, error) {
	hostName := l.name + ":host"
	if r.Module(hostName) != nil {
		return nil, fmt.Errorf("shim %s already installed", l.name)
	}

	hb := r.NewHostModuleBuilder(hostName)
	mb := wasm.NewModuleBuilder()
	mb.SetMemory(l.pages, 0, "memory")

	for _, f := range l.funcs {
		fn := f.fn
		hb = hb.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				fn(&Call{Ctx: ctx, Module: mod, lib: l}, stack)
			}), f.sig.Params, f.sig.Results).
			Export(f.name)
		mb.AddFunc(hostName, f.name, f.name, f.sig.Params, f.sig.Results)
	}
	if _, err := hb.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", hostName, err)
	}

	mb.AddFunc(engine.HostModule, engine.TrampolineExport, TrampolineExport,
		[]api.ValueType{I32, I32, I32}, nil)
	return mb.Build(), nil
}

var _ engine.Shim = (*Library)(nil)

func shimMalloc(c *Call, stack []uint64) {
	stack[0] = api.EncodeU32(c.Malloc(api.DecodeU32(stack[0])))
}

func shimFree(c *Call, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	if ptr == 0 {
		return
	}
	if !c.Free(ptr) {
		panic(fmt.Errorf("free of invalid pointer 0x%x", ptr))
	}
}
