package wasm

import (
	"github.com/tetratelabs/wazero/api"
)

const (
	sectionType     = 0x01
	sectionImport   = 0x02
	sectionFunction = 0x03
	sectionMemory   = 0x05
	sectionExport   = 0x07
	sectionCode     = 0x0a

	externFunc   = 0x00
	externMemory = 0x02

	opLocalGet = 0x20
	opCall     = 0x10
	opEnd      = 0x0b
)

// ModuleBuilder builds a module that owns one memory and re-exports
// imported functions through wrappers.
type ModuleBuilder struct {
	funcs        []wrappedFunc
	memoryExport string
	memoryMin    uint32
	memoryMax    uint32
}

type wrappedFunc struct {
	module      string
	name        string
	export      string
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
}

// NewModuleBuilder creates a builder with a one-page memory exported as
// "memory".
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{memoryExport: "memory", memoryMin: 1}
}

// AddFunc imports module.name and exports a wrapper for it as export.
func (b *ModuleBuilder) AddFunc(module, name, export string, params, results []api.ValueType) {
	b.funcs = append(b.funcs, wrappedFunc{
		module:      module,
		name:        name,
		export:      export,
		paramTypes:  params,
		resultTypes: results,
	})
}

// SetMemory sets the memory limits in pages. max 0 means unbounded.
func (b *ModuleBuilder) SetMemory(min, max uint32, export string) {
	b.memoryMin = min
	b.memoryMax = max
	b.memoryExport = export
}

// NumFuncs returns the number of wrapped functions.
func (b *ModuleBuilder) NumFuncs() int {
	return len(b.funcs)
}

// Build generates the module bytes.
func (b *ModuleBuilder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, sectionType, b.buildTypeSection())
		wasm = appendSection(wasm, sectionImport, b.buildImportSection())
		wasm = appendSection(wasm, sectionFunction, b.buildFuncSection())
	}
	wasm = appendSection(wasm, sectionMemory, b.buildMemorySection())
	wasm = appendSection(wasm, sectionExport, b.buildExportSection())
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, sectionCode, b.buildCodeSection())
	}
	return wasm
}

// buildTypeSection emits one type per function; type i serves both
// import i and wrapper i.
func (b *ModuleBuilder) buildTypeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		section = append(section, 0x60)
		section = append(section, EncodeULEB128(uint32(len(f.paramTypes)))...)
		for _, t := range f.paramTypes {
			section = append(section, ValTypeToWasm(t))
		}
		section = append(section, EncodeULEB128(uint32(len(f.resultTypes)))...)
		for _, t := range f.resultTypes {
			section = append(section, ValTypeToWasm(t))
		}
	}
	return section
}

func (b *ModuleBuilder) buildImportSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		section = appendName(section, f.module)
		section = appendName(section, f.name)
		section = append(section, externFunc)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *ModuleBuilder) buildFuncSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *ModuleBuilder) buildMemorySection() []byte {
	section := []byte{0x01}
	if b.memoryMax > 0 {
		section = append(section, 0x01)
		section = append(section, EncodeULEB128(b.memoryMin)...)
		section = append(section, EncodeULEB128(b.memoryMax)...)
	} else {
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(b.memoryMin)...)
	}
	return section
}

func (b *ModuleBuilder) buildExportSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs) + 1))

	section = appendName(section, b.memoryExport)
	section = append(section, externMemory, 0x00)

	// Wrappers follow the imports in the function index space.
	numImports := uint32(len(b.funcs))
	for i, f := range b.funcs {
		section = appendName(section, f.export)
		section = append(section, externFunc)
		section = append(section, EncodeULEB128(numImports+uint32(i))...)
	}
	return section
}

func (b *ModuleBuilder) buildCodeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		body := buildFuncBody(uint32(i), f)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

// buildFuncBody forwards every parameter to import importIdx.
func buildFuncBody(importIdx uint32, f wrappedFunc) []byte {
	body := []byte{0x00} // no locals
	for i := range f.paramTypes {
		body = append(body, opLocalGet)
		body = append(body, EncodeULEB128(uint32(i))...)
	}
	body = append(body, opCall)
	body = append(body, EncodeULEB128(importIdx)...)
	return append(body, opEnd)
}
