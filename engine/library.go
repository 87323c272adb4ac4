package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind"
	"github.com/wippyai/nativebind/errors"
)

// LibraryConfig names the conventional symbols of a library.
type LibraryConfig struct {
	// AllocSymbol is malloc(size i32) i32. Defaults to "malloc".
	AllocSymbol string
	// FreeSymbol is free(ptr i32). Defaults to "free".
	FreeSymbol string
	// TypeCheckSymbol is check(handle i32, type_id i32) i32, nonzero when
	// handle is an instance of the type. Optional.
	TypeCheckSymbol string
	// TypeOfSymbol is type_of(handle i32) i32, the handle's concrete
	// type id. Optional.
	TypeOfSymbol string
	// ConnectSymbol is connect(handle i32, name i32, fnptr i32) i64
	// returning a subscription id. Optional.
	ConnectSymbol string
	// DisconnectSymbol is disconnect(handle i32, id i64). Optional.
	DisconnectSymbol string
	// ErrorFreeSymbol releases a native error record. Defaults to FreeSymbol.
	ErrorFreeSymbol string
	// RequiredSymbols must all be exported or loading fails.
	RequiredSymbols []string
}

func (c LibraryConfig) withDefaults() LibraryConfig {
	if c.AllocSymbol == "" {
		c.AllocSymbol = "malloc"
	}
	if c.FreeSymbol == "" {
		c.FreeSymbol = "free"
	}
	if c.ErrorFreeSymbol == "" {
		c.ErrorFreeSymbol = c.FreeSymbol
	}
	return c
}

func (c LibraryConfig) required() []string {
	out := []string{c.AllocSymbol, c.FreeSymbol}
	for _, s := range []string{c.TypeCheckSymbol, c.TypeOfSymbol, c.ConnectSymbol, c.DisconnectSymbol} {
		if s != "" {
			out = append(out, s)
		}
	}
	return append(out, c.RequiredSymbols...)
}

// Library is an instantiated native library.
type Library struct {
	engine   *Engine
	mod      api.Module
	compiled wazero.CompiledModule
	mem      *Memory
	funcs    map[string]api.Function
	name     string
	cfg      LibraryConfig
	mu       sync.Mutex
}

func newLibrary(e *Engine, name string, mod api.Module, compiled wazero.CompiledModule, cfg LibraryConfig) *Library {
	return &Library{
		engine:   e,
		mod:      mod,
		compiled: compiled,
		mem:      WrapMemory(mod.Memory(), errors.PhaseInvoke),
		funcs:    make(map[string]api.Function),
		name:     name,
		cfg:      cfg,
	}
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Config returns the library's symbol configuration.
func (l *Library) Config() LibraryConfig { return l.cfg }

// Module returns the wazero module instance.
func (l *Library) Module() api.Module { return l.mod }

// Memory returns the library's native memory.
func (l *Library) Memory() *Memory { return l.mem }

// Has reports whether the library exports symbol.
func (l *Library) Has(symbol string) bool {
	_, ok := l.compiled.ExportedFunctions()[symbol]
	return ok
}

// Func returns the exported function for symbol.
func (l *Library) Func(symbol string) (api.Function, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn, ok := l.funcs[symbol]; ok {
		return fn, nil
	}
	fn := l.mod.ExportedFunction(symbol)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseInvoke, "symbol", l.name+"#"+symbol)
	}
	l.funcs[symbol] = fn
	return fn, nil
}

// Signature returns the flat parameter and result types of symbol.
func (l *Library) Signature(symbol string) (params, results []api.ValueType, err error) {
	def, ok := l.compiled.ExportedFunctions()[symbol]
	if !ok {
		return nil, nil, errors.NotFound(errors.PhaseInvoke, "symbol", l.name+"#"+symbol)
	}
	return def.ParamTypes(), def.ResultTypes(), nil
}

// Call invokes symbol with already lowered arguments.
func (l *Library) Call(ctx context.Context, symbol string, args ...uint64) ([]uint64, error) {
	fn, err := l.Func(symbol)
	if err != nil {
		return nil, err
	}
	if want := len(fn.Definition().ParamTypes()); want != len(args) {
		return nil, errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
			Path(symbol).
			Detail("native signature takes %d values, got %d", want, len(args)).
			Build()
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, callError(l.name, symbol, err)
	}
	return results, nil
}

// callError keeps structured errors raised inside host functions intact.
func callError(lib, symbol string, err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.New(errors.PhaseInvoke, errors.KindNativeFailure).
		Path(lib + "#" + symbol).
		Cause(err).
		Build()
}

// Alloc allocates size bytes through the library allocator.
func (l *Library) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	res, err := l.Call(ctx, l.cfg.AllocSymbol, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(res) == 0 || api.DecodeU32(res[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseInvoke, size, 8)
	}
	return api.DecodeU32(res[0]), nil
}

// Free releases ptr through the library allocator.
func (l *Library) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := l.Call(ctx, l.cfg.FreeSymbol, uint64(ptr))
	return err
}

// Allocator returns a nativebind.Allocator bound to ctx.
func (l *Library) Allocator(ctx context.Context) nativebind.Allocator {
	return &allocator{ctx: ctx, lib: l}
}

type allocator struct {
	ctx context.Context
	lib *Library
}

func (a *allocator) Alloc(size, align uint32) (uint32, error) {
	if align > 8 {
		return 0, errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("alignment %d", align))
	}
	return a.lib.Alloc(a.ctx, size)
}

func (a *allocator) Free(ptr, size, _ uint32) {
	if err := a.lib.Free(a.ctx, ptr); err != nil {
		Logger().Warn("free failed",
			zap.String("library", a.lib.name),
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

var _ nativebind.Allocator = (*allocator)(nil)
