package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/errors"
)

// HostModule is the name of the module every library may import the
// trampoline from.
const HostModule = "nativebind"

// TrampolineExport is the host function native code calls to invoke a
// managed function pointer.
const TrampolineExport = "trampoline"

// Dispatcher handles one trampoline call. caller is the library whose code
// made the call.
type Dispatcher func(ctx context.Context, caller api.Module, fnptr, argsPtr, retPtr uint32)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per library in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// EnableWASI instantiates wasi_snapshot_preview1 for libraries built
	// against wasi-libc.
	EnableWASI bool

	// CloseOnContextDone aborts native calls when their context is done.
	CloseOnContextDone bool
}

// Engine owns a wazero runtime and the libraries loaded into it.
type Engine struct {
	runtime    wazero.Runtime
	dispatcher atomic.Pointer[Dispatcher]
	libs       map[string]*Library
	cfg        Config
	mu         sync.Mutex

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// New creates an engine and instantiates its host module.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		libs:    make(map[string]*Library),
		cfg:     cfg,
	}
	if err := e.instantiateHost(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}
	if cfg.EnableWASI {
		if err := e.InitWASI(ctx); err != nil {
			_ = e.runtime.Close(ctx)
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) instantiateHost(ctx context.Context) error {
	i32 := api.ValueTypeI32
	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.trampoline), []api.ValueType{i32, i32, i32}, nil).
		WithParameterNames("fnptr", "args_ptr", "ret_ptr").
		Export(TrampolineExport).
		Instantiate(ctx)
	if err != nil {
		return errors.Instantiation(err)
	}
	return nil
}

func (e *Engine) trampoline(ctx context.Context, caller api.Module, stack []uint64) {
	fnptr := api.DecodeU32(stack[0])
	argsPtr := api.DecodeU32(stack[1])
	retPtr := api.DecodeU32(stack[2])

	d := e.dispatcher.Load()
	if d == nil {
		panic(errors.StaleTrampoline(fnptr))
	}
	(*d)(ctx, caller, fnptr, argsPtr, retPtr)
}

// SetDispatcher installs the trampoline dispatcher.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.dispatcher.Store(&d)
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			if e.runtime.Module(wasi_snapshot_preview1.ModuleName) == nil {
				return errors.Instantiation(err)
			}
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// LoadModule compiles and instantiates a native library under name.
func (e *Engine) LoadModule(ctx context.Context, name string, wasmBytes []byte, cfg LibraryConfig) (*Library, error) {
	cfg = cfg.withDefaults()

	e.mu.Lock()
	if _, exists := e.libs[name]; exists {
		e.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseLoad, "library "+name+" already loaded")
	}
	e.mu.Unlock()

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile library "+name, err)
	}

	if err := checkSymbols(name, compiled, cfg); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	for _, imp := range compiled.ImportedFunctions() {
		mod, _, _ := imp.Import()
		if mod == wasi_snapshot_preview1.ModuleName {
			if err := e.InitWASI(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")
	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	lib := newLibrary(e, name, mod, compiled, cfg)

	e.mu.Lock()
	e.libs[name] = lib
	e.mu.Unlock()

	Logger().Debug("library loaded",
		zap.String("library", name),
		zap.Int("exports", len(compiled.ExportedFunctions())),
		zap.Uint32("memory", lib.Memory().Size()))
	return lib, nil
}

// checkSymbols reports every required export the compiled module lacks.
func checkSymbols(name string, compiled wazero.CompiledModule, cfg LibraryConfig) error {
	exports := compiled.ExportedFunctions()
	var missing []string
	for _, sym := range cfg.required() {
		if _, ok := exports[sym]; !ok {
			missing = append(missing, name+"#"+sym)
		}
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		missing = append(missing, name+"#memory")
	}
	if len(missing) > 0 {
		return errors.NewMissingSymbolsError(missing)
	}
	return nil
}

// Shim is a library implemented by host functions.
type Shim interface {
	// Name is the library name.
	Name() string
	// Install instantiates the shim's host side in r and returns the
	// synthetic library module that wraps it.
	Install(ctx context.Context, r wazero.Runtime) ([]byte, error)
}

// LoadShim installs a shim and loads its synthetic module.
func (e *Engine) LoadShim(ctx context.Context, shim Shim, cfg LibraryConfig) (*Library, error) {
	wasmBytes, err := shim.Install(ctx, e.runtime)
	if err != nil {
		return nil, errors.Load("install shim "+shim.Name(), err)
	}
	return e.LoadModule(ctx, shim.Name(), wasmBytes, cfg)
}

// Library returns a loaded library by name.
func (e *Engine) Library(name string) (*Library, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lib, ok := e.libs[name]
	return lib, ok
}

// Libraries returns the names of loaded libraries.
func (e *Engine) Libraries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.libs))
	for n := range e.libs {
		out = append(out, n)
	}
	return out
}

// Close closes every library and the runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.libs = make(map[string]*Library)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
