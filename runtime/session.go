package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/registry"
)

// Config holds configuration for a Session.
type Config struct {
	Engine engine.Config
}

// Session is one runtime session: an engine with its libraries, the
// object registry, the trampoline table and the type id cache.
type Session struct {
	engine  *engine.Engine
	reg     *registry.Registry
	tramps  *trampolines
	poison  atomic.Pointer[errors.Error]
	typeIDs map[string]uint32
	mu      sync.Mutex
	closed  atomic.Bool
}

// NewSession creates a session with its own engine.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	eng, err := engine.New(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	s := &Session{
		engine:  eng,
		tramps:  newTrampolines(),
		typeIDs: make(map[string]uint32),
	}
	s.reg = registry.New(s.free)
	eng.SetDispatcher(s.dispatch)
	return s, nil
}

// Engine returns the session's engine.
func (s *Session) Engine() *engine.Engine { return s.engine }

// Registry returns the session's object registry.
func (s *Session) Registry() *registry.Registry { return s.reg }

// LoadLibrary loads a compiled native library.
func (s *Session) LoadLibrary(ctx context.Context, name string, wasmBytes []byte, cfg engine.LibraryConfig) (*engine.Library, error) {
	return s.engine.LoadModule(ctx, name, wasmBytes, cfg)
}

// LoadShim loads a library implemented by host functions.
func (s *Session) LoadShim(ctx context.Context, shim engine.Shim, cfg engine.LibraryConfig) (*engine.Library, error) {
	return s.engine.LoadShim(ctx, shim, cfg)
}

// Library returns a loaded library.
func (s *Session) Library(name string) (*engine.Library, error) {
	lib, ok := s.engine.Library(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseInvoke, "library", name)
	}
	return lib, nil
}

// Poisoned returns the fatal error that poisoned the session, or nil.
func (s *Session) Poisoned() error {
	if e := s.poison.Load(); e != nil {
		return e
	}
	return nil
}

func (s *Session) poisonWith(err *errors.Error) {
	if s.poison.CompareAndSwap(nil, err) {
		Logger().Error("session poisoned", zap.Error(err))
	}
}

// ready runs before every native call: it refuses poisoned or closed
// sessions and performs frees deferred by the garbage collector.
func (s *Session) ready(ctx context.Context) error {
	if s.closed.Load() {
		return errors.InvalidInput(errors.PhaseInvoke, "session is closed")
	}
	if e := s.poison.Load(); e != nil {
		return errors.Poisoned(e)
	}
	if err := s.reg.Drain(ctx); err != nil {
		Logger().Warn("deferred frees failed", zap.Error(err))
	}
	return nil
}

// Drain performs frees deferred by the garbage collector.
func (s *Session) Drain(ctx context.Context) error {
	return s.reg.Drain(ctx)
}

// Close frees every owned handle, releases all trampolines and closes the
// engine.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.reg.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.tramps.clear()
	if err := s.engine.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// free releases an owned handle through its type's library.
func (s *Session) free(ctx context.Context, h Handle, t *registry.Type) error {
	lib, err := s.Library(t.Library)
	if err != nil {
		return err
	}
	free := t.Free
	if free == "" && t.Refcounted {
		if free = s.reg.Types.FreeOf(t.Name); free == "" {
			return errors.Unsupported(errors.PhaseRegistry, "no unref function for "+t.Name)
		}
	}
	if free == "" {
		return lib.Free(ctx, uint32(h))
	}
	_, err = lib.Call(ctx, free, uint64(h))
	return err
}

// Class registers a native type with the session's hierarchy.
type Class struct {
	// Name is the qualified type name descriptors refer to.
	Name       string
	Parent     string
	Interfaces []string
	Library    string
	TypeFunc   string
	// Free releases an owned handle; empty means the library's free.
	Free       string
	Refcounted bool
	// New builds the most derived wrapper for a reference.
	New func(Ref) any
}

// RegisterClass adds a type to the session's hierarchy.
func (s *Session) RegisterClass(c Class) {
	t := registry.Type{
		Name:       c.Name,
		Parent:     c.Parent,
		Interfaces: c.Interfaces,
		Library:    c.Library,
		TypeFunc:   c.TypeFunc,
		Free:       c.Free,
		Refcounted: c.Refcounted,
	}
	if c.New != nil {
		factory := c.New
		t.New = func(ref *registry.Reference) any {
			return factory(Ref{ref: ref, s: s})
		}
	}
	s.reg.Types.Register(t)
}

// Wrap adds a managed reference to h as an instance of typeName. full
// records that the caller owns the handle.
func (s *Session) Wrap(library string, h Handle, typeName string, full bool) (Ref, error) {
	lib, err := s.Library(library)
	if err != nil {
		return Ref{}, err
	}
	t := s.typeFor(lib, abi.Descriptor{Type: typeName})
	own := registry.Borrowed
	if full {
		own = registry.Full
	}
	obj, err := s.reg.Wrap(h, t, own)
	if err != nil {
		return Ref{}, err
	}
	return Ref{ref: obj, s: s}, nil
}

// typeFor returns the registered type for d, registering a flat type on
// first sight.
func (s *Session) typeFor(lib *engine.Library, d abi.Descriptor) *registry.Type {
	name := d.Type
	if name == "" {
		name = lib.Name() + "." + d.Kind.String()
	}
	if t, ok := s.reg.Types.Lookup(name); ok {
		return t
	}
	return s.reg.Types.Register(registry.Type{
		Name:       name,
		Library:    lib.Name(),
		TypeFunc:   d.TypeFunc,
		Free:       d.FreeFunc,
		Refcounted: d.Kind == abi.KindObject,
	})
}

// typeID returns the native type id reported by typeFunc, cached per
// library.
func (s *Session) typeID(ctx context.Context, lib *engine.Library, typeFunc string) (uint32, error) {
	key := lib.Name() + "#" + typeFunc
	s.mu.Lock()
	id, ok := s.typeIDs[key]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	res, err := lib.Call(ctx, typeFunc)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, errors.InvalidData(errors.PhaseInvoke, []string{typeFunc}, "type function returned no value")
	}
	id = uint32(res[0])
	s.mu.Lock()
	s.typeIDs[key] = id
	s.mu.Unlock()
	return id, nil
}

// typeName maps a native type id back to a registered type of lib.
func (s *Session) typeName(ctx context.Context, lib *engine.Library, id uint32) (string, error) {
	for _, name := range s.reg.Types.Names() {
		t, ok := s.reg.Types.Lookup(name)
		if !ok || t.Library != lib.Name() || t.TypeFunc == "" {
			continue
		}
		tid, err := s.typeID(ctx, lib, t.TypeFunc)
		if err != nil {
			return "", err
		}
		if tid == id {
			return name, nil
		}
	}
	return "", nil
}
