package runtime

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
)

// trampolineBase tags trampoline function pointers. Ids never collide with
// the small table indices native libraries use for their own functions.
const trampolineBase uint32 = 0xF0000000

// destroySignature is the signature of a destroy notifier: void (*)(void*).
var destroySignature = &abi.Signature{
	Params: []abi.Descriptor{abi.Pointer()},
	Return: abi.Void(),
}

type trampoline struct {
	fn    Callback
	sig   *abi.Signature
	id    uint32
	scope abi.Scope
}

type trampolines struct {
	live map[uint32]*trampoline
	next uint32
	mu   sync.Mutex
}

func newTrampolines() *trampolines {
	return &trampolines{live: make(map[uint32]*trampoline)}
}

func (t *trampolines) add(sig *abi.Signature, scope abi.Scope, fn Callback) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := trampolineBase | (t.next & ^trampolineBase)
	t.live[id] = &trampoline{fn: fn, sig: sig, id: id, scope: scope}
	return id
}

// enter returns the trampoline for id. One-shot trampolines leave the table
// on their first invocation.
func (t *trampolines) enter(id uint32) (*trampoline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.live[id]
	if ok && tr.scope == abi.ScopeAsync {
		delete(t.live, id)
	}
	return tr, ok
}

func (t *trampolines) release(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}

func (t *trampolines) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *trampolines) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = make(map[uint32]*trampoline)
}

// Trampoline is a native-callable function pointer routed to a Callback.
type Trampoline struct {
	s  *Session
	id uint32
}

// ID returns the function pointer value native code calls.
func (t Trampoline) ID() uint32 { return t.id }

// Release invalidates the function pointer. Native code calling it
// afterwards poisons the session.
func (t Trampoline) Release() bool {
	return t.s.tramps.release(t.id)
}

// NewTrampoline registers fn as a native-callable function pointer valid
// for scope. Call-scoped trampolines created here live until released.
func (s *Session) NewTrampoline(sig *abi.Signature, scope abi.Scope, fn Callback) (Trampoline, error) {
	if fn == nil {
		return Trampoline{}, errors.InvalidInput(errors.PhaseTrampoline, "nil callback")
	}
	if sig == nil {
		return Trampoline{}, errors.InvalidInput(errors.PhaseTrampoline, "nil signature")
	}
	return Trampoline{s: s, id: s.tramps.add(sig, scope, fn)}, nil
}

// Trampolines returns the number of live trampolines.
func (s *Session) Trampolines() int { return s.tramps.len() }

// dispatch handles every call native code makes through the trampoline
// import. Faults panic so wazero traps the native caller.
func (s *Session) dispatch(ctx context.Context, caller api.Module, fnptr, argsPtr, retPtr uint32) {
	tr, ok := s.tramps.enter(fnptr)
	if !ok {
		err := errors.StaleTrampoline(fnptr)
		s.poisonWith(err)
		panic(err)
	}

	lib, err := s.Library(caller.Name())
	if err != nil {
		panic(err)
	}
	m := marshaler{s: s, lib: lib, lent: true}
	mem := lib.Memory()

	args := make([]any, len(tr.sig.Params))
	for i, p := range tr.sig.Params {
		raw, err := mem.ReadU64(argsPtr + uint32(8*i))
		if err != nil {
			panic(err)
		}
		if args[i], err = m.lift(ctx, p, raw); err != nil {
			panic(errors.New(errors.PhaseTrampoline, kindOf(err)).
				Path(lib.Name(), "callback", argName(i)).
				Cause(err).
				Build())
		}
	}

	Logger().Debug("trampoline",
		zap.Uint32("id", fnptr),
		zap.String("library", lib.Name()),
		zap.Int("args", len(args)))

	out, err := tr.fn(ctx, args)
	if err != nil {
		panic(errors.New(errors.PhaseTrampoline, errors.KindNativeFailure).
			Path(lib.Name(), "callback").
			Detail("callback failed").
			Cause(err).
			Build())
	}

	if retPtr == 0 || tr.sig.Return.Kind == abi.KindVoid {
		return
	}
	raw, err := lowerScalar(tr.sig.Return, out)
	if err != nil {
		panic(err)
	}
	if err := mem.WriteU64(retPtr, raw); err != nil {
		panic(err)
	}
}

func kindOf(err error) errors.Kind {
	if k, ok := errors.KindOf(err); ok {
		return k
	}
	return errors.KindInvalidData
}
