package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
)

// Subscription is a connected signal handler.
type Subscription struct {
	library string
	signal  string
	id      uint64
	tramp   uint32
	handle  Handle
}

// ID returns the native subscription id.
func (sub Subscription) ID() uint64 { return sub.id }

// Signal returns the signal name.
func (sub Subscription) Signal() string { return sub.signal }

// Connect subscribes fn to signal on the instance w refers to. sig lists
// the handler's native parameters, the instance first. The handler stays
// valid until Disconnect or Close.
func (s *Session) Connect(ctx context.Context, w Wrapper, signal string, sig *abi.Signature, fn Callback) (Subscription, error) {
	if err := s.ready(ctx); err != nil {
		return Subscription{}, err
	}
	r, ok := RefOf(w)
	if !ok {
		return Subscription{}, errors.NullHandle(errors.PhaseInvoke, []string{signal}, "")
	}
	if err := r.Check(); err != nil {
		return Subscription{}, err
	}
	lib, err := s.Library(r.ref.Type().Library)
	if err != nil {
		return Subscription{}, err
	}
	connect := lib.Config().ConnectSymbol
	if connect == "" {
		return Subscription{}, errors.Unsupported(errors.PhaseInvoke, "library "+lib.Name()+" has no signal connect symbol")
	}

	m := marshaler{s: s, lib: lib}
	name, err := m.cstring(ctx, signal)
	if err != nil {
		return Subscription{}, err
	}
	defer func() { _ = lib.Free(ctx, name) }()

	tramp, err := s.NewTrampoline(sig, abi.ScopeForever, fn)
	if err != nil {
		return Subscription{}, err
	}
	res, err := lib.Call(ctx, connect, uint64(r.Handle()), uint64(name), uint64(tramp.id))
	if err != nil {
		tramp.Release()
		return Subscription{}, err
	}
	sub := Subscription{
		library: lib.Name(),
		signal:  signal,
		tramp:   tramp.id,
		handle:  r.Handle(),
	}
	if len(res) > 0 {
		sub.id = res[0]
	}
	Logger().Debug("signal connected",
		zap.String("signal", signal),
		zap.Uint32("handle", uint32(sub.handle)),
		zap.Uint64("id", sub.id))
	return sub, nil
}

// Disconnect removes a handler and releases its trampoline.
func (s *Session) Disconnect(ctx context.Context, sub Subscription) error {
	if sub.tramp == 0 {
		return nil
	}
	lib, err := s.Library(sub.library)
	if err != nil {
		return err
	}
	if disconnect := lib.Config().DisconnectSymbol; disconnect != "" {
		if _, err := lib.Call(ctx, disconnect, uint64(sub.handle), sub.id); err != nil {
			return err
		}
	}
	s.tramps.release(sub.tramp)
	return nil
}
