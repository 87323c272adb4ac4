package runtime

import (
	"context"
	"sync"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
)

// Pending is the result of an asynchronous native operation. It resolves
// exactly once, when the completion callback runs or the start call fails.
type Pending struct {
	done   chan struct{}
	values []any
	err    error
	once   sync.Once
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// resolve settles p and reports whether this call did it.
func (p *Pending) resolve(values []any, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.values, p.err = values, err
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done is closed when p resolves.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Resolved reports whether p has resolved.
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Await blocks until p resolves or ctx is done. The values are the
// arguments the completion callback received.
func (p *Pending) Await(ctx context.Context) ([]any, error) {
	select {
	case <-p.done:
		return p.values, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InvokeAsync starts an asynchronous native operation. Exactly one
// argument must be an Async completion callback; its arguments resolve the
// returned Pending. Abandoning the Pending does not cancel the operation.
func (s *Session) InvokeAsync(ctx context.Context, library, symbol string, args []Arg, ret abi.Descriptor) (*Pending, error) {
	slot := -1
	for i, a := range args {
		if !a.async {
			continue
		}
		if slot >= 0 {
			return nil, errors.InvalidInput(errors.PhaseInvoke, "more than one completion callback")
		}
		slot = i
	}
	if slot < 0 {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "no completion callback")
	}

	p := newPending()
	call := make([]Arg, len(args))
	copy(call, args)
	call[slot].Value = Callback(func(_ context.Context, values []any) (any, error) {
		p.resolve(values, nil)
		return nil, nil
	})

	if _, err := s.Invoke(ctx, library, symbol, call, ret); err != nil {
		var native *NativeError
		if errors.As(err, &native) {
			p.resolve(nil, err)
			return p, nil
		}
		return nil, err
	}
	return p, nil
}
