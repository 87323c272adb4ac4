package runtime

import (
	"context"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/registry"
)

// Ref is one managed reference to a native handle. Generated types embed
// it; the zero Ref is the null reference. Copies of a Ref share one
// reference, so releasing any copy releases them all exactly once.
type Ref struct {
	ref *registry.Reference
	s   *Session
}

// Wrapper is implemented by every generated type through its embedded Ref.
type Wrapper interface {
	NativeRef() *Ref
}

// NativeRef returns r.
func (r *Ref) NativeRef() *Ref { return r }

// IsNil reports whether r is the null reference.
func (r *Ref) IsNil() bool { return r == nil || r.ref == nil }

// Handle returns the native handle, or the null handle.
func (r *Ref) Handle() Handle {
	if r.IsNil() {
		return 0
	}
	return r.ref.Handle()
}

// Session returns the session the reference belongs to.
func (r *Ref) Session() *Session { return r.s }

// Object returns the registry Object shared by every reference to the handle.
func (r *Ref) Object() *registry.Object {
	if r.IsNil() {
		return nil
	}
	return r.ref.Object
}

// TypeName returns the registered type of the handle.
func (r *Ref) TypeName() string {
	if r.IsNil() {
		return ""
	}
	return r.ref.Type().Name
}

// Live reports whether the handle may still be used.
func (r *Ref) Live() bool {
	return !r.IsNil() && r.ref.Live()
}

// Check returns an error when the reference is null, released or consumed.
func (r *Ref) Check() error {
	if r.IsNil() {
		return errors.NullHandle(errors.PhaseMarshal, nil, "")
	}
	return r.ref.Check()
}

// Release drops this managed reference. Releasing the last reference to an
// owned handle frees it; releasing the same reference again is a no-op.
func (r *Ref) Release(ctx context.Context) error {
	if r.IsNil() {
		return nil
	}
	return r.s.reg.Release(ctx, r.ref)
}

// Retain returns a new counted reference to the same handle. Callback
// arguments are only lent for the duration of the callback; Retain keeps
// one past it.
func (r *Ref) Retain() (Ref, error) {
	if err := r.Check(); err != nil {
		return Ref{}, err
	}
	ref, err := r.s.reg.Wrap(r.ref.Handle(), r.ref.Type(), registry.Borrowed)
	if err != nil {
		return Ref{}, err
	}
	return Ref{ref: ref, s: r.s}, nil
}

// Wrapped returns the most derived wrapper registered for the handle's type.
func (r *Ref) Wrapped() any {
	if r.IsNil() {
		return nil
	}
	return r.ref.Value()
}

// RefOf extracts the reference carried by v: a Ref, a Wrapper or nil.
func RefOf(v any) (Ref, bool) {
	switch x := v.(type) {
	case Ref:
		return x, !x.IsNil()
	case *Ref:
		if x == nil {
			return Ref{}, false
		}
		return *x, !x.IsNil()
	case Wrapper:
		r := x.NativeRef()
		if r == nil {
			return Ref{}, false
		}
		return *r, !r.IsNil()
	}
	return Ref{}, false
}
