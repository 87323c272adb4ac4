package runtime

import (
	"github.com/wippyai/nativebind/errors"
)

// View is a pointer to a generated type embedding Ref.
type View[T any] interface {
	*T
	Wrapper
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int | ~uint
}

// RefArg passes a generated view as an argument. A nil view becomes the
// null handle.
func RefArg[T any, P View[T]](p P) any {
	if p == nil {
		return nil
	}
	return p
}

// SessionOf returns the session of the instance w refers to.
func SessionOf[T any, P View[T]](p P) (*Session, error) {
	if p == nil {
		return nil, errors.NullHandle(errors.PhaseInvoke, nil, "")
	}
	r := p.NativeRef()
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r.s, nil
}

// ViewRef returns the Ref a generated view embeds, or nil for a nil view.
func ViewRef[T any, P View[T]](p P) *Ref {
	if p == nil {
		return nil
	}
	return p.NativeRef()
}

// Lift wraps a lifted handle value in a generated view. A null value
// lifts to nil.
func Lift[T any](v any, wrap func(Ref) *T) *T {
	r, ok := RefOf(v)
	if !ok {
		return nil
	}
	return wrap(r)
}

// LiftAll wraps every reference of a lifted handle array.
func LiftAll[T any](refs []Ref, wrap func(Ref) *T) []*T {
	if refs == nil {
		return nil
	}
	out := make([]*T, len(refs))
	for i, r := range refs {
		out[i] = wrap(r)
	}
	return out
}

// Refs passes a slice of generated views as a handle array.
func Refs[T any, P View[T]](views []P) []Wrapper {
	if views == nil {
		return nil
	}
	out := make([]Wrapper, len(views))
	for i, p := range views {
		if p != nil {
			out[i] = p
		}
	}
	return out
}

// Ints converts between integer slices, such as enum values and their
// native storage.
func Ints[D, S integer](xs []S) []D {
	if xs == nil {
		return nil
	}
	out := make([]D, len(xs))
	for i, x := range xs {
		out[i] = D(x)
	}
	return out
}

// GetPtr returns a pointer to v as a T, or nil when v is nil.
func GetPtr[T any](v any) *T {
	t, ok := v.(T)
	if !ok {
		return nil
	}
	return &t
}
