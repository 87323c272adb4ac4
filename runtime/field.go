package runtime

import (
	"context"
	"fmt"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/registry"
)

// Allocate allocates size zeroed bytes in library and returns an owning
// reference tagged typeTag. The memory is freed when the last reference
// is released.
func (s *Session) Allocate(ctx context.Context, size uint32, typeTag, library string) (Ref, error) {
	if err := s.ready(ctx); err != nil {
		return Ref{}, err
	}
	lib, err := s.Library(library)
	if err != nil {
		return Ref{}, err
	}
	m := marshaler{s: s, lib: lib}
	ptr, err := m.zeroed(ctx, size)
	if err != nil {
		return Ref{}, err
	}
	t, ok := s.reg.Types.Lookup(typeTag)
	if !ok {
		t = s.reg.Types.Register(registry.Type{Name: typeTag, Library: library})
	}
	obj, err := s.reg.Wrap(Handle(ptr), t, registry.Full)
	if err != nil {
		_ = lib.Free(ctx, ptr)
		return Ref{}, err
	}
	return Ref{ref: obj, s: s}, nil
}

// ReadField reads the field described by d at offset bytes past h. The
// offset comes from the native layout; no layout is inferred here.
func (s *Session) ReadField(ctx context.Context, library string, h Handle, d abi.Descriptor, offset uint32) (any, error) {
	lib, err := s.Library(library)
	if err != nil {
		return nil, err
	}
	if h.IsNull() {
		return nil, errors.NullHandle(errors.PhaseUnmarshal, nil, d.String())
	}
	if !isScalar(d.Kind) && d.Kind != abi.KindString {
		return nil, errors.Unsupported(errors.PhaseUnmarshal, fmt.Sprintf("%s field", d.Kind))
	}
	raw, err := loadRaw(lib.Memory(), uint32(h)+offset, d)
	if err != nil {
		return nil, err
	}
	if d.Kind == abi.KindString {
		d.Transfer = abi.TransferNone
	}
	return marshaler{s: s, lib: lib}.lift(ctx, d, raw)
}

// WriteField writes v into the field described by d at offset bytes past h.
func (s *Session) WriteField(ctx context.Context, library string, h Handle, d abi.Descriptor, offset uint32, v any) error {
	lib, err := s.Library(library)
	if err != nil {
		return err
	}
	if h.IsNull() {
		return errors.NullHandle(errors.PhaseMarshal, nil, d.String())
	}
	if !isScalar(d.Kind) {
		return errors.Unsupported(errors.PhaseMarshal, fmt.Sprintf("%s field", d.Kind))
	}
	raw, err := lowerScalar(d, v)
	if err != nil {
		return err
	}
	return storeRaw(lib.Memory(), uint32(h)+offset, d, raw)
}

// ReadField reads a field of the instance r refers to as a T.
func ReadField[T any](ctx context.Context, r *Ref, d abi.Descriptor, offset uint32) (T, error) {
	var zero T
	if err := r.Check(); err != nil {
		return zero, err
	}
	v, err := r.s.ReadField(ctx, r.ref.Type().Library, r.Handle(), d, offset)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok && v != nil {
		return zero, errors.TypeMismatch(errors.PhaseUnmarshal, nil, fmt.Sprintf("%T", zero), d.String())
	}
	return t, nil
}

// WriteField writes v into a field of the instance r refers to.
func WriteField(ctx context.Context, r *Ref, d abi.Descriptor, offset uint32, v any) error {
	if err := r.Check(); err != nil {
		return err
	}
	return r.s.WriteField(ctx, r.ref.Type().Library, r.Handle(), d, offset, v)
}
