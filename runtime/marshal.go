package runtime

import (
	"context"
	"fmt"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/registry"
)

// marshaler moves values between Go and one library.
type marshaler struct {
	s   *Session
	lib *engine.Library
	// lent lifts borrowed handles as uncounted references. Callback
	// arguments are only valid while the callback runs.
	lent bool
}

// cstring copies s into native memory with a terminating NUL.
func (m marshaler) cstring(ctx context.Context, s string) (uint32, error) {
	n := uint32(len(s)) + 1
	ptr, err := m.lib.Alloc(ctx, n)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, n)
	copy(buf, s)
	if err := m.lib.Memory().Write(ptr, buf); err != nil {
		_ = m.lib.Free(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

// zeroed allocates size zero-filled bytes.
func (m marshaler) zeroed(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	ptr, err := m.lib.Alloc(ctx, size)
	if err != nil {
		return 0, err
	}
	if err := m.lib.Memory().Write(ptr, make([]byte, size)); err != nil {
		_ = m.lib.Free(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

// lift converts a raw native value to Go. Owned strings and buffers are
// freed once copied; owned handles are wrapped as Full.
func (m marshaler) lift(ctx context.Context, d abi.Descriptor, raw uint64) (any, error) {
	switch d.Kind {
	case abi.KindBool, abi.KindInt, abi.KindFloat, abi.KindEnum, abi.KindFlags, abi.KindPointer:
		return liftScalar(d, raw), nil

	case abi.KindString:
		ptr := uint32(raw)
		if ptr == 0 {
			if d.Nullable {
				return nil, nil
			}
			return "", nil
		}
		str, err := m.lib.Memory().ReadCString(ptr)
		if err != nil {
			return nil, err
		}
		if d.Transfer == abi.TransferFull {
			if err := m.lib.Free(ctx, ptr); err != nil {
				return nil, err
			}
		}
		return str, nil

	case abi.KindStruct, abi.KindBoxed, abi.KindObject, abi.KindInterface:
		h := Handle(uint32(raw))
		if h.IsNull() {
			if d.Nullable {
				return nil, nil
			}
			return nil, errors.NullHandle(errors.PhaseUnmarshal, nil, d.Type)
		}
		t, err := m.mostDerived(ctx, d, h)
		if err != nil {
			return nil, err
		}
		own := registry.Borrowed
		if d.Transfer == abi.TransferFull {
			own = registry.Full
		}
		var ref *registry.Reference
		if m.lent && own == registry.Borrowed {
			ref, err = m.s.reg.Borrow(h, t)
		} else {
			ref, err = m.s.reg.Wrap(h, t, own)
		}
		if err != nil {
			return nil, err
		}
		return Ref{ref: ref, s: m.s}, nil

	case abi.KindVoid:
		return nil, nil
	}
	return nil, errors.Unsupported(errors.PhaseUnmarshal, fmt.Sprintf("%s value", d.Kind))
}

// mostDerived picks the registered type of h: the library's type-of
// symbol when it has one, otherwise the descriptor's type.
func (m marshaler) mostDerived(ctx context.Context, d abi.Descriptor, h Handle) (*registry.Type, error) {
	base := m.s.typeFor(m.lib, d)
	if d.Kind != abi.KindObject && d.Kind != abi.KindInterface {
		return base, nil
	}
	typeOf := m.lib.Config().TypeOfSymbol
	if typeOf == "" {
		return base, nil
	}
	res, err := m.lib.Call(ctx, typeOf, uint64(h))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return base, nil
	}
	name, err := m.s.typeName(ctx, m.lib, uint32(res[0]))
	if err != nil {
		return nil, err
	}
	if name == "" || name == base.Name {
		return base, nil
	}
	if !m.s.reg.Types.IsA(name, base.Name) {
		return nil, errors.TypeMismatch(errors.PhaseUnmarshal, nil, name, base.Name)
	}
	t, _ := m.s.reg.Types.Lookup(name)
	return t, nil
}

// handle resolves a Go value to the handle it carries.
func (m marshaler) handle(d abi.Descriptor, v any) (Handle, *registry.Reference, error) {
	if h, ok := v.(Handle); ok {
		return h, nil, nil
	}
	if v != nil {
		if _, isRef := v.(Ref); !isRef {
			if _, isWrapper := v.(Wrapper); !isWrapper {
				return 0, nil, mismatch(d, v)
			}
		}
	}
	r, ok := RefOf(v)
	if !ok {
		return 0, nil, nil
	}
	if err := r.Check(); err != nil {
		return 0, nil, err
	}
	if r.s != m.s {
		return 0, nil, errors.InvalidInput(errors.PhaseMarshal, "handle belongs to another session")
	}
	return r.ref.Handle(), r.ref, nil
}

// checkType aborts the call when h is not an instance of d's type.
func (m marshaler) checkType(ctx context.Context, d abi.Descriptor, h Handle, obj *registry.Reference) error {
	if d.Kind != abi.KindObject && d.Kind != abi.KindInterface {
		return nil
	}
	if check := m.lib.Config().TypeCheckSymbol; check != "" && d.TypeFunc != "" {
		id, err := m.s.typeID(ctx, m.lib, d.TypeFunc)
		if err != nil {
			return err
		}
		res, err := m.lib.Call(ctx, check, uint64(h), uint64(id))
		if err != nil {
			return err
		}
		if len(res) == 0 || uint32(res[0]) == 0 {
			actual := "unknown"
			if obj != nil {
				actual = obj.Type().Name
			}
			return errors.TypeMismatch(errors.PhaseMarshal, nil, actual, d.Type)
		}
		return nil
	}
	if obj == nil || d.Type == "" {
		return nil
	}
	if _, known := m.s.reg.Types.Lookup(d.Type); !known {
		return nil
	}
	if !m.s.reg.Types.IsA(obj.Type().Name, d.Type) {
		return errors.TypeMismatch(errors.PhaseMarshal, nil, obj.Type().Name, d.Type)
	}
	return nil
}

// liftArray reads n elements at ptr. n < 0 scans for a zero element.
func (m marshaler) liftArray(ctx context.Context, d abi.Descriptor, ptr uint32, n int) (any, error) {
	elem := *d.Elem
	es := elem.ElemSize()
	mem := m.lib.Memory()

	if n < 0 {
		n = 0
		for {
			raw, err := loadRaw(mem, ptr+uint32(n)*es, elem)
			if err != nil {
				return nil, err
			}
			if raw == 0 {
				break
			}
			n++
		}
	}

	vals := make([]any, n)
	for i := range vals {
		raw, err := loadRaw(mem, ptr+uint32(i)*es, elem)
		if err != nil {
			return nil, err
		}
		if elem.IsHandle() && raw == 0 {
			continue
		}
		if vals[i], err = m.lift(ctx, elem, raw); err != nil {
			return nil, errors.New(errors.PhaseUnmarshal, kindOf(err)).
				Path(fmt.Sprintf("[%d]", i)).
				Cause(err).
				Build()
		}
	}
	return slice(elem, vals), nil
}
