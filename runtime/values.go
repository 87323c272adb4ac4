package runtime

import (
	"fmt"
	"math"

	"github.com/wippyai/nativebind"
	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/errors"
)

// Handle is a native handle value.
type Handle = nativebind.Handle

// Get returns v as a T, or the zero T when v is nil or of another type.
func Get[T any](v any) T {
	t, _ := v.(T)
	return t
}

func isScalar(k abi.Kind) bool {
	switch k {
	case abi.KindBool, abi.KindInt, abi.KindFloat, abi.KindEnum, abi.KindFlags, abi.KindPointer:
		return true
	}
	return false
}

// intValue splits a Go integer into its signed or unsigned magnitude.
func intValue(v any) (i int64, u uint64, signed, ok bool) {
	switch x := v.(type) {
	case int:
		return int64(x), 0, true, true
	case int8:
		return int64(x), 0, true, true
	case int16:
		return int64(x), 0, true, true
	case int32:
		return int64(x), 0, true, true
	case int64:
		return x, 0, true, true
	case uint:
		return 0, uint64(x), false, true
	case uint8:
		return 0, uint64(x), false, true
	case uint16:
		return 0, uint64(x), false, true
	case uint32:
		return 0, uint64(x), false, true
	case uint64:
		return 0, x, false, true
	case uintptr:
		return 0, uint64(x), false, true
	case nativebind.Handle:
		return 0, uint64(x), false, true
	}
	return 0, 0, false, false
}

// lowerInt range checks v against d and returns its two's complement bits.
func lowerInt(d abi.Descriptor, v any) (uint64, error) {
	i, u, signed, ok := intValue(v)
	if !ok {
		return 0, mismatch(d, v)
	}
	bits := d.Size * 8
	if d.Signed {
		n := i
		if !signed {
			if u > math.MaxInt64 {
				return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.String())
			}
			n = int64(u)
		}
		if bits < 64 {
			lo, hi := -int64(1)<<(bits-1), int64(1)<<(bits-1)-1
			if n < lo || n > hi {
				return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.String())
			}
		}
		return uint64(n), nil
	}

	n := u
	if signed {
		if i < 0 {
			return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.String())
		}
		n = uint64(i)
	}
	if bits < 64 && n > uint64(1)<<bits-1 {
		return 0, errors.Overflow(errors.PhaseMarshal, nil, v, d.String())
	}
	return n, nil
}

func liftInt(d abi.Descriptor, raw uint64) any {
	switch {
	case d.Size == 1 && d.Signed:
		return int8(raw)
	case d.Size == 1:
		return uint8(raw)
	case d.Size == 2 && d.Signed:
		return int16(raw)
	case d.Size == 2:
		return uint16(raw)
	case d.Size == 8 && d.Signed:
		return int64(raw)
	case d.Size == 8:
		return raw
	case d.Signed:
		return int32(raw)
	}
	return uint32(raw)
}

// lowerScalar converts a scalar Go value to its raw bits.
func lowerScalar(d abi.Descriptor, v any) (uint64, error) {
	switch d.Kind {
	case abi.KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, mismatch(d, v)
		}
		if b {
			return 1, nil
		}
		return 0, nil

	case abi.KindInt, abi.KindEnum, abi.KindFlags:
		return lowerInt(d, v)

	case abi.KindFloat:
		var f float64
		switch x := v.(type) {
		case float32:
			f = float64(x)
		case float64:
			f = x
		default:
			return 0, mismatch(d, v)
		}
		if d.Size == 4 {
			return uint64(math.Float32bits(float32(f))), nil
		}
		return math.Float64bits(f), nil

	case abi.KindPointer:
		if v == nil {
			return 0, nil
		}
		return lowerInt(abi.U32(), v)
	}
	return 0, errors.Unsupported(errors.PhaseMarshal, fmt.Sprintf("%s is not a scalar", d.Kind))
}

// liftScalar converts raw bits to the Go value of d.
func liftScalar(d abi.Descriptor, raw uint64) any {
	switch d.Kind {
	case abi.KindBool:
		return uint32(raw) != 0
	case abi.KindFloat:
		if d.Size == 4 {
			return math.Float32frombits(uint32(raw))
		}
		return math.Float64frombits(raw)
	case abi.KindPointer:
		return Handle(uint32(raw))
	}
	return liftInt(d, raw)
}

// flat narrows raw bits to the wasm value passed for d.
func flat(d abi.Descriptor, raw uint64) uint64 {
	if d.Wide() {
		return raw
	}
	return uint64(uint32(raw))
}

// loadRaw reads the inline representation of d at off.
func loadRaw(mem *engine.Memory, off uint32, d abi.Descriptor) (uint64, error) {
	switch d.ElemSize() {
	case 1:
		v, err := mem.ReadU8(off)
		return uint64(v), err
	case 2:
		v, err := mem.ReadU16(off)
		return uint64(v), err
	case 8:
		return mem.ReadU64(off)
	}
	v, err := mem.ReadU32(off)
	return uint64(v), err
}

// storeRaw writes the inline representation of d at off.
func storeRaw(mem *engine.Memory, off uint32, d abi.Descriptor, raw uint64) error {
	switch d.ElemSize() {
	case 1:
		return mem.WriteU8(off, uint8(raw))
	case 2:
		return mem.WriteU16(off, uint16(raw))
	case 8:
		return mem.WriteU64(off, raw)
	}
	return mem.WriteU32(off, uint32(raw))
}

func mismatch(d abi.Descriptor, v any) error {
	return errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
		GoType(fmt.Sprintf("%T", v)).
		NativeType(d.String()).
		Build()
}

// elements flattens a slice argument. ok is false for non-slices.
func elements(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []bool:
		return anys(x), true
	case []int:
		return anys(x), true
	case []int8:
		return anys(x), true
	case []int16:
		return anys(x), true
	case []int32:
		return anys(x), true
	case []int64:
		return anys(x), true
	case []uint:
		return anys(x), true
	case []uint8:
		return anys(x), true
	case []uint16:
		return anys(x), true
	case []uint32:
		return anys(x), true
	case []uint64:
		return anys(x), true
	case []float32:
		return anys(x), true
	case []float64:
		return anys(x), true
	case []string:
		return anys(x), true
	case []Handle:
		return anys(x), true
	case []Ref:
		return anys(x), true
	case []Wrapper:
		return anys(x), true
	}
	return nil, false
}

func anys[T any](s []T) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func typed[T any](vals []any) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i], _ = v.(T)
	}
	return out
}

// slice builds the typed slice for lifted array elements of d.
func slice(d abi.Descriptor, vals []any) any {
	switch d.Kind {
	case abi.KindBool:
		return typed[bool](vals)
	case abi.KindFloat:
		if d.Size == 4 {
			return typed[float32](vals)
		}
		return typed[float64](vals)
	case abi.KindString:
		return typed[string](vals)
	case abi.KindPointer:
		return typed[Handle](vals)
	case abi.KindStruct, abi.KindBoxed, abi.KindObject, abi.KindInterface:
		return typed[Ref](vals)
	case abi.KindInt, abi.KindEnum, abi.KindFlags:
		switch {
		case d.Size == 1 && d.Signed:
			return typed[int8](vals)
		case d.Size == 1:
			return typed[uint8](vals)
		case d.Size == 2 && d.Signed:
			return typed[int16](vals)
		case d.Size == 2:
			return typed[uint16](vals)
		case d.Size == 8 && d.Signed:
			return typed[int64](vals)
		case d.Size == 8:
			return typed[uint64](vals)
		case d.Signed:
			return typed[int32](vals)
		}
		return typed[uint32](vals)
	}
	return vals
}
