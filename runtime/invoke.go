package runtime

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/registry"
)

// call is the state of one Invoke.
type call struct {
	marshaler
	symbol  string
	args    []Arg
	flat    []uint64
	slots   []uint32
	fill    map[int]uint64
	temps   []uint32
	tramps  []uint32
	created []uint32
	pinned  []uint32
	// owned holds buffers lowered with full transfer. Native code frees
	// them once the call runs.
	owned   []uint32
	consume []*registry.Reference
}

// Invoke calls symbol in library. args hold one entry per native
// parameter in order; ret describes the return value.
func (s *Session) Invoke(ctx context.Context, library, symbol string, args []Arg, ret abi.Descriptor) (*Result, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	lib, err := s.Library(library)
	if err != nil {
		return nil, err
	}

	c := &call{
		marshaler: marshaler{s: s, lib: lib},
		symbol:    symbol,
		args:      args,
		flat:      make([]uint64, len(args)),
		slots:     make([]uint32, len(args)),
		fill:      make(map[int]uint64),
	}
	defer c.cleanup(ctx)

	if err := c.lower(ctx); err != nil {
		c.abandon()
		c.reclaim()
		return nil, err
	}

	results, err := lib.Call(ctx, symbol, c.flat...)
	if err != nil {
		c.abandon()
		if k, ok := errors.KindOf(err); ok && k == errors.KindStaleTrampoline {
			var stale *errors.Error
			if errors.As(err, &stale) {
				s.poisonWith(stale)
			}
		}
		return nil, err
	}
	c.relinquish(ctx)

	if err := c.nativeError(ctx); err != nil {
		return nil, err
	}

	res := &Result{}
	if ret.Kind != abi.KindVoid {
		if len(results) == 0 {
			return nil, errors.New(errors.PhaseUnmarshal, errors.KindTypeMismatch).
				Path(symbol, "return").
				Detail("native function returned no value").
				Build()
		}
		if res.Value, err = c.liftReturn(ctx, ret, results[0]); err != nil {
			return nil, c.wrap(errors.PhaseUnmarshal, "return", err)
		}
	}
	for i, a := range args {
		if !a.returned() {
			continue
		}
		v, err := c.liftOut(ctx, i)
		if err != nil {
			return nil, c.wrap(errors.PhaseUnmarshal, argName(i), err)
		}
		res.Outs = append(res.Outs, v)
	}

	Logger().Debug("invoke",
		zap.String("library", library),
		zap.String("symbol", symbol),
		zap.Int("args", len(args)))
	return res, nil
}

func argName(i int) string {
	return "arg" + strconv.Itoa(i)
}

func (c *call) wrap(phase errors.Phase, where string, err error) error {
	return errors.New(phase, kindOf(err)).
		Path(c.lib.Name()+"#"+c.symbol, where).
		Cause(err).
		Build()
}

// lower computes implicit values, then lowers every argument.
func (c *call) lower(ctx context.Context) error {
	for _, a := range c.args {
		d := a.Desc
		if d.Kind != abi.KindArray || d.Direction != abi.In || d.LengthIn == abi.NoIndex {
			continue
		}
		elems, _ := elements(a.Value)
		c.fill[d.LengthIn] = uint64(len(elems))
	}

	for i, a := range c.args {
		if err := c.lowerArg(ctx, i, a); err != nil {
			return c.wrap(errors.PhaseMarshal, argName(i), err)
		}
	}
	return nil
}

func (c *call) lowerArg(ctx context.Context, i int, a Arg) error {
	d := a.Desc
	if d.Direction == abi.In {
		if a.implicit {
			c.flat[i] = flat(d, c.fill[i])
			return nil
		}
		raw, err := c.lowerValue(ctx, d, a.Value)
		if err != nil {
			return err
		}
		c.flat[i] = flat(d, raw)
		return nil
	}

	switch {
	case d.Kind == abi.KindArray && d.CallerAllocates:
		n, err := c.capacity(d)
		if err != nil {
			return err
		}
		ptr, err := c.zeroed(ctx, uint32(n)*d.Elem.ElemSize())
		if err != nil {
			return err
		}
		c.temps = append(c.temps, ptr)
		c.slots[i], c.flat[i] = ptr, uint64(ptr)
		return nil

	case (d.Kind == abi.KindStruct || d.Kind == abi.KindBoxed) && d.CallerAllocates:
		ptr, err := c.zeroed(ctx, d.StructSize)
		if err != nil {
			return err
		}
		c.pinned = append(c.pinned, ptr)
		c.slots[i], c.flat[i] = ptr, uint64(ptr)
		return nil
	}

	ptr, err := c.zeroed(ctx, 8)
	if err != nil {
		return err
	}
	c.temps = append(c.temps, ptr)
	c.slots[i], c.flat[i] = ptr, uint64(ptr)

	if d.Direction == abi.InOut {
		v := a.Value
		if a.implicit {
			v = c.fill[i]
		}
		inner := d.WithDirection(abi.In)
		raw, err := c.lowerValue(ctx, inner, v)
		if err != nil {
			return err
		}
		return storeRaw(c.lib.Memory(), ptr, inner, raw)
	}
	return nil
}

// capacity returns the element capacity of a caller-allocated array.
func (c *call) capacity(d abi.Descriptor) (int, error) {
	if d.LengthIn != abi.NoIndex {
		if d.LengthIn >= len(c.args) {
			return 0, errors.OutOfBounds(errors.PhaseMarshal, []string{c.symbol}, d.LengthIn, len(c.args))
		}
		i, u, signed, ok := intValue(c.args[d.LengthIn].Value)
		if !ok {
			return 0, errors.InvalidInput(errors.PhaseMarshal, "caller-allocated array needs an integer capacity")
		}
		if signed {
			if i < 0 {
				return 0, errors.InvalidInput(errors.PhaseMarshal, "negative capacity")
			}
			return int(i), nil
		}
		return int(u), nil
	}
	if d.Length == abi.LengthFixed {
		return int(d.FixedLen), nil
	}
	return 0, errors.InvalidInput(errors.PhaseMarshal, "caller-allocated array without a capacity")
}

// lowerValue converts one Go value to its raw native form, allocating
// native storage for strings and arrays as needed.
func (c *call) lowerValue(ctx context.Context, d abi.Descriptor, v any) (uint64, error) {
	switch d.Kind {
	case abi.KindBool, abi.KindInt, abi.KindFloat, abi.KindEnum, abi.KindFlags, abi.KindPointer:
		return lowerScalar(d, v)

	case abi.KindString:
		var str string
		switch x := v.(type) {
		case nil:
			if !d.Nullable {
				return 0, errors.NullHandle(errors.PhaseMarshal, nil, "string")
			}
			return 0, nil
		case string:
			str = x
		case *string:
			if x == nil {
				if !d.Nullable {
					return 0, errors.NullHandle(errors.PhaseMarshal, nil, "string")
				}
				return 0, nil
			}
			str = *x
		default:
			return 0, mismatch(d, v)
		}
		ptr, err := c.cstring(ctx, str)
		if err != nil {
			return 0, err
		}
		if d.Transfer == abi.TransferFull {
			c.owned = append(c.owned, ptr)
		} else {
			c.temps = append(c.temps, ptr)
		}
		return uint64(ptr), nil

	case abi.KindStruct, abi.KindBoxed, abi.KindObject, abi.KindInterface:
		h, obj, err := c.handle(d, v)
		if err != nil {
			return 0, err
		}
		if h.IsNull() {
			if !d.Nullable {
				return 0, errors.NullHandle(errors.PhaseMarshal, nil, d.Type)
			}
			return 0, nil
		}
		if err := c.checkType(ctx, d, h, obj); err != nil {
			return 0, err
		}
		if obj != nil && d.Transfer == abi.TransferFull && d.Direction == abi.In {
			c.consume = append(c.consume, obj)
		}
		return uint64(h), nil

	case abi.KindCallback:
		return c.lowerCallback(d, v)

	case abi.KindArray:
		return c.lowerArray(ctx, d, v)
	}
	return 0, errors.Unsupported(errors.PhaseMarshal, fmt.Sprintf("%s argument", d.Kind))
}

func (c *call) lowerCallback(d abi.Descriptor, v any) (uint64, error) {
	var fn Callback
	switch x := v.(type) {
	case nil:
	case Callback:
		fn = x
	case func(context.Context, []any) (any, error):
		fn = x
	case Trampoline:
		return uint64(x.id), nil
	default:
		return 0, mismatch(d, v)
	}
	if fn == nil {
		if !d.Nullable {
			return 0, errors.NullHandle(errors.PhaseMarshal, nil, "callback")
		}
		return 0, nil
	}
	if d.Callback == nil {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "callback descriptor without a signature")
	}

	id := c.s.tramps.add(d.Callback, d.Scope, fn)
	c.created = append(c.created, id)
	switch d.Scope {
	case abi.ScopeCall:
		c.tramps = append(c.tramps, id)
	case abi.ScopeNotified:
		if d.Destroy == abi.NoIndex || d.Destroy >= len(c.args) {
			c.s.tramps.release(id)
			return 0, errors.InvalidInput(errors.PhaseMarshal, "notified callback without a destroy notifier slot")
		}
		tramps := c.s.tramps
		destroy := tramps.add(destroySignature, abi.ScopeAsync, func(context.Context, []any) (any, error) {
			tramps.release(id)
			return nil, nil
		})
		c.created = append(c.created, destroy)
		c.fill[d.Destroy] = uint64(destroy)
		if d.Destroy < len(c.flat) && c.args[d.Destroy].implicit {
			c.flat[d.Destroy] = uint64(destroy)
		}
	}
	return uint64(id), nil
}

func (c *call) lowerArray(ctx context.Context, d abi.Descriptor, v any) (uint64, error) {
	if d.Elem == nil {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "array descriptor without element")
	}
	elems, ok := elements(v)
	if !ok && v != nil {
		return 0, mismatch(d, v)
	}
	if v == nil && d.Nullable {
		return 0, nil
	}

	n := len(elems)
	total := n
	switch d.Length {
	case abi.LengthZeroTerminated:
		total = n + 1
	case abi.LengthFixed:
		if n > int(d.FixedLen) {
			return 0, errors.OutOfBounds(errors.PhaseMarshal, nil, n, int(d.FixedLen))
		}
		total = int(d.FixedLen)
	}
	if total == 0 {
		return 0, nil
	}

	elem := *d.Elem
	elem.Direction = abi.In
	if d.Transfer == abi.TransferContainer && elem.Kind == abi.KindString {
		elem.Transfer = abi.TransferFull
	}
	es := elem.ElemSize()
	ptr, err := c.zeroed(ctx, uint32(total)*es)
	if err != nil {
		return 0, err
	}
	if d.Transfer == abi.TransferNone {
		c.temps = append(c.temps, ptr)
	} else {
		c.owned = append(c.owned, ptr)
	}

	mem := c.lib.Memory()
	for i, e := range elems {
		if e == nil && elem.IsHandle() {
			continue
		}
		raw, err := c.lowerValue(ctx, elem, e)
		if err != nil {
			return 0, errors.New(errors.PhaseMarshal, kindOf(err)).
				Path(fmt.Sprintf("[%d]", i)).
				Cause(err).
				Build()
		}
		if err := storeRaw(mem, ptr+uint32(i)*es, elem, raw); err != nil {
			return 0, err
		}
	}
	return uint64(ptr), nil
}

// count returns the element count of an out array or array return.
// -1 means zero terminated.
func (c *call) count(d abi.Descriptor) (int, error) {
	if d.LengthOut != abi.NoIndex {
		if d.LengthOut >= len(c.args) || c.slots[d.LengthOut] == 0 {
			return 0, errors.OutOfBounds(errors.PhaseUnmarshal, []string{c.symbol}, d.LengthOut, len(c.args))
		}
		ld := c.args[d.LengthOut].Desc.WithDirection(abi.In)
		raw, err := loadRaw(c.lib.Memory(), c.slots[d.LengthOut], ld)
		if err != nil {
			return 0, err
		}
		i, u, signed, _ := intValue(liftScalar(ld, raw))
		if signed {
			if i < 0 {
				return 0, errors.InvalidData(errors.PhaseUnmarshal, []string{c.symbol}, "negative element count")
			}
			return int(i), nil
		}
		return int(u), nil
	}
	switch d.Length {
	case abi.LengthFixed:
		return int(d.FixedLen), nil
	case abi.LengthZeroTerminated:
		return -1, nil
	case abi.LengthParam:
		if d.LengthIn != abi.NoIndex && d.LengthIn < len(c.args) {
			i, u, signed, ok := intValue(c.args[d.LengthIn].Value)
			if ok && signed && i >= 0 {
				return int(i), nil
			}
			if ok && !signed {
				return int(u), nil
			}
		}
	}
	return 0, errors.New(errors.PhaseUnmarshal, errors.KindAmbiguous).
		Path(c.symbol).
		Detail("no element count for %s", d).
		Build()
}

func (c *call) liftReturn(ctx context.Context, d abi.Descriptor, raw uint64) (any, error) {
	if d.Kind != abi.KindArray {
		return c.lift(ctx, d, raw)
	}
	ptr := uint32(raw)
	if ptr == 0 {
		if d.Nullable {
			return nil, nil
		}
		return slice(*d.Elem, nil), nil
	}
	n, err := c.count(d)
	if err != nil {
		return nil, err
	}
	return c.liftOwnedArray(ctx, d, ptr, n)
}

// liftOwnedArray lifts an array native code allocated and frees the
// container when it was transferred.
func (c *call) liftOwnedArray(ctx context.Context, d abi.Descriptor, ptr uint32, n int) (any, error) {
	v, err := c.liftArray(ctx, d, ptr, n)
	if err != nil {
		return nil, err
	}
	if d.Transfer != abi.TransferNone {
		if err := c.lib.Free(ctx, ptr); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (c *call) liftOut(ctx context.Context, i int) (any, error) {
	d := c.args[i].Desc.WithDirection(abi.In)
	slot := c.slots[i]
	mem := c.lib.Memory()

	switch {
	case d.Kind == abi.KindArray && d.CallerAllocates:
		capacity, err := c.capacity(d)
		if err != nil {
			return nil, err
		}
		n := capacity
		if d.LengthOut != abi.NoIndex {
			if n, err = c.count(d); err != nil {
				return nil, err
			}
			n = min(n, capacity)
		}
		return c.liftArray(ctx, d, slot, n)

	case (d.Kind == abi.KindStruct || d.Kind == abi.KindBoxed) && d.CallerAllocates:
		t := c.s.typeFor(c.lib, d)
		obj, err := c.s.reg.Wrap(Handle(slot), t, registry.Full)
		if err != nil {
			return nil, err
		}
		c.unpin(slot)
		return Ref{ref: obj, s: c.s}, nil

	case d.Kind == abi.KindArray:
		ptr, err := mem.ReadU32(slot)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			if d.Nullable {
				return nil, nil
			}
			return slice(*d.Elem, nil), nil
		}
		n, err := c.count(d)
		if err != nil {
			return nil, err
		}
		return c.liftOwnedArray(ctx, d, ptr, n)
	}

	raw, err := loadRaw(mem, slot, d)
	if err != nil {
		return nil, err
	}
	return c.lift(ctx, d, raw)
}

func (c *call) unpin(ptr uint32) {
	for i, p := range c.pinned {
		if p == ptr {
			c.pinned = append(c.pinned[:i], c.pinned[i+1:]...)
			return
		}
	}
}

// relinquish consumes handles passed with full transfer.
func (c *call) relinquish(ctx context.Context) {
	for _, obj := range c.consume {
		if err := c.s.reg.Consume(ctx, obj); err != nil {
			Logger().Warn("consume failed",
				zap.String("symbol", c.symbol),
				zap.Uint32("handle", uint32(obj.Handle())),
				zap.Error(err))
		}
	}
	c.consume = nil
}

// abandon drops state that only a completed call may keep: trampolines of
// any scope created for it and caller-allocated buffers.
func (c *call) abandon() {
	for _, id := range c.created {
		c.s.tramps.release(id)
	}
	c.created = nil
	c.consume = nil
	c.temps = append(c.temps, c.pinned...)
	c.pinned = nil
}

// reclaim frees buffers lowered with full transfer. Only valid when the
// native function never ran.
func (c *call) reclaim() {
	c.temps = append(c.temps, c.owned...)
	c.owned = nil
}

// cleanup frees temporary native storage and call-scoped trampolines.
func (c *call) cleanup(ctx context.Context) {
	for _, id := range c.tramps {
		c.s.tramps.release(id)
	}
	for i := len(c.temps) - 1; i >= 0; i-- {
		if err := c.lib.Free(ctx, c.temps[i]); err != nil {
			Logger().Warn("free temporary",
				zap.String("symbol", c.symbol),
				zap.Uint32("ptr", c.temps[i]),
				zap.Error(err))
		}
	}
	for _, ptr := range c.pinned {
		_ = c.lib.Free(ctx, ptr)
	}
}
