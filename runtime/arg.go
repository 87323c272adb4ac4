package runtime

import (
	"context"

	"github.com/wippyai/nativebind/abi"
)

// Callback is the managed side of a trampoline. args are the lifted native
// arguments; the result is lowered with the signature's return descriptor.
// An error traps the native call that invoked the callback.
type Callback func(ctx context.Context, args []any) (any, error)

// Arg is one native argument of an Invoke.
type Arg struct {
	Value    any
	Desc     abi.Descriptor
	implicit bool
	async    bool
}

// In passes v by value.
func In(d abi.Descriptor, v any) Arg {
	return Arg{Desc: d.WithDirection(abi.In), Value: v}
}

// Out passes the address of scratch storage and returns what native code
// wrote there.
func Out(d abi.Descriptor) Arg {
	return Arg{Desc: d.WithDirection(abi.Out)}
}

// InOut is Out with the scratch storage initialized from v.
func InOut(d abi.Descriptor, v any) Arg {
	return Arg{Desc: d.WithDirection(abi.InOut), Value: v}
}

// Implicit is an argument the runtime fills: an array length, a destroy
// notifier or callback user data. d keeps its direction, so an out length
// still gets scratch storage.
func Implicit(d abi.Descriptor) Arg {
	return Arg{Desc: d, implicit: true}
}

// Async marks the completion callback of InvokeAsync.
func Async(d abi.Descriptor) Arg {
	d = d.WithDirection(abi.In)
	d.Scope = abi.ScopeAsync
	return Arg{Desc: d, async: true}
}

// Implicit reports whether the runtime computes the argument.
func (a Arg) Implicit() bool { return a.implicit }

// returned reports whether the argument's value is part of Result.Outs.
func (a Arg) returned() bool {
	return !a.implicit && a.Desc.Direction != abi.In && a.Desc.Kind != abi.KindError
}

// Result holds the outcome of a native call.
type Result struct {
	// Value is the lifted return value, nil for void.
	Value any
	// Outs are the Out and InOut values in argument order.
	Outs []any
}

// Out returns the i-th out value, or nil.
func (r *Result) Out(i int) any {
	if r == nil || i < 0 || i >= len(r.Outs) {
		return nil
	}
	return r.Outs[i]
}
