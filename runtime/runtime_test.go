package runtime_test

import (
	"context"
	"math"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/engine"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/nativelib"
	"github.com/wippyai/nativebind/runtime"
)

const lib = "geom"

// geom is a shim library with a small shape hierarchy and the calling
// conventions the runtime marshals.
type geom struct {
	s       *runtime.Session
	shim    *nativelib.Library
	objs    *nativelib.Objects
	circle  uint32
	polygon uint32
	unit    uint32
	stored  uint32
	pending uint64
}

func newGeom(t *testing.T) *geom {
	t.Helper()
	ctx := context.Background()
	g := &geom{objs: nativelib.NewObjects()}

	shape := g.objs.Register(nativelib.ObjectType{Name: "Shape", TypeFunc: "geom_shape_get_type"})
	g.circle = g.objs.Register(nativelib.ObjectType{Name: "Circle", Parent: shape, TypeFunc: "geom_circle_get_type"})
	g.polygon = g.objs.Register(nativelib.ObjectType{Name: "Polygon", Parent: shape, TypeFunc: "geom_polygon_get_type"})

	I32, I64, F64 := nativelib.I32, nativelib.I64, nativelib.F64
	sig := nativelib.Sig

	g.shim = nativelib.New(lib).
		Objects(g.objs).
		Func("geom_circle_new", sig(F64).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			h := c.NewObject(g.circle, 16)
			c.Module.Memory().WriteUint64Le(h+8, stack[0])
			stack[0] = api.EncodeU32(h)
		}).
		Func("geom_polygon_new", sig().Returns(I32), func(c *nativelib.Call, stack []uint64) {
			stack[0] = api.EncodeU32(c.NewObject(g.polygon, 16))
		}).
		Func("geom_circle_radius", sig(I32).Returns(F64), func(c *nativelib.Call, stack []uint64) {
			v, _ := c.Module.Memory().ReadUint64Le(api.DecodeU32(stack[0]) + 8)
			stack[0] = v
		}).
		Func("geom_shape_self", sig(I32).Returns(I32), func(_ *nativelib.Call, _ []uint64) {}).
		Func("geom_sink", sig(I32), func(c *nativelib.Call, stack []uint64) {
			c.Unref(api.DecodeU32(stack[0]))
		}).
		Func("geom_find", sig(I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			name := c.CString(api.DecodeU32(stack[0]))
			stack[0] = 0
			if name == "unit" {
				if g.unit == 0 {
					g.unit = c.NewObject(g.circle, 16)
				}
				stack[0] = api.EncodeU32(g.unit)
			}
		}).
		Func("geom_matrix_identity", sig(I32), func(c *nativelib.Call, stack []uint64) {
			m := api.DecodeU32(stack[0])
			for i, v := range []float64{1, 0, 0, 1, 0, 0} {
				c.Module.Memory().WriteFloat64Le(m+uint32(8*i), v)
			}
		}).
		Func("geom_matrix_sum", sig(I32).Returns(F64), func(c *nativelib.Call, stack []uint64) {
			m := api.DecodeU32(stack[0])
			sum := 0.0
			for i := uint32(0); i < 6; i++ {
				v, _ := c.Module.Memory().ReadFloat64Le(m + 8*i)
				sum += v
			}
			stack[0] = api.EncodeF64(sum)
		}).
		Func("geom_fill", sig(I32, I32, I32), func(c *nativelib.Call, stack []uint64) {
			buf, capacity, count := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
			mem := c.Module.Memory()
			for i := uint32(0); i < 3 && i < capacity; i++ {
				mem.WriteUint32Le(buf+4*i, 10*(i+1))
			}
			mem.WriteUint32Le(count, 3)
		}).
		Func("geom_names", sig(I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			count := api.DecodeU32(stack[0])
			arr := c.Malloc(8)
			mem := c.Module.Memory()
			mem.WriteUint32Le(arr, c.NewCString("alpha"))
			mem.WriteUint32Le(arr+4, c.NewCString("beta"))
			mem.WriteUint32Le(count, 2)
			stack[0] = api.EncodeU32(arr)
		}).
		Func("geom_sum", sig(I32, I32).Returns(I64), func(c *nativelib.Call, stack []uint64) {
			arr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
			var sum int64
			for i := uint32(0); i < n; i++ {
				v, _ := c.Module.Memory().ReadUint32Le(arr + 4*i)
				sum += int64(int32(v))
			}
			stack[0] = uint64(sum)
		}).
		Func("geom_greet", sig(I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			stack[0] = api.EncodeU32(c.NewCString("hello, " + c.CString(api.DecodeU32(stack[0]))))
		}).
		Func("geom_apply", sig(I32, I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			stack[0] = c.MustInvoke(api.DecodeU32(stack[0]), []uint64{stack[1]}, true)
		}).
		Func("geom_store", sig(I32), func(_ *nativelib.Call, stack []uint64) {
			g.stored = api.DecodeU32(stack[0])
		}).
		Func("geom_fire", sig(I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			stack[0] = c.MustInvoke(g.stored, []uint64{stack[0]}, true)
		}).
		Func("geom_start", sig(I32, I32), func(_ *nativelib.Call, stack []uint64) {
			g.stored, g.pending = api.DecodeU32(stack[0]), stack[1]
		}).
		Func("geom_complete", sig(), func(c *nativelib.Call, _ []uint64) {
			c.MustInvoke(g.stored, []uint64{g.pending}, false)
		}).
		Func("geom_parse", sig(I32, I32).Returns(I32), func(c *nativelib.Call, stack []uint64) {
			text, errOut := c.CString(api.DecodeU32(stack[0])), api.DecodeU32(stack[1])
			if text != "" {
				stack[0] = uint64(len(text))
				return
			}
			rec := c.Malloc(12)
			mem := c.Module.Memory()
			mem.WriteUint32Le(rec, 7)
			mem.WriteUint32Le(rec+4, 3)
			mem.WriteUint32Le(rec+8, c.NewCString("empty input"))
			mem.WriteUint32Le(errOut, rec)
			stack[0] = 0
		}).
		Func("geom_touch", sig(I32), func(c *nativelib.Call, stack []uint64) {
			c.Emit(api.DecodeU32(stack[0]), "changed", 42)
		}).
		Build()

	s, err := runtime.NewSession(ctx, runtime.Config{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	g.s = s

	_, err = s.LoadShim(ctx, g.shim, engine.LibraryConfig{
		TypeCheckSymbol:  nativelib.TypeCheckSymbol,
		TypeOfSymbol:     nativelib.TypeOfSymbol,
		ConnectSymbol:    nativelib.ConnectSymbol,
		DisconnectSymbol: nativelib.DisconnectSymbol,
	})
	if err != nil {
		t.Fatalf("LoadShim: %v", err)
	}

	for _, c := range []runtime.Class{
		{Name: "geom.Shape", TypeFunc: "geom_shape_get_type"},
		{Name: "geom.Circle", Parent: "geom.Shape", TypeFunc: "geom_circle_get_type"},
		{Name: "geom.Polygon", Parent: "geom.Shape", TypeFunc: "geom_polygon_get_type"},
	} {
		c.Library = lib
		c.Free = nativelib.UnrefSymbol
		c.Refcounted = true
		s.RegisterClass(c)
	}
	return g
}

func shapeDesc(transfer abi.Transfer) abi.Descriptor {
	return abi.Object("geom.Shape", "geom_shape_get_type", transfer)
}

func circleDesc(transfer abi.Transfer) abi.Descriptor {
	return abi.Object("geom.Circle", "geom_circle_get_type", transfer)
}

func (g *geom) invoke(t *testing.T, symbol string, args []runtime.Arg, ret abi.Descriptor) *runtime.Result {
	t.Helper()
	res, err := g.s.Invoke(context.Background(), lib, symbol, args, ret)
	if err != nil {
		t.Fatalf("%s: %v", symbol, err)
	}
	return res
}

func (g *geom) newCircle(t *testing.T, radius float64) runtime.Ref {
	t.Helper()
	res := g.invoke(t, "geom_circle_new", []runtime.Arg{runtime.In(abi.F64(), radius)}, circleDesc(abi.TransferFull))
	r, ok := res.Value.(runtime.Ref)
	if !ok {
		t.Fatalf("geom_circle_new returned %T", res.Value)
	}
	return r
}

func kindOf(t *testing.T, err error) errors.Kind {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	k, ok := errors.KindOf(err)
	if !ok {
		t.Fatalf("unstructured error: %v", err)
	}
	return k
}

func TestStructOffsetFidelity(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	m, err := g.s.Allocate(ctx, 48, "geom.Matrix", lib)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := []float64{1.5, -2.25, 3.125, 1e10, -0.0625, math.Pi}
	for i, v := range want {
		if err := runtime.WriteField(ctx, &m, abi.F64(), uint32(8*i), v); err != nil {
			t.Fatalf("WriteField(%d): %v", 8*i, err)
		}
	}
	for i, v := range want {
		got, err := runtime.ReadField[float64](ctx, &m, abi.F64(), uint32(8*i))
		if err != nil {
			t.Fatalf("ReadField(%d): %v", 8*i, err)
		}
		if got != v {
			t.Errorf("field at %d = %v, want %v", 8*i, got, v)
		}
	}

	matrix := abi.Struct("geom.Matrix", 48, abi.TransferNone)
	res := g.invoke(t, "geom_matrix_sum", []runtime.Arg{runtime.In(matrix, m)}, abi.F64())
	var sum float64
	for _, v := range want {
		sum += v
	}
	if got := runtime.Get[float64](res.Value); got != sum {
		t.Errorf("native sum = %v, want %v", got, sum)
	}

	g.invoke(t, "geom_matrix_identity", []runtime.Arg{runtime.In(matrix, m)}, abi.Void())
	for i, v := range []float64{1, 0, 0, 1, 0, 0} {
		got, err := runtime.ReadField[float64](ctx, &m, abi.F64(), uint32(8*i))
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("identity field at %d = %v, want %v", 8*i, got, v)
		}
	}

	live := g.shim.Heap().Live()
	if err := m.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if g.shim.Heap().Live() != live-1 {
		t.Error("releasing an allocated struct did not free it")
	}
}

func TestFieldKinds(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	r, err := g.s.Allocate(ctx, 16, "geom.Mixed", lib)
	if err != nil {
		t.Fatal(err)
	}
	fields := []struct {
		desc   abi.Descriptor
		offset uint32
		value  any
	}{
		{abi.Int(1, true), 0, int8(-5)},
		{abi.Int(2, false), 2, uint16(65000)},
		{abi.I32(), 4, int32(-70000)},
		{abi.F32(), 8, float32(0.5)},
		{abi.Bool(), 12, true},
	}
	for _, f := range fields {
		if err := runtime.WriteField(ctx, &r, f.desc, f.offset, f.value); err != nil {
			t.Fatalf("WriteField(%s): %v", f.desc, err)
		}
	}
	for _, f := range fields {
		got, err := g.s.ReadField(ctx, lib, r.Handle(), f.desc, f.offset)
		if err != nil {
			t.Fatalf("ReadField(%s): %v", f.desc, err)
		}
		if got != f.value {
			t.Errorf("ReadField(%s) = %v (%T), want %v (%T)", f.desc, got, got, f.value, f.value)
		}
	}

	if err := runtime.WriteField(ctx, &r, abi.Int(1, true), 0, 300); kindOf(t, err) != errors.KindOverflow {
		t.Errorf("overflowing write kind = %v", kindOf(t, err))
	}
}

func TestOutArrayCountNotCapacity(t *testing.T) {
	g := newGeom(t)

	tests := []struct {
		capacity int32
		want     []int32
	}{
		{16, []int32{10, 20, 30}},
		{2, []int32{10, 20}},
	}
	for _, tt := range tests {
		arr := abi.Array(abi.I32(), abi.LengthParam, abi.TransferNone)
		arr.CallerAllocates = true
		arr.LengthIn, arr.LengthOut = 1, 2

		live := g.shim.Heap().Live()
		res := g.invoke(t, "geom_fill", []runtime.Arg{
			runtime.Out(arr),
			runtime.In(abi.I32(), tt.capacity),
			runtime.Implicit(abi.I32().WithDirection(abi.Out)),
		}, abi.Void())

		got, ok := res.Out(0).([]int32)
		if !ok {
			t.Fatalf("out = %T", res.Out(0))
		}
		if len(got) != len(tt.want) {
			t.Fatalf("capacity %d: len = %d, want %d", tt.capacity, len(got), len(tt.want))
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("capacity %d: [%d] = %d, want %d", tt.capacity, i, got[i], tt.want[i])
			}
		}
		if len(res.Outs) != 1 {
			t.Errorf("Outs = %v, implicit count leaked into results", res.Outs)
		}
		if g.shim.Heap().Live() != live {
			t.Errorf("heap blocks = %d, want %d", g.shim.Heap().Live(), live)
		}
	}
}

func TestCalleeAllocatedArray(t *testing.T) {
	g := newGeom(t)

	ret := abi.Array(abi.String(abi.TransferFull), abi.LengthParam, abi.TransferFull)
	ret.LengthOut = 0

	live := g.shim.Heap().Live()
	res := g.invoke(t, "geom_names", []runtime.Arg{
		runtime.Implicit(abi.I32().WithDirection(abi.Out)),
	}, ret)

	got := runtime.Get[[]string](res.Value)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("names = %v, want [alpha beta]", got)
	}
	if g.shim.Heap().Live() != live {
		t.Errorf("heap blocks = %d, want %d: full transfer not freed", g.shim.Heap().Live(), live)
	}
}

func TestInArrayLength(t *testing.T) {
	g := newGeom(t)

	arr := abi.Array(abi.I32(), abi.LengthParam, abi.TransferNone)
	arr.LengthIn = 1
	res := g.invoke(t, "geom_sum", []runtime.Arg{
		runtime.In(arr, []int32{1, 2, 3, -4, 100}),
		runtime.Implicit(abi.I32()),
	}, abi.I64())
	if got := runtime.Get[int64](res.Value); got != 102 {
		t.Errorf("sum = %d, want 102", got)
	}

	res = g.invoke(t, "geom_sum", []runtime.Arg{
		runtime.In(arr, nil),
		runtime.Implicit(abi.I32()),
	}, abi.I64())
	if got := runtime.Get[int64](res.Value); got != 0 {
		t.Errorf("empty sum = %d, want 0", got)
	}
}

func TestStrings(t *testing.T) {
	g := newGeom(t)

	live := g.shim.Heap().Live()
	res := g.invoke(t, "geom_greet", []runtime.Arg{
		runtime.In(abi.String(abi.TransferNone), "nativebind"),
	}, abi.String(abi.TransferFull))
	if got := runtime.Get[string](res.Value); got != "hello, nativebind" {
		t.Errorf("greet = %q", got)
	}
	if g.shim.Heap().Live() != live {
		t.Errorf("heap blocks = %d, want %d", g.shim.Heap().Live(), live)
	}

	_, err := g.s.Invoke(context.Background(), lib, "geom_greet", []runtime.Arg{
		runtime.In(abi.String(abi.TransferNone), nil),
	}, abi.String(abi.TransferFull))
	if kindOf(t, err) != errors.KindNullHandle {
		t.Errorf("nil string kind = %v, want null handle", kindOf(t, err))
	}
}

func TestNullableReturn(t *testing.T) {
	g := newGeom(t)
	ret := circleDesc(abi.TransferNone).WithNullable(true)
	name := abi.String(abi.TransferNone)

	res := g.invoke(t, "geom_find", []runtime.Arg{runtime.In(name, "unit")}, ret)
	r, ok := res.Value.(runtime.Ref)
	if !ok || r.IsNil() {
		t.Fatalf("find(unit) = %v, want a reference", res.Value)
	}
	if r.TypeName() != "geom.Circle" {
		t.Errorf("TypeName() = %q", r.TypeName())
	}

	res = g.invoke(t, "geom_find", []runtime.Arg{runtime.In(name, "missing")}, ret)
	if res.Value != nil {
		t.Errorf("find(missing) = %v, want nil", res.Value)
	}

	_, err := g.s.Invoke(context.Background(), lib, "geom_find",
		[]runtime.Arg{runtime.In(name, "missing")}, circleDesc(abi.TransferNone))
	if kindOf(t, err) != errors.KindNullHandle {
		t.Errorf("non-nullable null kind = %v", kindOf(t, err))
	}
}

func TestIdentityAndSingleFree(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	a := g.newCircle(t, 2.5)
	res := g.invoke(t, "geom_shape_self", []runtime.Arg{runtime.In(shapeDesc(abi.TransferNone), a)}, shapeDesc(abi.TransferNone))
	b := runtime.Get[runtime.Ref](res.Value)

	if a.Object() != b.Object() {
		t.Fatal("same handle produced distinct objects")
	}
	if b.TypeName() != "geom.Circle" {
		t.Errorf("TypeName() = %q, want geom.Circle", b.TypeName())
	}
	if a.Object().Refs() != 2 {
		t.Errorf("Refs() = %d, want 2", a.Object().Refs())
	}

	if err := b.Release(ctx); err != nil {
		t.Fatal(err)
	}
	res = g.invoke(t, "geom_circle_radius", []runtime.Arg{runtime.In(circleDesc(abi.TransferNone), a)}, abi.F64())
	if got := runtime.Get[float64](res.Value); got != 2.5 {
		t.Errorf("radius after releasing another reference = %v, want 2.5", got)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}
	if err := a.Release(ctx); err != nil {
		t.Errorf("second release: %v", err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() after second release = %d, want 1", got)
	}

	_, err := g.s.Invoke(ctx, lib, "geom_circle_radius", []runtime.Arg{runtime.In(circleDesc(abi.TransferNone), a)}, abi.F64())
	if kindOf(t, err) != errors.KindOwnership {
		t.Errorf("use after release kind = %v", kindOf(t, err))
	}
}

func TestDoubleReleaseKeepsOtherReference(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	a := g.newCircle(t, 1)
	res := g.invoke(t, "geom_shape_self", []runtime.Arg{runtime.In(shapeDesc(abi.TransferNone), a)}, shapeDesc(abi.TransferNone))
	b := runtime.Get[runtime.Ref](res.Value)

	for i := 0; i < 2; i++ {
		if err := b.Release(ctx); err != nil {
			t.Fatalf("release #%d: %v", i, err)
		}
	}
	if !a.Live() {
		t.Fatal("owner invalidated by repeated release of another reference")
	}
	if err := a.Check(); err != nil {
		t.Errorf("Check() = %v", err)
	}
	if got := g.objs.Finalized(); got != 0 {
		t.Errorf("Finalized() = %d, want 0", got)
	}
	if kindOf(t, b.Check()) != errors.KindOwnership {
		t.Error("released reference still usable")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}
}

func TestMostDerivedType(t *testing.T) {
	g := newGeom(t)

	res := g.invoke(t, "geom_polygon_new", nil, shapeDesc(abi.TransferFull))
	r := runtime.Get[runtime.Ref](res.Value)
	if r.TypeName() != "geom.Polygon" {
		t.Errorf("TypeName() = %q, want geom.Polygon", r.TypeName())
	}
}

func TestTypeMismatchAbortsCall(t *testing.T) {
	g := newGeom(t)

	res := g.invoke(t, "geom_polygon_new", nil, shapeDesc(abi.TransferFull))
	poly := runtime.Get[runtime.Ref](res.Value)

	_, err := g.s.Invoke(context.Background(), lib, "geom_circle_radius",
		[]runtime.Arg{runtime.In(circleDesc(abi.TransferNone), poly)}, abi.F64())
	if kindOf(t, err) != errors.KindTypeMismatch {
		t.Errorf("kind = %v, want type mismatch", kindOf(t, err))
	}
	if g.s.Poisoned() != nil {
		t.Error("a type mismatch must not poison the session")
	}
}

func TestRelinquishConsumes(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	c := g.newCircle(t, 1)
	g.invoke(t, "geom_sink", []runtime.Arg{runtime.In(shapeDesc(abi.TransferFull), c)}, abi.Void())

	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}
	if kindOf(t, c.Check()) != errors.KindOwnership {
		t.Error("consumed reference still usable")
	}
	if err := c.Release(ctx); err != nil {
		t.Errorf("release after consume: %v", err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d after release of consumed handle, want 1", got)
	}
}

func TestCallScopedCallback(t *testing.T) {
	g := newGeom(t)

	sig := &abi.Signature{Params: []abi.Descriptor{abi.I32()}, Return: abi.I32()}
	double := runtime.Callback(func(_ context.Context, args []any) (any, error) {
		return runtime.Get[int32](args[0]) * 2, nil
	})
	res := g.invoke(t, "geom_apply", []runtime.Arg{
		runtime.In(abi.Callback(sig, abi.ScopeCall), double),
		runtime.In(abi.I32(), int32(-21)),
	}, abi.I32())
	if got := runtime.Get[int32](res.Value); got != -42 {
		t.Errorf("apply = %d, want -42", got)
	}
	if n := g.s.Trampolines(); n != 0 {
		t.Errorf("Trampolines() = %d after call scope ended", n)
	}
}

func TestStaleTrampolinePoisonsSession(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	sig := &abi.Signature{Params: []abi.Descriptor{abi.I32()}, Return: abi.I32()}
	identity := runtime.Callback(func(_ context.Context, args []any) (any, error) {
		return args[0], nil
	})
	g.invoke(t, "geom_store", []runtime.Arg{runtime.In(abi.Callback(sig, abi.ScopeCall), identity)}, abi.Void())

	_, err := g.s.Invoke(ctx, lib, "geom_fire", []runtime.Arg{runtime.In(abi.I32(), int32(1))}, abi.I32())
	if kindOf(t, err) != errors.KindStaleTrampoline {
		t.Fatalf("kind = %v, want stale trampoline", kindOf(t, err))
	}
	if g.s.Poisoned() == nil {
		t.Fatal("session not poisoned")
	}

	_, err = g.s.Invoke(ctx, lib, "geom_polygon_new", nil, shapeDesc(abi.TransferFull))
	if kindOf(t, err) != errors.KindPoisoned {
		t.Errorf("call on poisoned session kind = %v", kindOf(t, err))
	}
}

func TestPendingResolvesOnce(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	sig := &abi.Signature{Params: []abi.Descriptor{abi.I32()}, Return: abi.Void()}
	p, err := g.s.InvokeAsync(ctx, lib, "geom_start", []runtime.Arg{
		runtime.Async(abi.Callback(sig, abi.ScopeAsync)),
		runtime.In(abi.I32(), int32(7)),
	}, abi.Void())
	if err != nil {
		t.Fatalf("InvokeAsync: %v", err)
	}
	if p.Resolved() {
		t.Fatal("resolved before completion")
	}

	g.invoke(t, "geom_complete", nil, abi.Void())
	values, err := p.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(values) != 1 || values[0] != int32(7) {
		t.Errorf("values = %v, want [7]", values)
	}

	_, err = g.s.Invoke(ctx, lib, "geom_complete", nil, abi.Void())
	if kindOf(t, err) != errors.KindStaleTrampoline {
		t.Errorf("second completion kind = %v, want stale trampoline", kindOf(t, err))
	}
	values, _ = p.Await(ctx)
	if len(values) != 1 || values[0] != int32(7) {
		t.Errorf("values changed after second completion: %v", values)
	}
}

func TestNativeError(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()
	args := func(text string) []runtime.Arg {
		return []runtime.Arg{
			runtime.In(abi.String(abi.TransferNone), text),
			runtime.Out(abi.Error()),
		}
	}

	res := g.invoke(t, "geom_parse", args("abc"), abi.I32())
	if got := runtime.Get[int32](res.Value); got != 3 {
		t.Errorf("parse = %d, want 3", got)
	}

	live := g.shim.Heap().Live()
	_, err := g.s.Invoke(ctx, lib, "geom_parse", args(""), abi.I32())
	var native *runtime.NativeError
	if !errors.As(err, &native) {
		t.Fatalf("err = %v, want *NativeError", err)
	}
	if native.Domain != 7 || native.Code != 3 || native.Message != "empty input" {
		t.Errorf("native error = %+v", native)
	}
	if !errors.Is(err, errors.New(errors.PhaseInvoke, errors.KindNativeFailure).Build()) {
		t.Error("native error does not match KindNativeFailure")
	}
	if g.shim.Heap().Live() != live {
		t.Errorf("heap blocks = %d, want %d: error record leaked", g.shim.Heap().Live(), live)
	}
	if g.s.Poisoned() != nil {
		t.Error("native error poisoned the session")
	}
}

func TestSignals(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()
	c := g.newCircle(t, 1)

	var got []any
	sig := &abi.Signature{Params: []abi.Descriptor{shapeDesc(abi.TransferNone), abi.I32()}, Return: abi.Void()}
	sub, err := g.s.Connect(ctx, &c, "changed", sig, func(_ context.Context, args []any) (any, error) {
		got = args
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	g.invoke(t, "geom_touch", []runtime.Arg{runtime.In(shapeDesc(abi.TransferNone), c)}, abi.Void())
	if len(got) != 2 {
		t.Fatalf("handler args = %v", got)
	}
	self := runtime.Get[runtime.Ref](got[0])
	if self.Object() != c.Object() {
		t.Error("handler received a different object for the emitting instance")
	}
	if got[1] != int32(42) {
		t.Errorf("handler arg = %v, want 42", got[1])
	}

	if err := g.s.Disconnect(ctx, sub); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if g.objs.Handlers(uint32(c.Handle())) != 0 {
		t.Error("native handler survived Disconnect")
	}
	if g.s.Trampolines() != 0 {
		t.Errorf("Trampolines() = %d after Disconnect", g.s.Trampolines())
	}
}

func TestSignalArgumentsAreLent(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()
	c := g.newCircle(t, 1)

	calls := 0
	sig := &abi.Signature{Params: []abi.Descriptor{shapeDesc(abi.TransferNone), abi.I32()}, Return: abi.Void()}
	sub, err := g.s.Connect(ctx, &c, "changed", sig, func(_ context.Context, args []any) (any, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i := 0; i < 2; i++ {
		g.invoke(t, "geom_touch", []runtime.Arg{runtime.In(shapeDesc(abi.TransferNone), c)}, abi.Void())
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
	if err := g.s.Disconnect(ctx, sub); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if refs := c.Object().Refs(); refs != 1 {
		t.Errorf("Refs() = %d after signals, want 1", refs)
	}

	if err := c.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}
	if n := g.s.Registry().Len(); n != 0 {
		t.Errorf("Registry().Len() = %d, want 0", n)
	}
}

func TestRetainSignalArgument(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()
	c := g.newCircle(t, 3)

	var kept runtime.Ref
	sig := &abi.Signature{Params: []abi.Descriptor{shapeDesc(abi.TransferNone), abi.I32()}, Return: abi.Void()}
	sub, err := g.s.Connect(ctx, &c, "changed", sig, func(_ context.Context, args []any) (any, error) {
		self := runtime.Get[runtime.Ref](args[0])
		var err error
		kept, err = self.Retain()
		return nil, err
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	g.invoke(t, "geom_touch", []runtime.Arg{runtime.In(shapeDesc(abi.TransferNone), c)}, abi.Void())
	if err := g.s.Disconnect(ctx, sub); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if err := c.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := g.objs.Finalized(); got != 0 {
		t.Fatalf("Finalized() = %d while a retained reference is live", got)
	}
	res := g.invoke(t, "geom_circle_radius", []runtime.Arg{runtime.In(circleDesc(abi.TransferNone), kept)}, abi.F64())
	if got := runtime.Get[float64](res.Value); got != 3 {
		t.Errorf("radius through retained reference = %v, want 3", got)
	}
	if err := kept.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}
}

func TestInterfaceReleaseUsesPrerequisiteUnref(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()
	g.s.RegisterClass(runtime.Class{Name: "geom.Bounded", Interfaces: []string{"geom.Shape"}, Library: lib, Refcounted: true})
	g.s.RegisterClass(runtime.Class{Name: "geom.Loose", Library: lib, Refcounted: true})

	raw := func() runtime.Handle {
		res := g.invoke(t, "geom_circle_new", []runtime.Arg{runtime.In(abi.F64(), 1.0)}, abi.Pointer())
		return runtime.Get[runtime.Handle](res.Value)
	}

	r, err := g.s.Wrap(lib, raw(), "geom.Bounded", true)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if err := r.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := g.objs.Finalized(); got != 1 {
		t.Errorf("Finalized() = %d, want 1", got)
	}

	loose, err := g.s.Wrap(lib, raw(), "geom.Loose", true)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if kindOf(t, loose.Release(ctx)) != errors.KindUnsupported {
		t.Error("refcounted type without an unref function released through the allocator")
	}
}

func TestLoweringErrorFreesTransferredBuffers(t *testing.T) {
	zeroTerminated := func(elem abi.Descriptor, transfer abi.Transfer) abi.Descriptor {
		return abi.Array(elem, abi.LengthZeroTerminated, transfer)
	}
	tests := []struct {
		name  string
		desc  abi.Descriptor
		value any
	}{
		{"full string", abi.String(abi.TransferFull), "kept by callee"},
		{"full array", zeroTerminated(abi.I32(), abi.TransferFull), []int32{1, 2, 3}},
		{"container of strings", zeroTerminated(abi.String(abi.TransferNone), abi.TransferContainer), []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGeom(t)
			live := g.shim.Heap().Live()
			_, err := g.s.Invoke(context.Background(), lib, "geom_apply", []runtime.Arg{
				runtime.In(tt.desc, tt.value),
				runtime.In(abi.I32(), "three"),
			}, abi.I32())
			if kindOf(t, err) != errors.KindTypeMismatch {
				t.Fatalf("kind = %v, want type mismatch", kindOf(t, err))
			}
			if got := g.shim.Heap().Live(); got != live {
				t.Errorf("heap blocks = %d, want %d", got, live)
			}
		})
	}
}

func TestScalarConversions(t *testing.T) {
	g := newGeom(t)

	_, err := g.s.Invoke(context.Background(), lib, "geom_fire", []runtime.Arg{
		runtime.In(abi.I32(), int64(math.MaxInt32)+1),
	}, abi.I32())
	if kindOf(t, err) != errors.KindOverflow {
		t.Errorf("overflow kind = %v", kindOf(t, err))
	}

	_, err = g.s.Invoke(context.Background(), lib, "geom_fire", []runtime.Arg{
		runtime.In(abi.I32(), "three"),
	}, abi.I32())
	if kindOf(t, err) != errors.KindTypeMismatch {
		t.Errorf("string for i32 kind = %v", kindOf(t, err))
	}
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v", err)
	}
	for e.GoType == "" && e.Cause != nil {
		next, ok := e.Cause.(*errors.Error)
		if !ok {
			break
		}
		e = next
	}
	if e.GoType != "string" || e.NativeType == "" {
		t.Errorf("mismatch types = %q, %q", e.GoType, e.NativeType)
	}
}

func TestClose(t *testing.T) {
	g := newGeom(t)
	ctx := context.Background()

	g.newCircle(t, 1)
	g.newCircle(t, 2)
	if err := g.s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := g.objs.Finalized(); got != 2 {
		t.Errorf("Finalized() = %d, want 2", got)
	}
	_, err := g.s.Invoke(ctx, lib, "geom_polygon_new", nil, shapeDesc(abi.TransferFull))
	if kindOf(t, err) != errors.KindInvalidInput {
		t.Errorf("call after Close kind = %v", kindOf(t, err))
	}
}
