package nativelib

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nativebind/engine"
)

func newMemory(t *testing.T, pages uint32) api.Memory {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	lib := New("mem").Memory(pages).Build()
	wasmBytes, err := lib.Install(ctx, rt)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	// The trampoline import needs a provider even if unused.
	_, err = rt.NewHostModuleBuilder(engine.HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}),
			[]api.ValueType{I32, I32, I32}, nil).
		Export(engine.TrampolineExport).
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mod, err := rt.InstantiateWithConfig(ctx, wasmBytes, wazero.NewModuleConfig().WithName("mem"))
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return mod.Memory()
}

func TestHeapFirstFit(t *testing.T) {
	mem := newMemory(t, 1)
	h := NewHeap(DefaultHeapBase)

	a := h.Malloc(mem, 10)
	b := h.Malloc(mem, 16)
	c := h.Malloc(mem, 8)
	if a != DefaultHeapBase || b != a+16 || c != b+16 {
		t.Fatalf("allocations = %d, %d, %d", a, b, c)
	}
	if a%8 != 0 || b%8 != 0 {
		t.Error("allocations not 8-byte aligned")
	}

	if !h.Free(b) {
		t.Fatal("Free(b) = false")
	}
	if h.Free(b) {
		t.Error("double free accepted")
	}
	if got := h.Malloc(mem, 12); got != b {
		t.Errorf("reuse = %d, want %d", got, b)
	}
	if h.Live() != 3 {
		t.Errorf("Live() = %d, want 3", h.Live())
	}
	allocs, frees := h.Stats()
	if allocs != 4 || frees != 1 {
		t.Errorf("Stats() = %d, %d; want 4, 1", allocs, frees)
	}
}

func TestHeapCoalesceAndShrink(t *testing.T) {
	mem := newMemory(t, 1)
	h := NewHeap(DefaultHeapBase)

	a := h.Malloc(mem, 8)
	b := h.Malloc(mem, 8)
	c := h.Malloc(mem, 8)
	h.Free(a)
	h.Free(b)
	if got := h.Malloc(mem, 16); got != a {
		t.Errorf("coalesced block = %d, want %d", got, a)
	}
	h.Free(c)
	if h.top != c {
		t.Errorf("top = %d, want %d after freeing the last block", h.top, c)
	}
}

func TestHeapGrowsMemory(t *testing.T) {
	mem := newMemory(t, 1)
	h := NewHeap(DefaultHeapBase)

	ptr := h.Malloc(mem, 3*pageSize)
	if ptr == 0 {
		t.Fatal("Malloc failed")
	}
	if mem.Size() < ptr+3*pageSize {
		t.Errorf("memory size %d does not cover allocation end %d", mem.Size(), ptr+3*pageSize)
	}
	data, ok := mem.Read(ptr, 16)
	if !ok {
		t.Fatal("read failed")
	}
	for _, b := range data {
		if b != 0 {
			t.Fatal("allocation not zeroed")
		}
	}
}

func TestObjectsIsA(t *testing.T) {
	o := NewObjects()
	object := o.Register(ObjectType{Name: "Object"})
	bounded := o.Register(ObjectType{Name: "Bounded"})
	shape := o.Register(ObjectType{Name: "Shape", Parent: object, Interfaces: []uint32{bounded}})
	circle := o.Register(ObjectType{Name: "Circle", Parent: shape})

	tests := []struct {
		id, target uint32
		want       bool
	}{
		{circle, circle, true},
		{circle, shape, true},
		{circle, object, true},
		{circle, bounded, true},
		{shape, circle, false},
		{object, bounded, false},
		{0, object, false},
	}
	for _, tt := range tests {
		if got := o.IsA(tt.id, tt.target); got != tt.want {
			t.Errorf("IsA(%d, %d) = %v, want %v", tt.id, tt.target, got, tt.want)
		}
	}
	if o.ID("Circle") != circle {
		t.Errorf("ID(Circle) = %d, want %d", o.ID("Circle"), circle)
	}
}

func TestShimThroughEngine(t *testing.T) {
	ctx := context.Background()
	e, err := engine.New(ctx, engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer e.Close(ctx)

	objs := NewObjects()
	counter := objs.Register(ObjectType{Name: "Counter", TypeFunc: "counter_get_type"})

	shim := New("counter").
		Objects(objs).
		Func("counter_new", Sig().Returns(I32), func(c *Call, stack []uint64) {
			stack[0] = api.EncodeU32(c.NewObject(counter, 16))
		}).
		Func("counter_fire", Sig(I32, I32), func(c *Call, stack []uint64) {
			c.Emit(api.DecodeU32(stack[0]), "fired", stack[1])
		}).
		Build()

	lib, err := e.LoadShim(ctx, shim, engine.LibraryConfig{
		TypeCheckSymbol: TypeCheckSymbol,
		TypeOfSymbol:    TypeOfSymbol,
	})
	if err != nil {
		t.Fatalf("LoadShim: %v", err)
	}

	res, err := lib.Call(ctx, "counter_new")
	if err != nil {
		t.Fatalf("counter_new: %v", err)
	}
	h := api.DecodeU32(res[0])
	if h < DefaultHeapBase {
		t.Fatalf("handle = %d", h)
	}

	res, err = lib.Call(ctx, "counter_get_type")
	if err != nil || api.DecodeU32(res[0]) != counter {
		t.Fatalf("counter_get_type = %v, %v", res, err)
	}
	res, err = lib.Call(ctx, TypeCheckSymbol, uint64(h), uint64(counter))
	if err != nil || res[0] != 1 {
		t.Errorf("type check = %v, %v", res, err)
	}

	var gotArgs []uint64
	e.SetDispatcher(func(ctx context.Context, caller api.Module, fnptr, argsPtr, retPtr uint32) {
		if fnptr != 77 {
			t.Errorf("fnptr = %d, want 77", fnptr)
		}
		for i := uint32(0); i < 2; i++ {
			v, _ := caller.Memory().ReadUint64Le(argsPtr + 8*i)
			gotArgs = append(gotArgs, v)
		}
	})

	name, err := lib.Alloc(ctx, 6)
	if err != nil {
		t.Fatal(err)
	}
	lib.Memory().Write(name, []byte("fired\x00"))
	if _, err := lib.Call(ctx, ConnectSymbol, uint64(h), uint64(name), 77); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := lib.Call(ctx, "counter_fire", uint64(h), 5); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(gotArgs) != 2 || gotArgs[0] != uint64(h) || gotArgs[1] != 5 {
		t.Errorf("handler args = %v, want [%d 5]", gotArgs, h)
	}

	if _, err := lib.Call(ctx, UnrefSymbol, uint64(h)); err != nil {
		t.Fatalf("unref: %v", err)
	}
	if objs.Finalized() != 1 {
		t.Errorf("Finalized() = %d, want 1", objs.Finalized())
	}
	if objs.Handlers(h) != 0 {
		t.Error("handlers survived finalization")
	}
}
