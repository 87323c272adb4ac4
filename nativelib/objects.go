package nativelib

import (
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// HeaderSize is the size of the {type id, refcount} instance header.
const HeaderSize = 8

// Symbols exported by the instance model.
const (
	TypeCheckSymbol  = "nb_type_check"
	TypeOfSymbol     = "nb_type_of"
	RefSymbol        = "nb_object_ref"
	UnrefSymbol      = "nb_object_unref"
	ConnectSymbol    = "nb_signal_connect"
	DisconnectSymbol = "nb_signal_disconnect"
)

// ObjectType registers one instance type.
type ObjectType struct {
	// Finalize runs when the last reference is dropped, before the
	// instance memory is freed.
	Finalize   func(c *Call, h uint32)
	Name       string
	TypeFunc   string
	Interfaces []uint32
	Parent     uint32
}

type handler struct {
	name  string
	id    uint64
	fnptr uint32
}

// Objects is a GObject-style instance model for shim libraries.
type Objects struct {
	handlers  map[uint32][]handler
	byName    map[string]uint32
	types     []ObjectType
	nextID    uint64
	finalized uint64
	mu        sync.Mutex
}

// NewObjects creates an empty instance model.
func NewObjects() *Objects {
	return &Objects{
		handlers: make(map[uint32][]handler),
		byName:   make(map[string]uint32),
	}
}

// Register adds a type and returns its id. Ids start at 1.
func (o *Objects) Register(t ObjectType) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.types = append(o.types, t)
	id := uint32(len(o.types))
	o.byName[t.Name] = id
	return id
}

// ID returns the id of a registered type, or 0.
func (o *Objects) ID(name string) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.byName[name]
}

// IsA reports whether type id is target or derives from it.
func (o *Objects) IsA(id, target uint32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isA(id, target, 0)
}

func (o *Objects) isA(id, target uint32, depth int) bool {
	if id == 0 || depth > len(o.types) {
		return false
	}
	if id == target {
		return true
	}
	if int(id) > len(o.types) {
		return false
	}
	t := o.types[id-1]
	for _, i := range t.Interfaces {
		if o.isA(i, target, depth+1) {
			return true
		}
	}
	return o.isA(t.Parent, target, depth+1)
}

// Finalized returns how many instances were destroyed.
func (o *Objects) Finalized() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalized
}

// Handlers returns the number of connected handlers on h.
func (o *Objects) Handlers(h uint32) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handlers[h])
}

func (o *Objects) typeAt(id uint32) (ObjectType, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id == 0 || int(id) > len(o.types) {
		return ObjectType{}, false
	}
	return o.types[id-1], true
}

// NewObject allocates an instance of typeID with size bytes including the
// header. The instance starts with one reference.
func (c *Call) NewObject(typeID, size uint32) uint32 {
	if size < HeaderSize {
		size = HeaderSize
	}
	h := c.Malloc(size)
	if h == 0 {
		return 0
	}
	mem := c.Module.Memory()
	mem.WriteUint32Le(h, typeID)
	mem.WriteUint32Le(h+4, 1)
	return h
}

// TypeOf returns the type id stored in an instance header.
func (c *Call) TypeOf(h uint32) uint32 {
	if h == 0 {
		return 0
	}
	id, _ := c.Module.Memory().ReadUint32Le(h)
	return id
}

// RefCount returns the instance reference count.
func (c *Call) RefCount(h uint32) uint32 {
	n, _ := c.Module.Memory().ReadUint32Le(h + 4)
	return n
}

// Ref adds a reference to h.
func (c *Call) Ref(h uint32) {
	if h == 0 {
		return
	}
	mem := c.Module.Memory()
	n, _ := mem.ReadUint32Le(h + 4)
	mem.WriteUint32Le(h+4, n+1)
}

// Unref drops a reference and destroys the instance at zero.
func (c *Call) Unref(h uint32) {
	if h == 0 {
		return
	}
	mem := c.Module.Memory()
	n, _ := mem.ReadUint32Le(h + 4)
	if n == 0 {
		panic("unref of dead instance")
	}
	if n > 1 {
		mem.WriteUint32Le(h+4, n-1)
		return
	}
	mem.WriteUint32Le(h+4, 0)

	o := c.lib.objects
	for id := c.TypeOf(h); id != 0; {
		t, ok := o.typeAt(id)
		if !ok {
			break
		}
		if t.Finalize != nil {
			t.Finalize(c, h)
		}
		id = t.Parent
	}

	o.mu.Lock()
	delete(o.handlers, h)
	o.finalized++
	o.mu.Unlock()
	c.Free(h)
}

// Emit invokes every handler connected to signal on h with (h, args...).
func (c *Call) Emit(h uint32, signal string, args ...uint64) {
	o := c.lib.objects
	o.mu.Lock()
	var targets []uint32
	for _, hd := range o.handlers[h] {
		if hd.name == signal {
			targets = append(targets, hd.fnptr)
		}
	}
	o.mu.Unlock()

	full := append([]uint64{uint64(h)}, args...)
	for _, fnptr := range targets {
		c.MustInvoke(fnptr, full, false)
	}
}

func (o *Objects) exports() []export {
	out := []export{
		{name: TypeCheckSymbol, sig: Sig(I32, I32).Returns(I32), fn: func(c *Call, stack []uint64) {
			h, target := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
			stack[0] = 0
			if h != 0 && o.IsA(c.TypeOf(h), target) {
				stack[0] = 1
			}
		}},
		{name: TypeOfSymbol, sig: Sig(I32).Returns(I32), fn: func(c *Call, stack []uint64) {
			stack[0] = api.EncodeU32(c.TypeOf(api.DecodeU32(stack[0])))
		}},
		{name: RefSymbol, sig: Sig(I32).Returns(I32), fn: func(c *Call, stack []uint64) {
			c.Ref(api.DecodeU32(stack[0]))
		}},
		{name: UnrefSymbol, sig: Sig(I32), fn: func(c *Call, stack []uint64) {
			c.Unref(api.DecodeU32(stack[0]))
		}},
		{name: ConnectSymbol, sig: Sig(I32, I32, I32).Returns(I64), fn: func(c *Call, stack []uint64) {
			h := api.DecodeU32(stack[0])
			name := c.CString(api.DecodeU32(stack[1]))
			fnptr := api.DecodeU32(stack[2])
			o.mu.Lock()
			o.nextID++
			id := o.nextID
			o.handlers[h] = append(o.handlers[h], handler{name: name, id: id, fnptr: fnptr})
			o.mu.Unlock()
			stack[0] = id
		}},
		{name: DisconnectSymbol, sig: Sig(I32, I64), fn: func(c *Call, stack []uint64) {
			h, id := api.DecodeU32(stack[0]), stack[1]
			o.mu.Lock()
			defer o.mu.Unlock()
			hs := o.handlers[h]
			for i, hd := range hs {
				if hd.id == id {
					o.handlers[h] = append(hs[:i], hs[i+1:]...)
					return
				}
			}
		}},
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for i, t := range o.types {
		if t.TypeFunc == "" {
			continue
		}
		id := uint32(i + 1)
		out = append(out, export{name: t.TypeFunc, sig: Sig().Returns(I32), fn: func(_ *Call, stack []uint64) {
			stack[0] = api.EncodeU32(id)
		}})
	}
	return out
}
