package layout

import (
	"fmt"
	"math"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
)

// Info is the size and alignment of a type, plus field offsets for records.
type Info struct {
	Size      uint32
	Align     uint32
	FieldOffs []uint32
}

// Calculator computes and caches record layouts for one namespace.
type Calculator struct {
	ns        *ir.Namespace
	cache     map[*ir.Record]Info
	resolving map[*ir.Record]bool
}

// NewCalculator creates a calculator for ns.
func NewCalculator(ns *ir.Namespace) *Calculator {
	return &Calculator{
		ns:        ns,
		cache:     make(map[*ir.Record]Info),
		resolving: make(map[*ir.Record]bool),
	}
}

// Field returns the inline size and alignment of a field of type t.
func (c *Calculator) Field(t ir.TypeRef) (Info, error) {
	if t.IsArray() {
		if t.Arity != ir.ArityFixed {
			return Info{Size: 4, Align: 4}, nil
		}
		elem, err := c.Field(*t.Elem)
		if err != nil {
			return Info{}, err
		}
		size, ok := SafeMulU32(elem.Size, uint32(t.FixedSize))
		if !ok {
			return Info{}, errors.Overflow(errors.PhaseMap, nil, t.FixedSize, "fixed array")
		}
		return Info{Size: size, Align: elem.Align}, nil
	}
	if t.IsVoid() {
		return Info{Size: 0, Align: 1}, nil
	}
	if ir.IsString(t.Name) {
		return Info{Size: 4, Align: 4}, nil
	}
	if p, ok := ir.LookupPrimitive(t.Name); ok {
		return Info{Size: uint32(p.Size), Align: uint32(p.Size)}, nil
	}

	e, _, ok := c.ns.Lookup(t.Name)
	if !ok {
		return Info{}, errors.NotFound(errors.PhaseMap, "type", t.Name)
	}
	switch ent := e.(type) {
	case *ir.Enum:
		p := ent.StoragePrimitive()
		return Info{Size: uint32(p.Size), Align: uint32(p.Size)}, nil
	case *ir.Record:
		// A record field without a pointer C type is stored inline.
		if isPointerCType(t.CType) {
			return Info{Size: 4, Align: 4}, nil
		}
		info, err := c.Record(ent)
		if err != nil {
			return Info{}, err
		}
		return Info{Size: info.Size, Align: info.Align}, nil
	default:
		return Info{Size: 4, Align: 4}, nil
	}
}

// Record computes the layout of r.
func (c *Calculator) Record(r *ir.Record) (Info, error) {
	if cached, ok := c.cache[r]; ok {
		return cached, nil
	}
	if c.resolving[r] {
		return Info{}, errors.Cycle(errors.PhaseMap, []string{r.Name, r.Name})
	}
	c.resolving[r] = true
	defer delete(c.resolving, r)

	offs := make([]uint32, len(r.Fields))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, f := range r.Fields {
		if f.Bits > 0 {
			return Info{}, errors.Unsupported(errors.PhaseMap,
				fmt.Sprintf("bitfield %s.%s", r.Name, f.Name))
		}
		fi, err := c.Field(f.Type)
		if err != nil {
			return Info{}, errors.New(errors.PhaseMap, errors.KindInvalidData).
				Path(r.Name, f.Name).
				Detail("field layout").
				Cause(err).
				Build()
		}
		if fi.Align > maxAlign {
			maxAlign = fi.Align
		}
		if f.Offset != nil {
			offset = uint32(*f.Offset)
		} else {
			offset = AlignTo(offset, fi.Align)
		}
		offs[i] = offset
		next, ok := SafeAddU32(offset, fi.Size)
		if !ok {
			return Info{}, errors.Overflow(errors.PhaseMap, []string{r.Name, f.Name}, offset, "record size")
		}
		offset = next
	}

	if r.Align > 0 {
		maxAlign = uint32(r.Align)
	}
	size := AlignTo(offset, maxAlign)
	if r.Size > 0 {
		if uint32(r.Size) < offset {
			return Info{}, errors.InvalidData(errors.PhaseMap, []string{r.Name},
				fmt.Sprintf("declared size %d smaller than fields end %d", r.Size, offset))
		}
		size = uint32(r.Size)
	}

	info := Info{Size: size, Align: maxAlign, FieldOffs: offs}
	c.cache[r] = info
	return info, nil
}

func isPointerCType(ctype string) bool {
	return len(ctype) > 0 && ctype[len(ctype)-1] == '*'
}

// AlignTo rounds offset up to a multiple of align.
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

func SafeMulU32(a, b uint32) (uint32, bool) {
	if b != 0 && a > math.MaxUint32/b {
		return 0, false
	}
	return a * b, true
}

func SafeAddU32(a, b uint32) (uint32, bool) {
	if a > math.MaxUint32-b {
		return 0, false
	}
	return a + b, true
}
