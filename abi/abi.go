// Package abi defines the descriptors the marshaling runtime dispatches on.
//
// A Descriptor is a closed tagged union: Kind selects the marshaling path
// and the remaining fields parameterize it. Code that consumes descriptors
// switches over Kind exhaustively; there is no open extension point.
package abi

import (
	"fmt"
	"strings"
)

// Kind tags a descriptor.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindEnum
	KindFlags
	KindStruct
	KindBoxed
	KindObject
	KindInterface
	KindCallback
	KindArray
	KindPointer
	KindError
)

var kindNames = [...]string{
	KindVoid:      "void",
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindString:    "string",
	KindEnum:      "enum",
	KindFlags:     "flags",
	KindStruct:    "struct",
	KindBoxed:     "boxed",
	KindObject:    "object",
	KindInterface: "interface",
	KindCallback:  "callback",
	KindArray:     "array",
	KindPointer:   "pointer",
	KindError:     "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Transfer is the ownership mode of a value crossing the boundary.
type Transfer uint8

const (
	TransferNone Transfer = iota
	TransferContainer
	TransferFull
)

func (t Transfer) String() string {
	switch t {
	case TransferNone:
		return "none"
	case TransferContainer:
		return "container"
	case TransferFull:
		return "full"
	}
	return "unknown"
}

// Direction of an argument.
type Direction uint8

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return "unknown"
}

// Length is the array length convention.
type Length uint8

const (
	LengthNone Length = iota
	LengthFixed
	LengthZeroTerminated
	LengthParam
)

// Scope bounds how long a trampoline stays valid.
type Scope uint8

const (
	ScopeCall Scope = iota
	ScopeAsync
	ScopeNotified
	ScopeForever
)

// NoIndex marks an absent argument index.
const NoIndex = -1

// Descriptor tells the runtime how to move one value across the boundary.
type Descriptor struct {
	Kind      Kind
	Size      uint32
	Signed    bool
	Nullable  bool
	Transfer  Transfer
	Direction Direction

	// CallerAllocates: for out arguments, the caller provides the storage.
	CallerAllocates bool

	// Type is the registered type name for objects, interfaces and boxed values.
	Type string
	// TypeFunc is the native symbol returning the runtime type id.
	TypeFunc string
	// FreeFunc releases a Full boxed value or drops an owned object reference.
	FreeFunc string
	// StructSize is the native size of a struct or boxed value.
	StructSize uint32

	Elem      *Descriptor
	Length    Length
	FixedLen  uint32
	LengthIn  int
	LengthOut int

	Callback *Signature
	Scope    Scope
	// Destroy is the argument index receiving the destroy notifier for ScopeNotified.
	Destroy int
}

// Signature describes a native callable: callbacks and signal handlers.
type Signature struct {
	Params []Descriptor
	Return Descriptor
	Throws bool
}

// Void describes the absence of a value.
func Void() Descriptor {
	return Descriptor{Kind: KindVoid, LengthIn: NoIndex, LengthOut: NoIndex, Destroy: NoIndex}
}

// Bool describes a 32-bit native boolean.
func Bool() Descriptor { return scalar(KindBool, 4, false) }

// Int describes an integer of the given byte width.
func Int(size uint32, signed bool) Descriptor { return scalar(KindInt, size, signed) }

// I32 is a signed 32-bit integer.
func I32() Descriptor { return Int(4, true) }

// U32 is an unsigned 32-bit integer.
func U32() Descriptor { return Int(4, false) }

// I64 is a signed 64-bit integer.
func I64() Descriptor { return Int(8, true) }

// F32 is a 32-bit float.
func F32() Descriptor { return scalar(KindFloat, 4, true) }

// F64 is a 64-bit float.
func F64() Descriptor { return scalar(KindFloat, 8, true) }

// Enum describes an enumeration stored in an integer of the given width.
func Enum(size uint32, signed bool) Descriptor { return scalar(KindEnum, size, signed) }

// Flags describes a bit set stored in an unsigned integer of the given width.
func Flags(size uint32) Descriptor { return scalar(KindFlags, size, false) }

// String describes a NUL-terminated UTF-8 string.
func String(transfer Transfer) Descriptor {
	d := scalar(KindString, 4, false)
	d.Transfer = transfer
	return d
}

// Pointer describes an untyped pointer passed through unchanged.
func Pointer() Descriptor { return scalar(KindPointer, 4, false) }

// Object describes a class instance handle.
func Object(typ, typeFunc string, transfer Transfer) Descriptor {
	d := scalar(KindObject, 4, false)
	d.Type = typ
	d.TypeFunc = typeFunc
	d.Transfer = transfer
	return d
}

// Interface describes an interface instance handle.
func Interface(typ, typeFunc string, transfer Transfer) Descriptor {
	d := Object(typ, typeFunc, transfer)
	d.Kind = KindInterface
	return d
}

// Boxed describes an opaque record handle released with freeFunc.
func Boxed(typ, freeFunc string, size uint32, transfer Transfer) Descriptor {
	d := scalar(KindBoxed, 4, false)
	d.Type = typ
	d.FreeFunc = freeFunc
	d.StructSize = size
	d.Transfer = transfer
	return d
}

// Struct describes a pointer to a plain struct whose fields are read by offset.
func Struct(typ string, size uint32, transfer Transfer) Descriptor {
	d := scalar(KindStruct, 4, false)
	d.Type = typ
	d.StructSize = size
	d.Transfer = transfer
	return d
}

// Callback describes a function pointer backed by a trampoline.
func Callback(sig *Signature, scope Scope) Descriptor {
	d := scalar(KindCallback, 4, false)
	d.Callback = sig
	d.Scope = scope
	return d
}

// Array describes an array of elem with the given length convention.
func Array(elem Descriptor, length Length, transfer Transfer) Descriptor {
	d := scalar(KindArray, 4, false)
	d.Elem = &elem
	d.Length = length
	d.Transfer = transfer
	return d
}

// Error describes the trailing native error out-parameter of a throwing call.
func Error() Descriptor {
	d := scalar(KindError, 4, false)
	d.Direction = Out
	return d
}

func scalar(kind Kind, size uint32, signed bool) Descriptor {
	return Descriptor{
		Kind:      kind,
		Size:      size,
		Signed:    signed,
		LengthIn:  NoIndex,
		LengthOut: NoIndex,
		Destroy:   NoIndex,
	}
}

// WithDirection returns a copy of d with the given direction.
func (d Descriptor) WithDirection(dir Direction) Descriptor {
	d.Direction = dir
	return d
}

// WithNullable returns a copy of d with the given nullability.
func (d Descriptor) WithNullable(nullable bool) Descriptor {
	d.Nullable = nullable
	return d
}

// WithLength returns a copy of d with the argument indices that carry its
// length in and out. NoIndex marks an absent side.
func (d Descriptor) WithLength(in, out int) Descriptor {
	d.LengthIn, d.LengthOut = in, out
	return d
}

// WithFixedLen returns a copy of d with a fixed element count.
func (d Descriptor) WithFixedLen(n uint32) Descriptor {
	d.FixedLen = n
	return d
}

// WithCallerAllocates returns a copy of d whose out storage the caller provides.
func (d Descriptor) WithCallerAllocates() Descriptor {
	d.CallerAllocates = true
	return d
}

// WithDestroy returns a copy of d whose destroy notifier goes to argument i.
func (d Descriptor) WithDestroy(i int) Descriptor {
	d.Destroy = i
	return d
}

// WithFreeFunc returns a copy of d released with fn.
func (d Descriptor) WithFreeFunc(fn string) Descriptor {
	d.FreeFunc = fn
	return d
}

// IsHandle reports whether values of d are native handles tracked by the registry.
func (d Descriptor) IsHandle() bool {
	switch d.Kind {
	case KindStruct, KindBoxed, KindObject, KindInterface:
		return true
	}
	return false
}

// Wide reports whether the lowered native value is 64 bits wide.
func (d Descriptor) Wide() bool {
	switch d.Kind {
	case KindInt, KindFloat, KindEnum, KindFlags:
		return d.Size == 8
	}
	return false
}

// ElemSize is the byte size of one element when d is stored inline in an
// array, a struct field or an out-parameter slot.
func (d Descriptor) ElemSize() uint32 {
	switch d.Kind {
	case KindVoid:
		return 0
	case KindBool, KindInt, KindFloat, KindEnum, KindFlags:
		return d.Size
	default:
		return 4
	}
}

// Align is the natural alignment of d on wasm32.
func (d Descriptor) Align() uint32 {
	if s := d.ElemSize(); s > 0 {
		return s
	}
	return 1
}

func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Kind.String())
	switch d.Kind {
	case KindInt, KindEnum, KindFlags:
		sign := "u"
		if d.Signed {
			sign = "i"
		}
		fmt.Fprintf(&b, "(%s%d)", sign, d.Size*8)
	case KindFloat:
		fmt.Fprintf(&b, "(f%d)", d.Size*8)
	case KindObject, KindInterface, KindBoxed, KindStruct:
		fmt.Fprintf(&b, "(%s)", d.Type)
	case KindArray:
		if d.Elem != nil {
			fmt.Fprintf(&b, "[%s]", d.Elem.String())
		}
	}
	if d.Nullable {
		b.WriteByte('?')
	}
	if d.Transfer != TransferNone {
		b.WriteString(" transfer=")
		b.WriteString(d.Transfer.String())
	}
	if d.Direction != In {
		b.WriteString(" dir=")
		b.WriteString(d.Direction.String())
	}
	return b.String()
}
