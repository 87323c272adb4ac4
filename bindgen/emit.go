package bindgen

import (
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/typemap"
)

// rt references a runtime package identifier.
func (g *generator) rt(name string) *jen.Statement {
	return jen.Qual(g.cfg.RuntimePath, name)
}

func abiID(name string) *jen.Statement {
	return jen.Qual(ABIPath, name)
}

// typeCode renders a surface type.
func (g *generator) typeCode(s typemap.Surface) *jen.Statement {
	if s.Elem != nil {
		return jen.Index().Add(g.typeCode(*s.Elem))
	}
	st := jen.Null()
	if s.Pointer {
		st = jen.Op("*")
	}
	if s.Path != "" {
		return st.Qual(s.Path, s.Name)
	}
	return st.Id(s.Name)
}

// named renders an identifier declared next to the surface's type: in this
// package, or in the package of an imported namespace.
func named(s typemap.Surface, name string) *jen.Statement {
	if s.Path != "" {
		return jen.Qual(s.Path, name)
	}
	return jen.Id(name)
}

// wrapFunc names the view constructor of a handle surface.
func wrapFunc(s typemap.Surface) *jen.Statement {
	return named(s, "Wrap"+s.Name)
}

// zero renders the zero value of a surface.
func zero(s typemap.Surface) jen.Code {
	switch {
	case s.Elem != nil, s.Pointer:
		return jen.Nil()
	case s.Path == "" && s.Name == "string":
		return jen.Lit("")
	case s.Path == "" && s.Name == "bool":
		return jen.False()
	}
	return jen.Lit(0)
}

// intType is the Go integer type holding values of d.
func intType(d abi.Descriptor) string {
	name := fmt.Sprintf("int%d", d.Size*8)
	if !d.Signed {
		name = "u" + name
	}
	return name
}

var transferNames = map[abi.Transfer]string{
	abi.TransferNone:      "TransferNone",
	abi.TransferContainer: "TransferContainer",
	abi.TransferFull:      "TransferFull",
}

var directionNames = map[abi.Direction]string{
	abi.In:    "In",
	abi.Out:   "Out",
	abi.InOut: "InOut",
}

var scopeNames = map[abi.Scope]string{
	abi.ScopeCall:     "ScopeCall",
	abi.ScopeAsync:    "ScopeAsync",
	abi.ScopeNotified: "ScopeNotified",
	abi.ScopeForever:  "ScopeForever",
}

var lengthNames = map[abi.Length]string{
	abi.LengthNone:           "LengthNone",
	abi.LengthFixed:          "LengthFixed",
	abi.LengthZeroTerminated: "LengthZeroTerminated",
	abi.LengthParam:          "LengthParam",
}

func index(i int) jen.Code {
	if i == abi.NoIndex {
		return abiID("NoIndex")
	}
	return jen.Lit(i)
}

// desc renders an expression that rebuilds d from the abi constructors.
func desc(d abi.Descriptor) *jen.Statement {
	var st *jen.Statement
	transfer := abiID(transferNames[d.Transfer])

	switch d.Kind {
	case abi.KindVoid:
		return abiID("Void").Call()
	case abi.KindError:
		return abiID("Error").Call()
	case abi.KindBool:
		st = abiID("Bool").Call()
	case abi.KindInt:
		switch {
		case d.Size == 4 && d.Signed:
			st = abiID("I32").Call()
		case d.Size == 4:
			st = abiID("U32").Call()
		case d.Size == 8 && d.Signed:
			st = abiID("I64").Call()
		default:
			st = abiID("Int").Call(jen.Lit(int(d.Size)), jen.Lit(d.Signed))
		}
	case abi.KindFloat:
		if d.Size == 4 {
			st = abiID("F32").Call()
		} else {
			st = abiID("F64").Call()
		}
	case abi.KindEnum:
		st = abiID("Enum").Call(jen.Lit(int(d.Size)), jen.Lit(d.Signed))
	case abi.KindFlags:
		st = abiID("Flags").Call(jen.Lit(int(d.Size)))
	case abi.KindString:
		st = abiID("String").Call(transfer)
	case abi.KindPointer:
		st = abiID("Pointer").Call()
	case abi.KindObject:
		st = abiID("Object").Call(jen.Lit(d.Type), jen.Lit(d.TypeFunc), transfer)
	case abi.KindInterface:
		st = abiID("Interface").Call(jen.Lit(d.Type), jen.Lit(d.TypeFunc), transfer)
	case abi.KindBoxed:
		st = abiID("Boxed").Call(jen.Lit(d.Type), jen.Lit(d.FreeFunc), jen.Lit(int(d.StructSize)), transfer)
	case abi.KindStruct:
		st = abiID("Struct").Call(jen.Lit(d.Type), jen.Lit(int(d.StructSize)), transfer)
	case abi.KindCallback:
		st = abiID("Callback").Call(signature(d.Callback), abiID(scopeNames[d.Scope]))
	case abi.KindArray:
		st = abiID("Array").Call(desc(*d.Elem), abiID(lengthNames[d.Length]), transfer)
	default:
		panic(fmt.Sprintf("bindgen: descriptor kind %s", d.Kind))
	}

	if d.Direction != abi.In {
		st = st.Dot("WithDirection").Call(abiID(directionNames[d.Direction]))
	}
	if d.Nullable {
		st = st.Dot("WithNullable").Call(jen.True())
	}
	if d.LengthIn != abi.NoIndex || d.LengthOut != abi.NoIndex {
		st = st.Dot("WithLength").Call(index(d.LengthIn), index(d.LengthOut))
	}
	if d.FixedLen > 0 {
		st = st.Dot("WithFixedLen").Call(jen.Lit(int(d.FixedLen)))
	}
	if d.CallerAllocates {
		st = st.Dot("WithCallerAllocates").Call()
	}
	if d.Destroy != abi.NoIndex {
		st = st.Dot("WithDestroy").Call(jen.Lit(d.Destroy))
	}
	if d.FreeFunc != "" && (d.Kind == abi.KindObject || d.Kind == abi.KindStruct) {
		st = st.Dot("WithFreeFunc").Call(jen.Lit(d.FreeFunc))
	}
	return st
}

func signature(sig *abi.Signature) jen.Code {
	if sig == nil {
		return jen.Nil()
	}
	params := make([]jen.Code, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = desc(p)
	}
	fields := jen.Dict{
		jen.Id("Return"): desc(sig.Return),
	}
	if len(params) > 0 {
		fields[jen.Id("Params")] = jen.Index().Qual(ABIPath, "Descriptor").Values(params...)
	}
	return jen.Op("&").Qual(ABIPath, "Signature").Values(fields)
}

// lower renders the runtime argument value for the Go value v.
func (g *generator) lower(mp typemap.Mapping, v *jen.Statement) *jen.Statement {
	if mp.Placeholder {
		return v
	}
	switch mp.ABI.Kind {
	case abi.KindEnum, abi.KindFlags:
		return jen.Id(intType(mp.ABI)).Call(v)
	case abi.KindObject, abi.KindInterface, abi.KindBoxed, abi.KindStruct:
		return g.rt("RefArg").Call(v)
	case abi.KindCallback:
		return v.Dot("Native").Call()
	case abi.KindArray:
		switch elem := mp.ABI.Elem; elem.Kind {
		case abi.KindEnum, abi.KindFlags:
			return g.rt("Ints").Types(jen.Id(intType(*elem))).Call(v)
		case abi.KindObject, abi.KindInterface, abi.KindBoxed, abi.KindStruct:
			return g.rt("Refs").Call(v)
		}
	}
	return v
}

// lift renders the Go value of the lifted runtime value v.
func (g *generator) lift(mp typemap.Mapping, v jen.Code) *jen.Statement {
	s := mp.Surface
	if mp.Placeholder {
		return g.rt("Get").Types(g.typeCode(s)).Call(v)
	}
	switch mp.ABI.Kind {
	case abi.KindString:
		if s.Pointer {
			return g.rt("GetPtr").Types(jen.String()).Call(v)
		}
		return g.rt("Get").Types(jen.String()).Call(v)
	case abi.KindEnum, abi.KindFlags:
		return named(s, s.Name).Call(g.rt("Get").Types(jen.Id(intType(mp.ABI))).Call(v))
	case abi.KindObject, abi.KindInterface, abi.KindBoxed, abi.KindStruct:
		return g.rt("Lift").Call(v, wrapFunc(s))
	case abi.KindArray:
		switch elem := mp.ABI.Elem; elem.Kind {
		case abi.KindEnum, abi.KindFlags:
			raw := g.rt("Get").Types(jen.Index().Id(intType(*elem))).Call(v)
			return g.rt("Ints").Types(named(*s.Elem, s.Elem.Name)).Call(raw)
		case abi.KindObject, abi.KindInterface, abi.KindBoxed, abi.KindStruct:
			raw := g.rt("Get").Types(jen.Index().Add(g.rt("Ref"))).Call(v)
			return g.rt("LiftAll").Call(raw, wrapFunc(*s.Elem))
		}
	}
	return g.rt("Get").Types(g.typeCode(s)).Call(v)
}
