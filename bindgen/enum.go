package bindgen

import (
	"fmt"
	"strconv"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

// literal renders v as stored in an integer of d's width.
func literal(d abi.Descriptor, v int64) jen.Code {
	if d.Signed {
		return jen.Op(strconv.FormatInt(v, 10))
	}
	u := uint64(v)
	if d.Size < 8 {
		u &= 1<<(d.Size*8) - 1
	}
	return jen.Op(strconv.FormatUint(u, 10))
}

func (g *generator) enums() *jen.File {
	f := g.newFile()
	n := 0
	for _, e := range g.ns.Enums {
		if !g.emitted(e.Name) {
			continue
		}
		mp, err := g.m.Map(ir.TypeRef{Name: e.Name}, typemap.PositionField, nil)
		if err != nil {
			continue
		}
		name := mp.Surface.Name
		kind := "enumeration"
		if e.Flags {
			kind = "bit set"
		}
		comment(f, docLines(e.Doc, fmt.Sprintf("%s is the %s %s.", name, kind, g.qualified(e.Name))))
		f.Type().Id(name).Id(intType(mp.ABI))

		members := make([]string, len(e.Members))
		consts := make([]jen.Code, len(e.Members))
		for i, m := range e.Members {
			members[i] = g.pkg.claim(typemap.MemberName(e.Name, m.Name))
			consts[i] = jen.Id(members[i]).Id(name).Op("=").Add(literal(mp.ABI, m.Value))
		}
		if len(consts) > 0 {
			f.Const().Defs(consts...)
		}

		if e.Flags {
			f.Comment("Has reports whether every bit of flag is set in v.")
			f.Func().Params(jen.Id("v").Id(name)).Id("Has").Params(jen.Id("flag").Id(name)).Bool().Block(
				jen.Return(jen.Id("v").Op("&").Id("flag").Op("==").Id("flag")),
			)
		} else {
			seen := make(map[int64]bool)
			var cases []jen.Code
			for i, m := range e.Members {
				if seen[m.Value] {
					continue
				}
				seen[m.Value] = true
				cases = append(cases, jen.Case(jen.Id(members[i])).Block(jen.Return(jen.Lit(m.Name))))
			}
			f.Func().Params(jen.Id("v").Id(name)).Id("String").Params().String().Block(
				jen.Switch(jen.Id("v")).Block(cases...),
				jen.Return(jen.Qual("fmt", "Sprintf").Call(jen.Lit(name+"(%d)"), jen.Id(intType(mp.ABI)).Call(jen.Id("v")))),
			)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	return f
}

func (g *generator) constants() *jen.File {
	f := g.newFile()
	var defs []jen.Code
	for _, c := range g.ns.Constants {
		def, err := g.constant(c)
		if err != nil {
			g.exclude("constants", c.Name, "", err.Error())
			continue
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil
	}
	f.Const().Defs(defs...)
	return f
}

func (g *generator) constant(c *ir.Constant) (jen.Code, error) {
	mp, err := g.m.Map(c.Type, typemap.PositionField, nil)
	if err != nil {
		return nil, err
	}
	var value jen.Code
	switch mp.ABI.Kind {
	case abi.KindString:
		value = jen.Lit(c.Value)
	case abi.KindBool:
		b, err := strconv.ParseBool(c.Value)
		if err != nil {
			return nil, err
		}
		value = jen.Lit(b)
	case abi.KindFloat:
		v, err := strconv.ParseFloat(c.Value, int(mp.ABI.Size)*8)
		if err != nil {
			return nil, err
		}
		value = jen.Op(strconv.FormatFloat(v, 'g', -1, int(mp.ABI.Size)*8))
	case abi.KindInt, abi.KindEnum, abi.KindFlags:
		if mp.ABI.Signed {
			v, err := strconv.ParseInt(c.Value, 0, int(mp.ABI.Size)*8)
			if err != nil {
				return nil, err
			}
			value = literal(mp.ABI, v)
		} else {
			v, err := strconv.ParseUint(c.Value, 0, int(mp.ABI.Size)*8)
			if err != nil {
				return nil, err
			}
			value = jen.Op(strconv.FormatUint(v, 10))
		}
	default:
		return nil, errors.Unsupported(errors.PhaseGenerate, "constant of kind "+mp.ABI.Kind.String())
	}
	name := g.pkg.claim(typemap.GoName(c.Name))
	return jen.Id(name).Add(g.typeCode(mp.Surface)).Op("=").Add(value), nil
}
