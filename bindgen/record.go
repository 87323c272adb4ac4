package bindgen

import (
	"github.com/dave/jennifer/jen"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

func (g *generator) record(rec *ir.Record) *jen.File {
	f := g.newFile()
	h := newHandle(rec.Name)
	g.declare(f, h, rec.Doc, g.rt("Ref"))

	if g.m.RecordKind(rec) == typemap.RecordPlain {
		g.plain(f, h, rec)
		return f
	}

	set, err := g.r.MethodSet(rec.Name)
	if err != nil {
		Logger().Warn("no method set", zap.String("record", rec.Name), zap.Error(err))
		return f
	}
	g.methods(f, h, set)
	return f
}

// plain writes the allocating constructor and the field accessors of a
// plain record. Fields are read and written at their layout offsets.
func (g *generator) plain(f *jen.File, h *handle, rec *ir.Record) {
	info, err := g.m.Layout(rec)
	if err != nil {
		return
	}
	for _, m := range rec.Methods {
		g.exclude(rec.Name, m.Name, m.Symbol, "plain records expose fields only")
	}

	ctor := g.pkg.claim("New" + h.goName)
	f.Commentf("%s allocates a zeroed %s owned by the caller.", ctor, h.goName)
	f.Func().Id(ctor).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("s").Op("*").Add(g.rt("Session")),
	).Params(jen.Op("*").Id(h.goName), jen.Error()).Block(
		jen.List(jen.Id("r"), jen.Err()).Op(":=").Id("s").Dot("Allocate").Call(
			jen.Id("ctx"), jen.Lit(int(info.Size)), jen.Lit(g.qualified(rec.Name)), jen.Id("Library"),
		),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Id("Wrap"+h.goName).Call(jen.Id("r")), jen.Nil()),
	)

	self := jen.Id("self").Op("*").Id(h.goName)
	for i, fld := range rec.Fields {
		mp, err := g.m.Map(fld.Type, typemap.PositionField, nil)
		if err != nil {
			g.exclude(rec.Name, fld.Name, "", err.Error())
			continue
		}
		off := jen.Lit(int(info.FieldOffs[i]))
		ref := g.rt("ViewRef").Call(jen.Id("self"))
		typ := g.typeCode(mp.Surface)

		get := g.memberName(rec.Name, fld.Name)
		f.Commentf("%s reads the %s field.", get, fld.Name)
		if mp.ABI.Kind == abi.KindEnum || mp.ABI.Kind == abi.KindFlags {
			f.Func().Params(self.Clone()).Id(get).Params(jen.Id("ctx").Qual("context", "Context")).
				Params(typ, jen.Error()).Block(
				jen.List(jen.Id("v"), jen.Err()).Op(":=").Add(g.rt("ReadField")).
					Types(jen.Id(intType(mp.ABI))).Call(jen.Id("ctx"), ref, desc(mp.ABI), off),
				jen.Return(named(mp.Surface, mp.Surface.Name).Call(jen.Id("v")), jen.Err()),
			)
		} else {
			f.Func().Params(self.Clone()).Id(get).Params(jen.Id("ctx").Qual("context", "Context")).
				Params(typ, jen.Error()).Block(
				jen.Return(g.rt("ReadField").Types(g.typeCode(mp.Surface)).
					Call(jen.Id("ctx"), ref.Clone(), desc(mp.ABI), off.Clone())),
			)
		}

		if !fld.Writable {
			continue
		}
		set := g.memberName(rec.Name, "set_"+fld.Name)
		f.Commentf("%s writes the %s field.", set, fld.Name)
		f.Func().Params(self.Clone()).Id(set).Params(
			jen.Id("ctx").Qual("context", "Context"),
			jen.Id("value").Add(g.typeCode(mp.Surface)),
		).Error().Block(
			jen.Return(g.rt("WriteField").Call(
				jen.Id("ctx"),
				g.rt("ViewRef").Call(jen.Id("self")),
				desc(mp.ABI),
				jen.Lit(int(info.FieldOffs[i])),
				g.lower(mp, jen.Id("value")),
			)),
		)
	}
}
