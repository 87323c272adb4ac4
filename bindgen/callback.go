package bindgen

import (
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

// handler is the Go shape of a callback or signal handler.
type handler struct {
	params []jen.Code
	// lifts convert the native arguments, args[first:], to Go values.
	lifts []jen.Code
	ret   typemap.Mapping
}

// handlerOf maps callback parameters. first is the index of the first
// parameter in the native argument list.
func (g *generator) handlerOf(params []*ir.Param, ret ir.TypeRef, first int) (*handler, error) {
	h := &handler{}
	locals := newScope("ctx", "args", "ret", "err", "f", "fn", "self", "s")
	for i, p := range params {
		mp, err := g.m.Map(p.Type, typemap.PositionCallback, nil)
		if err != nil {
			return nil, err
		}
		name := locals.claim(typemap.ParamName(p.Name))
		h.params = append(h.params, jen.Id(name).Add(g.typeCode(mp.Surface)))
		h.lifts = append(h.lifts, g.lift(mp, jen.Id("args").Index(jen.Lit(first+i))))
	}
	mp, err := g.m.Map(ret, typemap.PositionReturn, nil)
	if err != nil {
		return nil, err
	}
	h.ret = mp
	return h, nil
}

// results renders the Go result list of the handler.
func (g *generator) results(h *handler) jen.Code {
	if h.ret.ABI.Kind == abi.KindVoid {
		return jen.Error()
	}
	return jen.Params(g.typeCode(h.ret.Surface), jen.Error())
}

// adapter renders the runtime.Callback that calls fn with lifted arguments.
// lead are arguments passed before the lifted ones.
func (g *generator) adapter(h *handler, fn jen.Code, lead ...jen.Code) *jen.Statement {
	callArgs := append([]jen.Code{jen.Id("ctx")}, lead...)
	callArgs = append(callArgs, h.lifts...)
	invoke := jen.Add(fn).Call(callArgs...)

	var body []jen.Code
	if h.ret.ABI.Kind == abi.KindVoid {
		body = []jen.Code{jen.Return(jen.Nil(), invoke)}
	} else {
		body = []jen.Code{
			jen.List(jen.Id("ret"), jen.Err()).Op(":=").Add(invoke),
			jen.Return(g.lower(h.ret, jen.Id("ret")), jen.Err()),
		}
	}
	return jen.Func().Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("args").Index().Id("any"),
	).Params(jen.Id("any"), jen.Error()).Block(body...)
}

// callbacks writes one function type per callback, each with a Native
// adapter for the runtime.
func (g *generator) callbacks() *jen.File {
	f := g.newFile()
	n := 0
	for _, cb := range g.ns.Callbacks {
		if !g.emitted(cb.Name) {
			continue
		}
		h, err := g.handlerOf(cb.Params, cb.Return, 0)
		if err != nil {
			g.exclude(cb.Name, cb.Name, "", err.Error())
			continue
		}
		name := typemap.GoName(cb.Name)
		params := append([]jen.Code{jen.Id("ctx").Qual("context", "Context")}, h.params...)

		comment(f, docLines(cb.Doc, fmt.Sprintf("%s is called by native code as %s.", name, g.qualified(cb.Name))))
		f.Type().Id(name).Func().Params(params...).Add(g.results(h))

		f.Comment("Native adapts f to a runtime callback. A nil f is the null callback.")
		f.Func().Params(jen.Id("f").Id(name)).Id("Native").Params().Add(g.rt("Callback")).Block(
			jen.If(jen.Id("f").Op("==").Nil()).Block(jen.Return(jen.Nil())),
			jen.Return(g.adapter(h, jen.Id("f"))),
		)
		n++
	}
	if n == 0 {
		return nil
	}
	return f
}

// signal writes Connect<Signal> for one signal of h.
func (g *generator) signal(f *jen.File, h *handle, s *ir.Signal) {
	sig, err := g.m.Signature(s.Name, s.Params, s.Return, false)
	if err != nil {
		g.exclude(h.entity, s.Name, "", err.Error())
		return
	}
	hd, err := g.handlerOf(s.Params, s.Return, 1)
	if err != nil {
		g.exclude(h.entity, s.Name, "", err.Error())
		return
	}
	none := ir.TransferNone
	self, err := g.m.Map(h.self, typemap.PositionCallback, &none)
	if err != nil {
		g.exclude(h.entity, s.Name, "", err.Error())
		return
	}
	sig.Params = append([]abi.Descriptor{self.ABI}, sig.Params...)

	name := g.memberName(h.entity, "connect_"+s.Name)
	params := append([]jen.Code{
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("self").Op("*").Id(h.goName),
	}, hd.params...)

	comment(f, docLines(s.Doc, fmt.Sprintf("%s subscribes fn to the %s signal.", name, s.Name)))
	f.Func().Params(jen.Id("self").Op("*").Id(h.goName)).Id(name).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("fn").Func().Params(params...).Add(g.results(hd)),
	).Params(g.rt("Subscription"), jen.Error()).Block(
		jen.List(jen.Id("s"), jen.Err()).Op(":=").Add(g.rt("SessionOf")).Call(jen.Id("self")),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(g.rt("Subscription").Values(), jen.Err())),
		jen.Return(jen.Id("s").Dot("Connect").Call(
			jen.Id("ctx"),
			jen.Id("self"),
			jen.Lit(s.Name),
			signature(sig),
			g.adapter(hd, jen.Id("fn"), g.rt("Lift").Call(jen.Id("args").Index(jen.Lit(0)), jen.Id("Wrap"+h.goName))),
		)),
	)
}
