package bindgen

import (
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

// call describes one generated native call.
type call struct {
	// entity owns the call in Output.Excluded.
	entity string
	method *ir.Method
	// recv is the receiver type of instance methods; empty for functions.
	recv string
	self *ir.TypeRef
	// ctor, when set, is the result type of a constructor.
	ctor *typemap.Surface
	// origin names the entity a renamed method was merged from.
	origin string
	// name picks the Go name once the call is known to be emitted.
	name func() string
}

// emitted summarizes a generated call.
type emitted struct {
	name    string
	inputs  []typemap.Surface
	results []typemap.Surface
	async   bool
}

// getter reports whether e takes nothing and returns one value.
func (e *emitted) getter() bool {
	return e != nil && !e.async && len(e.inputs) == 0 && len(e.results) == 1
}

// setter reports whether e takes one value and returns nothing.
func (e *emitted) setter() bool {
	return e != nil && !e.async && len(e.inputs) == 1 && len(e.results) == 0
}

// plan maps a call, recording why it cannot be emitted. The returned index
// is the completion callback of an async method, or -1.
func (g *generator) plan(c call) (*typemap.Plan, int, bool) {
	m := c.method
	if ok, reason := g.available(m); !ok {
		g.exclude(c.entity, m.Name, m.Symbol, reason)
		return nil, -1, false
	}
	plan, err := g.m.Plan(m, c.self)
	if err != nil {
		g.exclude(c.entity, m.Name, m.Symbol, err.Error())
		return nil, -1, false
	}
	if !m.IsAsync() {
		return plan, -1, true
	}

	slot := -1
	for i, a := range plan.Args {
		if a.Role != typemap.RoleValue || a.Mapping.ABI.Kind != abi.KindCallback || a.Mapping.ABI.Scope != abi.ScopeAsync {
			continue
		}
		if slot >= 0 {
			slot = -1
			break
		}
		slot = i
	}
	if slot < 0 {
		g.exclude(c.entity, m.Name, m.Symbol, "async method needs exactly one completion callback")
		return nil, -1, false
	}
	return plan, slot, true
}

// returned reports whether the runtime reports a value for a in Result.Outs.
func returned(a typemap.Arg) bool {
	switch a.Role {
	case typemap.RoleValue, typemap.RoleCapacity:
		return a.Mapping.ABI.Direction != abi.In
	}
	return false
}

// emitCall writes the Go function or method for c. It returns nil when the
// call was excluded.
func (g *generator) emitCall(f *jen.File, c call) *emitted {
	m := c.method
	plan, async, ok := g.plan(c)
	if !ok {
		return nil
	}
	name := c.name()
	out := &emitted{name: name, async: async >= 0}

	locals := newScope("ctx", "s", "res", "err", "self")
	names := make([]string, len(plan.Args))
	goNames := make(map[string]string)
	for i, a := range plan.Args {
		if a.Role == typemap.RoleSelf {
			names[i] = "self"
			continue
		}
		names[i] = locals.claim(a.Name)
		goNames[a.Name] = names[i]
	}

	params := []jen.Code{jen.Id("ctx").Qual("context", "Context")}
	if c.recv == "" {
		params = append(params, jen.Id("s").Op("*").Add(g.rt("Session")))
	}
	for i, a := range plan.Args {
		if !a.Input() || i == async {
			continue
		}
		params = append(params, jen.Id(names[i]).Add(g.typeCode(a.Mapping.Surface)))
		out.inputs = append(out.inputs, a.Mapping.Surface)
	}

	var lifts []jen.Code
	if async < 0 {
		if plan.Return.ABI.Kind != abi.KindVoid {
			s, v := plan.Return.Surface, g.lift(plan.Return, jen.Id("res").Dot("Value"))
			if c.ctor != nil && plan.Return.ABI.IsHandle() && !plan.Return.Placeholder {
				s = *c.ctor
				v = g.rt("Lift").Call(jen.Id("res").Dot("Value"), wrapFunc(s))
			}
			out.results = append(out.results, s)
			lifts = append(lifts, v)
		}
		k := 0
		for _, a := range plan.Args {
			if !returned(a) {
				continue
			}
			if a.Output() {
				out.results = append(out.results, a.Mapping.Surface)
				lifts = append(lifts, g.lift(a.Mapping, jen.Id("res").Dot("Out").Call(jen.Lit(k))))
			}
			k++
		}
	}

	args := make([]jen.Code, len(plan.Args))
	for i, a := range plan.Args {
		args[i] = g.arg(a, names[i], i == async)
	}
	invoke := "Invoke"
	if async >= 0 {
		invoke = "InvokeAsync"
	}
	dispatch := jen.Id("s").Dot(invoke).Call(
		jen.Id("ctx"),
		jen.Id("Library"),
		jen.Lit(m.Symbol),
		jen.Index().Add(g.rt("Arg")).Custom(jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}, args...),
		desc(plan.Return.ABI),
	)

	var results []jen.Code
	var zeros []jen.Code
	if async >= 0 {
		results = []jen.Code{jen.Op("*").Add(g.rt("Pending")), jen.Error()}
		zeros = []jen.Code{jen.Nil()}
	} else {
		for _, s := range out.results {
			results = append(results, g.typeCode(s))
			zeros = append(zeros, zero(s))
		}
		results = append(results, jen.Error())
	}

	var body []jen.Code
	if c.recv != "" {
		body = append(body,
			jen.List(jen.Id("s"), jen.Err()).Op(":=").Add(g.rt("SessionOf")).Call(jen.Id("self")),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(append(zeros, jen.Err())...)),
		)
	}
	switch {
	case async >= 0:
		body = append(body, jen.Return(dispatch))
	case len(lifts) == 0:
		op := ":="
		if c.recv != "" {
			op = "="
		}
		body = append(body,
			jen.List(jen.Id("_"), jen.Err()).Op(op).Add(dispatch),
			jen.Return(jen.Err()),
		)
	default:
		body = append(body,
			jen.List(jen.Id("res"), jen.Err()).Op(":=").Add(dispatch),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(append(zeros, jen.Err())...)),
			jen.Return(append(lifts, jen.Nil())...),
		)
	}

	lines := docLines(m.Doc, name+" calls "+m.Symbol+".")
	if c.origin != "" {
		lines = append(lines, "", "Reaches "+c.origin+"."+m.Name+", renamed to avoid a conflict.")
	}
	if len(plan.Relinquished) > 0 {
		var consumed []string
		for _, n := range plan.Relinquished {
			consumed = append(consumed, goNames[n])
		}
		lines = append(lines, "", "Invalidates the handle passed as "+strings.Join(consumed, ", ")+".")
	}
	if async >= 0 {
		lines = append(lines, "", "The returned Pending resolves with the completion callback's arguments.")
		if m.Finish != "" {
			lines = append(lines, "Complete the operation with "+m.Finish+".")
		}
	}
	if m.Deprecated != "" {
		lines = append(lines, "", "Deprecated: "+m.Deprecated)
	}
	comment(f, lines)

	fn := f.Func()
	if c.recv != "" {
		fn = fn.Params(jen.Id("self").Op("*").Id(c.recv))
	}
	fn.Id(name).Params(params...).Add(resultList(results)).Block(body...)
	return out
}

// arg renders the runtime.Arg of one planned argument.
func (g *generator) arg(a typemap.Arg, name string, async bool) jen.Code {
	d := desc(a.Mapping.ABI)
	dir := a.Mapping.ABI.Direction
	switch a.Role {
	case typemap.RoleSelf:
		return g.rt("In").Call(d, jen.Id("self"))
	case typemap.RoleError:
		return g.rt("Out").Call(d)
	case typemap.RoleLength, typemap.RoleClosure, typemap.RoleDestroy:
		return g.rt("Implicit").Call(d)
	case typemap.RoleCapacity:
		if dir == abi.In {
			return g.rt("In").Call(d, jen.Id(name))
		}
		return g.rt("InOut").Call(d, jen.Id(name))
	}
	switch {
	case async:
		return g.rt("Async").Call(d)
	case dir == abi.Out:
		return g.rt("Out").Call(d)
	case dir == abi.InOut:
		return g.rt("InOut").Call(d, g.lower(a.Mapping, jen.Id(name)))
	}
	return g.rt("In").Call(d, g.lower(a.Mapping, jen.Id(name)))
}

func resultList(results []jen.Code) jen.Code {
	if len(results) == 1 {
		return jen.Add(results[0])
	}
	return jen.Params(results...)
}

func docLines(doc, fallback string) []string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return []string{fallback}
	}
	return strings.Split(doc, "\n")
}

func comment(f *jen.File, lines []string) {
	for _, l := range lines {
		f.Comment(l)
	}
}

// constructorName names a constructor of typ: "new" is NewT, "new_from_x"
// is NewTFromX, anything else is NewT followed by the name.
func constructorName(typ, name string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(name, "new"), "_")
	if rest == "" {
		return "New" + typ
	}
	return "New" + typ + typemap.GoName(rest)
}
