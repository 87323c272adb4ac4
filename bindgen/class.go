package bindgen

import (
	"github.com/dave/jennifer/jen"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/resolve"
	"github.com/wippyai/nativebind/typemap"
)

// handle is a generated type embedding runtime.Ref.
type handle struct {
	entity string
	goName string
	self   ir.TypeRef
	// calls maps IR method names to their generated calls.
	calls map[string]*emitted
}

func newHandle(entity string) *handle {
	return &handle{
		entity: entity,
		goName: typemap.GoName(entity),
		self:   ir.TypeRef{Name: entity},
		calls:  make(map[string]*emitted),
	}
}

// declare writes the struct and its Wrap constructor. embed is the parent
// struct, or runtime.Ref for a root type.
func (g *generator) declare(f *jen.File, h *handle, doc string, embed jen.Code) {
	comment(f, docLines(doc, h.goName+" is a reference to a native "+g.qualified(h.entity)+"."))
	f.Type().Id(h.goName).Struct(embed)

	f.Commentf("Wrap%s returns the %s view of r.", h.goName, h.goName)
	f.Func().Id("Wrap"+h.goName).Params(jen.Id("r").Add(g.rt("Ref"))).Op("*").Id(h.goName).Block(
		jen.Id("v").Op(":=").Op("&").Id(h.goName).Values(),
		jen.Id("v").Dot("Ref").Op("=").Id("r"),
		jen.Return(jen.Id("v")),
	)
}

// methods writes the resolved method set of h: constructors and static
// functions declared by the entity, then instance methods.
func (g *generator) methods(f *jen.File, h *handle, set *resolve.Set) {
	for _, e := range set.Entries {
		m := e.Method
		if m.Kind == ir.KindInstance || e.Origin != h.entity {
			continue
		}
		c := call{entity: h.entity, method: m}
		if m.Kind == ir.KindConstructor {
			c.ctor = &typemap.Surface{Name: h.goName, Pointer: true}
			c.name = func() string { return g.pkg.claim(constructorName(h.goName, m.Name)) }
		} else {
			c.name = func() string { return g.pkg.claim(h.goName + typemap.GoName(e.Name)) }
		}
		g.emitCall(f, c)
	}

	for _, e := range set.Entries {
		m := e.Method
		if m.Kind != ir.KindInstance {
			continue
		}
		c := call{
			entity: h.entity,
			method: m,
			recv:   h.goName,
			self:   &h.self,
			name:   func() string { return g.memberName(h.entity, e.Name) },
		}
		if e.Origin == h.entity {
			c.name = func() string { return g.ownMethodName(h.entity, e.Name) }
		}
		if e.Renamed {
			c.origin = e.Origin
		}
		if out := g.emitCall(f, c); out != nil && e.Origin == h.entity {
			h.calls[m.Name] = out
		}
	}
}

// properties writes accessor aliases for properties whose getter or setter
// method was emitted under another name.
func (g *generator) properties(f *jen.File, h *handle, props []*ir.Property) {
	members := g.memberScope(h.entity)
	for _, p := range props {
		if get := h.calls[p.Getter]; p.Getter != "" && get.getter() {
			name := typemap.GoName(p.Name)
			if name != get.name && members.free(name) {
				members.claim(name)
				f.Commentf("%s returns the %s property.", name, p.Name)
				f.Func().Params(jen.Id("self").Op("*").Id(h.goName)).Id(name).
					Params(jen.Id("ctx").Qual("context", "Context")).
					Params(g.typeCode(get.results[0]), jen.Error()).
					Block(jen.Return(jen.Id("self").Dot(get.name).Call(jen.Id("ctx"))))
			}
		}
		if set := h.calls[p.Setter]; p.Setter != "" && set.setter() {
			name := "Set" + typemap.GoName(p.Name)
			if name != set.name && members.free(name) {
				members.claim(name)
				f.Commentf("%s sets the %s property.", name, p.Name)
				f.Func().Params(jen.Id("self").Op("*").Id(h.goName)).Id(name).
					Params(jen.Id("ctx").Qual("context", "Context"), jen.Id("value").Add(g.typeCode(set.inputs[0]))).
					Error().
					Block(jen.Return(jen.Id("self").Dot(set.name).Call(jen.Id("ctx"), jen.Id("value"))))
			}
		}
	}
}

func (g *generator) class(c *ir.Class) *jen.File {
	f := g.newFile()
	h := newHandle(c.Name)

	embed := g.rt("Ref")
	if c.Parent != "" {
		parent, owner, _ := g.ns.Lookup(c.Parent)
		embed = jen.Id(typemap.GoName(parent.EntityName()))
		if owner != g.ns {
			embed = jen.Qual(g.cfg.Packages[owner.Name], typemap.GoName(parent.EntityName()))
		}
	}
	g.declare(f, h, c.Doc, embed)
	g.memberScope(c.Name)

	set, err := g.r.MethodSet(c.Name)
	if err != nil {
		Logger().Warn("no method set", zap.String("class", c.Name), zap.Error(err))
		return f
	}
	g.methods(f, h, set)
	g.views(f, h, append(append([]string(nil), c.Interfaces...), set.Interfaces...))
	g.properties(f, h, c.Properties)
	for _, s := range c.Signals {
		g.signal(f, h, s)
	}
	return f
}

// views writes an As<Interface> conversion for every interface the class
// itself declares. Inherited views are promoted from the parent.
func (g *generator) views(f *jen.File, h *handle, names []string) {
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		mp, err := g.m.Map(ir.TypeRef{Name: name}, typemap.PositionReturn, nil)
		if err != nil || mp.Placeholder || mp.Category != ir.CategoryInterface {
			continue
		}
		as := g.memberScope(h.entity).claim("As" + mp.Surface.Name)
		f.Commentf("%s returns the %s view of self.", as, mp.Surface.Name)
		f.Func().Params(jen.Id("self").Op("*").Id(h.goName)).Id(as).Params().
			Add(g.typeCode(mp.Surface)).
			Block(jen.Return(wrapFunc(mp.Surface).Call(jen.Id("self").Dot("Ref"))))
	}
}
