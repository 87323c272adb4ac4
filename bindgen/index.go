package bindgen

import (
	"sort"

	"github.com/dave/jennifer/jen"

	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

// functions writes the free functions of the namespace.
func (g *generator) functions() *jen.File {
	f := g.newFile()
	n := 0
	for _, m := range g.ns.Functions {
		c := call{
			entity: g.ns.Name,
			method: m,
			name:   func() string { return g.pkg.claim(typemap.GoName(m.Name)) },
		}
		if g.emitCall(f, c) != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return f
}

// index writes the package documentation, the library name, the file list
// and RegisterTypes.
func (g *generator) index() *jen.File {
	f := jen.NewFile(g.out.Package)
	f.HeaderComment(Header)
	f.ImportName(g.cfg.RuntimePath, "runtime")

	doc := "Package " + g.out.Package + " binds the " + g.ns.Name + " namespace of " + g.ns.Library
	if g.ns.Version != "" {
		doc += " " + g.ns.Version
	}
	f.PackageComment(doc + ".")

	f.Comment("Library is the native library every call of this package goes to.")
	f.Const().Id("Library").Op("=").Lit(g.ns.Library)

	names := append(g.out.Names(), "index.go")
	sort.Strings(names)
	files := make([]jen.Code, len(names))
	for i, n := range names {
		files[i] = jen.Lit(n)
	}
	f.Comment("Files lists the generated files of this package.")
	f.Var().Id("Files").Op("=").Index().String().Custom(jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}, files...)

	var regs []jen.Code
	for _, name := range g.ifaces {
		if i, ok := g.ns.Interface(name); ok && g.emitted(name) {
			regs = append(regs, g.register(i.Name, "", i.Prerequisites, i.TypeFunc, g.prerequisiteFree(i), true))
		}
	}
	for _, name := range g.classes {
		c, ok := g.ns.Class(name)
		if !ok || !g.emitted(name) {
			continue
		}
		regs = append(regs, g.register(c.Name, c.Parent, c.Interfaces, c.TypeFunc, g.freeFunc(name), true))
	}
	for _, rec := range g.ns.Records {
		if g.emitted(rec.Name) {
			regs = append(regs, g.register(rec.Name, "", nil, rec.TypeFunc, rec.FreeFunc, false))
		}
	}

	f.Comment("RegisterTypes adds the types of this package to s so handles lift")
	f.Comment("to their most derived wrapper.")
	f.Func().Id("RegisterTypes").Params(jen.Id("s").Op("*").Add(g.rt("Session"))).Block(regs...)
	return f
}

// freeFunc returns the function releasing an owned instance of a class.
func (g *generator) freeFunc(name string) string {
	mp, err := g.m.Map(ir.TypeRef{Name: name}, typemap.PositionReturn, nil)
	if err != nil {
		return ""
	}
	return mp.ABI.FreeFunc
}

// prerequisiteFree returns the unref function of the first prerequisite
// class of i. Owned interface values are released through it.
func (g *generator) prerequisiteFree(i *ir.Interface) string {
	for _, p := range i.Prerequisites {
		if _, ok := g.ns.Class(p); !ok {
			continue
		}
		if free := g.freeFunc(p); free != "" {
			return free
		}
	}
	return ""
}

// register renders one RegisterClass call.
func (g *generator) register(name, parent string, ifaces []string, typeFunc, free string, refcounted bool) jen.Code {
	fields := jen.Dict{
		jen.Id("Name"):    jen.Lit(g.qualified(name)),
		jen.Id("Library"): jen.Id("Library"),
		jen.Id("New"): jen.Func().Params(jen.Id("r").Add(g.rt("Ref"))).Id("any").Block(
			jen.Return(jen.Id("Wrap" + typemap.GoName(name)).Call(jen.Id("r"))),
		),
	}
	if parent != "" {
		fields[jen.Id("Parent")] = jen.Lit(g.qualified(parent))
	}
	var qualified []jen.Code
	for _, i := range ifaces {
		if _, _, ok := g.ns.Lookup(i); ok {
			qualified = append(qualified, jen.Lit(g.qualified(i)))
		}
	}
	if len(qualified) > 0 {
		fields[jen.Id("Interfaces")] = jen.Index().String().Values(qualified...)
	}
	if typeFunc != "" {
		fields[jen.Id("TypeFunc")] = jen.Lit(typeFunc)
	}
	if free != "" {
		fields[jen.Id("Free")] = jen.Lit(free)
	}
	if refcounted {
		fields[jen.Id("Refcounted")] = jen.True()
	}
	return jen.Id("s").Dot("RegisterClass").Call(g.rt("Class").Values(fields))
}
