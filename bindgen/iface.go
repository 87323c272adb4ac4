package bindgen

import (
	"github.com/dave/jennifer/jen"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/ir"
)

// iface writes an interface as a reference type carrying the flattened
// method set of the interface and its prerequisites.
func (g *generator) iface(i *ir.Interface) *jen.File {
	f := g.newFile()
	h := newHandle(i.Name)
	g.declare(f, h, i.Doc, g.rt("Ref"))

	set, err := g.r.MethodSet(i.Name)
	if err != nil {
		Logger().Warn("no method set", zap.String("interface", i.Name), zap.Error(err))
		return f
	}
	g.methods(f, h, set)
	g.properties(f, h, i.Properties)
	for _, s := range i.Signals {
		g.signal(f, h, s)
	}
	return f
}
