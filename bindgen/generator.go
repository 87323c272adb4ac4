package bindgen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dave/jennifer/jen"
	"github.com/golang-cz/textcase"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/resolve"
	"github.com/wippyai/nativebind/typemap"
)

// refMembers are promoted from the embedded runtime.Ref into every
// generated type.
var refMembers = []string{
	"Ref", "NativeRef", "IsNil", "Handle", "Session", "Object",
	"TypeName", "Live", "Check", "Release", "Retain", "Wrapped",
}

// Generator emits Go bindings for namespaces.
type Generator struct {
	cfg Config
}

// New creates a generator.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg.withDefaults()}
}

// generator is the state of one Generate call.
type generator struct {
	cfg     Config
	ns      *ir.Namespace
	m       *typemap.Mapper
	r       *resolve.Resolver
	target  *semver.Constraints
	out     *Output
	pkg     *scope
	members map[string]*scope
	classes []string
	ifaces  []string
}

// Generate emits the binding package of ns. Entities that cannot be
// represented are skipped and methods that cannot be marshaled are
// excluded; both are reported in the Output rather than failing the run.
func (gen *Generator) Generate(ns *ir.Namespace) (*Output, error) {
	if err := ir.Validate(ns); err != nil {
		return nil, err
	}
	target, err := gen.cfg.constraint()
	if err != nil {
		return nil, err
	}
	classes, err := resolve.EmissionOrder(ns)
	if err != nil {
		return nil, err
	}
	ifaces, err := resolve.InterfaceOrder(ns)
	if err != nil {
		return nil, err
	}

	pkg := gen.cfg.Package
	if pkg == "" {
		pkg = PackageName(ns.Name)
	}
	g := &generator{
		cfg: gen.cfg,
		ns:  ns,
		m: typemap.New(ns, typemap.Config{
			Packages:    gen.cfg.Packages,
			RuntimePath: gen.cfg.RuntimePath,
			Conventions: gen.cfg.Conventions,
		}),
		r:       resolve.New(ns),
		target:  target,
		out:     &Output{Package: pkg},
		pkg:     newScope("Library", "Files", "RegisterTypes"),
		members: make(map[string]*scope),
		classes: classes,
		ifaces:  ifaces,
	}

	g.prepare()
	if err := g.emit(); err != nil {
		return nil, err
	}
	sort.Slice(g.out.Files, func(i, j int) bool { return g.out.Files[i].Name < g.out.Files[j].Name })

	Logger().Info("generated package",
		zap.String("namespace", ns.Name),
		zap.String("package", pkg),
		zap.Int("files", len(g.out.Files)),
		zap.Int("skipped", len(g.out.Skipped)),
		zap.Int("excluded", len(g.out.Excluded)))
	return g.out, nil
}

// PackageName derives a Go package name from a namespace name.
func PackageName(ns string) string {
	return strings.ToLower(textcase.CamelCase(ns))
}

// prepare decides which entities are emitted, before any reference to them
// is mapped, and claims their package-level names.
func (g *generator) prepare() {
	for _, rec := range g.ns.Records {
		if g.m.RecordKind(rec) == typemap.RecordPlain {
			if _, err := g.m.Layout(rec); err != nil {
				g.skip(rec.Name, "layout: "+err.Error())
				continue
			}
		}
		g.claimType(rec.Name)
	}

	for _, name := range g.classes {
		c, _ := g.ns.Class(name)
		if reason := g.parentProblem(c); reason != "" {
			g.skip(name, reason)
			continue
		}
		g.claimType(name)
	}

	for _, name := range g.ifaces {
		g.claimType(name)
	}

	for _, cb := range g.ns.Callbacks {
		if _, err := g.m.CallbackSignature(cb); err != nil {
			g.skip(cb.Name, err.Error())
			continue
		}
		if !g.pkg.free(typemap.GoName(cb.Name)) {
			g.skip(cb.Name, "name collides with another entity")
			continue
		}
		g.pkg.claim(typemap.GoName(cb.Name))
	}

	for _, e := range g.ns.Enums {
		if !g.pkg.free(typemap.GoName(e.Name)) {
			g.skip(e.Name, "name collides with another entity")
			continue
		}
		g.pkg.claim(typemap.GoName(e.Name))
	}
}

// parentProblem explains why a class cannot embed its parent.
func (g *generator) parentProblem(c *ir.Class) string {
	if c.Parent == "" {
		return ""
	}
	_, owner, ok := g.ns.Lookup(c.Parent)
	switch {
	case !ok:
		return "unknown parent " + c.Parent
	case owner == g.ns && g.m.IsSkipped(c.Parent):
		return "parent " + c.Parent + " was skipped"
	case owner != g.ns && g.cfg.Packages[owner.Name] == "":
		return "no package for parent namespace " + owner.Name
	}
	return ""
}

// claimType reserves a handle type and its view constructor, skipping the
// entity when either name is taken.
func (g *generator) claimType(name string) {
	goName := typemap.GoName(name)
	if !g.pkg.free(goName) || !g.pkg.free("Wrap"+goName) {
		g.skip(name, "name collides with another entity")
		return
	}
	g.pkg.claim(goName)
	g.pkg.claim("Wrap" + goName)
}

func (g *generator) skip(entity, reason string) {
	g.m.Skip(entity)
	g.out.Skipped = append(g.out.Skipped, Skip{Entity: entity, Reason: reason})
	Logger().Warn("skipped entity", zap.String("entity", entity), zap.String("reason", reason))
}

func (g *generator) exclude(entity, member, symbol, reason string) {
	g.out.Excluded = append(g.out.Excluded, Exclusion{
		Entity: entity,
		Method: member,
		Symbol: symbol,
		Reason: reason,
	})
	Logger().Info("excluded member",
		zap.String("entity", entity),
		zap.String("member", member),
		zap.String("reason", reason))
}

// emitted reports whether an entity of this namespace gets generated code.
func (g *generator) emitted(name string) bool {
	return !g.m.IsSkipped(name)
}

// available reports whether m exists in the target library version.
func (g *generator) available(m *ir.Method) (bool, string) {
	if g.target == nil || m.Since == "" {
		return true, ""
	}
	v, err := semver.NewVersion(m.Since)
	if err != nil {
		Logger().Debug("unparsable since version",
			zap.String("symbol", m.Symbol),
			zap.String("since", m.Since))
		return true, ""
	}
	if !g.target.Check(v) {
		return false, fmt.Sprintf("since %s is outside target %s", m.Since, g.cfg.Target)
	}
	return true, ""
}

func (g *generator) emit() error {
	for _, rec := range g.ns.Records {
		if g.emitted(rec.Name) {
			if err := g.render(typemap.FileName(rec.Name), g.record(rec)); err != nil {
				return err
			}
		}
	}
	for _, name := range g.classes {
		if g.emitted(name) {
			c, _ := g.ns.Class(name)
			if err := g.render(typemap.FileName(name), g.class(c)); err != nil {
				return err
			}
		}
	}
	for _, name := range g.ifaces {
		if g.emitted(name) {
			i, _ := g.ns.Interface(name)
			if err := g.render(typemap.FileName(name), g.iface(i)); err != nil {
				return err
			}
		}
	}

	aggregates := []struct {
		name string
		fn   func() *jen.File
	}{
		{"callbacks.go", g.callbacks},
		{"enums.go", g.enums},
		{"constants.go", g.constants},
		{"functions.go", g.functions},
	}
	for _, a := range aggregates {
		if f := a.fn(); f != nil {
			if err := g.render(a.name, f); err != nil {
				return err
			}
		}
	}
	return g.render("index.go", g.index())
}

func (g *generator) newFile() *jen.File {
	f := jen.NewFile(g.out.Package)
	f.HeaderComment(Header)
	f.ImportName(g.cfg.RuntimePath, "runtime")
	f.ImportName(ABIPath, "abi")
	return f
}

func (g *generator) render(name string, f *jen.File) error {
	if g.fileTaken(name) {
		return errors.New(errors.PhaseGenerate, errors.KindInvalidInput).
			Path(g.ns.Name, name).
			Detail("two entities generate the same file").
			Build()
	}
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return errors.Wrap(errors.PhaseGenerate, errors.KindInvalidData, err, "render "+name)
	}
	g.out.Files = append(g.out.Files, File{Name: name, Content: buf.Bytes()})
	return nil
}

func (g *generator) fileTaken(name string) bool {
	for _, f := range g.out.Files {
		if f.Name == name {
			return true
		}
	}
	return false
}

// qualified returns the registered type name of an entity reference.
func (g *generator) qualified(name string) string {
	e, owner, ok := g.ns.Lookup(name)
	if !ok {
		return name
	}
	return owner.Name + "." + e.EntityName()
}

// scope hands out unique Go identifiers.
type scope struct {
	used map[string]bool
	// inherited names are promoted from an embedded type. A method declared
	// on the type itself may reuse one and shadow it.
	inherited map[string]bool
}

func newScope(reserved ...string) *scope {
	s := &scope{used: make(map[string]bool), inherited: make(map[string]bool)}
	for _, n := range reserved {
		s.used[n] = true
	}
	return s
}

func (s *scope) free(name string) bool {
	return !s.used[name]
}

// claim reserves name, numbering it when taken, and returns the result.
func (s *scope) claim(name string) string {
	n := name
	for i := 2; s.used[n]; i++ {
		n = fmt.Sprintf("%s%d", name, i)
	}
	s.used[n] = true
	return n
}

// clone returns the scope of an embedding type: every name is taken and
// all but the runtime.Ref members may be shadowed.
func (s *scope) clone() *scope {
	c := newScope()
	for n := range s.used {
		c.used[n] = true
		c.inherited[n] = true
	}
	for _, r := range refMembers {
		delete(c.inherited, r)
	}
	return c
}

// shadow claims name for a method declared on the type itself, reusing an
// inherited name once.
func (s *scope) shadow(name string) string {
	if s.inherited[name] {
		delete(s.inherited, name)
		return name
	}
	return s.claim(name)
}

// memberScope returns the member names of a generated type, seeded with
// everything it inherits.
func (g *generator) memberScope(name string) *scope {
	if s, ok := g.members[name]; ok {
		return s
	}
	var s *scope
	if c, ok := g.ns.Class(name); ok && c.Parent != "" {
		_, owner, _ := g.ns.Lookup(c.Parent)
		if owner == g.ns {
			s = g.memberScope(c.Parent).clone()
		} else {
			s = newScope(refMembers...)
		}
		parent, _, _ := g.ns.Lookup(c.Parent)
		s.claim(typemap.GoName(parent.EntityName()))
	} else {
		s = newScope(refMembers...)
	}
	g.members[name] = s
	return s
}

// memberName picks the Go name of a member, steering clear of the promoted
// runtime.Ref methods.
func (g *generator) memberName(owner string, name string) string {
	return g.memberScope(owner).claim(memberGoName(name))
}

// ownMethodName is memberName for a method the type declares itself. It
// shadows an inherited member of the same name.
func (g *generator) ownMethodName(owner string, name string) string {
	return g.memberScope(owner).shadow(memberGoName(name))
}

func memberGoName(name string) string {
	goName := typemap.GoName(name)
	for _, r := range refMembers {
		if goName == r {
			return "Native" + goName
		}
	}
	return goName
}
