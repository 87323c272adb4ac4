package bindgen

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
)

func geomNamespace() *ir.Namespace {
	ns := &ir.Namespace{
		Name:    "Geom",
		Version: "1.2.0",
		Library: "geom",
		Enums: []*ir.Enum{
			{Name: "Color", Members: []*ir.Member{{Name: "red"}, {Name: "green", Value: 1}, {Name: "blue", Value: 2}, {Name: "crimson"}}},
			{Name: "Caps", Flags: true, Members: []*ir.Member{{Name: "fill", Value: 1}, {Name: "stroke", Value: 2}}},
		},
		Records: []*ir.Record{
			{Name: "Point", Fields: []*ir.Field{
				{Name: "x", Type: ir.TypeRef{Name: "double"}},
				{Name: "y", Type: ir.TypeRef{Name: "double"}, Writable: true},
				{Name: "tint", Type: ir.TypeRef{Name: "Color"}, Writable: true},
			}},
			{Name: "Tiny", Size: 2, Fields: []*ir.Field{
				{Name: "x", Type: ir.TypeRef{Name: "double"}},
			}},
			{Name: "Path", Opaque: true, FreeFunc: "geom_path_free", Methods: []*ir.Method{
				{Name: "length", Symbol: "geom_path_length", Return: ir.TypeRef{Name: "double"}},
			}},
		},
		Classes: []*ir.Class{
			{Name: "Circle", Parent: "Shape", TypeFunc: "geom_circle_get_type", Methods: []*ir.Method{
				{Name: "new", Symbol: "geom_circle_new", Kind: ir.KindConstructor,
					Params: []*ir.Param{{Name: "radius", Type: ir.TypeRef{Name: "double"}}},
					Return: ir.TypeRef{Name: "Circle", Transfer: ir.TransferFull}},
				{Name: "radius", Symbol: "geom_circle_radius", Return: ir.TypeRef{Name: "double"}},
			}},
			{Name: "Shape", TypeFunc: "geom_shape_get_type", UnrefFunc: "geom_shape_unref", Abstract: true,
				Interfaces: []string{"Bounded"},
				Methods: []*ir.Method{
					{Name: "area", Symbol: "geom_shape_area", Return: ir.TypeRef{Name: "double"}, Doc: "Area returns the covered area."},
					{Name: "release", Symbol: "geom_shape_release"},
					{Name: "adopt", Symbol: "geom_shape_adopt", Params: []*ir.Param{
						{Name: "child", Type: ir.TypeRef{Name: "Shape", Transfer: ir.TransferFull}},
					}},
					{Name: "grow", Symbol: "geom_shape_grow", Since: "2.4"},
					{Name: "fill", Symbol: "geom_shape_fill", Params: []*ir.Param{
						{Name: "out", Direction: ir.DirOut, Type: ir.TypeRef{Name: "array", Arity: ir.ArityLength, Elem: &ir.TypeRef{Name: "gint"}}},
					}},
					{Name: "get_name", Symbol: "geom_shape_get_name", Return: ir.TypeRef{Name: "utf8"}},
					{Name: "set_name", Symbol: "geom_shape_set_name", Params: []*ir.Param{{Name: "name", Type: ir.TypeRef{Name: "utf8"}}}},
					{Name: "attach", Symbol: "geom_shape_attach", Params: []*ir.Param{{Name: "widget", Type: ir.TypeRef{Name: "Widget"}}}},
					{Name: "paint", Symbol: "geom_shape_paint", Throws: true, Deprecated: "use Fill", Params: []*ir.Param{
						{Name: "color", Type: ir.TypeRef{Name: "Color"}},
					}, Return: ir.TypeRef{Name: "gboolean"}},
				},
				Properties: []*ir.Property{{Name: "name", Type: ir.TypeRef{Name: "utf8"}, Getter: "get_name", Setter: "set_name", Readable: true, Writable: true}},
				Signals:    []*ir.Signal{{Name: "changed", Params: []*ir.Param{{Name: "value", Type: ir.TypeRef{Name: "gint"}}}}},
			},
			{Name: "Widget", Parent: "Gfx.Base"},
		},
		Interfaces: []*ir.Interface{
			{Name: "Bounded", TypeFunc: "geom_bounded_get_type", Methods: []*ir.Method{
				{Name: "get_width", Symbol: "geom_bounded_get_width", Return: ir.TypeRef{Name: "double"}},
			}},
		},
		Callbacks: []*ir.Callback{
			{Name: "Visitor", Params: []*ir.Param{{Name: "shape", Type: ir.TypeRef{Name: "Shape"}}}, Return: ir.TypeRef{Name: "gboolean"}},
		},
		Functions: []*ir.Method{
			{Name: "visit_all", Symbol: "geom_visit_all", Kind: ir.KindStatic, Params: []*ir.Param{
				{Name: "visitor", Type: ir.TypeRef{Name: "Visitor"}},
			}},
		},
		Constants: []*ir.Constant{
			{Name: "MAX_SIDES", Type: ir.TypeRef{Name: "gint"}, Value: "64"},
			{Name: "LABEL", Type: ir.TypeRef{Name: "utf8"}, Value: "geom"},
			{Name: "BROKEN", Type: ir.TypeRef{Name: "gint"}, Value: "many"},
		},
	}
	ns.AddImport(&ir.Namespace{Name: "Gfx", Library: "gfx", Classes: []*ir.Class{{Name: "Base"}}})
	ns.Reindex()
	return ns
}

func generate(t *testing.T, cfg Config) *Output {
	t.Helper()
	out, err := New(cfg).Generate(geomNamespace())
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// squash collapses whitespace so checks do not depend on gofmt alignment.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func contains(t *testing.T, out *Output, file string, want ...string) {
	t.Helper()
	f, ok := out.File(file)
	if !ok {
		t.Fatalf("no file %s in %v", file, out.Names())
	}
	got := squash(string(f.Content))
	for _, w := range want {
		if !strings.Contains(got, squash(w)) {
			t.Errorf("%s does not contain %q", file, w)
		}
	}
}

func excluded(out *Output, method string) (Exclusion, bool) {
	for _, e := range out.Excluded {
		if e.Method == method {
			return e, true
		}
	}
	return Exclusion{}, false
}

func TestFiles(t *testing.T) {
	out := generate(t, Config{})

	want := []string{
		"bounded.go", "callbacks.go", "circle.go", "constants.go", "enums.go",
		"functions.go", "index.go", "path.go", "point.go", "shape.go",
	}
	if got := out.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if out.Package != "geom" {
		t.Errorf("Package = %q, want geom", out.Package)
	}
	for _, f := range out.Files {
		if !bytes.HasPrefix(f.Content, []byte("// "+Header)) {
			t.Errorf("%s does not start with the generated header", f.Name)
		}
	}
	contains(t, out, "index.go",
		"package geom",
		`const Library = "geom"`,
		`"shape.go",`,
		`"index.go",`,
	)
}

func TestDeterministic(t *testing.T) {
	a := generate(t, Config{})
	b := generate(t, Config{})
	if len(a.Files) != len(b.Files) {
		t.Fatalf("file counts differ: %d and %d", len(a.Files), len(b.Files))
	}
	for i := range a.Files {
		if a.Files[i].Name != b.Files[i].Name || !bytes.Equal(a.Files[i].Content, b.Files[i].Content) {
			t.Errorf("%s differs between runs", a.Files[i].Name)
		}
	}
}

func TestSkippedParentDegrades(t *testing.T) {
	out := generate(t, Config{})

	if !out.IsSkipped("Widget") {
		t.Fatalf("Widget not skipped: %+v", out.Skipped)
	}
	if !out.IsSkipped("Tiny") {
		t.Errorf("record with an impossible layout not skipped: %+v", out.Skipped)
	}
	if _, ok := out.File("widget.go"); ok {
		t.Error("skipped class has a file")
	}
	contains(t, out, "shape.go",
		"func (self *Shape) Attach(ctx context.Context, widget runtime.Handle) error {",
	)
	f, _ := out.File("index.go")
	if strings.Contains(string(f.Content), "Geom.Widget") {
		t.Error("skipped class is registered")
	}
}

func TestClass(t *testing.T) {
	out := generate(t, Config{})

	contains(t, out, "shape.go",
		"type Shape struct { runtime.Ref }",
		"func WrapShape(r runtime.Ref) *Shape {",
		"// Area returns the covered area.",
		"func (self *Shape) Area(ctx context.Context) (float64, error) {",
		"s, err := runtime.SessionOf(self)",
		`res, err := s.Invoke(ctx, Library, "geom_shape_area", []runtime.Arg{ runtime.In(abi.Object("Geom.Shape", "geom_shape_get_type", abi.TransferNone).WithFreeFunc("geom_shape_unref"), self), }, abi.F64())`,
		"return runtime.Get[float64](res.Value), nil",
		"func (self *Shape) NativeRelease(ctx context.Context) error {",
		"_, err = s.Invoke(",
		"// Invalidates the handle passed as child.",
		"func (self *Shape) Adopt(ctx context.Context, child *Shape) error {",
		"runtime.In(abi.Object(\"Geom.Shape\", \"geom_shape_get_type\", abi.TransferFull).WithFreeFunc(\"geom_shape_unref\"), runtime.RefArg(child)),",
		"func (self *Shape) AsBounded() *Bounded {",
		"return WrapBounded(self.Ref)",
		"func (self *Shape) GetWidth(ctx context.Context) (float64, error) {",
		"func (self *Shape) Name(ctx context.Context) (string, error) {",
		"return self.GetName(ctx)",
		"func (self *Shape) ConnectChanged(ctx context.Context, fn func(ctx context.Context, self *Shape, value int32) error) (runtime.Subscription, error) {",
		"return nil, fn(ctx, runtime.Lift(args[0], WrapShape), runtime.Get[int32](args[1]))",
		"// Deprecated: use Fill",
		"func (self *Shape) Paint(ctx context.Context, color Color) (bool, error) {",
		"runtime.In(abi.Enum(4, true), int32(color)),",
		"runtime.Out(abi.Error()),",
	)
	contains(t, out, "circle.go",
		"type Circle struct { Shape }",
		"func NewCircle(ctx context.Context, s *runtime.Session, radius float64) (*Circle, error) {",
		"return runtime.Lift(res.Value, WrapCircle), nil",
		"func (self *Circle) Radius(ctx context.Context) (float64, error) {",
	)

	f, _ := out.File("shape.go")
	if strings.Contains(string(f.Content), "func (self *Shape) SetName2") {
		t.Error("setter alias duplicated the setter")
	}
	c, _ := out.File("circle.go")
	if strings.Contains(string(c.Content), "GetWidth") {
		t.Error("child class repeats interface methods its parent implements")
	}
}

func TestExcludedMethods(t *testing.T) {
	out := generate(t, Config{})

	e, ok := excluded(out, "fill")
	if !ok {
		t.Fatal("fill with an undeclared length was not excluded")
	}
	if e.Entity != "Shape" || e.Symbol != "geom_shape_fill" {
		t.Errorf("exclusion = %+v", e)
	}
	if !strings.Contains(e.Reason, "length parameter not declared") {
		t.Errorf("Reason = %q", e.Reason)
	}
	if f, _ := out.File("shape.go"); strings.Contains(string(f.Content), "geom_shape_fill") {
		t.Error("excluded method was emitted")
	}
	if _, ok := excluded(out, "grow"); ok {
		t.Error("grow excluded without a target")
	}
	if _, ok := excluded(out, "BROKEN"); !ok {
		t.Error("unparsable constant not excluded")
	}
}

func TestTargetGating(t *testing.T) {
	out := generate(t, Config{Target: "< 2.0"})

	e, ok := excluded(out, "grow")
	if !ok {
		t.Fatal("grow since 2.4 not excluded for target < 2.0")
	}
	if !strings.Contains(e.Reason, "2.4") {
		t.Errorf("Reason = %q", e.Reason)
	}
	contains(t, out, "shape.go", "func (self *Shape) Area(")

	_, err := New(Config{Target: "not a version"}).Generate(geomNamespace())
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseGenerate, Kind: errors.KindInvalidInput}) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestRecords(t *testing.T) {
	out := generate(t, Config{})

	contains(t, out, "point.go",
		"func NewPoint(ctx context.Context, s *runtime.Session) (*Point, error) {",
		`r, err := s.Allocate(ctx, 24, "Geom.Point", Library)`,
		"func (self *Point) X(ctx context.Context) (float64, error) {",
		"return runtime.ReadField[float64](ctx, runtime.ViewRef(self), abi.F64(), 0)",
		"func (self *Point) SetY(ctx context.Context, value float64) error {",
		"return runtime.WriteField(ctx, runtime.ViewRef(self), abi.F64(), 8, value)",
		"v, err := runtime.ReadField[int32](ctx, runtime.ViewRef(self), abi.Enum(4, true), 16)",
		"return Color(v), err",
		"runtime.WriteField(ctx, runtime.ViewRef(self), abi.Enum(4, true), 16, int32(value))",
	)
	if f, _ := out.File("point.go"); strings.Contains(string(f.Content), "SetX") {
		t.Error("read-only field has a setter")
	}
	contains(t, out, "path.go",
		"func (self *Path) Length(ctx context.Context) (float64, error) {",
		`abi.Boxed("Geom.Path", "geom_path_free", 0, abi.TransferNone)`,
	)
}

func TestAggregates(t *testing.T) {
	out := generate(t, Config{})

	contains(t, out, "enums.go",
		"type Color int32",
		"ColorGreen Color = 1",
		`case ColorRed: return "red"`,
		`return fmt.Sprintf("Color(%d)", int32(v))`,
		"type Caps uint32",
		"func (v Caps) Has(flag Caps) bool {",
	)
	f, _ := out.File("enums.go")
	if strings.Contains(string(f.Content), "case ColorCrimson") {
		t.Error("aliased enum value has its own case")
	}
	contains(t, out, "callbacks.go",
		"type Visitor func(ctx context.Context, shape *Shape) (bool, error)",
		"func (f Visitor) Native() runtime.Callback {",
		"ret, err := f(ctx, runtime.Lift(args[0], WrapShape))",
	)
	contains(t, out, "functions.go",
		"func VisitAll(ctx context.Context, s *runtime.Session, visitor Visitor) error {",
		"runtime.In(abi.Callback(",
		"visitor.Native()",
	)
	contains(t, out, "constants.go",
		"MaxSides int32 = 64",
		`Label string = "geom"`,
	)
}

func TestRegisterTypes(t *testing.T) {
	out := generate(t, Config{})

	f, _ := out.File("index.go")
	src := squash(string(f.Content))
	order := []string{`Name: "Geom.Bounded"`, `Name: "Geom.Shape"`, `Name: "Geom.Circle"`, `Name: "Geom.Point"`}
	last := -1
	for _, o := range order {
		i := strings.Index(src, o)
		if i < 0 {
			t.Fatalf("index.go does not register %s", o)
		}
		if i < last {
			t.Errorf("%s registered out of order", o)
		}
		last = i
	}
	contains(t, out, "index.go",
		`Parent: "Geom.Shape"`,
		`Free: "geom_shape_unref"`,
		`Interfaces: []string{"Geom.Bounded"}`,
		"New: func(r runtime.Ref) any { return WrapCircle(r) }",
	)
}

func TestRegisterInterfacePrerequisites(t *testing.T) {
	ns := &ir.Namespace{
		Name:    "Toy",
		Library: "toy",
		Classes: []*ir.Class{
			{Name: "Base", TypeFunc: "toy_base_get_type", UnrefFunc: "toy_base_unref"},
		},
		Interfaces: []*ir.Interface{
			{Name: "Sized", TypeFunc: "toy_sized_get_type", Prerequisites: []string{"Base"}, Methods: []*ir.Method{
				{Name: "get_size", Symbol: "toy_sized_get_size", Return: ir.TypeRef{Name: "gint"}},
			}},
		},
	}
	ns.Reindex()
	out, err := New(Config{}).Generate(ns)
	if err != nil {
		t.Fatal(err)
	}

	f, _ := out.File("index.go")
	src := squash(string(f.Content))
	i := strings.Index(src, `Name: "Toy.Sized"`)
	if i < 0 {
		t.Fatalf("index.go does not register Toy.Sized:\n%s", src)
	}
	start := strings.LastIndex(src[:i], "RegisterClass(")
	end := strings.Index(src[i:], "})")
	if start < 0 || end < 0 {
		t.Fatalf("malformed registration:\n%s", src)
	}
	sized := src[start : i+end]
	for _, want := range []string{`Interfaces: []string{"Toy.Base"}`, `Free: "toy_base_unref"`, "Refcounted: true"} {
		if !strings.Contains(sized, want) {
			t.Errorf("Toy.Sized registration %q does not contain %q", sized, want)
		}
	}
}

func TestChildMethodShadowsParent(t *testing.T) {
	ns := &ir.Namespace{
		Name:    "Ui",
		Library: "ui",
		Classes: []*ir.Class{
			{Name: "X", TypeFunc: "ui_x_get_type", Methods: []*ir.Method{
				{Name: "get_name", Symbol: "ui_x_get_name", Return: ir.TypeRef{Name: "utf8"}},
			}},
			{Name: "Y", Parent: "X", TypeFunc: "ui_y_get_type", Methods: []*ir.Method{
				{Name: "get_name", Symbol: "ui_y_get_name", Return: ir.TypeRef{Name: "utf8"}},
			}},
		},
	}
	ns.Reindex()
	out, err := New(Config{}).Generate(ns)
	if err != nil {
		t.Fatal(err)
	}
	contains(t, out, "y.go",
		"func (self *Y) GetName(ctx context.Context) (string, error) {",
		`"ui_y_get_name"`,
	)
	f, _ := out.File("y.go")
	if strings.Contains(string(f.Content), "YGetName") {
		t.Error("own method renamed instead of shadowing the inherited one")
	}
}

func TestWrite(t *testing.T) {
	out := generate(t, Config{Package: "shapes"})
	dir := filepath.Join(t.TempDir(), "shapes")

	if err := out.Write(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	for _, f := range out.Files {
		got, err := os.ReadFile(filepath.Join(dir, f.Name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, f.Content) {
			t.Errorf("%s differs on disk", f.Name)
		}
	}
	contains(t, out, "index.go", "package shapes")
}
