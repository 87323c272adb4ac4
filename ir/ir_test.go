package ir

import (
	"bytes"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/nativebind/errors"
)

const sampleJSON = `{
  "name": "Geom",
  "version": "1.0",
  "library": "geom",
  "records": [
    {"name": "Point", "size": 16, "fields": [
      {"name": "x", "type": {"name": "double"}, "offset": 0},
      {"name": "y", "type": {"name": "double"}, "offset": 8}
    ]}
  ],
  "enums": [
    {"name": "Orientation", "storage": "uint8", "members": [
      {"name": "horizontal", "value": 0}, {"name": "vertical", "value": 1}
    ]}
  ],
  "classes": [
    {"name": "Object", "type_func": "geom_object_get_type"},
    {"name": "Shape", "parent": "Object", "interfaces": ["Bounded"], "methods": [
      {"name": "area", "symbol": "geom_shape_area", "return": {"name": "double"}},
      {"name": "get_points", "symbol": "geom_shape_get_points",
       "params": [
         {"name": "points", "direction": "out", "type": {"name": "array", "arity": "length", "length_param": 1, "transfer": "full", "elem": {"name": "Point"}}},
         {"name": "n_points", "direction": "out", "type": {"name": "gint"}}
       ],
       "return": {"name": "none"}}
    ]}
  ],
  "interfaces": [
    {"name": "Bounded", "methods": [
      {"name": "bounds", "symbol": "geom_bounded_bounds", "return": {"name": "Point", "nullable": true, "transfer": "full"}}
    ]}
  ],
  "callbacks": [
    {"name": "Visitor", "params": [{"name": "shape", "type": {"name": "Shape"}}], "return": {"name": "gboolean"}}
  ]
}`

func TestLoad(t *testing.T) {
	ns, err := Load(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ns.Name != "Geom" || ns.Library != "geom" {
		t.Errorf("namespace = %q/%q, want Geom/geom", ns.Name, ns.Library)
	}

	shape, ok := ns.Class("Shape")
	if !ok {
		t.Fatal("class Shape not found")
	}
	if shape.Parent != "Object" {
		t.Errorf("Parent = %q, want Object", shape.Parent)
	}
	pts := shape.Methods[1].Params[0]
	if pts.Direction != DirOut {
		t.Errorf("Direction = %v, want out", pts.Direction)
	}
	if pts.Type.Arity != ArityLength || pts.Type.LengthParam == nil || *pts.Type.LengthParam != 1 {
		t.Errorf("array type = %+v", pts.Type)
	}
	if pts.Type.Transfer != TransferFull {
		t.Errorf("Transfer = %v, want full", pts.Type.Transfer)
	}

	if err := Validate(ns); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_RejectsUnknownEnumText(t *testing.T) {
	_, err := Load(strings.NewReader(`{"name":"X","library":"x","functions":[
		{"name":"f","symbol":"f","return":{"name":"none","transfer":"most"}}]}`))
	if err == nil {
		t.Fatal("expected error for invalid transfer")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Errorf("err = %v, want load error", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	ns, err := Load(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, ns); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"transfer": "full"`) {
		t.Errorf("encoded form should use text enums:\n%s", buf.String())
	}
	again, err := Load(&buf)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Classes) != 2 || len(again.Interfaces) != 1 {
		t.Errorf("reload lost entities: %d classes, %d interfaces", len(again.Classes), len(again.Interfaces))
	}
}

func TestClassify(t *testing.T) {
	ns, err := Load(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	other := &Namespace{Name: "Gfx", Library: "gfx", Classes: []*Class{{Name: "Surface"}}}
	ns.AddImport(other)

	tests := []struct {
		ref  TypeRef
		want Category
	}{
		{TypeRef{Name: "none"}, CategoryVoid},
		{TypeRef{}, CategoryVoid},
		{TypeRef{Name: "gint"}, CategoryPrimitive},
		{TypeRef{Name: "double"}, CategoryPrimitive},
		{TypeRef{Name: "utf8"}, CategoryString},
		{TypeRef{Name: "Orientation"}, CategoryEnum},
		{TypeRef{Name: "Point"}, CategoryRecord},
		{TypeRef{Name: "Shape"}, CategoryClass},
		{TypeRef{Name: "Geom.Shape"}, CategoryClass},
		{TypeRef{Name: "Bounded"}, CategoryInterface},
		{TypeRef{Name: "Visitor"}, CategoryCallback},
		{TypeRef{Name: "array", Elem: &TypeRef{Name: "gint"}}, CategoryArray},
		{TypeRef{Name: "Gfx.Surface"}, CategoryClass},
		{TypeRef{Name: "Nope.Surface"}, CategoryUnresolved},
		{TypeRef{Name: "Missing"}, CategoryUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.ref.Name, func(t *testing.T) {
			if got := ns.Classify(tt.ref); got != tt.want {
				t.Errorf("Classify(%+v) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}

	_, owner, ok := ns.Lookup("Gfx.Surface")
	if !ok || owner != other {
		t.Errorf("Lookup(Gfx.Surface) owner = %v, want imported namespace", owner)
	}
}

func TestLookupPrimitive(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		signed bool
	}{
		{"gint", 4, true},
		{"guint8", 1, false},
		{"gsize", 4, false},
		{"gint64", 8, true},
		{"gdouble", 8, true},
		{"gboolean", 4, false},
	}
	for _, tt := range tests {
		p, ok := LookupPrimitive(tt.name)
		if !ok {
			t.Errorf("LookupPrimitive(%q) not found", tt.name)
			continue
		}
		if p.Size != tt.size || p.Signed != tt.signed {
			t.Errorf("LookupPrimitive(%q) = %+v, want size %d signed %v", tt.name, p, tt.size, tt.signed)
		}
	}
	if _, ok := LookupPrimitive("Widget"); ok {
		t.Error("Widget should not be a primitive")
	}
}

func TestValidate(t *testing.T) {
	idx := func(i int) *int { return &i }

	tests := []struct {
		name string
		ns   *Namespace
		kind errors.Kind
	}{
		{
			name: "parent cycle",
			ns: &Namespace{Name: "N", Classes: []*Class{
				{Name: "A", Parent: "C"}, {Name: "B", Parent: "A"}, {Name: "C", Parent: "B"},
			}},
			kind: errors.KindCycle,
		},
		{
			name: "prerequisite cycle",
			ns: &Namespace{Name: "N", Interfaces: []*Interface{
				{Name: "I", Prerequisites: []string{"J"}}, {Name: "J", Prerequisites: []string{"I"}},
			}},
			kind: errors.KindCycle,
		},
		{
			name: "missing parent",
			ns:   &Namespace{Name: "N", Classes: []*Class{{Name: "A", Parent: "Ghost"}}},
			kind: errors.KindMissingDependency,
		},
		{
			name: "duplicate name",
			ns: &Namespace{Name: "N",
				Classes: []*Class{{Name: "A"}},
				Records: []*Record{{Name: "A"}},
			},
			kind: errors.KindInvalidData,
		},
		{
			name: "length index out of range",
			ns: &Namespace{Name: "N", Functions: []*Method{{
				Name: "f", Symbol: "f",
				Params: []*Param{{Name: "data", Type: TypeRef{Name: "array", Arity: ArityLength, LengthParam: idx(3), Elem: &TypeRef{Name: "uint8"}}}},
			}}},
			kind: errors.KindOutOfBounds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ns)
			if err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: tt.kind}) {
				t.Errorf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestValidate_DiamondIsNotACycle(t *testing.T) {
	ns := &Namespace{Name: "N", Interfaces: []*Interface{
		{Name: "A", Prerequisites: []string{"C"}},
		{Name: "B", Prerequisites: []string{"C"}},
		{Name: "C"},
		{Name: "D", Prerequisites: []string{"A", "B"}},
	}}
	if err := Validate(ns); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMethodFlags(t *testing.T) {
	no := false
	m := &Method{Name: "m", Symbol: "m", Introspectable: &no}
	if m.IsIntrospectable() {
		t.Error("explicit false should not be introspectable")
	}
	m.Introspectable = nil
	if !m.IsIntrospectable() {
		t.Error("default should be introspectable")
	}
	if m.IsAsync() {
		t.Error("method without finish should not be async")
	}
}
