package ir

// Primitive describes a fixed-width scalar on the wasm32 native target.
type Primitive struct {
	Name   string
	Size   int
	Signed bool
	Float  bool
	Bool   bool
	// Pointer marks an untyped machine-word pointer.
	Pointer bool
}

var primitives = map[string]Primitive{
	"bool":    {Name: "bool", Size: 4, Bool: true},
	"int8":    {Name: "int8", Size: 1, Signed: true},
	"uint8":   {Name: "uint8", Size: 1},
	"int16":   {Name: "int16", Size: 2, Signed: true},
	"uint16":  {Name: "uint16", Size: 2},
	"int32":   {Name: "int32", Size: 4, Signed: true},
	"uint32":  {Name: "uint32", Size: 4},
	"int64":   {Name: "int64", Size: 8, Signed: true},
	"uint64":  {Name: "uint64", Size: 8},
	"float":   {Name: "float", Size: 4, Float: true, Signed: true},
	"double":  {Name: "double", Size: 8, Float: true, Signed: true},
	"pointer": {Name: "pointer", Size: 4, Pointer: true},
}

// aliases maps C and GLib spellings to canonical primitive names.
// Word-sized types follow wasm32: long and size_t are 32 bits.
var aliases = map[string]string{
	"gboolean": "bool",
	"gchar":    "int8",
	"guchar":   "uint8",
	"gint8":    "int8",
	"guint8":   "uint8",
	"gshort":   "int16",
	"gushort":  "uint16",
	"gint16":   "int16",
	"guint16":  "uint16",
	"gint":     "int32",
	"guint":    "uint32",
	"gint32":   "int32",
	"guint32":  "uint32",
	"glong":    "int32",
	"gulong":   "uint32",
	"gint64":   "int64",
	"guint64":  "uint64",
	"gsize":    "uint32",
	"gssize":   "int32",
	"gunichar": "uint32",
	"GType":    "uint32",
	"GQuark":   "uint32",
	"gfloat":   "float",
	"gdouble":  "double",
	"gpointer": "pointer",
	"char":     "int8",
	"short":    "int16",
	"int":      "int32",
	"long":     "int32",
	"size_t":   "uint32",
	"float32":  "float",
	"float64":  "double",
	"f32":      "float",
	"f64":      "double",
	"s8":       "int8",
	"u8":       "uint8",
	"s16":      "int16",
	"u16":      "uint16",
	"s32":      "int32",
	"u32":      "uint32",
	"s64":      "int64",
	"u64":      "uint64",
}

var stringNames = map[string]bool{
	"utf8":     true,
	"filename": true,
	"string":   true,
	"gchar*":   true,
}

// LookupPrimitive resolves a primitive type name, including C and GLib aliases.
func LookupPrimitive(name string) (Primitive, bool) {
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	p, ok := primitives[name]
	return p, ok
}

// IsString reports whether name denotes a NUL-terminated string.
func IsString(name string) bool {
	return stringNames[name]
}

// StoragePrimitive returns the integer type an enumeration is stored in.
// The declared storage wins; otherwise the C rule applies: int-sized, signed
// when any member is negative, widened to 64 bits only when a member needs it.
func (e *Enum) StoragePrimitive() Primitive {
	if p, ok := LookupPrimitive(e.Storage); ok && !p.Float && !p.Pointer {
		return p
	}
	var neg, wide bool
	for _, m := range e.Members {
		if m.Value < 0 {
			neg = true
		}
		if m.Value > 0xFFFFFFFF || m.Value < -0x80000000 {
			wide = true
		}
	}
	switch {
	case wide && neg:
		return primitives["int64"]
	case wide:
		return primitives["uint64"]
	case neg || !e.Flags:
		return primitives["int32"]
	default:
		return primitives["uint32"]
	}
}
