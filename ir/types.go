package ir

// Transfer describes which side owns a value after it crosses the boundary.
type Transfer uint8

const (
	// TransferNone: the receiver only borrows the value.
	TransferNone Transfer = iota
	// TransferContainer: the container moves, its elements are borrowed.
	TransferContainer
	// TransferFull: the receiver owns the value and must release it.
	TransferFull
)

// Arity describes how many values a type reference denotes and how the
// length of an array is communicated.
type Arity uint8

const (
	ArityScalar Arity = iota
	ArityFixed
	ArityLength
	ArityZeroTerminated
)

// Direction of a parameter.
type Direction uint8

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

// Scope bounds how long native code may hold a callback.
type Scope uint8

const (
	// ScopeCall: valid for the duration of the call only.
	ScopeCall Scope = iota
	// ScopeAsync: valid until the callback has been invoked once.
	ScopeAsync
	// ScopeNotified: valid until the paired destroy notifier runs.
	ScopeNotified
	// ScopeForever: valid for the lifetime of the session.
	ScopeForever
)

// MethodKind distinguishes instance methods from static functions and constructors.
type MethodKind uint8

const (
	KindInstance MethodKind = iota
	KindStatic
	KindConstructor
)

// Category is the resolved class of a type reference.
type Category uint8

const (
	CategoryUnresolved Category = iota
	CategoryVoid
	CategoryPrimitive
	CategoryString
	CategoryEnum
	CategoryRecord
	CategoryClass
	CategoryInterface
	CategoryCallback
	CategoryArray
)

var categoryNames = [...]string{
	CategoryUnresolved: "unresolved",
	CategoryVoid:       "void",
	CategoryPrimitive:  "primitive",
	CategoryString:     "string",
	CategoryEnum:       "enum",
	CategoryRecord:     "record",
	CategoryClass:      "class",
	CategoryInterface:  "interface",
	CategoryCallback:   "callback",
	CategoryArray:      "array",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// TypeRef references a named type plus its modifiers.
//
// A reference with a non-nil Elem is an array of Elem; Arity then names the
// length convention. Name holds a primitive name, "utf8"/"filename" for
// strings, "none" for void, or an entity name (optionally qualified by a
// namespace, "Other.Name").
type TypeRef struct {
	Name        string   `json:"name"`
	CType       string   `json:"c_type,omitempty"`
	Nullable    bool     `json:"nullable,omitempty"`
	Transfer    Transfer `json:"transfer,omitempty"`
	Arity       Arity    `json:"arity,omitempty"`
	FixedSize   int      `json:"fixed_size,omitempty"`
	LengthParam *int     `json:"length_param,omitempty"`
	Elem        *TypeRef `json:"elem,omitempty"`
}

// IsVoid reports whether the reference denotes no value.
func (t TypeRef) IsVoid() bool {
	return t.Elem == nil && (t.Name == "" || t.Name == "none")
}

// IsArray reports whether the reference is an array.
func (t TypeRef) IsArray() bool {
	return t.Elem != nil
}

// Param is one parameter of a method, function, callback or signal.
type Param struct {
	Name            string    `json:"name"`
	Type            TypeRef   `json:"type"`
	Direction       Direction `json:"direction,omitempty"`
	CallerAllocates bool      `json:"caller_allocates,omitempty"`
	Optional        bool      `json:"optional,omitempty"`
	Scope           Scope     `json:"scope,omitempty"`
	Closure         *int      `json:"closure,omitempty"`
	Destroy         *int      `json:"destroy,omitempty"`
}

// Method is a callable: an instance method, a static function or a constructor.
// Free functions of a namespace use the same shape with KindStatic.
type Method struct {
	Name           string     `json:"name"`
	Symbol         string     `json:"symbol"`
	Kind           MethodKind `json:"kind,omitempty"`
	Params         []*Param   `json:"params,omitempty"`
	Return         TypeRef    `json:"return"`
	Throws         bool       `json:"throws,omitempty"`
	Introspectable *bool      `json:"introspectable,omitempty"`
	Since          string     `json:"since,omitempty"`
	Deprecated     string     `json:"deprecated,omitempty"`
	Finish         string     `json:"finish,omitempty"`
	Doc            string     `json:"doc,omitempty"`
}

// IsIntrospectable reports whether the method may be bound.
func (m *Method) IsIntrospectable() bool {
	return m.Introspectable == nil || *m.Introspectable
}

// IsAsync reports whether the method starts an operation completed by its Finish function.
func (m *Method) IsAsync() bool {
	return m.Finish != ""
}

// Field is a record member.
type Field struct {
	Name     string  `json:"name"`
	Type     TypeRef `json:"type"`
	Offset   *int    `json:"offset,omitempty"`
	Private  bool    `json:"private,omitempty"`
	Writable bool    `json:"writable,omitempty"`
	Bits     int     `json:"bits,omitempty"`
}

// Record is a C struct, either plain (fields readable by offset) or opaque.
type Record struct {
	Name     string    `json:"name"`
	CType    string    `json:"c_type,omitempty"`
	Size     int       `json:"size,omitempty"`
	Align    int       `json:"align,omitempty"`
	Opaque   bool      `json:"opaque,omitempty"`
	Fields   []*Field  `json:"fields,omitempty"`
	Methods  []*Method `json:"methods,omitempty"`
	TypeFunc string    `json:"type_func,omitempty"`
	FreeFunc string    `json:"free_func,omitempty"`
	CopyFunc string    `json:"copy_func,omitempty"`
	Doc      string    `json:"doc,omitempty"`
}

// Member is one enumeration value.
type Member struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Enum is an enumeration or, when Flags is set, a bit set.
type Enum struct {
	Name     string    `json:"name"`
	CType    string    `json:"c_type,omitempty"`
	Storage  string    `json:"storage,omitempty"`
	Flags    bool      `json:"flags,omitempty"`
	Members  []*Member `json:"members"`
	TypeFunc string    `json:"type_func,omitempty"`
	Doc      string    `json:"doc,omitempty"`
}

// Property is an accessor pair on a class or interface.
type Property struct {
	Name     string  `json:"name"`
	Type     TypeRef `json:"type"`
	Getter   string  `json:"getter,omitempty"`
	Setter   string  `json:"setter,omitempty"`
	Readable bool    `json:"readable,omitempty"`
	Writable bool    `json:"writable,omitempty"`
}

// Signal is an event a class or interface instance emits.
type Signal struct {
	Name   string   `json:"name"`
	Params []*Param `json:"params,omitempty"`
	Return TypeRef  `json:"return"`
	Doc    string   `json:"doc,omitempty"`
}

// Class is an instantiable type with at most one parent.
type Class struct {
	Name       string      `json:"name"`
	CType      string      `json:"c_type,omitempty"`
	Parent     string      `json:"parent,omitempty"`
	Interfaces []string    `json:"interfaces,omitempty"`
	TypeFunc   string      `json:"type_func,omitempty"`
	UnrefFunc  string      `json:"unref_func,omitempty"`
	Abstract   bool        `json:"abstract,omitempty"`
	Methods    []*Method   `json:"methods,omitempty"`
	Properties []*Property `json:"properties,omitempty"`
	Signals    []*Signal   `json:"signals,omitempty"`
	Doc        string      `json:"doc,omitempty"`
}

// Interface is a set of methods a class can implement. Prerequisites form a DAG.
type Interface struct {
	Name          string      `json:"name"`
	CType         string      `json:"c_type,omitempty"`
	Prerequisites []string    `json:"prerequisites,omitempty"`
	TypeFunc      string      `json:"type_func,omitempty"`
	Methods       []*Method   `json:"methods,omitempty"`
	Properties    []*Property `json:"properties,omitempty"`
	Signals       []*Signal   `json:"signals,omitempty"`
	Doc           string      `json:"doc,omitempty"`
}

// Callback is a function type native code calls back into.
type Callback struct {
	Name   string   `json:"name"`
	Params []*Param `json:"params,omitempty"`
	Return TypeRef  `json:"return"`
	Throws bool     `json:"throws,omitempty"`
	Doc    string   `json:"doc,omitempty"`
}

// Constant is a named literal.
type Constant struct {
	Name  string  `json:"name"`
	Type  TypeRef `json:"type"`
	Value string  `json:"value"`
}

// Namespace is one library's surface.
type Namespace struct {
	Name         string       `json:"name"`
	Version      string       `json:"version,omitempty"`
	Library      string       `json:"library"`
	SymbolPrefix string       `json:"symbol_prefix,omitempty"`
	Includes     []string     `json:"includes,omitempty"`
	Records      []*Record    `json:"records,omitempty"`
	Enums        []*Enum      `json:"enums,omitempty"`
	Classes      []*Class     `json:"classes,omitempty"`
	Interfaces   []*Interface `json:"interfaces,omitempty"`
	Functions    []*Method    `json:"functions,omitempty"`
	Callbacks    []*Callback  `json:"callbacks,omitempty"`
	Constants    []*Constant  `json:"constants,omitempty"`

	imports map[string]*Namespace
	index   map[string]Entity
}

// Entity is any named top-level member of a namespace.
type Entity interface {
	EntityName() string
	Category() Category
}

func (r *Record) EntityName() string    { return r.Name }
func (e *Enum) EntityName() string      { return e.Name }
func (c *Class) EntityName() string     { return c.Name }
func (i *Interface) EntityName() string { return i.Name }
func (c *Callback) EntityName() string  { return c.Name }

func (*Record) Category() Category    { return CategoryRecord }
func (*Enum) Category() Category      { return CategoryEnum }
func (*Class) Category() Category     { return CategoryClass }
func (*Interface) Category() Category { return CategoryInterface }
func (*Callback) Category() Category  { return CategoryCallback }
