package typemap

import (
	"fmt"

	"github.com/wippyai/nativebind/abi"
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/internal/layout"
	"github.com/wippyai/nativebind/ir"
)

// Position says where a type reference appears.
type Position uint8

const (
	PositionParam Position = iota
	PositionReturn
	PositionField
	PositionElement
	// PositionCallback is an argument native code passes to a callback.
	PositionCallback
)

// RecordKind is the marshaling class of a record.
type RecordKind uint8

const (
	// RecordPlain records expose public primitive fields read and written by offset.
	RecordPlain RecordKind = iota
	// RecordBoxed records are opaque handles reached only through methods.
	RecordBoxed
)

// DefaultRuntimePath is the import path generated code uses for the runtime.
const DefaultRuntimePath = "github.com/wippyai/nativebind/runtime"

// Mapping is the result of mapping one type reference.
type Mapping struct {
	ABI     abi.Descriptor
	Surface Surface
	Imports []string
	// Relinquishes marks an outgoing argument whose ownership moves to native
	// code: the wrapper passed is consumed by the call.
	Relinquishes bool
	// Placeholder marks a reference downgraded to an untyped handle because
	// its target was skipped.
	Placeholder bool
	Category    ir.Category
	// Entity is the resolved target of a named reference.
	Entity ir.Entity
	// Owner is the namespace that declares Entity.
	Owner *ir.Namespace
}

// Config configures a Mapper.
type Config struct {
	// Packages maps imported namespace names to Go import paths.
	Packages map[string]string
	// RuntimePath overrides DefaultRuntimePath.
	RuntimePath string
	// Conventions lists per-signature array length conventions.
	Conventions Conventions
}

// Mapper maps type references of one namespace.
type Mapper struct {
	ns      *ir.Namespace
	cfg     Config
	layout  *layout.Calculator
	skipped map[string]bool
	kinds   map[*ir.Record]RecordKind
}

// New creates a mapper for ns.
func New(ns *ir.Namespace, cfg Config) *Mapper {
	if cfg.RuntimePath == "" {
		cfg.RuntimePath = DefaultRuntimePath
	}
	if cfg.Conventions == nil {
		cfg.Conventions = make(Conventions)
	}
	return &Mapper{
		ns:      ns,
		cfg:     cfg,
		layout:  layout.NewCalculator(ns),
		skipped: make(map[string]bool),
		kinds:   make(map[*ir.Record]RecordKind),
	}
}

// Namespace returns the namespace being mapped.
func (m *Mapper) Namespace() *ir.Namespace {
	return m.ns
}

// RuntimePath returns the runtime import path generated code uses.
func (m *Mapper) RuntimePath() string {
	return m.cfg.RuntimePath
}

// Skip records that an entity was not emitted. Later references to it map
// to untyped handle placeholders.
func (m *Mapper) Skip(name string) {
	m.skipped[name] = true
}

// IsSkipped reports whether an entity was skipped.
func (m *Mapper) IsSkipped(name string) bool {
	return m.skipped[name]
}

// RecordKind classifies a record. A record is plain only when it is not
// opaque and every field is public and of primitive or enum type; anything
// else, including opaque records with some public primitive fields, is boxed.
func (m *Mapper) RecordKind(r *ir.Record) RecordKind {
	if k, ok := m.kinds[r]; ok {
		return k
	}
	k := RecordPlain
	if r.Opaque || len(r.Fields) == 0 {
		k = RecordBoxed
	}
	for _, f := range r.Fields {
		if f.Private || f.Bits > 0 {
			k = RecordBoxed
			break
		}
		switch m.ns.Classify(f.Type) {
		case ir.CategoryPrimitive, ir.CategoryEnum:
			if p, ok := ir.LookupPrimitive(f.Type.Name); ok && p.Pointer {
				k = RecordBoxed
			}
		default:
			k = RecordBoxed
		}
		if k == RecordBoxed {
			break
		}
	}
	m.kinds[r] = k
	return k
}

// Layout returns the native layout of a record.
func (m *Mapper) Layout(r *ir.Record) (layout.Info, error) {
	return m.layout.Record(r)
}

// Map converts a type reference. override, when set, replaces the
// reference's own transfer mode.
func (m *Mapper) Map(ref ir.TypeRef, pos Position, override *ir.Transfer) (Mapping, error) {
	transfer := ref.Transfer
	if override != nil {
		transfer = *override
	}

	mp, err := m.mapType(ref, pos, toABITransfer(transfer))
	if err != nil {
		return Mapping{}, err
	}

	switch mp.ABI.Kind {
	case abi.KindString, abi.KindStruct, abi.KindBoxed, abi.KindObject,
		abi.KindInterface, abi.KindArray, abi.KindPointer, abi.KindCallback:
		mp.ABI.Nullable = ref.Nullable
	}

	// Only values with a native null can be absent.
	if ref.Nullable && (pos == PositionParam || pos == PositionReturn) && mp.ABI.Nullable {
		mp.Surface.Optional = true
		if mp.ABI.Kind == abi.KindString {
			mp.Surface.Pointer = true
		}
	}

	if pos == PositionParam && transfer == ir.TransferFull && mp.ABI.IsHandle() {
		mp.Relinquishes = true
	}

	mp.Imports = mp.Surface.Imports()
	return mp, nil
}

func (m *Mapper) mapType(ref ir.TypeRef, pos Position, transfer abi.Transfer) (Mapping, error) {
	cat := m.ns.Classify(ref)
	mp := Mapping{Category: cat}

	switch cat {
	case ir.CategoryVoid:
		mp.ABI = abi.Void()

	case ir.CategoryPrimitive:
		p, _ := ir.LookupPrimitive(ref.Name)
		mp.ABI, mp.Surface = m.primitive(p)

	case ir.CategoryString:
		mp.ABI = abi.String(transfer)
		mp.Surface = builtin("string")

	case ir.CategoryEnum:
		e, owner, _ := m.ns.Lookup(ref.Name)
		enum := e.(*ir.Enum)
		p := enum.StoragePrimitive()
		if enum.Flags {
			mp.ABI = abi.Flags(uint32(p.Size))
		} else {
			mp.ABI = abi.Enum(uint32(p.Size), p.Signed)
		}
		mp.ABI.Type = qualified(owner, enum.Name)
		mp.ABI.TypeFunc = enum.TypeFunc
		s, err := m.named(owner, enum.Name)
		if err != nil || (owner == m.ns && m.skipped[enum.Name]) {
			// Without its named type an enum is still its storage integer.
			_, mp.Surface = m.primitive(p)
			return mp, nil
		}
		mp.Surface = s
		mp.Entity, mp.Owner = enum, owner

	case ir.CategoryRecord, ir.CategoryClass, ir.CategoryInterface:
		e, owner, _ := m.ns.Lookup(ref.Name)
		if owner == m.ns && m.skipped[e.EntityName()] {
			return m.placeholder(cat), nil
		}
		s, err := m.named(owner, e.EntityName())
		if err != nil {
			return m.placeholder(cat), nil
		}
		s.Pointer = true
		mp.Surface = s
		mp.Entity, mp.Owner = e, owner
		name := qualified(owner, e.EntityName())

		switch ent := e.(type) {
		case *ir.Record:
			info, lerr := m.layout.Record(ent)
			if m.RecordKind(ent) == RecordPlain {
				if lerr != nil {
					return Mapping{}, lerr
				}
				mp.ABI = abi.Struct(name, info.Size, transfer)
				mp.ABI.FreeFunc = ent.FreeFunc
			} else {
				mp.ABI = abi.Boxed(name, ent.FreeFunc, info.Size, transfer)
				mp.ABI.TypeFunc = ent.TypeFunc
			}
		case *ir.Class:
			mp.ABI = abi.Object(name, ent.TypeFunc, transfer)
			mp.ABI.FreeFunc = m.unrefFunc(owner, ent)
		case *ir.Interface:
			mp.ABI = abi.Interface(name, ent.TypeFunc, transfer)
		}

	case ir.CategoryCallback:
		if pos == PositionReturn || pos == PositionField || pos == PositionElement {
			return Mapping{}, errors.Unsupported(errors.PhaseMap,
				fmt.Sprintf("callback %s in %s position", ref.Name, positionName(pos)))
		}
		e, owner, _ := m.ns.Lookup(ref.Name)
		cb := e.(*ir.Callback)
		if owner == m.ns && m.skipped[cb.Name] {
			return Mapping{}, errors.Unsupported(errors.PhaseMap, "skipped callback "+cb.Name)
		}
		sig, err := m.CallbackSignature(cb)
		if err != nil {
			return Mapping{}, err
		}
		mp.ABI = abi.Callback(sig, abi.ScopeCall)
		mp.ABI.Type = qualified(owner, cb.Name)
		s, err := m.named(owner, cb.Name)
		if err != nil {
			return Mapping{}, err
		}
		mp.Surface = s
		mp.Entity, mp.Owner = cb, owner

	case ir.CategoryArray:
		return m.mapArray(ref, pos, transfer)

	default:
		return Mapping{}, errors.NotFound(errors.PhaseMap, "type", ref.Name)
	}
	return mp, nil
}

func (m *Mapper) mapArray(ref ir.TypeRef, pos Position, transfer abi.Transfer) (Mapping, error) {
	if pos == PositionElement {
		return Mapping{}, errors.Unsupported(errors.PhaseMap, "nested arrays")
	}

	// Container transfer moves the array only; elements stay borrowed.
	elemTransfer := ir.TransferNone
	if transfer == abi.TransferFull {
		elemTransfer = ir.TransferFull
	}
	elem, err := m.Map(*ref.Elem, PositionElement, &elemTransfer)
	if err != nil {
		return Mapping{}, err
	}

	switch elem.ABI.Kind {
	case abi.KindBool, abi.KindInt, abi.KindFloat, abi.KindEnum, abi.KindFlags,
		abi.KindString, abi.KindObject, abi.KindInterface, abi.KindBoxed, abi.KindPointer:
	case abi.KindStruct:
		if !isPointerCType(ref.Elem.CType) {
			return Mapping{}, errors.Unsupported(errors.PhaseMap,
				fmt.Sprintf("array of inline %s structs", ref.Elem.Name))
		}
	default:
		return Mapping{}, errors.Unsupported(errors.PhaseMap,
			fmt.Sprintf("array of %s", elem.ABI.Kind))
	}

	var length abi.Length
	switch ref.Arity {
	case ir.ArityFixed:
		length = abi.LengthFixed
	case ir.ArityLength:
		length = abi.LengthParam
	case ir.ArityZeroTerminated:
		length = abi.LengthZeroTerminated
	default:
		length = abi.LengthNone
	}

	d := abi.Array(elem.ABI, length, transfer)
	if length == abi.LengthFixed {
		d.FixedLen = uint32(ref.FixedSize)
	}
	es := elem.Surface
	es.Optional = false
	return Mapping{
		ABI:      d,
		Surface:  Surface{Elem: &es},
		Category: ir.CategoryArray,
		Entity:   elem.Entity,
		Owner:    elem.Owner,
	}, nil
}

func (m *Mapper) primitive(p ir.Primitive) (abi.Descriptor, Surface) {
	switch {
	case p.Bool:
		return abi.Bool(), builtin("bool")
	case p.Pointer:
		return abi.Pointer(), Surface{Name: "Handle", Path: m.cfg.RuntimePath}
	case p.Float && p.Size == 4:
		return abi.F32(), builtin("float32")
	case p.Float:
		return abi.F64(), builtin("float64")
	}
	name := fmt.Sprintf("int%d", p.Size*8)
	if !p.Signed {
		name = "u" + name
	}
	return abi.Int(uint32(p.Size), p.Signed), builtin(name)
}

func (m *Mapper) placeholder(cat ir.Category) Mapping {
	return Mapping{
		ABI:         abi.Pointer(),
		Surface:     Surface{Name: "Handle", Path: m.cfg.RuntimePath},
		Placeholder: true,
		Category:    cat,
	}
}

// named returns the surface for a named type, qualified when it lives in
// another namespace.
func (m *Mapper) named(owner *ir.Namespace, name string) (Surface, error) {
	s := Surface{Name: GoName(name)}
	if owner != m.ns {
		path, ok := m.cfg.Packages[owner.Name]
		if !ok {
			return Surface{}, errors.MissingDependency(errors.PhaseMap, name, owner.Name)
		}
		s.Path = path
	}
	return s, nil
}

// unrefFunc returns the release symbol for instances of c, inherited from
// the nearest ancestor that declares one.
func (m *Mapper) unrefFunc(ns *ir.Namespace, c *ir.Class) string {
	seen := make(map[*ir.Class]bool)
	for cur := c; cur != nil && !seen[cur]; {
		seen[cur] = true
		if cur.UnrefFunc != "" {
			return cur.UnrefFunc
		}
		if cur.Parent == "" {
			break
		}
		next, ok := ns.Class(cur.Parent)
		if !ok {
			break
		}
		cur = next
	}
	return ""
}

// CallbackSignature maps a callback type. Callbacks may only receive and
// return values that need no out-of-band storage: scalars, strings and
// borrowed handles.
func (m *Mapper) CallbackSignature(cb *ir.Callback) (*abi.Signature, error) {
	return m.Signature(cb.Name, cb.Params, cb.Return, cb.Throws)
}

// Signature maps the parameter list of a callback or signal handler.
func (m *Mapper) Signature(name string, params []*ir.Param, ret ir.TypeRef, throws bool) (*abi.Signature, error) {
	if throws {
		return nil, errors.Unsupported(errors.PhaseMap, fmt.Sprintf("%s: throwing callback", name))
	}
	sig := &abi.Signature{}
	for _, p := range params {
		if p.Direction != ir.DirIn {
			return nil, errors.Unsupported(errors.PhaseMap,
				fmt.Sprintf("%s: %s parameter %s", name, p.Direction, p.Name))
		}
		mp, err := m.Map(p.Type, PositionCallback, nil)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMap, errors.KindUnsupported, err,
				fmt.Sprintf("%s: parameter %s", name, p.Name))
		}
		switch mp.ABI.Kind {
		case abi.KindArray, abi.KindCallback, abi.KindVoid:
			return nil, errors.Unsupported(errors.PhaseMap,
				fmt.Sprintf("%s: %s parameter %s", name, mp.ABI.Kind, p.Name))
		}
		sig.Params = append(sig.Params, mp.ABI)
	}
	rt, err := m.Map(ret, PositionReturn, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMap, errors.KindUnsupported, err, name+": return")
	}
	switch rt.ABI.Kind {
	case abi.KindVoid, abi.KindBool, abi.KindInt, abi.KindFloat, abi.KindEnum, abi.KindFlags, abi.KindPointer:
	default:
		return nil, errors.Unsupported(errors.PhaseMap,
			fmt.Sprintf("%s: %s return", name, rt.ABI.Kind))
	}
	sig.Return = rt.ABI
	return sig, nil
}

func toABITransfer(t ir.Transfer) abi.Transfer {
	switch t {
	case ir.TransferContainer:
		return abi.TransferContainer
	case ir.TransferFull:
		return abi.TransferFull
	}
	return abi.TransferNone
}

func qualified(ns *ir.Namespace, name string) string {
	return ns.Name + "." + name
}

func isPointerCType(ctype string) bool {
	return len(ctype) > 0 && ctype[len(ctype)-1] == '*'
}

func positionName(p Position) string {
	switch p {
	case PositionParam:
		return "parameter"
	case PositionReturn:
		return "return"
	case PositionField:
		return "field"
	case PositionElement:
		return "element"
	case PositionCallback:
		return "callback argument"
	}
	return "unknown"
}
