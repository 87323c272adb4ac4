// Package witimport builds IR namespaces from decoded WIT interfaces.
//
// Records whose fields have a fixed native layout become plain records,
// records holding strings, lists or other variable-sized values become
// opaque records, enums and flags become enumerations and resources become
// classes released through their canonical drop function. Functions and
// variant-like types are not imported.
package witimport

import (
	"io"
	"strings"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
)

// DropPrefix prefixes the resource name in the symbol that releases a resource handle.
const DropPrefix = "[resource-drop]"

// DecodeJSON decodes the JSON form of a WIT resolve produced by wasm-tools.
func DecodeJSON(r io.Reader) (*wit.Resolve, error) {
	res, err := wit.DecodeJSON(r)
	if err != nil {
		return nil, errors.Load("decode wit", err)
	}
	if len(res.Worlds) == 0 && len(res.Interfaces) == 0 && len(res.Packages) == 0 {
		return nil, errors.Load("decode wit", errors.InvalidInput(errors.PhaseLoad, "resolve has no worlds, interfaces or packages"))
	}
	return res, nil
}

// Import converts the type definitions of the interface called name.
// The interface name may be given bare ("types") or with its package
// prefix ("wasi:io/types"), in which case only the part after the last
// slash is compared. The resulting namespace is validated.
func Import(res *wit.Resolve, name string) (*ir.Namespace, error) {
	if res == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil resolve")
	}
	short := name
	if i := strings.LastIndexByte(short, '/'); i >= 0 {
		short = short[i+1:]
	}
	if i := strings.IndexByte(short, '@'); i >= 0 {
		short = short[:i]
	}

	var owner *wit.Interface
	for _, iface := range res.Interfaces {
		if iface != nil && iface.Name != nil && *iface.Name == short {
			owner = iface
			break
		}
	}
	if owner == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "wit interface", name)
	}

	var defs []*wit.TypeDef
	for _, td := range res.TypeDefs {
		if o, ok := td.Owner.(*wit.Interface); ok && o == owner {
			defs = append(defs, td)
		}
	}

	ns := Definitions(short, defs)
	if err := ir.Validate(ns); err != nil {
		return nil, err
	}
	return ns, nil
}

// Definitions converts named type definitions into a namespace called name.
// Anonymous definitions are ignored; unsupported kinds are logged and
// left out.
func Definitions(name string, defs []*wit.TypeDef) *ir.Namespace {
	ns := &ir.Namespace{Name: name, Library: name}
	im := importer{ns: ns}
	for _, td := range defs {
		if td == nil || td.Name == nil {
			continue
		}
		im.def(td)
	}
	ns.Reindex()
	return ns
}

type importer struct {
	ns *ir.Namespace
}

func (im *importer) def(td *wit.TypeDef) {
	name := *td.Name
	doc := td.Docs.Contents

	switch kind := td.Kind.(type) {
	case *wit.Record:
		im.ns.Records = append(im.ns.Records, record(name, doc, kind))
	case *wit.Enum:
		e := &ir.Enum{Name: name, CType: name, Storage: discriminant(len(kind.Cases)), Doc: doc}
		for i, c := range kind.Cases {
			e.Members = append(e.Members, &ir.Member{Name: c.Name, Value: int64(i)})
		}
		im.ns.Enums = append(im.ns.Enums, e)
	case *wit.Flags:
		storage, ok := flagStorage(len(kind.Flags))
		if !ok {
			Logger().Debug("flags too wide", zap.String("type", name), zap.Int("flags", len(kind.Flags)))
			return
		}
		e := &ir.Enum{Name: name, CType: name, Storage: storage, Flags: true, Doc: doc}
		for i, f := range kind.Flags {
			e.Members = append(e.Members, &ir.Member{Name: f.Name, Value: int64(1) << i})
		}
		im.ns.Enums = append(im.ns.Enums, e)
	case *wit.Resource:
		im.ns.Classes = append(im.ns.Classes, &ir.Class{
			Name:      name,
			CType:     name,
			UnrefFunc: DropPrefix + name,
			Doc:       doc,
		})
	default:
		Logger().Debug("wit type not imported", zap.String("type", name), zap.String("kind", kindName(td.Kind)))
	}
}

// record converts a WIT record. A record any of whose fields has no fixed
// native layout is imported opaque.
func record(name, doc string, r *wit.Record) *ir.Record {
	rec := &ir.Record{Name: name, CType: name, Doc: doc}
	for _, f := range r.Fields {
		ref, ok := typeRef(f.Type)
		if !ok {
			Logger().Debug("record imported opaque",
				zap.String("record", name), zap.String("field", f.Name))
			return &ir.Record{Name: name, CType: name, Opaque: true, Doc: doc}
		}
		rec.Fields = append(rec.Fields, &ir.Field{Name: f.Name, Type: ref, Writable: true})
	}
	return rec
}

// typeRef maps a field type to a type reference with the same size and
// alignment in linear memory.
func typeRef(t wit.Type) (ir.TypeRef, bool) {
	switch t := t.(type) {
	case wit.Bool, wit.U8:
		// bool is a single byte in linear memory
		return ir.TypeRef{Name: "uint8"}, true
	case wit.S8:
		return ir.TypeRef{Name: "int8"}, true
	case wit.U16:
		return ir.TypeRef{Name: "uint16"}, true
	case wit.S16:
		return ir.TypeRef{Name: "int16"}, true
	case wit.U32, wit.Char:
		return ir.TypeRef{Name: "uint32"}, true
	case wit.S32:
		return ir.TypeRef{Name: "int32"}, true
	case wit.U64:
		return ir.TypeRef{Name: "uint64"}, true
	case wit.S64:
		return ir.TypeRef{Name: "int64"}, true
	case wit.F32:
		return ir.TypeRef{Name: "float"}, true
	case wit.F64:
		return ir.TypeRef{Name: "double"}, true
	case *wit.TypeDef:
		return defRef(t)
	default:
		return ir.TypeRef{}, false
	}
}

func defRef(td *wit.TypeDef) (ir.TypeRef, bool) {
	switch kind := td.Kind.(type) {
	case *wit.Own:
		return handleRef(kind.Type, ir.TransferFull)
	case *wit.Borrow:
		return handleRef(kind.Type, ir.TransferNone)
	case *wit.Enum, *wit.Record:
		if td.Name == nil {
			return ir.TypeRef{}, false
		}
		return ir.TypeRef{Name: *td.Name}, true
	case *wit.Flags:
		if _, ok := flagStorage(len(kind.Flags)); !ok || td.Name == nil {
			return ir.TypeRef{}, false
		}
		return ir.TypeRef{Name: *td.Name}, true
	case wit.Type:
		// alias
		return typeRef(kind)
	default:
		return ir.TypeRef{}, false
	}
}

func handleRef(res *wit.TypeDef, transfer ir.Transfer) (ir.TypeRef, bool) {
	if res == nil || res.Name == nil {
		return ir.TypeRef{}, false
	}
	return ir.TypeRef{Name: *res.Name, Transfer: transfer}, true
}

// discriminant is the smallest unsigned storage for n cases.
func discriminant(n int) string {
	switch {
	case n <= 1<<8:
		return "uint8"
	case n <= 1<<16:
		return "uint16"
	default:
		return "uint32"
	}
}

func flagStorage(n int) (string, bool) {
	switch {
	case n <= 8:
		return "uint8", true
	case n <= 16:
		return "uint16", true
	case n <= 32:
		return "uint32", true
	default:
		return "", false
	}
}

func kindName(k any) string {
	switch k.(type) {
	case *wit.Variant:
		return "variant"
	case *wit.Tuple:
		return "tuple"
	case *wit.List:
		return "list"
	case *wit.Option:
		return "option"
	case *wit.Result:
		return "result"
	case *wit.Own, *wit.Borrow:
		return "handle"
	default:
		return "other"
	}
}
