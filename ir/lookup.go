package ir

import (
	"strings"
)

// Reindex rebuilds the name index. Call it after mutating a namespace built in code.
func (ns *Namespace) Reindex() {
	ns.index = make(map[string]Entity)
	for _, r := range ns.Records {
		ns.index[r.Name] = r
	}
	for _, e := range ns.Enums {
		ns.index[e.Name] = e
	}
	for _, c := range ns.Classes {
		ns.index[c.Name] = c
	}
	for _, i := range ns.Interfaces {
		ns.index[i.Name] = i
	}
	for _, c := range ns.Callbacks {
		ns.index[c.Name] = c
	}
}

// AddImport makes another namespace resolvable through qualified names.
func (ns *Namespace) AddImport(other *Namespace) {
	if ns.imports == nil {
		ns.imports = make(map[string]*Namespace)
	}
	ns.imports[other.Name] = other
}

// Import returns an imported namespace by name.
func (ns *Namespace) Import(name string) (*Namespace, bool) {
	other, ok := ns.imports[name]
	return other, ok
}

// Lookup resolves an entity name. Qualified names ("Other.Name") resolve
// through imported namespaces; the returned namespace is the owner.
func (ns *Namespace) Lookup(name string) (Entity, *Namespace, bool) {
	if ns.index == nil {
		ns.Reindex()
	}
	if prefix, local, ok := strings.Cut(name, "."); ok {
		if prefix == ns.Name {
			return ns.Lookup(local)
		}
		other, found := ns.imports[prefix]
		if !found {
			return nil, nil, false
		}
		return other.Lookup(local)
	}
	e, ok := ns.index[name]
	if !ok {
		return nil, nil, false
	}
	return e, ns, true
}

// Class returns the named class.
func (ns *Namespace) Class(name string) (*Class, bool) {
	e, _, ok := ns.Lookup(name)
	if !ok {
		return nil, false
	}
	c, ok := e.(*Class)
	return c, ok
}

// Interface returns the named interface.
func (ns *Namespace) Interface(name string) (*Interface, bool) {
	e, _, ok := ns.Lookup(name)
	if !ok {
		return nil, false
	}
	i, ok := e.(*Interface)
	return i, ok
}

// Record returns the named record.
func (ns *Namespace) Record(name string) (*Record, bool) {
	e, _, ok := ns.Lookup(name)
	if !ok {
		return nil, false
	}
	r, ok := e.(*Record)
	return r, ok
}

// Classify resolves a type reference to exactly one category.
func (ns *Namespace) Classify(ref TypeRef) Category {
	switch {
	case ref.IsArray():
		return CategoryArray
	case ref.IsVoid():
		return CategoryVoid
	case IsString(ref.Name):
		return CategoryString
	}
	if _, ok := LookupPrimitive(ref.Name); ok {
		return CategoryPrimitive
	}
	if e, _, ok := ns.Lookup(ref.Name); ok {
		return e.Category()
	}
	return CategoryUnresolved
}

// Entities returns every entity in declaration order, grouped by kind.
func (ns *Namespace) Entities() []Entity {
	out := make([]Entity, 0, len(ns.Records)+len(ns.Enums)+len(ns.Classes)+len(ns.Interfaces)+len(ns.Callbacks))
	for _, r := range ns.Records {
		out = append(out, r)
	}
	for _, e := range ns.Enums {
		out = append(out, e)
	}
	for _, c := range ns.Classes {
		out = append(out, c)
	}
	for _, i := range ns.Interfaces {
		out = append(out, i)
	}
	for _, c := range ns.Callbacks {
		out = append(out, c)
	}
	return out
}
