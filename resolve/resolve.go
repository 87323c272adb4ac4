package resolve

import (
	"fmt"

	"github.com/golang-cz/textcase"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/typemap"
)

// Entry is one method of a resolved set.
type Entry struct {
	Method *ir.Method
	// Name is the member name in the generated surface, in IR spelling.
	Name string
	// Origin is the entity that declares the method.
	Origin string
	// Renamed marks an entry whose name was qualified to resolve a conflict.
	Renamed bool
}

// Rename records where a renamed member comes from.
type Rename struct {
	Origin string
	Name   string
	Symbol string
}

// Set is the ordered method set of one entity.
type Set struct {
	Owner   string
	Entries []Entry
	// Renames maps a renamed member name to the method it reaches.
	Renames map[string]Rename
	// Interfaces lists, in visit order, the interfaces whose methods were merged.
	Interfaces []string

	taken map[string]bool
}

func newSet(owner string) *Set {
	return &Set{
		Owner:   owner,
		Renames: make(map[string]Rename),
		taken:   make(map[string]bool),
	}
}

// Lookup returns the entry with the given surface name.
func (s *Set) Lookup(name string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns the surface names in order.
func (s *Set) Names() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Name
	}
	return out
}

// Taken reports whether a member name is used, comparing Go spellings.
func (s *Set) Taken(name string) bool {
	return s.taken[typemap.GoName(name)]
}

func (s *Set) reserve(name string) {
	s.taken[typemap.GoName(name)] = true
}

// add appends m, renaming it when its name is taken.
func (s *Set) add(m *ir.Method, origin string) {
	name := m.Name
	renamed := false
	if s.Taken(name) {
		base := textcase.SnakeCase(origin) + "_" + m.Name
		name = base
		for n := 2; s.Taken(name); n++ {
			name = fmt.Sprintf("%s%d", base, n)
		}
		renamed = true
		s.Renames[name] = Rename{Origin: origin, Name: m.Name, Symbol: m.Symbol}
	}
	s.reserve(name)
	s.Entries = append(s.Entries, Entry{Method: m, Name: name, Origin: origin, Renamed: renamed})
}

// Resolver computes method sets for one namespace. Results are memoized for
// the lifetime of the resolver, which is one generation run.
type Resolver struct {
	ns    *ir.Namespace
	sets  map[string]*Set
	state map[string]int
}

// New creates a resolver for ns.
func New(ns *ir.Namespace) *Resolver {
	return &Resolver{
		ns:    ns,
		sets:  make(map[string]*Set),
		state: make(map[string]int),
	}
}

const (
	unvisited = iota
	visiting
	done
)

// MethodSet returns the resolved method set of a class, interface or record.
func (r *Resolver) MethodSet(name string) (*Set, error) {
	if s, ok := r.sets[name]; ok {
		return s, nil
	}
	if r.state[name] == visiting {
		return nil, errors.Cycle(errors.PhaseResolve, []string{name, name})
	}
	r.state[name] = visiting
	defer func() { r.state[name] = done }()

	e, owner, ok := r.ns.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseResolve, "entity", name)
	}

	var (
		s   *Set
		err error
	)
	switch ent := e.(type) {
	case *ir.Class:
		s, err = r.classSet(owner, ent)
	case *ir.Interface:
		s, err = r.interfaceSet(owner, ent)
	case *ir.Record:
		s = newSet(ent.Name)
		for _, m := range ent.Methods {
			s.add(m, ent.Name)
		}
	default:
		return nil, errors.InvalidInput(errors.PhaseResolve,
			fmt.Sprintf("%s is a %s and has no methods", name, e.Category()))
	}
	if err != nil {
		return nil, err
	}
	r.sets[name] = s
	return s, nil
}

// classSet holds the class's own methods plus the flattened methods of the
// interfaces it declares that no ancestor already implements. Own methods
// keep their names and shadow inherited ones; interface methods colliding
// with an inherited or own name are renamed.
func (r *Resolver) classSet(ns *ir.Namespace, c *ir.Class) (*Set, error) {
	s := newSet(c.Name)

	inherited := make(map[string]bool)
	if c.Parent != "" {
		if _, _, ok := r.ns.Lookup(c.Parent); ok {
			parent, err := r.MethodSet(c.Parent)
			if err != nil {
				return nil, err
			}
			for _, e := range parent.Entries {
				s.reserve(e.Name)
			}
			for k := range parent.taken {
				s.taken[k] = true
			}
			for _, i := range r.implemented(c.Parent) {
				inherited[i] = true
			}
		}
	}

	own := make(map[string]bool)
	for _, m := range c.Methods {
		goName := typemap.GoName(m.Name)
		if own[goName] {
			s.add(m, c.Name)
			continue
		}
		own[goName] = true
		s.reserve(m.Name)
		s.Entries = append(s.Entries, Entry{Method: m, Name: m.Name, Origin: c.Name})
	}

	visited := make(map[string]bool)
	for k := range inherited {
		visited[k] = true
	}
	for _, iname := range c.Interfaces {
		r.flatten(ns, iname, s, visited)
	}
	return s, nil
}

func (r *Resolver) interfaceSet(ns *ir.Namespace, i *ir.Interface) (*Set, error) {
	s := newSet(i.Name)
	for _, m := range i.Methods {
		s.add(m, i.Name)
	}
	visited := map[string]bool{i.Name: true}
	for _, p := range i.Prerequisites {
		r.flatten(ns, p, s, visited)
	}
	return s, nil
}

// flatten merges an interface and, depth-first, its prerequisites into s.
// Class prerequisites are skipped: they constrain implementors, they add no
// interface methods.
func (r *Resolver) flatten(ns *ir.Namespace, name string, s *Set, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true
	iface, ok := ns.Interface(name)
	if !ok {
		return
	}
	s.Interfaces = append(s.Interfaces, iface.Name)
	for _, m := range iface.Methods {
		s.add(m, iface.Name)
	}
	for _, p := range iface.Prerequisites {
		r.flatten(ns, p, s, visited)
	}
}

// Implemented returns every interface a class implements, including those
// inherited from ancestors and reached through prerequisites, each once.
func (r *Resolver) Implemented(class string) []string {
	return r.implemented(class)
}

func (r *Resolver) implemented(class string) []string {
	var out []string
	visited := make(map[string]bool)
	var walkIface func(string)
	walkIface = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		iface, ok := r.ns.Interface(name)
		if !ok {
			return
		}
		out = append(out, iface.Name)
		for _, p := range iface.Prerequisites {
			walkIface(p)
		}
	}

	var chain []*ir.Class
	seen := make(map[string]bool)
	for cur, ok := r.ns.Class(class); ok && !seen[cur.Name]; cur, ok = r.ns.Class(cur.Parent) {
		seen[cur.Name] = true
		chain = append(chain, cur)
		if cur.Parent == "" {
			break
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, iname := range chain[i].Interfaces {
			walkIface(iname)
		}
	}
	return out
}

// Ancestors returns the parent chain of a class, nearest first.
func (r *Resolver) Ancestors(class string) []string {
	var out []string
	seen := map[string]bool{class: true}
	c, ok := r.ns.Class(class)
	for ok && c.Parent != "" && !seen[c.Parent] {
		seen[c.Parent] = true
		out = append(out, c.Parent)
		c, ok = r.ns.Class(c.Parent)
	}
	return out
}

// MethodSet resolves the method set of one entity with a fresh resolver.
func MethodSet(ns *ir.Namespace, name string) (*Set, error) {
	return New(ns).MethodSet(name)
}

// ClassInterfaces returns every interface class implements, each once.
func ClassInterfaces(ns *ir.Namespace, class string) []string {
	return New(ns).Implemented(class)
}
