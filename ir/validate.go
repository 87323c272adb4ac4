package ir

import (
	"fmt"

	"github.com/wippyai/nativebind/errors"
)

// Validate checks the structural invariants of a namespace: unique entity
// names, resolvable parents and prerequisites, an acyclic parent and
// prerequisite graph, and in-range parameter cross references. All problems
// are reported together.
func Validate(ns *Namespace) error {
	if ns.Name == "" {
		return errors.InvalidInput(errors.PhaseValidate, "namespace has no name")
	}
	ns.Reindex()

	var errs []error
	seen := make(map[string]string)
	for _, e := range ns.Entities() {
		name := e.EntityName()
		if prev, dup := seen[name]; dup {
			errs = append(errs, errors.New(errors.PhaseValidate, errors.KindInvalidData).
				Path(name).
				Detail("duplicate entity name (%s and %s)", prev, e.Category()).
				Build())
			continue
		}
		seen[name] = e.Category().String()
	}

	for _, c := range ns.Classes {
		if c.Parent != "" {
			if _, ok := ns.Class(c.Parent); !ok {
				errs = append(errs, errors.MissingDependency(errors.PhaseValidate, c.Name, c.Parent))
			}
		}
		for _, iname := range c.Interfaces {
			if _, ok := ns.Interface(iname); !ok {
				errs = append(errs, errors.MissingDependency(errors.PhaseValidate, c.Name, iname))
			}
		}
		errs = append(errs, validateMethods(c.Name, c.Methods)...)
	}
	for _, i := range ns.Interfaces {
		for _, p := range i.Prerequisites {
			e, _, ok := ns.Lookup(p)
			if !ok {
				errs = append(errs, errors.MissingDependency(errors.PhaseValidate, i.Name, p))
				continue
			}
			if cat := e.Category(); cat != CategoryInterface && cat != CategoryClass {
				errs = append(errs, errors.InvalidData(errors.PhaseValidate, []string{i.Name},
					fmt.Sprintf("prerequisite %q is a %s", p, cat)))
			}
		}
		errs = append(errs, validateMethods(i.Name, i.Methods)...)
	}
	for _, r := range ns.Records {
		errs = append(errs, validateMethods(r.Name, r.Methods)...)
	}
	errs = append(errs, validateMethods(ns.Name, ns.Functions)...)

	errs = append(errs, findCycles(ns)...)

	return errors.Join(errs...)
}

func validateMethods(owner string, methods []*Method) []error {
	var errs []error
	for _, m := range methods {
		path := []string{owner, m.Name}
		if m.Symbol == "" {
			errs = append(errs, errors.InvalidData(errors.PhaseValidate, path, "method has no symbol"))
		}
		n := len(m.Params)
		check := func(what string, idx *int) {
			if idx != nil && (*idx < 0 || *idx >= n) {
				errs = append(errs, errors.OutOfBounds(errors.PhaseValidate, append(path, what), *idx, n))
			}
		}
		for _, p := range m.Params {
			check(p.Name+".length", lengthParam(p.Type))
			check(p.Name+".closure", p.Closure)
			check(p.Name+".destroy", p.Destroy)
		}
		check("return.length", lengthParam(m.Return))
	}
	return errs
}

func lengthParam(t TypeRef) *int {
	if t.Elem == nil || t.Arity != ArityLength {
		return nil
	}
	return t.LengthParam
}

const (
	white = iota
	grey
	black
)

// findCycles walks class parent edges and interface prerequisite edges.
func findCycles(ns *Namespace) []error {
	edges := make(map[string][]string)
	var order []string
	for _, c := range ns.Classes {
		order = append(order, c.Name)
		if c.Parent != "" {
			edges[c.Name] = []string{c.Parent}
		}
	}
	for _, i := range ns.Interfaces {
		order = append(order, i.Name)
		for _, p := range i.Prerequisites {
			if _, ok := ns.Interface(p); ok {
				edges[i.Name] = append(edges[i.Name], p)
			}
		}
	}

	var errs []error
	color := make(map[string]int)
	var stack []string

	var visit func(n string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range edges[n] {
			switch color[next] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), next)
				errs = append(errs, errors.Cycle(errors.PhaseValidate, cycle))
			case white:
				visit(next)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range order {
		if color[n] == white {
			visit(n)
		}
	}
	return errs
}
