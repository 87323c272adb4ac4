package resolve

import (
	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/ir"
)

// EmissionOrder returns the namespace's classes parent-before-child.
//
// The walk is depth-first over parent references, restarting at each
// unvisited class in declaration order, so unrelated classes keep their
// declared order. Parents outside the namespace are treated as roots.
func EmissionOrder(ns *ir.Namespace) ([]string, error) {
	edges := make(map[string][]string, len(ns.Classes))
	names := make([]string, 0, len(ns.Classes))
	for _, c := range ns.Classes {
		names = append(names, c.Name)
		if parent, ok := local(ns, c.Parent); ok {
			edges[c.Name] = []string{parent}
		}
	}
	return topoSort(names, edges)
}

// InterfaceOrder returns the namespace's interfaces prerequisite-first.
func InterfaceOrder(ns *ir.Namespace) ([]string, error) {
	edges := make(map[string][]string, len(ns.Interfaces))
	names := make([]string, 0, len(ns.Interfaces))
	for _, i := range ns.Interfaces {
		names = append(names, i.Name)
		for _, p := range i.Prerequisites {
			if _, isIface := ns.Interface(p); !isIface {
				continue
			}
			if name, ok := local(ns, p); ok {
				edges[i.Name] = append(edges[i.Name], name)
			}
		}
	}
	return topoSort(names, edges)
}

// local resolves name to an entity declared in ns itself.
func local(ns *ir.Namespace, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	e, owner, ok := ns.Lookup(name)
	if !ok || owner != ns {
		return "", false
	}
	return e.EntityName(), true
}

// topoSort emits every dependency of a node before the node itself.
// Returns error if cycle detected.
func topoSort(names []string, deps map[string][]string) ([]string, error) {
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var stack []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			cycle := []string{n}
			for i := len(stack) - 1; i >= 0; i-- {
				cycle = append([]string{stack[i]}, cycle...)
				if stack[i] == n {
					break
				}
			}
			return errors.Cycle(errors.PhaseResolve, cycle)
		}
		state[n] = visiting
		stack = append(stack, n)
		for _, d := range deps[n] {
			if err := visit(d); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		order = append(order, n)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}
