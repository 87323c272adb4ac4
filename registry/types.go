package registry

import (
	"sort"
	"sync"
)

// Ownership is the managed side's claim on a handle.
type Ownership uint8

const (
	// Borrowed handles are never freed by the managed side.
	Borrowed Ownership = iota
	// Full handles are freed once, when the last reference is released.
	Full
)

func (o Ownership) String() string {
	if o == Full {
		return "full"
	}
	return "borrowed"
}

// Type describes a registered native type.
type Type struct {
	Name       string
	Parent     string
	Interfaces []string
	// Library is the native library that owns instances of the type.
	Library string
	// TypeFunc is the native symbol returning the type id, if any.
	TypeFunc string
	// Free is the native symbol that releases an owned handle. Empty means
	// the library allocator's free.
	Free string
	// Refcounted types hold one native reference per full-transfer
	// observation; each one is released separately.
	Refcounted bool
	// New builds the managed wrapper for one Reference.
	New func(*Reference) any
}

// Types is the hierarchy of registered types of one session.
type Types struct {
	mu     sync.RWMutex
	byName map[string]*Type
}

// NewTypes creates an empty hierarchy.
func NewTypes() *Types {
	return &Types{byName: make(map[string]*Type)}
}

// Register adds or replaces a type and returns the stored copy.
func (ts *Types) Register(t Type) *Type {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	stored := t
	ts.byName[t.Name] = &stored
	return &stored
}

// Lookup returns a registered type.
func (ts *Types) Lookup(name string) (*Type, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.byName[name]
	return t, ok
}

// Names returns all registered type names, sorted.
func (ts *Types) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.byName))
	for n := range ts.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsA reports whether name is target or derives from it through parents,
// implemented interfaces or interface prerequisites.
func (ts *Types) IsA(name, target string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.isA(name, target, make(map[string]bool))
}

func (ts *Types) isA(name, target string, seen map[string]bool) bool {
	if name == target {
		return true
	}
	if seen[name] {
		return false
	}
	seen[name] = true
	t, ok := ts.byName[name]
	if !ok {
		return false
	}
	if t.Parent != "" && ts.isA(t.Parent, target, seen) {
		return true
	}
	for _, i := range t.Interfaces {
		if ts.isA(i, target, seen) {
			return true
		}
	}
	return false
}

// Depth returns the length of the parent chain above name.
func (ts *Types) Depth(name string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	d := 0
	seen := map[string]bool{name: true}
	for t, ok := ts.byName[name]; ok && t.Parent != "" && !seen[t.Parent]; t, ok = ts.byName[t.Parent] {
		seen[t.Parent] = true
		d++
	}
	return d
}

// FreeOf returns the free function of name: its own, or the nearest one
// found through parents, interfaces and prerequisites.
func (ts *Types) FreeOf(name string) string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.freeOf(name, make(map[string]bool))
}

func (ts *Types) freeOf(name string, seen map[string]bool) string {
	if seen[name] {
		return ""
	}
	seen[name] = true
	t, ok := ts.byName[name]
	if !ok {
		return ""
	}
	if t.Free != "" {
		return t.Free
	}
	if t.Parent != "" {
		if f := ts.freeOf(t.Parent, seen); f != "" {
			return f
		}
	}
	for _, i := range t.Interfaces {
		if f := ts.freeOf(i, seen); f != "" {
			return f
		}
	}
	return ""
}
