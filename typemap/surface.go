package typemap

import (
	"path"
	"strings"
)

// Surface is the Go type a generated binding exposes for a value.
type Surface struct {
	// Name is the base identifier: a builtin ("int32") or a named type ("Button").
	Name string
	// Path is the import path of a named type from another package; empty for
	// builtins and types of the package being generated.
	Path string
	// Pointer marks *Name.
	Pointer bool
	// Elem is set for slices.
	Elem *Surface
	// Optional marks a value that may be absent. Pointer and slice surfaces
	// express absence with nil; for other surfaces Pointer is set as well.
	Optional bool
}

// IsZero reports whether the surface is empty (void).
func (s Surface) IsZero() bool {
	return s.Name == "" && s.Elem == nil
}

// IsSlice reports whether the surface is a slice.
func (s Surface) IsSlice() bool {
	return s.Elem != nil
}

func (s Surface) String() string {
	var b strings.Builder
	s.write(&b)
	return b.String()
}

func (s Surface) write(b *strings.Builder) {
	if s.Elem != nil {
		b.WriteString("[]")
		s.Elem.write(b)
		return
	}
	if s.Pointer {
		b.WriteByte('*')
	}
	if s.Path != "" {
		b.WriteString(path.Base(s.Path))
		b.WriteByte('.')
	}
	b.WriteString(s.Name)
}

// Imports returns the import paths the surface references.
func (s Surface) Imports() []string {
	var out []string
	for cur := &s; cur != nil; cur = cur.Elem {
		if cur.Path != "" {
			out = append(out, cur.Path)
		}
	}
	return out
}

func builtin(name string) Surface {
	return Surface{Name: name}
}
