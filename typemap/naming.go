package typemap

import (
	"go/token"
	"go/types"
	"strings"

	"github.com/golang-cz/textcase"
)

// reserved names are used by generated method bodies or name the packages
// generated code imports.
var reserved = map[string]bool{
	"ctx":     true,
	"s":       true,
	"res":     true,
	"err":     true,
	"args":    true,
	"ret":     true,
	"self":    true,
	"p":       true,
	"r":       true,
	"fn":      true,
	"abi":     true,
	"runtime": true,
	"context": true,
}

// GoName returns the exported Go identifier for a native entity or member name.
func GoName(name string) string {
	n := textcase.PascalCase(name)
	if n == "" {
		return "X"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "N" + n
	}
	return n
}

// ParamName returns an unexported Go identifier for a parameter.
func ParamName(name string) string {
	n := textcase.CamelCase(name)
	if n == "" {
		n = "arg"
	}
	if n[0] >= '0' && n[0] <= '9' {
		n = "a" + n
	}
	if token.IsKeyword(n) || reserved[n] || types.Universe.Lookup(n) != nil {
		n += "Arg"
	}
	return n
}

// FileName returns the generated file name for an entity.
func FileName(name string) string {
	return strings.ToLower(textcase.SnakeCase(name)) + ".go"
}

// MemberName returns the Go identifier for an enum member, prefixed by its type.
func MemberName(enum, member string) string {
	return GoName(enum) + GoName(member)
}
