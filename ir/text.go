package ir

import (
	"fmt"
)

var (
	transferNames  = []string{"none", "container", "full"}
	arityNames     = []string{"scalar", "fixed", "length", "zero-terminated"}
	directionNames = []string{"in", "out", "inout"}
	scopeNames     = []string{"call", "async", "notified", "forever"}
	kindNames      = []string{"instance", "static", "constructor"}
)

func enumText(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("unknown(%d)", v)
}

func parseEnum(names []string, what string, text []byte) (uint8, error) {
	s := string(text)
	for i, n := range names {
		if n == s {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("invalid %s %q", what, s)
}

func (t Transfer) String() string { return enumText(transferNames, uint8(t)) }

func (t Transfer) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Transfer) UnmarshalText(text []byte) error {
	v, err := parseEnum(transferNames, "transfer", text)
	*t = Transfer(v)
	return err
}

func (a Arity) String() string { return enumText(arityNames, uint8(a)) }

func (a Arity) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Arity) UnmarshalText(text []byte) error {
	v, err := parseEnum(arityNames, "arity", text)
	*a = Arity(v)
	return err
}

func (d Direction) String() string { return enumText(directionNames, uint8(d)) }

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(text []byte) error {
	v, err := parseEnum(directionNames, "direction", text)
	*d = Direction(v)
	return err
}

func (s Scope) String() string { return enumText(scopeNames, uint8(s)) }

func (s Scope) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Scope) UnmarshalText(text []byte) error {
	v, err := parseEnum(scopeNames, "scope", text)
	*s = Scope(v)
	return err
}

func (k MethodKind) String() string { return enumText(kindNames, uint8(k)) }

func (k MethodKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *MethodKind) UnmarshalText(text []byte) error {
	v, err := parseEnum(kindNames, "method kind", text)
	*k = MethodKind(v)
	return err
}
