package typemap

import (
	"encoding/json"
	"io"

	"github.com/wippyai/nativebind/errors"
)

// Convention pins the length parameters of one out-array for one symbol.
//
// Native APIs disagree on which scratch parameter carries the final element
// count of a dual-parameter out-array, and no rule recovers it from the
// declaration alone. Signatures whose convention cannot be derived are listed
// here; without an entry such a method is reported as ambiguous and skipped.
type Convention struct {
	Symbol string `json:"symbol"`
	// Array names the array parameter; "return" selects the return value.
	Array string `json:"array"`
	// CountIn names the parameter that receives the capacity on the way in.
	CountIn string `json:"count_in,omitempty"`
	// CountOut names the parameter that receives the element count on the way out.
	CountOut string `json:"count_out,omitempty"`
}

// Conventions is a per-signature table keyed by symbol and array parameter.
type Conventions map[string]Convention

func conventionKey(symbol, array string) string {
	return symbol + "#" + array
}

// Add registers a convention, replacing any previous one for the same array.
func (c Conventions) Add(conv Convention) {
	c[conventionKey(conv.Symbol, conv.Array)] = conv
}

// Lookup returns the convention for an array parameter of symbol.
func (c Conventions) Lookup(symbol, array string) (Convention, bool) {
	conv, ok := c[conventionKey(symbol, array)]
	return conv, ok
}

// LoadConventions decodes a JSON list of conventions.
func LoadConventions(r io.Reader) (Conventions, error) {
	var list []Convention
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, errors.Load("decode array conventions", err)
	}
	c := make(Conventions, len(list))
	for _, conv := range list {
		if conv.Symbol == "" || conv.Array == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "array convention needs symbol and array")
		}
		c.Add(conv)
	}
	return c, nil
}
