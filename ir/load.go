package ir

import (
	"encoding/json"
	"io"
	"os"

	"github.com/wippyai/nativebind/errors"
)

// Load decodes a namespace from its normalized JSON form and builds its index.
func Load(r io.Reader) (*Namespace, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var ns Namespace
	if err := dec.Decode(&ns); err != nil {
		return nil, errors.Load("decode namespace", err)
	}
	ns.Reindex()
	return &ns, nil
}

// LoadFile reads and decodes a namespace file.
func LoadFile(path string) (*Namespace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Load("open "+path, err)
	}
	defer f.Close()
	return Load(f)
}

// Encode writes the namespace in its normalized JSON form.
func Encode(w io.Writer, ns *Namespace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ns)
}
