package bindgen

import (
	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/nativebind/errors"
	"github.com/wippyai/nativebind/typemap"
)

// ABIPath is the import path of the descriptor package generated code uses.
const ABIPath = "github.com/wippyai/nativebind/abi"

// Header is the first line of every generated file.
const Header = "Code generated by nbgen. DO NOT EDIT."

// Config configures a Generator.
type Config struct {
	// Package is the Go package name of the generated code. Defaults to the
	// lower-cased namespace name.
	Package string
	// RuntimePath overrides typemap.DefaultRuntimePath.
	RuntimePath string
	// Packages maps imported namespace names to Go import paths.
	Packages map[string]string
	// Conventions pins array length parameters per signature.
	Conventions typemap.Conventions
	// Target is a semver constraint on the native library version. Methods
	// whose Since version falls outside it are excluded.
	Target string
}

func (c Config) withDefaults() Config {
	if c.RuntimePath == "" {
		c.RuntimePath = typemap.DefaultRuntimePath
	}
	if c.Conventions == nil {
		c.Conventions = make(typemap.Conventions)
	}
	return c
}

func (c Config) constraint() (*semver.Constraints, error) {
	if c.Target == "" {
		return nil, nil
	}
	cons, err := semver.NewConstraint(c.Target)
	if err != nil {
		return nil, errors.New(errors.PhaseGenerate, errors.KindInvalidInput).
			Detail("target %q", c.Target).
			Cause(err).
			Build()
	}
	return cons, nil
}
