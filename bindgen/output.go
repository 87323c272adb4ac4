package bindgen

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/nativebind/errors"
)

// File is one generated source file.
type File struct {
	Name    string
	Content []byte
}

// Skip records an entity that was not emitted.
type Skip struct {
	Entity string
	Reason string
}

// Exclusion records a method left out of an emitted entity.
type Exclusion struct {
	Entity string
	Method string
	Symbol string
	Reason string
}

// Output is the generated package for one namespace.
type Output struct {
	Package  string
	Files    []File
	Skipped  []Skip
	Excluded []Exclusion
}

// File returns the generated file with the given name.
func (o *Output) File(name string) (File, bool) {
	i := sort.Search(len(o.Files), func(i int) bool { return o.Files[i].Name >= name })
	if i < len(o.Files) && o.Files[i].Name == name {
		return o.Files[i], true
	}
	return File{}, false
}

// Names returns the file names in order.
func (o *Output) Names() []string {
	names := make([]string, len(o.Files))
	for i, f := range o.Files {
		names[i] = f.Name
	}
	return names
}

// IsSkipped reports whether an entity was skipped.
func (o *Output) IsSkipped(entity string) bool {
	for _, s := range o.Skipped {
		if s.Entity == entity {
			return true
		}
	}
	return false
}

// Write writes every file into dir, creating it if needed.
func (o *Output) Write(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.PhaseGenerate, errors.KindInvalidInput, err, "create "+dir)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, f := range o.Files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, f.Name)
			if err := os.WriteFile(path, f.Content, 0o644); err != nil {
				return errors.Wrap(errors.PhaseGenerate, errors.KindInvalidInput, err, "write "+path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	Logger().Debug("wrote package",
		zap.String("package", o.Package),
		zap.String("dir", dir),
		zap.Int("files", len(o.Files)))
	return nil
}
