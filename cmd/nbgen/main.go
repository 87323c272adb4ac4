// Command nbgen generates Go bindings for a native library namespace.
//
// The namespace is read from its normalized JSON form (-ir) or from the JSON
// form of a decoded WIT package (-wit together with -iface). Bindings are
// written to -out, listed with -list, browsed with -i, or regenerated on
// every change of the inputs with -watch.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/nativebind/bindgen"
	"github.com/wippyai/nativebind/ir"
	"github.com/wippyai/nativebind/ir/witimport"
	"github.com/wippyai/nativebind/resolve"
	"github.com/wippyai/nativebind/typemap"
)

// imports collects repeated -import flags of the form file.json=import/path.
type imports []string

func (i *imports) String() string     { return strings.Join(*i, ",") }
func (i *imports) Set(v string) error { *i = append(*i, v); return nil }

// options are the parsed command line.
type options struct {
	irFile      string
	witFile     string
	iface       string
	library     string
	out         string
	pkg         string
	runtimePath string
	target      string
	conventions string
	imports     imports
	list        bool
	interactive bool
	watch       bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.irFile, "ir", "", "Path to a normalized namespace (JSON)")
	flag.StringVar(&o.witFile, "wit", "", "Path to a decoded WIT package (JSON)")
	flag.StringVar(&o.iface, "iface", "", "WIT interface to import (with -wit)")
	flag.StringVar(&o.library, "lib", "", "Native library name (overrides the namespace's)")
	flag.StringVar(&o.out, "out", "", "Output directory")
	flag.StringVar(&o.pkg, "pkg", "", "Go package name (default: lower-cased namespace)")
	flag.StringVar(&o.runtimePath, "runtime", "", "Import path of the runtime package")
	flag.StringVar(&o.target, "target", "", "Semver constraint on the library version (e.g. \">= 2.0, < 3\")")
	flag.StringVar(&o.conventions, "conventions", "", "Array length conventions (JSON)")
	flag.Var(&o.imports, "import", "Imported namespace as file.json=import/path (repeatable)")
	flag.BoolVar(&o.list, "list", false, "List entities and exclusions and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive browser")
	flag.BoolVar(&o.watch, "watch", false, "Regenerate when inputs change")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.Parse()

	if (o.irFile == "") == (o.witFile == "") || (o.witFile != "" && o.iface == "") {
		fmt.Fprintln(os.Stderr, "Usage: nbgen -ir <ns.json> -out <dir> [-pkg name] [-target constraint]")
		fmt.Fprintln(os.Stderr, "       nbgen -wit <resolve.json> -iface <name> -out <dir>")
		fmt.Fprintln(os.Stderr, "       nbgen -ir <ns.json> -list")
		fmt.Fprintln(os.Stderr, "       nbgen -ir <ns.json> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       nbgen -ir <ns.json> -out <dir> -watch")
		os.Exit(1)
	}

	if o.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			setLoggers(l)
			defer l.Sync() //nolint:errcheck
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLoggers(l *zap.Logger) {
	bindgen.SetLogger(l.Named("bindgen"))
	witimport.SetLogger(l.Named("witimport"))
}

func run(ctx context.Context, o options) error {
	switch {
	case o.interactive:
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(o)
	case o.list:
		res, err := generate(o)
		if err != nil {
			return err
		}
		list(os.Stdout, res)
		return nil
	case o.out == "":
		return fmt.Errorf("-out is required")
	case o.watch:
		return watch(ctx, o)
	default:
		return once(ctx, o)
	}
}

// once generates and writes the bindings one time.
func once(ctx context.Context, o options) error {
	res, err := generate(o)
	if err != nil {
		return err
	}
	if err := res.out.Write(ctx, o.out); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	fmt.Printf("Generated package %s: %d files, %d skipped, %d excluded\n",
		res.out.Package, len(res.out.Files), len(res.out.Skipped), len(res.out.Excluded))
	return nil
}

// result is one generation with the namespace it came from.
type result struct {
	ns  *ir.Namespace
	out *bindgen.Output
}

// inputs returns every file generation reads.
func (o options) inputs() []string {
	var files []string
	for _, f := range []string{o.irFile, o.witFile, o.conventions} {
		if f != "" {
			files = append(files, f)
		}
	}
	for _, spec := range o.imports {
		file, _, _ := strings.Cut(spec, "=")
		files = append(files, file)
	}
	return files
}

func load(o options) (*ir.Namespace, error) {
	if o.irFile != "" {
		return ir.LoadFile(o.irFile)
	}
	f, err := os.Open(o.witFile)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.witFile, err)
	}
	defer f.Close()
	res, err := witimport.DecodeJSON(f)
	if err != nil {
		return nil, err
	}
	return witimport.Import(res, o.iface)
}

// generate loads the namespace with its imports and generates bindings.
func generate(o options) (*result, error) {
	ns, err := load(o)
	if err != nil {
		return nil, err
	}
	if o.library != "" {
		ns.Library = o.library
	}

	cfg := bindgen.Config{
		Package:     o.pkg,
		RuntimePath: o.runtimePath,
		Target:      o.target,
		Packages:    make(map[string]string),
	}
	for _, spec := range o.imports {
		file, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("import %q: want file.json=import/path", spec)
		}
		other, err := ir.LoadFile(file)
		if err != nil {
			return nil, err
		}
		ns.AddImport(other)
		cfg.Packages[other.Name] = path
	}
	if o.conventions != "" {
		f, err := os.Open(o.conventions)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.conventions, err)
		}
		conv, err := typemap.LoadConventions(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		cfg.Conventions = conv
	}

	out, err := bindgen.New(cfg).Generate(ns)
	if err != nil {
		return nil, err
	}
	return &result{ns: ns, out: out}, nil
}

// list prints the entities in emission order, then what was left out.
func list(w io.Writer, res *result) {
	fmt.Fprintf(w, "Namespace: %s (library %s)\n", res.ns.Name, res.ns.Library)
	fmt.Fprintf(w, "Package: %s\n", res.out.Package)

	order, err := resolve.EmissionOrder(res.ns)
	if err == nil {
		fmt.Fprintf(w, "\nClasses (parent first):\n")
		for _, name := range order {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}

	fmt.Fprintf(w, "\nEntities:\n")
	for _, e := range res.ns.Entities() {
		status := "emitted"
		if res.out.IsSkipped(e.EntityName()) {
			status = "skipped"
		}
		fmt.Fprintf(w, "  %-10s %-30s %s\n", e.Category(), e.EntityName(), status)
	}

	if len(res.out.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped:\n")
		for _, s := range res.out.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.Entity, s.Reason)
		}
	}
	if len(res.out.Excluded) > 0 {
		fmt.Fprintf(w, "\nExcluded:\n")
		excluded := append([]bindgen.Exclusion(nil), res.out.Excluded...)
		sort.SliceStable(excluded, func(i, j int) bool { return excluded[i].Entity < excluded[j].Entity })
		for _, e := range excluded {
			fmt.Fprintf(w, "  %s.%s: %s\n", e.Entity, e.Method, e.Reason)
		}
	}

	fmt.Fprintf(w, "\nFiles:\n")
	for _, name := range res.out.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}
}
