package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad       Phase = "load"       // IR / library loading
	PhaseValidate   Phase = "validate"   // IR validation
	PhaseMap        Phase = "map"        // type mapping
	PhaseResolve    Phase = "resolve"    // inheritance and interface flattening
	PhaseGenerate   Phase = "generate"   // binding emission
	PhaseInvoke     Phase = "invoke"     // native call dispatch
	PhaseMarshal    Phase = "marshal"    // Go to native
	PhaseUnmarshal  Phase = "unmarshal"  // native to Go
	PhaseRegistry   Phase = "registry"   // wrapper identity and ownership
	PhaseTrampoline Phase = "trampoline" // native to Go callbacks
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindAllocation        Kind = "allocation"
	KindOverflow          Kind = "overflow"
	KindNullHandle        Kind = "null_handle"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindCycle             Kind = "cycle"
	KindMissingDependency Kind = "missing_dependency"
	KindOwnership         Kind = "ownership_violation"
	KindStaleTrampoline   Kind = "stale_trampoline"
	KindNativeFailure     Kind = "native_failure"
	KindAmbiguous         Kind = "ambiguous"
	KindPoisoned          Kind = "poisoned"
	KindInstantiation     Kind = "instantiation"
)

// Error is the structured error type used throughout nativebind
type Error struct {
	Value      any
	Cause      error
	Phase      Phase
	Kind       Kind
	GoType     string
	NativeType string
	Detail     string
	Path       []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.NativeType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.NativeType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", native type ")
			b.WriteString(e.NativeType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("native type ")
			b.WriteString(e.NativeType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.NativeType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the entity path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// NativeType sets the native type name
func (b *Builder) NativeType(t string) *Builder {
	b.err.NativeType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, nativeType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindTypeMismatch,
		Path:       path,
		GoType:     goType,
		NativeType: nativeType,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Unsupported creates an unsupported construct error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// MemoryOutOfBounds creates an out of bounds error for a native memory range
func MemoryOutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory range [%d, %d) out of bounds", offset, uint64(offset)+uint64(length)),
		Value:  offset,
	}
}

// NullHandle creates an error for a null handle where a value was required
func NullHandle(phase Phase, path []string, nativeType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindNullHandle,
		Path:       path,
		NativeType: nativeType,
		Detail:     "null handle for non-nullable value",
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:      phase,
		Kind:       KindOverflow,
		Path:       path,
		NativeType: targetType,
		Detail:     fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:      value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Cycle creates an error for a cycle in the parent or prerequisite graph
func Cycle(phase Phase, path []string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCycle,
		Path:   path,
		Detail: "cycle: " + strings.Join(path, " -> "),
	}
}

// MissingDependency creates an error for a reference to an entity that was not emitted
func MissingDependency(phase Phase, from, to string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingDependency,
		Path:   []string{from},
		Detail: fmt.Sprintf("references unavailable type %q", to),
		Value:  to,
	}
}

// Ownership creates an ownership violation error
func Ownership(phase Phase, handle uint32, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOwnership,
		Detail: fmt.Sprintf("handle 0x%x: %s", handle, detail),
		Value:  handle,
	}
}

// StaleTrampoline creates an error for a callback invoked after its target was released
func StaleTrampoline(id uint32) *Error {
	return &Error{
		Phase:  PhaseTrampoline,
		Kind:   KindStaleTrampoline,
		Detail: fmt.Sprintf("trampoline 0x%x invoked after release", id),
		Value:  id,
	}
}

// Poisoned creates an error returned by a session that observed a fatal boundary fault
func Poisoned(cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindPoisoned,
		Detail: "session is poisoned by an earlier fatal error",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate library",
		Cause:  cause,
	}
}

// Load creates a loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingSymbol represents a single unresolved library export
type MissingSymbol struct {
	Library string
	Symbol  string
}

// MissingSymbolsError is returned when a library lacks exports its configuration requires
type MissingSymbolsError struct {
	Symbols []MissingSymbol
}

// NewMissingSymbolsError creates an error from a list of "library#symbol" strings
func NewMissingSymbolsError(symbols []string) *MissingSymbolsError {
	result := &MissingSymbolsError{
		Symbols: make([]MissingSymbol, 0, len(symbols)),
	}
	for _, s := range symbols {
		lib, sym, found := strings.Cut(s, "#")
		if !found {
			lib, sym = "", s
		}
		result.Symbols = append(result.Symbols, MissingSymbol{Library: lib, Symbol: sym})
	}
	return result
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[load] not_found: no symbols specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d library symbol(s):\n", len(e.Symbols))

	byLib := make(map[string][]string)
	var libOrder []string
	for _, s := range e.Symbols {
		if _, exists := byLib[s.Library]; !exists {
			libOrder = append(libOrder, s.Library)
		}
		byLib[s.Library] = append(byLib[s.Library], s.Symbol)
	}

	for _, lib := range libOrder {
		b.WriteString("\n  ")
		if lib == "" {
			b.WriteString("(unnamed)")
		} else {
			b.WriteString(lib)
		}
		b.WriteString(":\n")
		for _, sym := range byLib[lib] {
			b.WriteString("    - ")
			b.WriteString(sym)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingSymbolsError) Is(target error) bool {
	_, ok := target.(*MissingSymbolsError)
	return ok
}

// Join combines multiple errors; it returns nil when errs holds no non-nil error.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// KindOf returns the Kind of the first *Error in err's tree.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
