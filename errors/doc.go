// Package errors provides structured error types for nativebind.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: entity path, surface/native type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("Button", "set_label").
//		GoType("string").
//		NativeType("gint").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseMarshal, path, "string", "gint")
//	err := errors.OutOfBounds(errors.PhaseUnmarshal, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when their Phase and Kind are equal.
package errors
