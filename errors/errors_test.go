package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:      PhaseMarshal,
				Kind:       KindTypeMismatch,
				Path:       []string{"Button", "set_label", "label"},
				GoType:     "string",
				NativeType: "gint",
				Detail:     "cannot convert",
			},
			contains: []string{"[marshal]", "type_mismatch", "Button.set_label.label", "string", "gint", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseUnmarshal,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[unmarshal]", "out_of_bounds"},
		},
		{
			name: "native type only",
			err: &Error{
				Phase:      PhaseInvoke,
				Kind:       KindNullHandle,
				NativeType: "GtkWidget",
				Detail:     "null",
			},
			contains: []string{"native type GtkWidget - null"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInvoke,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[invoke]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseMarshal,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseMarshal,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseMarshal, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseUnmarshal, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseMarshal, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	wrapped := Wrap(PhaseInvoke, KindNativeFailure, err, "call failed")
	if !errors.Is(wrapped, &Error{Phase: PhaseMarshal, Kind: KindTypeMismatch}) {
		t.Error("errors.Is should match through the cause chain")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMarshal, KindTypeMismatch).
		Path("Label", "text").
		GoType("string").
		NativeType("gint").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "string", "int").
		Build()

	if err.Phase != PhaseMarshal {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMarshal)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "Label" || err.Path[1] != "text" {
		t.Errorf("Path = %v, want [Label text]", err.Path)
	}
	if err.GoType != "string" {
		t.Errorf("GoType = %v, want 'string'", err.GoType)
	}
	if err.NativeType != "gint" {
		t.Errorf("NativeType = %v, want 'gint'", err.NativeType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected string, got int" {
		t.Errorf("Detail = %v, want 'expected string, got int'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
		want string
	}{
		{"AllocationFailed", AllocationFailed(PhaseInvoke, 1024, 8), KindAllocation, "1024"},
		{"Unsupported", Unsupported(PhaseMap, "callback without closure"), KindUnsupported, "closure"},
		{"OutOfBounds", OutOfBounds(PhaseUnmarshal, []string{"list"}, 10, 5), KindOutOfBounds, "index 10"},
		{"MemoryOutOfBounds", MemoryOutOfBounds(PhaseUnmarshal, 0xfff0, 32), KindOutOfBounds, "65520"},
		{"NullHandle", NullHandle(PhaseUnmarshal, nil, "Widget"), KindNullHandle, "null handle"},
		{"Overflow", Overflow(PhaseMarshal, []string{"val"}, 300, "guint8"), KindOverflow, "300"},
		{"NotFound", NotFound(PhaseLoad, "symbol", "gtk_init"), KindNotFound, "gtk_init"},
		{"Cycle", Cycle(PhaseResolve, []string{"A", "B", "A"}), KindCycle, "A -> B -> A"},
		{"MissingDependency", MissingDependency(PhaseGenerate, "Box", "Layout"), KindMissingDependency, "Layout"},
		{"Ownership", Ownership(PhaseRegistry, 0x10, "borrowed"), KindOwnership, "0x10"},
		{"StaleTrampoline", StaleTrampoline(7), KindStaleTrampoline, "after release"},
		{"Poisoned", Poisoned(nil), KindPoisoned, "poisoned"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("Error() = %q, should contain %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestMissingSymbolsError(t *testing.T) {
	t.Run("grouped by library", func(t *testing.T) {
		err := NewMissingSymbolsError([]string{
			"libgeom#malloc",
			"libui#ui_widget_get_type",
			"libgeom#free",
		})
		if len(err.Symbols) != 3 {
			t.Fatalf("expected 3 symbols, got %d", len(err.Symbols))
		}
		if err.Symbols[0].Library != "libgeom" || err.Symbols[0].Symbol != "malloc" {
			t.Errorf("Symbols[0] = %+v", err.Symbols[0])
		}

		msg := err.Error()
		for _, s := range []string{"missing 3", "libgeom:", "libui:", "- free"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error %q should contain %q", msg, s)
			}
		}
		if strings.Index(msg, "libgeom:") > strings.Index(msg, "libui:") {
			t.Error("libraries should appear in first-seen order")
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := NewMissingSymbolsError(nil)
		if !strings.Contains(err.Error(), "no symbols specified") {
			t.Errorf("empty error should have specific message, got: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingSymbolsError([]string{"lib#fn"})
		if !errors.Is(err, &MissingSymbolsError{}) {
			t.Error("errors.Is should match MissingSymbolsError")
		}
	})
}

func TestJoin(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
	a := NotFound(PhaseLoad, "type", "A")
	joined := Join(a, Cycle(PhaseValidate, []string{"B", "B"}))
	if !errors.Is(joined, &Error{Phase: PhaseValidate, Kind: KindCycle}) {
		t.Error("joined error should match cycle")
	}
	if !errors.Is(joined, &Error{Phase: PhaseLoad, Kind: KindNotFound}) {
		t.Error("joined error should match not found")
	}
}
