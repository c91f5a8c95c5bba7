package protomodel

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestSentinelErrors verifies that all sentinel errors are defined correctly.
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ErrConfiguration", err: ErrConfiguration, want: "configuration error"},
		{name: "ErrFieldConversion", err: ErrFieldConversion, want: "field conversion failed"},
		{name: "ErrMissingLocalField", err: ErrMissingLocalField, want: "missing local field"},
		{name: "ErrRelationNotFound", err: ErrRelationNotFound, want: "relation not found"},
		{name: "ErrNotFound", err: ErrNotFound, want: "instance not found"},
		{name: "ErrNoStore", err: ErrNoStore, want: "no store configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("sentinel error %s is nil", tt.name)
			}
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("error message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigurationError(t *testing.T) {
	err := configErr("Root", "relation", "related type %q is not registered", "Gone")

	want := `protomodel: configure Root.relation: related type "Gone" is not registered`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected errors.Is(err, ErrConfiguration)")
	}

	var cfg *ConfigurationError
	if !errors.As(fmt.Errorf("register: %w", err), &cfg) {
		t.Fatal("expected errors.As to find *ConfigurationError")
	}
	if cfg.Model != "Root" || cfg.Field != "relation" {
		t.Errorf("unexpected fields: %+v", cfg)
	}

	noField := configErr("Root", "", "model already registered")
	if got := noField.Error(); got != "protomodel: configure Root: model already registered" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFieldConversionError(t *testing.T) {
	cause := errors.New("value -1 must be positive")
	err := &FieldConversionError{Model: "Root", Field: "uint32_field", Err: cause}

	if got := err.Error(); got != "failed to convert field 'uint32_field' of Root: value -1 must be positive" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrFieldConversion) {
		t.Error("expected errors.Is(err, ErrFieldConversion)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to stay reachable")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("field errors are not configuration errors")
	}
}

func TestRelationNotFoundError(t *testing.T) {
	tests := []struct {
		name string
		err  *RelationNotFoundError
		want string
	}{
		{
			name: "with field",
			err:  &RelationNotFoundError{Model: "Book", Field: "author", ID: 4},
			want: "Book.author: related id 4 does not exist",
		},
		{
			name: "without field",
			err:  &RelationNotFoundError{Model: "Author", ID: 9},
			want: "Author with id 9 does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrRelationNotFound) || !errors.Is(tt.err, ErrNotFound) {
				t.Error("expected both not-found sentinels to match")
			}
		})
	}
}

func TestMissingLocalFieldError(t *testing.T) {
	err := &MissingLocalFieldError{Model: "Comfy", MessageField: "number", LocalField: "count"}
	if !errors.Is(err, ErrMissingLocalField) {
		t.Error("expected errors.Is(err, ErrMissingLocalField)")
	}
	if !strings.Contains(err.Error(), `no local field "count" on Comfy`) {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestConversionError(t *testing.T) {
	first := &FieldConversionError{Model: "Root", Field: "int32_field", Err: errors.New(`invalid literal for int: "abc"`)}
	second := &FieldConversionError{Model: "Root", Field: "double_field", Err: ErrNoStore}
	err := &ConversionError{Model: "Root", Errors: []error{first, second}}

	lines := strings.Split(err.Error(), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header and one line per error, got %q", err.Error())
	}
	if lines[0] != "multiple errors found:" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != first.Error() || lines[2] != second.Error() {
		t.Errorf("unexpected lines %q", lines[1:])
	}

	if !errors.Is(err, ErrFieldConversion) {
		t.Error("expected errors.Is to reach the field errors")
	}
	if !errors.Is(err, ErrNoStore) {
		t.Error("expected errors.Is to reach the wrapped causes")
	}

	var field *FieldConversionError
	if !errors.As(err, &field) || field.Field != "int32_field" {
		t.Errorf("errors.As found %+v", field)
	}
}
