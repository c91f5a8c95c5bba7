package protomodel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Sentinel errors for mapping failures.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrConfiguration indicates a schema declaration that cannot be materialized,
	// such as an unresolvable related type or a malformed serializer pair.
	ErrConfiguration = errors.New("configuration error")

	// ErrFieldConversion indicates that a single field could not be converted.
	ErrFieldConversion = errors.New("field conversion failed")

	// ErrMissingLocalField indicates a message field without a local counterpart.
	ErrMissingLocalField = errors.New("missing local field")

	// ErrRelationNotFound indicates a relation identifier that no longer resolves
	// in storage.
	ErrRelationNotFound = errors.New("relation not found")

	// ErrNotFound is returned by stores when an instance does not exist.
	ErrNotFound = errors.New("instance not found")

	// ErrNoStore indicates an operation that needs storage on a registry
	// configured without one.
	ErrNoStore = errors.New("no store configured")
)

// ConfigurationError reports a declaration problem detected at registration
// or serializer lookup time.
type ConfigurationError struct {
	// Model is the declaration being processed.
	Model string

	// Field is the message or local field involved, if any.
	Field string

	// Err is the underlying cause.
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protomodel: configure %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("protomodel: configure %s.%s: %v", e.Model, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// FieldConversionError annotates a conversion failure with the field it
// happened on.
type FieldConversionError struct {
	Model string
	Field string
	Err   error
}

func (e *FieldConversionError) Error() string {
	return fmt.Sprintf("failed to convert field '%s' of %s: %v", e.Field, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldConversionError) Unwrap() error { return e.Err }

// Is matches ErrFieldConversion.
func (e *FieldConversionError) Is(target error) bool { return target == ErrFieldConversion }

// MissingLocalFieldError is logged when a message field has no local field.
// It is never returned from ToMessage; FromMessage skips the field as well.
type MissingLocalFieldError struct {
	Model        string
	MessageField string
	LocalField   string
}

func (e *MissingLocalFieldError) Error() string {
	return fmt.Sprintf("no local field %q on %s for message field %q", e.LocalField, e.Model, e.MessageField)
}

// Is matches ErrMissingLocalField.
func (e *MissingLocalFieldError) Is(target error) bool { return target == ErrMissingLocalField }

// RelationNotFoundError is surfaced by stores when a related identifier does
// not resolve.
type RelationNotFoundError struct {
	Model string
	Field string
	ID    int64
}

func (e *RelationNotFoundError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s with id %d does not exist", e.Model, e.ID)
	}
	return fmt.Sprintf("%s.%s: related id %d does not exist", e.Model, e.Field, e.ID)
}

// Is matches both ErrRelationNotFound and ErrNotFound.
func (e *RelationNotFoundError) Is(target error) bool {
	return target == ErrRelationNotFound || target == ErrNotFound
}

// ConversionError aggregates every per-field failure of a ToMessage pass.
type ConversionError struct {
	Model  string
	Errors []error
}

func (e *ConversionError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return "multiple errors found:\n" + strings.Join(msgs, "\n")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ConversionError) Unwrap() []error { return e.Errors }

func configErr(model, field string, format string, args ...any) error {
	return &ConfigurationError{Model: model, Field: field, Err: fmt.Errorf(format, args...)}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. If logger is nil, slog.Default() is used.
//
//	defer protomodel.CloseWithLog(rows, logger, "rows")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
