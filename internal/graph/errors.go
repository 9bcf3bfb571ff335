package graph

import (
	"errors"
	"fmt"
)

// NotFoundError is returned by write paths that reference a node, field or
// supertag that does not resolve. Read paths return nil instead.
type NotFoundError struct {
	Kind string // "node", "field", "supertag", "query", "computed field"
	Ref  string // id or system id that failed to resolve
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError signals missing system scaffolding (bootstrap not run) or a
// structurally invalid definition.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
