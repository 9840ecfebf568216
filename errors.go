package pvf

import (
	"errors"
	"fmt"
)

// ErrExportNotFound is returned by PvfInstance.Call when the requested name
// is absent from the exports map.
var ErrExportNotFound = errors.New("export not found")

// ValidationError reports structurally valid Wasm with disallowed content,
// e.g. a forbidden opcode inside a constant expression.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnresolvedImportError reports an import the resolver could not satisfy.
type UnresolvedImportError struct {
	Module string
	Field  string
	Err    error
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf("unresolved import: %s::%s", e.Module, e.Field)
}

func (e *UnresolvedImportError) Unwrap() error { return e.Err }

// UnsupportedError reports a section, opcode or type outside the implemented
// WebAssembly 1.0 integer subset. Compilation fails deterministically before
// any code is emitted.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported: %s", e.Feature)
}

func unsupportedf(format string, args ...interface{}) error {
	return &UnsupportedError{Feature: fmt.Sprintf(format, args...)}
}
