package index

import (
	"errors"
	"fmt"
)

// ErrEmptyID is returned when an empty record ID is passed to Add or Delete.
var ErrEmptyID = errors.New("record id must not be empty")

// ErrNamespaceMismatch is returned when Ensure is called with a spec that is
// incompatible with the existing namespace. This is a fatal configuration
// error; the namespace is never silently recreated.
type ErrNamespaceMismatch struct {
	Namespace string
	Reason    string
}

// Error implements the error interface.
func (e *ErrNamespaceMismatch) Error() string {
	return fmt.Sprintf("namespace %q mismatch: %s", e.Namespace, e.Reason)
}

// ErrSchemaViolation is returned when attributes do not conform to the
// namespace schema.
type ErrSchemaViolation struct {
	Namespace string
	Err       error
}

// Error implements the error interface.
func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation in namespace %q: %v", e.Namespace, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *ErrSchemaViolation) Unwrap() error {
	return e.Err
}
