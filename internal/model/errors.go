package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures the core recognizes and propagates.
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindUnitIncompatible ErrorKind = "unit_incompatible"
	KindScopeEmpty       ErrorKind = "scope_empty"
	KindRepository       ErrorKind = "repository"
	KindOracle           ErrorKind = "oracle"
	KindCancelled        ErrorKind = "cancelled"
)

// AuditError carries an ErrorKind through wrapping so the orchestrator can
// aggregate failure counts per kind.
type AuditError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuditError) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields a bare kind error.
func NewError(kind ErrorKind, err error) *AuditError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &AuditError{Kind: kind, Err: err}
}

// Errorf wraps a formatted message with a kind.
func Errorf(kind ErrorKind, format string, args ...any) *AuditError {
	return &AuditError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// report KindRepository only if explicitly tagged; otherwise empty.
func KindOf(err error) ErrorKind {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
