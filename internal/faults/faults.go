// Package faults defines the error taxonomy shared across the pipeline:
// validation errors surface to callers and are never retried, retrieval
// and external-service errors fail a single stage without cascading to
// sibling stages. Anything else reaching the worker boundary is fatal for
// the photo being processed.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed caller input (bib rules, cursor
// tokens, rule violations). Local, surfaced to the caller, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RetrievalError reports that an object-store download exhausted its
// retries. Stage-local: the failing stage is marked failed, siblings
// continue.
type RetrievalError struct {
	Key string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval of %q failed: %v", e.Key, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrieval reports whether err is (or wraps) a RetrievalError.
func IsRetrieval(err error) bool {
	var r *RetrievalError
	return errors.As(err, &r)
}

// ExternalServiceError reports an unavailable or misbehaving external
// dependency (vision model, face-embedding service). Same stage-local
// treatment as RetrievalError.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// IsExternalService reports whether err is (or wraps) an ExternalServiceError.
func IsExternalService(err error) bool {
	var x *ExternalServiceError
	return errors.As(err, &x)
}
