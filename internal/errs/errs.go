// Package errs classifies failures raised while talking to the FX API and
// the S/4HANA backend.
//
// Callers match on the kind with errors.Is:
//
//	if errors.Is(err, errs.KindCredentialUnavailable) {
//		// CSRF token could not be obtained
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of integration failure.
type Kind string

const (
	// KindCredentialUnavailable means no usable CSRF token/cookie pair could be fetched.
	KindCredentialUnavailable Kind = "upstream-credential-unavailable"
	// KindDownstreamRejected means the backend answered 401 or 403.
	KindDownstreamRejected Kind = "downstream-rejected"
	// KindDownstreamFailed means the backend answered with another non-success status
	// or could not be reached.
	KindDownstreamFailed Kind = "downstream-failed"
	// KindRateUnavailable means the FX API did not return a usable rate.
	KindRateUnavailable Kind = "rate-unavailable"
	// KindInvalidInput means the caller supplied data that cannot be sent.
	KindInvalidInput Kind = "invalid-input"
)

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// IntegrationError wraps a failure with its kind and the operation that raised it.
type IntegrationError struct {
	Kind Kind
	Op   string
	Err  error
}

// Compile-time check to ensure IntegrationError implements error
var _ error = (*IntegrationError)(nil)

// New returns an IntegrationError of the given kind.
func New(kind Kind, op string, err error) *IntegrationError {
	return &IntegrationError{Kind: kind, Op: op, Err: err}
}

// Newf returns an IntegrationError with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *IntegrationError {
	return New(kind, op, fmt.Errorf(format, args...))
}

func (e *IntegrationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind.
func (e *IntegrationError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the first IntegrationError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}
