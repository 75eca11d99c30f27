package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed call. Unauthorized means the credential
// is missing, expired, or invalid and the caller must re-authenticate.
// NetworkError covers timeouts and connection failures alike.
type ErrorKind string

const (
	KindUnauthorized     ErrorKind = "unauthorized"
	KindNotFound         ErrorKind = "not_found"
	KindMethodNotAllowed ErrorKind = "method_not_allowed"
	KindServerError      ErrorKind = "server_error"
	KindNetworkError     ErrorKind = "network_error"
	KindValidation       ErrorKind = "validation"
)

// Error wraps any non-2xx response or network failure. The adapter
// never retries; retry-vs-surface is the caller's decision.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status=%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the transport error kind from err, or "" when err is
// not a transport error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// NewValidationError reports a client-side validation failure that
// blocked the call before it was issued.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
