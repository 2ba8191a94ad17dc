package models

import (
	"errors"
	"fmt"
)

// Error kinds distinguish how the engine reacts to an external failure:
// auth failures stop a connection until credentials change, not-found
// failures trigger self-healing recreation, transient failures wait for the
// next pass, and validation failures are rejected outright.
type ErrorKind int

const (
	// KindAuth covers bad or expired credentials.
	KindAuth ErrorKind = iota + 1

	// KindNotFound covers remote entities that vanished out-of-band.
	KindNotFound

	// KindTransient covers timeouts, rate limits, and 5xx responses.
	KindTransient

	// KindValidation covers malformed payloads and schema mismatches.
	KindValidation
)

// AdapterError is the typed failure surfaced by tracker and channel
// adapters. Callers branch on Kind via the Is* helpers rather than string
// matching.
type AdapterError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AdapterError) Error() string {
	kind := "adapter"
	switch e.Kind {
	case KindAuth:
		kind = "auth"
	case KindNotFound:
		kind = "not found"
	case KindTransient:
		kind = "transient"
	case KindValidation:
		kind = "validation"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAuthError wraps a credential failure.
func NewAuthError(op string, err error) error {
	return &AdapterError{Kind: KindAuth, Op: op, Err: err}
}

// NewNotFoundError wraps a vanished-remote-entity failure.
func NewNotFoundError(op string, err error) error {
	return &AdapterError{Kind: KindNotFound, Op: op, Err: err}
}

// NewTransientError wraps a retryable failure.
func NewTransientError(op string, err error) error {
	return &AdapterError{Kind: KindTransient, Op: op, Err: err}
}

// NewValidationError wraps a malformed-input or schema-mismatch failure.
func NewValidationError(op string, err error) error {
	return &AdapterError{Kind: KindValidation, Op: op, Err: err}
}

func errorHasKind(err error, kind ErrorKind) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return errorHasKind(err, KindAuth) }

// IsNotFound reports whether err signals a remote entity that no longer
// exists.
func IsNotFound(err error) bool { return errorHasKind(err, KindNotFound) }

// IsTransient reports whether err is eligible for retry on a later pass.
func IsTransient(err error) bool { return errorHasKind(err, KindTransient) }

// IsValidation reports whether err is a malformed-input rejection.
func IsValidation(err error) bool { return errorHasKind(err, KindValidation) }
