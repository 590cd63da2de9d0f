package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindEncoding           Kind = "encoding"
	KindMetricsUnavailable Kind = "metrics_unavailable"
	KindModelInvocation    Kind = "model_invocation"
	KindInput              Kind = "input"
	KindTooLarge           Kind = "too_large"
	KindConfig             Kind = "config"
	KindUnknown            Kind = "unknown"
)

// Error is the envelope returned across package boundaries. Op names the
// operation that failed, Cause keeps the typed error underneath.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap returns nil for a nil err and never double-wraps an *Error.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind reports whether the first *Error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns KindUnknown for nil and untyped errors.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}
