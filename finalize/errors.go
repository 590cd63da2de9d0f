package finalize

import (
	"fmt"

	"github.com/chaos-io/bgremover/errs"
)

// UnsupportedFormatError is returned before any file I/O happens.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported output format %q", e.Format)
}

// EncodingError means both the preferred and the plain encode failed. Cause
// is the error of the preferred attempt.
type EncodingError struct {
	Format Format
	Cause  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Cause)
}

func (e *EncodingError) Unwrap() error {
	return e.Cause
}

func newUnsupportedFormatError(token string) error {
	return errs.Wrap(errs.KindUnsupportedFormat, "finalize.ParseFormat", "format not in supported set",
		&UnsupportedFormatError{Format: token})
}

func newEncodingError(f Format, cause error) error {
	return errs.Wrap(errs.KindEncoding, "finalize.Finalize", "no encoder succeeded",
		&EncodingError{Format: f, Cause: cause})
}
