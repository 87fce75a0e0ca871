package fetch

import (
	"errors"
	"fmt"
)

// ErrTruncated matches every *TruncatedError.
var ErrTruncated = errors.New("stream truncated")

// ErrSizeMismatch is returned when a stream is longer than announced.
var ErrSizeMismatch = errors.New("stream size mismatch")

// TruncatedError is a stream that ended before its expected length, or
// dropped mid-body. It is retryable.
type TruncatedError struct {
	URL      string
	Expected int64 // -1 when unknown
	Received int64
	Err      error
}

func (e *TruncatedError) Error() string {
	if e.Expected >= 0 {
		return fmt.Sprintf("%s: stream truncated at %d of %d bytes", e.URL, e.Received, e.Expected)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: stream dropped after %d bytes: %v", e.URL, e.Received, e.Err)
	}
	return fmt.Sprintf("%s: stream truncated after %d bytes", e.URL, e.Received)
}

func (e *TruncatedError) Unwrap() error { return e.Err }

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }

// Transient marks truncation as worth another attempt.
func (e *TruncatedError) Transient() bool { return true }

// WriteError is a local disk failure. It is never retried.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
