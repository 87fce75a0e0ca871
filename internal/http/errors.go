package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	// ConnectionFailed covers DNS, dial, TLS and reset errors.
	ConnectionFailed ErrorKind = iota
	// Timeout is a connect or read deadline expiring.
	Timeout
	// HTTPStatus is a response with a non-success status.
	HTTPStatus
	// DecodeFailed is a body that ended early or could not be read.
	DecodeFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionFailed:
		return "connection_failed"
	case Timeout:
		return "timeout"
	case HTTPStatus:
		return "http_status"
	case DecodeFailed:
		return "decode_failed"
	default:
		return "unknown"
	}
}

// TransportError is the error type of every failed request.
type TransportError struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error

	retryAfter    time.Duration
	hasRetryAfter bool
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case HTTPStatus:
		return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
	case Timeout:
		return fmt.Sprintf("%s: timeout: %v", e.URL, e.Err)
	case DecodeFailed:
		return fmt.Sprintf("%s: decode failed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("%s: connection failed: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status, or 0 for non-status errors.
func (e *TransportError) HTTPStatus() int {
	if e.Kind != HTTPStatus {
		return 0
	}
	return e.Status
}

// RetryAfter returns the server's Retry-After hint if one was sent.
func (e *TransportError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

// Transient reports whether repeating the request may succeed. Status
// errors are left to the retry policy's status set.
func (e *TransportError) Transient() bool {
	return e.Kind != HTTPStatus
}

// Reason is a short label used in logs and retry metrics.
func (e *TransportError) Reason() string {
	if e.Kind == HTTPStatus {
		return "status_" + strconv.Itoa(e.Status)
	}
	return e.Kind.String()
}

// StatusError builds the error for a response with an unwanted status.
func StatusError(resp *http.Response, now time.Time) *TransportError {
	e := &TransportError{Kind: HTTPStatus, Status: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.String()
	}
	e.retryAfter, e.hasRetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	return e
}

// wrapError classifies a RoundTrip or body read error. Context errors are
// returned as they are so callers can match them directly.
func wrapError(err error, url string, kind ErrorKind) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = Timeout
	}
	return &TransportError{Kind: kind, URL: url, Err: err}
}

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. Dates in the past yield a zero delay.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}
