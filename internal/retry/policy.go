// Package retry decides whether a failed request is worth another attempt
// and how long to wait before it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"
)

// DefaultStatuses are the HTTP status codes treated as transient.
var DefaultStatuses = []int{429, 502, 503, 504}

// StatusError is implemented by errors carrying an HTTP status code.
type StatusError interface {
	HTTPStatus() int
}

// RetryAfterError is implemented by errors carrying a server retry hint.
type RetryAfterError interface {
	RetryAfter() (time.Duration, bool)
}

// TransientError is implemented by errors that may succeed if repeated,
// such as dropped connections, timeouts and truncated streams.
type TransientError interface {
	Transient() bool
}

// Decision is the outcome of a ShouldRetry call.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the decision to stop retrying.
var GiveUp = Decision{}

// ExhaustedError marks an error an inner retry loop already gave up on.
// ShouldRetry never retries it, so nested loops do not multiply attempts.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Policy is an exponential backoff with jitter.
//
// The delay before attempt n+1 is Base * 2^(n-1) * U(0.8, 1.2), capped at
// MaxDelay. MaxAttempts counts every attempt, the first one included.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	Statuses    []int

	// Jitter returns a factor in [0.8, 1.2). Nil uses math/rand/v2.
	Jitter func() float64
}

// NewPolicy returns a policy with the default status set.
func NewPolicy(maxAttempts int, base, maxDelay time.Duration) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		Base:        base,
		MaxDelay:    maxDelay,
		Statuses:    slices.Clone(DefaultStatuses),
	}
}

// ShouldRetry decides what to do after attempt number attempt (1-based)
// failed with err.
func (p *Policy) ShouldRetry(err error, attempt int) Decision {
	if err == nil || attempt >= p.MaxAttempts {
		return GiveUp
	}
	if errors.Is(err, context.Canceled) {
		return GiveUp
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return GiveUp
	}

	retryable, hint := p.classify(err)
	if !retryable {
		return GiveUp
	}

	delay := p.Backoff(attempt)
	if hint > 0 {
		delay = min(hint, p.MaxDelay)
	}
	return Decision{Retry: true, Delay: delay}
}

// Retryable reports whether err belongs to a transient class.
func (p *Policy) Retryable(err error) bool {
	ok, _ := p.classify(err)
	return ok
}

// Backoff returns the jittered delay after the given failed attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	exp := math.Pow(2, float64(max(attempt-1, 0)))
	d := float64(p.Base) * exp * p.jitter()
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p *Policy) classify(err error) (bool, time.Duration) {
	var se StatusError
	if errors.As(err, &se) && se.HTTPStatus() != 0 {
		code := se.HTTPStatus()
		if !slices.Contains(p.Statuses, code) {
			return false, 0
		}
		if code == 429 {
			var ra RetryAfterError
			if errors.As(err, &ra) {
				if d, ok := ra.RetryAfter(); ok {
					return true, d
				}
			}
		}
		return true, 0
	}

	var te TransientError
	if errors.As(err, &te) {
		return te.Transient(), 0
	}
	return false, 0
}

func (p *Policy) jitter() float64 {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return 0.8 + rand.Float64()*0.4
}
