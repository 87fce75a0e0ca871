package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code  int
	after time.Duration
}

func (e *statusErr) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }
func (e *statusErr) RetryAfter() (time.Duration, bool) {
	return e.after, e.after > 0
}

type transientErr struct{ transient bool }

func (e *transientErr) Error() string   { return "connection reset" }
func (e *transientErr) Transient() bool { return e.transient }

func fixedJitter(f float64) func() float64 { return func() float64 { return f } }

func TestPolicy_ShouldRetry(t *testing.T) {
	p := NewPolicy(3, 100*time.Millisecond, time.Second)
	p.Jitter = fixedJitter(1)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    Decision
	}{
		{"503 first attempt", &statusErr{code: 503}, 1, Decision{Retry: true, Delay: 100 * time.Millisecond}},
		{"503 second attempt", &statusErr{code: 503}, 2, Decision{Retry: true, Delay: 200 * time.Millisecond}},
		{"attempts exhausted", &statusErr{code: 503}, 3, GiveUp},
		{"404 is permanent", &statusErr{code: 404}, 1, GiveUp},
		{"500 not in set", &statusErr{code: 500}, 1, GiveUp},
		{"429 honours Retry-After", &statusErr{code: 429, after: 700 * time.Millisecond}, 1, Decision{Retry: true, Delay: 700 * time.Millisecond}},
		{"Retry-After capped", &statusErr{code: 429, after: time.Hour}, 1, Decision{Retry: true, Delay: time.Second}},
		{"429 without hint", &statusErr{code: 429}, 2, Decision{Retry: true, Delay: 200 * time.Millisecond}},
		{"transient", &transientErr{transient: true}, 1, Decision{Retry: true, Delay: 100 * time.Millisecond}},
		{"not transient", &transientErr{transient: false}, 1, GiveUp},
		{"plain error", errors.New("boom"), 1, GiveUp},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), 1, GiveUp},
		{"wrapped status", fmt.Errorf("get: %w", &statusErr{code: 502}), 1, Decision{Retry: true, Delay: 100 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestPolicy_BackoffNonDecreasingBeforeCap(t *testing.T) {
	p := NewPolicy(10, 50*time.Millisecond, 5*time.Second)

	// Worst case: the low jitter bound after the high one.
	jitters := []float64{1.2, 0.8}
	for attempt := 1; attempt < 8; attempt++ {
		p.Jitter = fixedJitter(jitters[0])
		prev := p.Backoff(attempt)
		p.Jitter = fixedJitter(jitters[1])
		next := p.Backoff(attempt + 1)
		assert.GreaterOrEqual(t, next, prev, "attempt %d", attempt)
	}
}

func TestPolicy_BackoffJitterRange(t *testing.T) {
	p := NewPolicy(5, 100*time.Millisecond, time.Minute)
	for range 200 {
		d := p.Backoff(2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.Less(t, d, 240*time.Millisecond)
	}
}

func TestRunner_NFailuresThenSuccess(t *testing.T) {
	const failures = 2
	p := NewPolicy(failures+1, 10*time.Millisecond, time.Second)
	p.Jitter = fixedJitter(1)

	var slept []time.Duration
	r := Runner{
		Policy: p,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	st, err := r.Do(context.Background(), func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls <= failures {
			return &statusErr{code: 503}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, failures+1, calls)
	assert.Equal(t, failures+1, st.Attempts)
	assert.Len(t, slept, failures, "exactly N retries")
	for i := 1; i < len(slept); i++ {
		assert.GreaterOrEqual(t, slept[i], slept[i-1])
	}
	assert.Equal(t, 30*time.Millisecond, st.Elapsed)
}

func TestRunner_ExhaustedReturnsLastError(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, time.Millisecond)
	r := Runner{Policy: p, Sleep: func(context.Context, time.Duration) error { return nil }}

	var last error
	st, err := r.Do(context.Background(), func(attempt int) error {
		if attempt == 3 {
			last = &statusErr{code: 503}
		} else {
			last = &statusErr{code: 502}
		}
		return last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 3, st.Attempts)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(10, time.Hour, time.Hour)

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, p, func(int) error {
		calls++
		return &statusErr{code: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunner_OnRetry(t *testing.T) {
	p := NewPolicy(2, time.Millisecond, time.Millisecond)
	var observed []int
	r := Runner{
		Policy:  p,
		Sleep:   func(context.Context, time.Duration) error { return nil },
		OnRetry: func(st State, _ Decision) { observed = append(observed, st.Attempts) },
	}

	_, err := r.Do(context.Background(), func(int) error { return &transientErr{transient: true} })
	require.Error(t, err)
	assert.Equal(t, []int{1}, observed)
}

func TestPolicy_ExhaustedIsNotRetried(t *testing.T) {
	p := NewPolicy(5, time.Millisecond, time.Second)
	inner := &statusErr{code: 503}
	err := fmt.Errorf("fetch: %w", &ExhaustedError{Attempts: 3, Err: inner})

	assert.False(t, p.ShouldRetry(err, 1).Retry)

	var se StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.HTTPStatus())
}
