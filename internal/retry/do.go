package retry

import (
	"context"
	"time"
)

// State tracks one logical request across its attempts.
type State struct {
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is told about each retry before the sleep starts.
type Observer func(st State, d Decision)

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Runner executes operations under a Policy.
type Runner struct {
	Policy  *Policy
	Sleep   Sleeper
	OnRetry Observer
}

// Do runs fn until it succeeds, the policy gives up, or ctx is done.
// fn receives the 1-based attempt number. The last error is returned
// unchanged when retries are exhausted.
func (r *Runner) Do(ctx context.Context, fn func(attempt int) error) (State, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var st State
	for {
		if err := ctx.Err(); err != nil {
			if st.LastErr != nil {
				return st, st.LastErr
			}
			return st, err
		}

		st.Attempts++
		err := fn(st.Attempts)
		if err == nil {
			st.LastErr = nil
			return st, nil
		}
		st.LastErr = err

		if ctx.Err() != nil {
			return st, err
		}

		d := r.Policy.ShouldRetry(err, st.Attempts)
		if !d.Retry {
			return st, err
		}
		if r.OnRetry != nil {
			r.OnRetry(st, d)
		}
		if serr := sleep(ctx, d.Delay); serr != nil {
			return st, err
		}
		st.Elapsed += d.Delay
	}
}

// Do is a convenience wrapper that runs fn with the default sleeper.
func Do(ctx context.Context, p *Policy, fn func(attempt int) error) (State, error) {
	r := Runner{Policy: p}
	return r.Do(ctx, fn)
}
