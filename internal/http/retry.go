package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/handiism/tdl/internal/metrics"
	"github.com/handiism/tdl/internal/retry"
	"go.uber.org/zap"
)

type noRetryKey struct{}

// WithoutRetry marks requests made with ctx as single-attempt. Callers that
// run their own retry loop around a whole exchange use it.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryKey{}).(bool)
	return v
}

// RetryTransport repeats failed round trips under a retry policy.
//
// Connection failures, timeouts and responses whose status is in the
// policy's set are retried. Other responses are returned untouched. When the
// policy gives up on a retryable failure the error is wrapped in
// retry.ExhaustedError.
type RetryTransport struct {
	Next    http.RoundTripper
	Policy  *retry.Policy
	Sleep   retry.Sleeper
	Metrics *metrics.Metrics
	Log     *zap.Logger

	now func() time.Time
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if retryDisabled(ctx) || t.Policy == nil {
		return t.Next.RoundTrip(req)
	}

	log := t.Log
	if log == nil {
		log = zap.NewNop()
	}
	url := req.URL.String()

	runner := retry.Runner{
		Policy: t.Policy,
		Sleep:  t.Sleep,
		OnRetry: func(st retry.State, d retry.Decision) {
			reason := "unknown"
			var te *TransportError
			if errors.As(st.LastErr, &te) {
				reason = te.Reason()
			}
			t.Metrics.Retry(reason)
			log.Debug("retrying request",
				zap.String("url", url),
				zap.Int("attempt", st.Attempts),
				zap.Duration("delay", d.Delay),
				zap.String("reason", reason))
		},
	}

	var resp *http.Response
	st, err := runner.Do(ctx, func(attempt int) error {
		r, err := rewind(req, attempt)
		if err != nil {
			return err
		}

		res, err := t.Next.RoundTrip(r)
		if err != nil {
			return wrapError(err, url, ConnectionFailed)
		}
		if slices.Contains(t.Policy.Statuses, res.StatusCode) {
			serr := StatusError(res, t.clock())
			serr.URL = url
			drain(res.Body)
			return serr
		}
		resp = res
		return nil
	})
	if err != nil {
		if t.Policy.Retryable(err) {
			return nil, &retry.ExhaustedError{Attempts: st.Attempts, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (t *RetryTransport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// rewind returns the request to send for the given attempt. Requests with a
// body need GetBody to be repeated.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// drain discards a little of the body so the connection can be reused.
func drain(body io.ReadCloser) {
	io.CopyN(io.Discard, body, 4<<10)
	body.Close()
}
