package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/handiism/tdl/internal/cache"
	"github.com/handiism/tdl/internal/metrics"
	"github.com/handiism/tdl/internal/retry"
	"go.uber.org/zap"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "tdl/1.0"

// Options configures a Client.
type Options struct {
	UserAgent string

	// Timeout bounds a whole exchange including the body. Keep it zero for
	// stream downloads.
	Timeout        time.Duration
	ConnectTimeout time.Duration

	// Policy enables the retry layer when non-nil.
	Policy *retry.Policy
	Sleep  retry.Sleeper

	// Store enables the cache layer when non-nil.
	Store         Store
	Freshness     cache.Freshness
	MaxEntryBytes int64

	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Base is the bottom transport. Nil builds a net/http.Transport.
	Base http.RoundTripper
}

// Client is the single HTTP client of the pipeline.
//
// Requests pass through the retry layer first, then the cache, then the
// network:
//
//	RetryTransport -> CacheTransport -> http.Transport
//
// Every error it returns is a *TransportError, possibly wrapped in a
// retry.ExhaustedError, or a context error.
type Client struct {
	httpClient *http.Client
	userAgent  string
	policy     *retry.Policy
	sleep      retry.Sleeper
	log        *zap.Logger
}

// NewClient builds the transport stack described by opts.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	base := opts.Base
	if base == nil {
		base = newBaseTransport(opts.ConnectTimeout)
	}

	var rt http.RoundTripper = base
	if opts.Store != nil {
		rt = &CacheTransport{
			Next:          rt,
			Store:         opts.Store,
			Freshness:     opts.Freshness,
			MaxEntryBytes: opts.MaxEntryBytes,
			Metrics:       opts.Metrics,
			Log:           log,
		}
	}
	if opts.Policy != nil {
		rt = &RetryTransport{
			Next:    rt,
			Policy:  opts.Policy,
			Sleep:   opts.Sleep,
			Metrics: opts.Metrics,
			Log:     log,
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{Transport: rt, Timeout: opts.Timeout},
		userAgent:  ua,
		policy:     opts.Policy,
		sleep:      opts.Sleep,
		log:        log,
	}
}

func newBaseTransport(connectTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = connectTimeout
	t.MaxIdleConnsPerHost = 16
	return t
}

// Policy returns the retry policy, which may be nil.
func (c *Client) Policy() *retry.Policy {
	return c.policy
}

// Do sends req with the configured User-Agent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, wrapError(err, req.URL.String(), ConnectionFailed)
	}
	return resp, nil
}

// Get issues a GET and fails with an HTTPStatus error on a non-2xx status.
// The caller closes the body.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := StatusError(resp, time.Now())
		serr.URL = rawURL
		drain(resp.Body)
		return nil, serr
	}
	return resp, nil
}

// GetBytes downloads a small body such as cover art. A body that ends
// before its declared length fails with DecodeFailed. Status, connection and
// body failures share one attempt budget under the client's policy.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	reqCtx := ctx
	if c.policy != nil {
		reqCtx = WithoutRetry(ctx)
	}
	fetch := func(int) error {
		resp, err := c.Get(reqCtx, rawURL, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return wrapError(err, rawURL, DecodeFailed)
		}
		if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
			return &TransportError{Kind: DecodeFailed, URL: rawURL, Err: io.ErrUnexpectedEOF}
		}
		data = body
		return nil
	}

	if c.policy == nil {
		if err := fetch(1); err != nil {
			return nil, err
		}
		return data, nil
	}
	runner := retry.Runner{Policy: c.policy, Sleep: c.sleep}
	if _, err := runner.Do(ctx, fetch); err != nil {
		return nil, err
	}
	return data, nil
}
