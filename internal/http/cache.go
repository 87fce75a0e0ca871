package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/handiism/tdl/internal/cache"
	"github.com/handiism/tdl/internal/metrics"
	"go.uber.org/zap"
)

// CacheHeader is set on responses served from the cache.
const CacheHeader = "X-Tdl-Cache"

// Store is the persistence the cache transport needs. *cache.Store
// implements it.
type Store interface {
	Lookup(ctx context.Context, key string) (*cache.Entry, error)
	Put(ctx context.Context, e *cache.Entry) error
	Refresh(ctx context.Context, key string, storedAt, expiresAt time.Time) error
}

// CacheTransport serves GET requests from a Store and fills it.
//
// Fresh entries are answered without network I/O. Stale entries with
// validators are revalidated with a conditional request. Cache failures are
// logged and treated as misses; they never fail the request.
type CacheTransport struct {
	Next      http.RoundTripper
	Store     Store
	Freshness cache.Freshness
	// MaxEntryBytes bounds the bodies that are captured. Zero means no limit.
	MaxEntryBytes int64
	Metrics       *metrics.Metrics
	Log           *zap.Logger

	now func() time.Time
}

// RoundTrip implements http.RoundTripper.
func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Store == nil || req.Method != http.MethodGet || cache.RequestBypasses(req.Header) {
		t.Metrics.CacheLookup(metrics.CacheBypass)
		return t.Next.RoundTrip(req)
	}

	ctx := req.Context()
	url := req.URL.String()
	key := cache.Key(req.Method, url, req.Header)
	now := t.clock()

	entry, err := t.Store.Lookup(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		entry = nil
	case err != nil:
		t.log().Debug("cache lookup failed", zap.String("key", key), zap.Error(err))
		t.Metrics.CacheLookup(metrics.CacheError)
		entry = nil
	}

	if entry != nil && entry.Fresh(now) {
		t.Metrics.CacheLookup(metrics.CacheHit)
		return entryResponse(req, entry, "hit"), nil
	}

	out := req
	if entry != nil && entry.HasValidators() {
		out = req.Clone(ctx)
		if entry.ETag != "" {
			out.Header.Set("If-None-Match", entry.ETag)
		}
		if entry.LastModified != "" {
			out.Header.Set("If-Modified-Since", entry.LastModified)
		}
	}

	resp, err := t.Next.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil && out != req {
		drain(resp.Body)
		t.Metrics.CacheLookup(metrics.CacheRevalidated)
		return t.revalidated(req, key, entry, resp.Header, now), nil
	}

	t.Metrics.CacheLookup(metrics.CacheMiss)

	expires, storable := t.Freshness.Expiry(resp.StatusCode, resp.Header, now)
	if !storable {
		return resp, nil
	}
	if t.MaxEntryBytes > 0 && resp.ContentLength > t.MaxEntryBytes {
		return resp, nil
	}

	resp.Body = &captureBody{
		ReadCloser: resp.Body,
		limit:      t.MaxEntryBytes,
		expected:   resp.ContentLength,
		commit: func(body []byte) {
			e := cache.NewEntry(key, url, resp, body, now, expires)
			if err := t.Store.Put(context.WithoutCancel(ctx), e); err != nil {
				t.log().Debug("cache put failed", zap.String("key", key), zap.Error(err))
			}
		},
	}
	return resp, nil
}

// revalidated merges the 304 headers into the stored entry and extends its
// lifetime. The body is served from the cache.
func (t *CacheTransport) revalidated(req *http.Request, key string, entry *cache.Entry, h http.Header, now time.Time) *http.Response {
	for _, name := range []string{"Cache-Control", "Expires", "ETag", "Last-Modified", "Date"} {
		if v := h.Get(name); v != "" {
			entry.Header.Set(name, v)
		}
	}

	expires, ok := t.Freshness.Expiry(http.StatusOK, entry.Header, now)
	if !ok {
		expires = now
	}
	entry.StoredAt, entry.ExpiresAt = now, expires
	if err := t.Store.Refresh(req.Context(), key, now, expires); err != nil {
		t.log().Debug("cache refresh failed", zap.String("key", key), zap.Error(err))
	}
	return entryResponse(req, entry, "revalidated")
}

func (t *CacheTransport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *CacheTransport) log() *zap.Logger {
	if t.Log == nil {
		return zap.NewNop()
	}
	return t.Log
}

func entryResponse(req *http.Request, e *cache.Entry, how string) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(CacheHeader, how)
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// captureBody copies what the consumer reads and hands the full body to
// commit on a clean EOF. Bodies cut short or over the limit are discarded.
type captureBody struct {
	io.ReadCloser
	limit    int64
	expected int64
	commit   func([]byte)

	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool
	done     bool
}

func (c *captureBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return n, err
	}
	if n > 0 && !c.overflow {
		if c.limit > 0 && int64(c.buf.Len()+n) > c.limit {
			c.overflow = true
			c.buf = bytes.Buffer{}
		} else {
			c.buf.Write(p[:n])
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		complete := c.expected < 0 || int64(c.buf.Len()) == c.expected
		if !c.overflow && complete {
			c.commit(c.buf.Bytes())
		}
	case err != nil:
		c.done = true
	}
	return n, err
}

func (c *captureBody) Close() error {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	return c.ReadCloser.Close()
}
