package cache

import (
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol/cacheobject"
)

// Entry is one stored response.
type Entry struct {
	Key        string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte

	ETag         string
	LastModified string

	StoredAt  time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry may be served without revalidation.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// HasValidators reports whether a conditional request can revalidate e.
func (e *Entry) HasValidators() bool {
	return e.ETag != "" || e.LastModified != ""
}

// Directives is the subset of Cache-Control the cache acts on.
type Directives struct {
	NoStore   bool
	NoCache   bool
	Immutable bool
	MaxAge    time.Duration
	HasMaxAge bool
}

// ParseCacheControl parses a response Cache-Control value. s-maxage
// overrides max-age. A value that does not parse is treated as no-store.
func ParseCacheControl(value string) Directives {
	if strings.TrimSpace(value) == "" {
		return Directives{}
	}
	cd, err := cacheobject.ParseResponseCacheControl(strings.ToLower(value))
	if err != nil {
		return Directives{NoStore: true}
	}

	d := Directives{
		NoStore:   cd.NoStore,
		NoCache:   cd.NoCachePresent,
		Immutable: cd.Immutable,
	}
	switch {
	case cd.SMaxAge >= 0:
		d.MaxAge, d.HasMaxAge = seconds(cd.SMaxAge), true
	case cd.MaxAge >= 0:
		d.MaxAge, d.HasMaxAge = seconds(cd.MaxAge), true
	}
	return d
}

func seconds(v cacheobject.DeltaSeconds) time.Duration {
	return time.Duration(v) * time.Second
}

// Freshness turns response headers into an expiry time.
type Freshness struct {
	// DefaultTTL applies to responses with neither an explicit lifetime nor
	// validators.
	DefaultTTL time.Duration
}

const immutableTTL = 365 * 24 * time.Hour

// RequestBypasses reports whether the request forbids using the cache.
// A Cache-Control value that does not parse bypasses as well.
func RequestBypasses(h http.Header) bool {
	if strings.EqualFold(h.Get("Pragma"), "no-cache") {
		return true
	}
	value := h.Get("Cache-Control")
	if strings.TrimSpace(value) == "" {
		return false
	}
	cd, err := cacheobject.ParseRequestCacheControl(strings.ToLower(value))
	if err != nil {
		return true
	}
	return cd.NoStore || cd.NoCache
}

// Expiry computes when a response received at now goes stale. storable is
// false when the response must not be kept at all.
func (f Freshness) Expiry(status int, h http.Header, now time.Time) (expires time.Time, storable bool) {
	if status != http.StatusOK {
		return time.Time{}, false
	}

	d := ParseCacheControl(h.Get("Cache-Control"))
	hasValidators := h.Get("ETag") != "" || h.Get("Last-Modified") != ""

	switch {
	case d.NoStore:
		return time.Time{}, false
	case d.NoCache:
		// Stored only to enable revalidation.
		return now, hasValidators
	case d.HasMaxAge:
		return now.Add(d.MaxAge), d.MaxAge > 0 || hasValidators
	case d.Immutable:
		return now.Add(immutableTTL), true
	}

	if raw := h.Get("Expires"); raw != "" {
		exp, err := http.ParseTime(raw)
		if err != nil || !exp.After(now) {
			// Invalid or past Expires means already stale.
			return now, hasValidators
		}
		return exp, true
	}

	if hasValidators {
		return now, true
	}
	if f.DefaultTTL <= 0 {
		return time.Time{}, false
	}
	return now.Add(f.DefaultTTL), true
}
